package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"pcbmill/internal/toolrun"
)

// toolFile mirrors tool.toml:
//
//	binary = "pcb2gcode"
//	drill_offset = 0.2
//	cutter_offset = 0.2
//	timeout = "5m"
type toolFile struct {
	Binary       *string  `toml:"binary"`
	DrillOffset  *float64 `toml:"drill_offset"`
	CutterOffset *float64 `toml:"cutter_offset"`
	Timeout      *string  `toml:"timeout"`
}

// LoadToolGlobals reads converter globals from path. Keys absent from the
// file, or a missing file, keep their defaults.
func LoadToolGlobals(path string) (toolrun.Globals, error) {
	g := toolrun.DefaultGlobals()
	if strings.TrimSpace(path) == "" {
		return g, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return g, nil
		}
		return g, fmt.Errorf("read tool config: %w", err)
	}
	var f toolFile
	if err := toml.Unmarshal(b, &f); err != nil {
		return g, fmt.Errorf("parse tool config %s: %w", path, err)
	}
	if f.Binary != nil && strings.TrimSpace(*f.Binary) != "" {
		g.Binary = strings.TrimSpace(*f.Binary)
	}
	if f.DrillOffset != nil {
		g.DrillOffset = *f.DrillOffset
	}
	if f.CutterOffset != nil {
		g.CutterOffset = *f.CutterOffset
	}
	if f.Timeout != nil {
		d, err := time.ParseDuration(strings.TrimSpace(*f.Timeout))
		if err != nil {
			return g, fmt.Errorf("tool config timeout: %w", err)
		}
		g.Timeout = d
	}
	return g, nil
}
