// Package toolrun invokes the external Gerber to G-code converter.
package toolrun

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"pcbmill/internal/drill"
	"pcbmill/internal/event"
	"pcbmill/internal/project"
)

// Globals are the installation-wide converter settings.
type Globals struct {
	Binary       string
	DrillOffset  float64
	CutterOffset float64
	Timeout      time.Duration
}

// DefaultGlobals drills and cuts 0.2mm below the board.
func DefaultGlobals() Globals {
	return Globals{
		Binary:       "pcb2gcode",
		DrillOffset:  0.2,
		CutterOffset: 0.2,
		Timeout:      5 * time.Minute,
	}
}

// Inputs are the layer files handed to the converter.
type Inputs struct {
	Back    string
	Front   string
	Drill   string
	Outline string
}

// Layer file extensions as exported by common EDA tools.
const (
	ExtBack    = ".GBL"
	ExtFront   = ".GTL"
	ExtOutline = ".GKO"
)

// FindInputs locates the layer files inside a committed Gerber version.
// The back layer, the outline and the consolidated drill file are required;
// the front layer only when layers is 2.
func FindInputs(dir string, layers int) (Inputs, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Inputs{}, fmt.Errorf("read gerber dir: %w", err)
	}
	var in Inputs
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		p := filepath.Join(dir, name)
		switch ext := filepath.Ext(name); {
		case strings.EqualFold(name, drill.ConsolidatedName):
			in.Drill = p
		case strings.EqualFold(ext, ExtBack) && in.Back == "":
			in.Back = p
		case strings.EqualFold(ext, ExtFront) && in.Front == "":
			in.Front = p
		case strings.EqualFold(ext, ExtOutline) && in.Outline == "":
			in.Outline = p
		}
	}

	var missing []string
	if in.Back == "" {
		missing = append(missing, "*"+ExtBack)
	}
	if layers == 2 && in.Front == "" {
		missing = append(missing, "*"+ExtFront)
	}
	if in.Outline == "" {
		missing = append(missing, "*"+ExtOutline)
	}
	if in.Drill == "" {
		missing = append(missing, drill.ConsolidatedName)
	}
	if len(missing) > 0 {
		return in, event.Invalid("gerber set is missing %s", strings.Join(missing, ", "))
	}
	if layers != 2 {
		in.Front = ""
	}
	return in, nil
}

type arg struct {
	key   string
	value string
}

// BuildArgs renders the converter command line. Project config entries are
// appended in key order and replace setup-derived options of the same name;
// output-dir cannot be overridden.
func BuildArgs(in Inputs, setup project.Setup, config map[string]any, g Globals, outDir string) []string {
	args := []arg{
		{"back", in.Back},
		{"drill", in.Drill},
		{"outline", in.Outline},
	}
	if setup.Layers == 2 && in.Front != "" {
		args = append(args, arg{"front", in.Front})
	}
	args = append(args,
		arg{"output-dir", outDir},
		arg{"milldrill-diameter", formatNumber(setup.MillDrillDia)},
		arg{"cutter-diameter", formatNumber(setup.CutterDia)},
		arg{"zdrill", formatNumber(-(setup.BoardThickness + g.DrillOffset))},
		arg{"zcut", formatNumber(-(setup.BoardThickness + g.CutterOffset))},
	)

	keys := make([]string, 0, len(config))
	for k := range config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		key := strings.TrimLeft(strings.TrimSpace(k), "-")
		if key == "" || key == "output-dir" {
			continue
		}
		v := formatValue(config[k])
		replaced := false
		for i := range args {
			if args[i].key == key {
				args[i].value = v
				replaced = true
				break
			}
		}
		if !replaced {
			args = append(args, arg{key, v})
		}
	}

	out := make([]string, 0, len(args))
	for _, a := range args {
		out = append(out, "--"+a.key+"="+a.value)
	}
	return out
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(math.Round(f*1e6)/1e6, 'f', -1, 64)
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return formatNumber(t)
	case float32:
		return formatNumber(float64(t))
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

// Output files written by the converter.
const (
	OutBack      = "back.ngc"
	OutFront     = "front.ngc"
	OutDrill     = "drill.ngc"
	OutMillDrill = "milldrill.ngc"
	OutOutline   = "outline.ngc"
)

// ExpectedOutputs lists the files a successful run should leave behind.
func ExpectedOutputs(setup project.Setup) []string {
	out := []string{OutBack, OutDrill, OutMillDrill, OutOutline}
	if setup.Layers == 2 {
		out = append(out, OutFront)
	}
	return out
}

// MergePlan stitches the back isolation, mill-drill and outline programs
// into one file. The isolation tool diameter is not part of the setup, so
// back.ngc always forms its own group.
func MergePlan(setup project.Setup) project.MergePlan {
	return project.MergePlan{
		Parts: []project.MergePart{
			{Name: OutBack, Diameter: 0},
			{Name: OutMillDrill, Diameter: setup.MillDrillDia},
			{Name: OutOutline, Diameter: setup.CutterDia},
		},
		Groups: true,
	}
}
