package project

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Setup keys. The set is closed: SetSetup rejects anything else.
const (
	SetupLayers         = "layers"
	SetupMillDrillDia   = "millDrillDia"
	SetupCutterDia      = "cutterDia"
	SetupBoardThickness = "boardThickness"
)

// SetupKeys lists the setup keys in sidecar order.
var SetupKeys = []string{SetupLayers, SetupMillDrillDia, SetupCutterDia, SetupBoardThickness}

// Setup is the fixed-shape machining setup of a project.
type Setup struct {
	Layers         int     `json:"layers"`
	MillDrillDia   float64 `json:"millDrillDia"`
	CutterDia      float64 `json:"cutterDia"`
	BoardThickness float64 `json:"boardThickness"`
}

// DefaultSetup is used when neither the sidecar nor the template provide one.
func DefaultSetup() Setup {
	return Setup{Layers: 1, MillDrillDia: 0.5, CutterDia: 0.5, BoardThickness: 1.7}
}

// IsSetupKey reports whether key belongs to the setup schema.
func IsSetupKey(key string) bool {
	for _, k := range SetupKeys {
		if k == key {
			return true
		}
	}
	return false
}

// With returns a copy of s with key set to value.
func (s Setup) With(key string, value any) (Setup, error) {
	if !IsSetupKey(key) {
		return s, fmt.Errorf("%w: %q", ErrUnknownSetupKey, key)
	}
	f, err := toFloat(value)
	if err != nil {
		return s, fmt.Errorf("%w: %s: %v", ErrInvalidSetupValue, key, err)
	}
	switch key {
	case SetupLayers:
		if f != math.Trunc(f) || (f != 1 && f != 2) {
			return s, fmt.Errorf("%w: layers must be 1 or 2, got %v", ErrInvalidSetupValue, value)
		}
		s.Layers = int(f)
	case SetupMillDrillDia:
		if f <= 0 {
			return s, fmt.Errorf("%w: %s must be positive", ErrInvalidSetupValue, key)
		}
		s.MillDrillDia = f
	case SetupCutterDia:
		if f <= 0 {
			return s, fmt.Errorf("%w: %s must be positive", ErrInvalidSetupValue, key)
		}
		s.CutterDia = f
	case SetupBoardThickness:
		if f <= 0 {
			return s, fmt.Errorf("%w: %s must be positive", ErrInvalidSetupValue, key)
		}
		s.BoardThickness = f
	}
	return s, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(n), 64)
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}
