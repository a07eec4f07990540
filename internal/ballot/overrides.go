package ballot

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Overrides forces the organisational unit of specific voters. It is built
// once and never mutated.
type Overrides struct {
	units map[string]string
}

func NewOverrides(units map[string]string) Overrides {
	m := make(map[string]string, len(units))
	for uid, unit := range units {
		m[strings.ToLower(strings.TrimSpace(uid))] = unit
	}
	return Overrides{units: m}
}

// LoadOverrides reads a JSON object of uid -> unit. An empty path yields no
// overrides.
func LoadOverrides(path string) (Overrides, error) {
	if path == "" {
		return Overrides{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Overrides{}, fmt.Errorf("read overrides: %w", err)
	}
	var units map[string]string
	if err := json.Unmarshal(data, &units); err != nil {
		return Overrides{}, fmt.Errorf("parse overrides %s: %w", path, err)
	}
	return NewOverrides(units), nil
}

func (o Overrides) Unit(uid string) (string, bool) {
	unit, ok := o.units[uid]
	return unit, ok
}

func (o Overrides) Len() int { return len(o.units) }
