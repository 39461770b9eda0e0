package levels

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type levelFile struct {
	Levels []Config `yaml:"levels"`
}

// LoadFile reads a YAML level table of the form:
//
//	levels:
//	  - level: Nivel 4
//	    scoring_method: start_value
//	    base_start_value: 9.6
func LoadFile(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read level table: %w", err)
	}
	var lf levelFile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidLevel, path, err)
	}
	for _, c := range lf.Levels {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	return lf.Levels, nil
}
