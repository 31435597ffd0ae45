package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// SensorSpec describes one simulator the coordinator starts.
type SensorSpec struct {
	Sensor       string  `yaml:"sensor" toml:"sensor" json:"sensor"`
	Protocol     string  `yaml:"protocol" toml:"protocol" json:"protocol"`
	Mode         string  `yaml:"mode" toml:"mode" json:"mode"`
	Frequency    float64 `yaml:"frequency" toml:"frequency" json:"frequency"`
	Registration int     `yaml:"registration" toml:"registration" json:"registration"`
}

// Fleet is the ordered list of simulators plus extra child environment.
type Fleet struct {
	Sensors []SensorSpec      `yaml:"sensors" toml:"sensors"`
	Env     map[string]string `yaml:"env" toml:"env"`
}

// DefaultFleet is the four-sensor setup used when no fleet file is given.
func DefaultFleet() *Fleet {
	return &Fleet{
		Sensors: []SensorSpec{
			{Sensor: "temp", Protocol: "mqtt", Mode: "csv", Frequency: 3, Registration: 1},
			{Sensor: "humid", Protocol: "mqtt", Mode: "csv", Frequency: 3, Registration: 1},
			{Sensor: "co2", Protocol: "mqtt", Mode: "random", Frequency: 3, Registration: 1},
			{Sensor: "soil", Protocol: "mqtt", Mode: "random", Frequency: 3, Registration: 1},
		},
	}
}

// LoadFleet reads a fleet file. The format follows the extension: .yaml/.yml
// or .toml. An empty path returns DefaultFleet.
func LoadFleet(path string) (*Fleet, error) {
	if path == "" {
		return DefaultFleet(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fleet file: %w", err)
	}

	var fleet Fleet
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fleet); err != nil {
			return nil, fmt.Errorf("failed to parse YAML fleet file: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &fleet); err != nil {
			return nil, fmt.Errorf("failed to parse TOML fleet file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported fleet file extension %q", ext)
	}

	fleet.applyDefaults()
	if err := fleet.Validate(); err != nil {
		return nil, err
	}
	return &fleet, nil
}

func (f *Fleet) applyDefaults() {
	for i := range f.Sensors {
		s := &f.Sensors[i]
		if s.Protocol == "" {
			s.Protocol = "mqtt"
		}
		if s.Mode == "" {
			s.Mode = "random"
		}
		if s.Frequency == 0 {
			s.Frequency = 2
		}
	}
}

// Validate checks every sensor entry.
func (f *Fleet) Validate() error {
	if len(f.Sensors) == 0 {
		return errors.New("fleet has no sensors")
	}
	var errs []error
	for i, s := range f.Sensors {
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("sensor #%d: %w", i+1, err))
		}
	}
	return errors.Join(errs...)
}

// Validate checks a single sensor entry.
func (s SensorSpec) Validate() error {
	switch {
	case s.Sensor == "":
		return errors.New("sensor name is required")
	case strings.ContainsAny(s.Sensor, " \t"):
		return fmt.Errorf("sensor name %q must not contain spaces", s.Sensor)
	case s.Protocol != "http" && s.Protocol != "mqtt":
		return fmt.Errorf("sensor %s: protocol must be http or mqtt, got %q", s.Sensor, s.Protocol)
	case s.Mode != "csv" && s.Mode != "random":
		return fmt.Errorf("sensor %s: mode must be csv or random, got %q", s.Sensor, s.Mode)
	case s.Frequency <= 0:
		return fmt.Errorf("sensor %s: frequency must be positive", s.Sensor)
	case s.Registration != 0 && s.Registration != 1:
		return fmt.Errorf("sensor %s: registration must be 0 or 1", s.Sensor)
	}
	return nil
}

// Names returns the sensor names in start order.
func (f *Fleet) Names() []string {
	names := make([]string, len(f.Sensors))
	for i, s := range f.Sensors {
		names[i] = s.Sensor
	}
	return names
}
