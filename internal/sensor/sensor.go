// Package sensor is the catalog of simulated field devices.
package sensor

import (
	"path/filepath"
	"sort"
	"strings"
)

// ValueType is the kind of value a random profile produces.
type ValueType string

const (
	TypeInt    ValueType = "int"
	TypeFloat  ValueType = "float"
	TypeString ValueType = "string"
)

// Distribution selects how numeric values are drawn.
type Distribution string

const (
	Uniform Distribution = "uniform"
	Normal  Distribution = "normal"
)

// Profile describes random-mode values. Normal draws are clamped to [Min, Max].
type Profile struct {
	Type         ValueType
	Min          float64
	Max          float64
	Length       int
	Distribution Distribution
	Mean         float64
	StdDev       float64
}

// Sensor identifies one simulated device and where its data goes.
type Sensor struct {
	Name      string
	Origin    string
	AE        string
	Container string
	CSVFile   string
	Profile   Profile
}

var catalog = map[string]Sensor{
	"temp": {
		Name:      "temp",
		Origin:    "CtempSensor",
		AE:        "CtempSensor",
		Container: "temperature",
		CSVFile:   "temp.csv",
		Profile:   Profile{Type: TypeFloat, Min: 20, Max: 30, Distribution: Uniform},
	},
	"humid": {
		Name:      "humid",
		Origin:    "ChumidSensor",
		AE:        "ChumidSensor",
		Container: "humidity",
		CSVFile:   "humid.csv",
		Profile:   Profile{Type: TypeFloat, Min: 40, Max: 70, Distribution: Uniform},
	},
	"co2": {
		Name:      "co2",
		Origin:    "Cco2Sensor",
		AE:        "Cco2Sensor",
		Container: "co2",
		CSVFile:   "co2.csv",
		Profile:   Profile{Type: TypeInt, Min: 400, Max: 1000, Distribution: Uniform},
	},
	"soil": {
		Name:      "soil",
		Origin:    "CsoilSensor",
		AE:        "CsoilSensor",
		Container: "soil",
		CSVFile:   "soil.csv",
		Profile:   Profile{Type: TypeFloat, Min: 10, Max: 60, Distribution: Uniform},
	},
}

// Lookup returns the catalog entry for name. Unknown names get derived
// identifiers and a float 0-100 profile.
func Lookup(name string) Sensor {
	key := strings.ToLower(strings.TrimSpace(name))
	if s, ok := catalog[key]; ok {
		return s
	}
	ae := "C" + key + "Sensor"
	return Sensor{
		Name:      key,
		Origin:    ae,
		AE:        ae,
		Container: key,
		CSVFile:   key + ".csv",
		Profile:   Profile{Type: TypeFloat, Min: 0, Max: 100, Distribution: Uniform},
	}
}

// Known reports whether name is a built-in sensor.
func Known(name string) bool {
	_, ok := catalog[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Names lists the built-in sensors in sorted order.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Label is the tag used in console markers, e.g. TEMP.
func (s Sensor) Label() string {
	return strings.ToUpper(s.Name)
}

// StopMarker is printed by a simulator stopped by its operator.
const StopMarker = "[INFO] Stopping per user request"

// RunMarker is the line a simulator prints once registered and about to
// stream; the coordinator waits for it before starting the next child.
func (s Sensor) RunMarker(protocol, mode string) string {
	return "[" + s.Label() + "] run protocol=" + protocol + " mode=" + mode
}

// CSVPath resolves the sensor's CSV file under dir.
func (s Sensor) CSVPath(dir string) string {
	return filepath.Join(dir, s.CSVFile)
}
