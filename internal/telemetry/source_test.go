package telemetry

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parksiwoo-1/Coordination-scrip-for-tinyIoT-and-simulator/internal/sensor"
)

func TestReadCSV(t *testing.T) {
	input := "21.5,2024-01-01\n\n  22.0 \n,\n23.1,extra,cols\n"

	values, err := ReadCSV(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []string{"21.5", "22.0", "23.1"}, values)
}

func TestReadCSVEmpty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("\n \n,\n"))
	assert.ErrorIs(t, err, ErrNoData)
}

func TestLoadCSV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "temp.csv")
	require.NoError(t, os.WriteFile(path, []byte("1\n2\n"), 0o644))

	src, err := LoadCSV(path)
	require.NoError(t, err)
	assert.Equal(t, 2, src.Len())

	_, err = LoadCSV(filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = LoadCSV(empty)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestSliceSourceCursor(t *testing.T) {
	src := NewSliceSource([]string{"a", "b"})

	v, err := src.Peek()
	require.NoError(t, err)
	assert.Equal(t, "a", v)

	// Peek does not consume.
	v, _ = src.Peek()
	assert.Equal(t, "a", v)

	src.Advance()
	v, _ = src.Peek()
	assert.Equal(t, "b", v)
	assert.False(t, src.Done())

	src.Advance()
	assert.True(t, src.Done())
	_, err = src.Peek()
	assert.ErrorIs(t, err, io.EOF)

	// Never rewound.
	src.Advance()
	assert.Equal(t, 2, src.Position())
}

func TestRandomSourceProfiles(t *testing.T) {
	tests := []struct {
		name    string
		profile sensor.Profile
		check   func(t *testing.T, v string)
	}{
		{
			name:    "int",
			profile: sensor.Profile{Type: sensor.TypeInt, Min: 400, Max: 1000},
			check: func(t *testing.T, v string) {
				n, err := strconv.Atoi(v)
				require.NoError(t, err)
				assert.GreaterOrEqual(t, n, 400)
				assert.LessOrEqual(t, n, 1000)
			},
		},
		{
			name:    "float",
			profile: sensor.Profile{Type: sensor.TypeFloat, Min: 20, Max: 30},
			check: func(t *testing.T, v string) {
				f, err := strconv.ParseFloat(v, 64)
				require.NoError(t, err)
				assert.GreaterOrEqual(t, f, 20.0)
				assert.LessOrEqual(t, f, 30.0)
				parts := strings.Split(v, ".")
				require.Len(t, parts, 2)
				assert.Len(t, parts[1], 2)
			},
		},
		{
			name:    "normal clamped",
			profile: sensor.Profile{Type: sensor.TypeFloat, Min: 40, Max: 70, Distribution: sensor.Normal, Mean: 55, StdDev: 30},
			check: func(t *testing.T, v string) {
				f, err := strconv.ParseFloat(v, 64)
				require.NoError(t, err)
				assert.GreaterOrEqual(t, f, 40.0)
				assert.LessOrEqual(t, f, 70.0)
			},
		},
		{
			name:    "string",
			profile: sensor.Profile{Type: sensor.TypeString, Length: 12},
			check: func(t *testing.T, v string) {
				assert.Len(t, v, 12)
				for _, r := range v {
					assert.Contains(t, alphanumeric, string(r))
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := NewRandomSource(tt.profile, 42)
			for i := 0; i < 200; i++ {
				v, err := src.Peek()
				require.NoError(t, err)
				tt.check(t, v)
				src.Advance()
			}
			assert.False(t, src.Done())
		})
	}
}

func TestRandomSourcePeekIsStable(t *testing.T) {
	src := NewRandomSource(sensor.Profile{Type: sensor.TypeFloat, Min: 0, Max: 1000}, 7)

	first, _ := src.Peek()
	again, _ := src.Peek()
	assert.Equal(t, first, again)
}

func TestRandomSourceSeedIsDeterministic(t *testing.T) {
	profile := sensor.Lookup("co2").Profile
	a := NewRandomSource(profile, 99)
	b := NewRandomSource(profile, 99)

	for i := 0; i < 10; i++ {
		va, _ := a.Peek()
		vb, _ := b.Peek()
		assert.Equal(t, va, vb)
		a.Advance()
		b.Advance()
	}
}
