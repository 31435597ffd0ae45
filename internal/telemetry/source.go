package telemetry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNoData is returned for a CSV file without usable rows.
var ErrNoData = errors.New("csv data is empty")

// Source yields the values a loop sends. Peek returns the same value until
// Advance is called, so a failed send retries the unconsumed value.
type Source interface {
	Peek() (string, error)
	Advance()
	// Done reports that a finite source has no more values.
	Done() bool
}

// SliceSource is a finite, ordered source that is never rewound.
type SliceSource struct {
	values []string
	index  int
}

// NewSliceSource returns a source over values.
func NewSliceSource(values []string) *SliceSource {
	return &SliceSource{values: values}
}

// LoadCSV reads the first column of every non-blank row. pattern is a file,
// a directory or a doublestar glob such as data/temp/**/*.csv; matched files
// are read in lexical order and concatenated. Gzip and zstd files are
// decompressed transparently.
func LoadCSV(pattern string) (*SliceSource, error) {
	files, err := ResolveCSV(pattern)
	if err != nil {
		return nil, err
	}

	var values []string
	for _, path := range files {
		v, err := readSeries(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		values = append(values, v...)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%s: %w", pattern, ErrNoData)
	}
	return NewSliceSource(values), nil
}

// ReadCSV extracts the trimmed first column, skipping blank rows.
func ReadCSV(r io.Reader) ([]string, error) {
	values, err := readColumn(r)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, ErrNoData
	}
	return values, nil
}

func readSeries(path string) ([]string, error) {
	rc, err := openSeries(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return readColumn(rc)
}

func readColumn(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var values []string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse CSV: %w", err)
		}
		if len(record) == 0 {
			continue
		}
		v := strings.TrimSpace(record[0])
		if v == "" {
			continue
		}
		values = append(values, v)
	}
	return values, nil
}

func (s *SliceSource) Peek() (string, error) {
	if s.Done() {
		return "", io.EOF
	}
	return s.values[s.index], nil
}

func (s *SliceSource) Advance() {
	if !s.Done() {
		s.index++
	}
}

func (s *SliceSource) Done() bool {
	return s.index >= len(s.values)
}

// Len is the total number of values.
func (s *SliceSource) Len() int {
	return len(s.values)
}

// Position is the index of the next value to send.
func (s *SliceSource) Position() int {
	return s.index
}
