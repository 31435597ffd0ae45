package telemetry

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// seriesSuffixes are the file names picked up when a directory is given.
var seriesSuffixes = []string{".csv", ".csv.gz", ".csv.zst"}

// ResolveCSV expands a doublestar pattern or a directory into the files it
// names, in lexical order. A plain file path is returned unchanged.
func ResolveCSV(pattern string) ([]string, error) {
	if !strings.ContainsAny(pattern, "*?[{") {
		if fi, err := os.Stat(pattern); err == nil && fi.IsDir() {
			return walkSeries(pattern)
		}
		return []string{pattern}, nil
	}
	if !doublestar.ValidatePathPattern(pattern) {
		return nil, fmt.Errorf("invalid CSV pattern %q", pattern)
	}

	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("invalid CSV pattern %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no file matches %s", ErrNoData, pattern)
	}
	sort.Strings(matches)
	return matches, nil
}

// seriesVisitor passes data files to add. An entry that cannot be read
// fails the walk rather than shortening the series.
func seriesVisitor(add func(path string)) fs.WalkDirFunc {
	return func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if d.IsDir() {
			return nil
		}
		name := strings.ToLower(d.Name())
		for _, suffix := range seriesSuffixes {
			if strings.HasSuffix(name, suffix) {
				add(path)
				break
			}
		}
		return nil
	}
}

// walkSeries collects every data file below dir.
func walkSeries(dir string) ([]string, error) {
	var (
		mu    sync.Mutex
		files []string
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, dir, seriesVisitor(func(path string) {
		mu.Lock()
		files = append(files, path)
		mu.Unlock()
	}))
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no CSV files under %s", ErrNoData, dir)
	}
	sort.Strings(files)
	return files, nil
}

type multiCloser struct {
	io.Reader
	closers []func() error
}

func (m *multiCloser) Close() error {
	var first error
	for _, c := range m.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openSeries opens a data file, decompressing it when its content is gzip
// or zstd.
func openSeries(path string) (io.ReadCloser, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}

	switch {
	case mtype.Is("application/gzip"):
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("gzip failed: %w", err)
		}
		return &multiCloser{Reader: zr, closers: []func() error{zr.Close, f.Close}}, nil

	case mtype.Is("application/zstd"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("zstd failed: %w", err)
		}
		release := func() error {
			zr.Close()
			return nil
		}
		return &multiCloser{Reader: zr, closers: []func() error{release, f.Close}}, nil

	default:
		return f, nil
	}
}
