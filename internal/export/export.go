// Package export writes a feature matrix as CSV, compressed according to
// the file extension.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/qurore/vanbus/internal/features"
)

// Compression is the codec applied to an export file.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// ErrUnsupportedFormat is returned for paths that do not name a CSV file.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// CompressionFor picks the codec from the path: .csv, .csv.gz or .csv.zst.
func CompressionFor(path string) (Compression, error) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".csv"):
		return CompressionNone, nil
	case strings.HasSuffix(lower, ".csv.gz"):
		return CompressionGzip, nil
	case strings.HasSuffix(lower, ".csv.zst"):
		return CompressionZstd, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}
}

// WriteCSV writes the header row and every matrix row to w.
func WriteCSV(w io.Writer, m features.Matrix) error {
	cw := csv.NewWriter(w)
	header := m.Columns
	if len(header) == 0 {
		header = features.Header()
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range m.Rows {
		if err := cw.Write(r.Record()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes m to path. The file is written to a temporary name in
// the same directory and renamed into place once complete.
func WriteFile(path string, m features.Matrix) (err error) {
	codec, err := CompressionFor(path)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	w, err := compress(tmp, codec)
	if err != nil {
		return err
	}
	if err = WriteCSV(w, m); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("finish %s stream: %w", codec, err)
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func compress(w io.Writer, codec Compression) (io.WriteCloser, error) {
	switch codec {
	case CompressionGzip:
		return gzip.NewWriterLevel(w, gzip.BestSpeed)
	case CompressionZstd:
		return zstd.NewWriter(w)
	default:
		return nopWriteCloser{w}, nil
	}
}

type readCloser struct {
	io.Reader
	closers []func() error
}

func (r *readCloser) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// Open returns a reader over the decompressed contents of an export file.
func Open(path string) (io.ReadCloser, error) {
	codec, err := CompressionFor(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	switch codec {
	case CompressionGzip:
		zr, err := gzip.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("open gzip stream: %w", err)
		}
		return &readCloser{Reader: zr, closers: []func() error{zr.Close, f.Close}}, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(f)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("open zstd stream: %w", err)
		}
		return &readCloser{Reader: zr, closers: []func() error{
			func() error { zr.Close(); return nil },
			f.Close,
		}}, nil
	default:
		return f, nil
	}
}

// ReadRecords reads every CSV record of an export file, header included.
func ReadRecords(path string) ([][]string, error) {
	rc, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return csv.NewReader(rc).ReadAll()
}
