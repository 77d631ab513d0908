package source

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/WessleyAI/catalog-vectors/engine/domain"
)

// Format is a dataset file layout.
type Format int

const (
	FormatJSON  Format = iota // a JSON array of objects, or one object
	FormatJSONL               // one JSON object per line
	FormatCSV                 // header row then one record per row
)

// DetectFormat infers the layout and compression from a file name.
func DetectFormat(path string) (format Format, compression string, err error) {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(name, ".gz"):
		compression = "gzip"
		name = strings.TrimSuffix(name, ".gz")
	case strings.HasSuffix(name, ".zst"):
		compression = "zstd"
		name = strings.TrimSuffix(name, ".zst")
	}
	switch filepath.Ext(name) {
	case ".json":
		return FormatJSON, compression, nil
	case ".jsonl", ".ndjson":
		return FormatJSONL, compression, nil
	case ".csv":
		return FormatCSV, compression, nil
	}
	return 0, "", fmt.Errorf("source: unsupported file type %q", path)
}

// OpenFile opens a single dataset file.
func OpenFile(path string) (Source, error) {
	format, compression, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("source: open %s: %w", path, err)
	}
	closers := []io.Closer{f}
	var r io.Reader = bufio.NewReader(f)

	switch compression {
	case "gzip":
		gz, err := gzip.NewReader(r)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("source: gzip %s: %w", path, err)
		}
		closers = append(closers, gz)
		r = gz
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("source: zstd %s: %w", path, err)
		}
		closers = append(closers, zstdCloser{zr})
		r = zr
	}
	return NewReader(r, format, path, closers...), nil
}

type zstdCloser struct{ d *zstd.Decoder }

func (z zstdCloser) Close() error { z.d.Close(); return nil }

// NewReader returns a source decoding r in the given format. name is used in
// error messages; closers are closed, last first, when the source is closed.
func NewReader(r io.Reader, format Format, name string, closers ...io.Closer) Source {
	rs := &readerSource{name: name, closers: closers}
	switch format {
	case FormatCSV:
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		rs.decode = csvDecoder(cr)
	case FormatJSONL:
		dec := json.NewDecoder(r)
		dec.UseNumber()
		rs.decode = jsonStreamDecoder(dec)
	default:
		rs.decode = jsonDocumentDecoder(bufio.NewReader(r))
	}
	return rs
}

type readerSource struct {
	name    string
	decode  func() (domain.Record, error)
	closers []io.Closer
	row     int
	done    bool
}

func (s *readerSource) Next(ctx context.Context) (domain.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.done {
		return nil, io.EOF
	}
	rec, err := s.decode()
	if errors.Is(err, io.EOF) {
		s.done = true
		return nil, io.EOF
	}
	if err != nil {
		s.done = true
		return nil, fmt.Errorf("source: %s record %d: %w", s.name, s.row, err)
	}
	s.row++
	return rec, nil
}

func (s *readerSource) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// jsonDocumentDecoder reads a .json file holding either an array of records
// or a single record object, as in a directory of per-book files.
func jsonDocumentDecoder(br *bufio.Reader) func() (domain.Record, error) {
	var decode func() (domain.Record, error)
	return func() (domain.Record, error) {
		if decode == nil {
			first, err := peekNonSpace(br)
			if err != nil {
				return nil, err
			}
			dec := json.NewDecoder(br)
			dec.UseNumber()
			if first == '{' {
				decode = jsonStreamDecoder(dec)
			} else {
				decode = jsonArrayDecoder(dec)
			}
		}
		return decode()
	}
}

// peekNonSpace discards leading JSON whitespace and returns the next byte
// without consuming it.
func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}

func jsonArrayDecoder(dec *json.Decoder) func() (domain.Record, error) {
	opened := false
	return func() (domain.Record, error) {
		if !opened {
			tok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			if d, ok := tok.(json.Delim); !ok || d != '[' {
				return nil, fmt.Errorf("expected a JSON array, got %v", tok)
			}
			opened = true
		}
		if !dec.More() {
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			return nil, err
		}
		return normalize(m), nil
	}
}

func jsonStreamDecoder(dec *json.Decoder) func() (domain.Record, error) {
	return func() (domain.Record, error) {
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			return nil, err
		}
		return normalize(m), nil
	}
}

func csvDecoder(cr *csv.Reader) func() (domain.Record, error) {
	var header []string
	return func() (domain.Record, error) {
		if header == nil {
			h, err := cr.Read()
			if err != nil {
				return nil, err
			}
			header = make([]string, len(h))
			for i, name := range h {
				header[i] = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
			}
		}
		row, err := cr.Read()
		if err != nil {
			return nil, err
		}
		rec := make(domain.Record, len(header))
		for i, name := range header {
			if i < len(row) {
				rec[name] = row[i]
			}
		}
		return rec, nil
	}
}

// normalize converts json.Number values to int64 or float64.
func normalize(m map[string]any) domain.Record {
	rec := make(domain.Record, len(m))
	for k, v := range m {
		rec[k] = normalizeValue(v)
	}
	return rec
}

func normalizeValue(v any) any {
	switch tv := v.(type) {
	case json.Number:
		if i, err := tv.Int64(); err == nil {
			return i
		}
		f, _ := tv.Float64()
		return f
	case []any:
		for i := range tv {
			tv[i] = normalizeValue(tv[i])
		}
		return tv
	case map[string]any:
		for k := range tv {
			tv[k] = normalizeValue(tv[k])
		}
		return tv
	}
	return v
}
