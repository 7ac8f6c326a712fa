package feed

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// ── Gzip JSONL I/O ─────────────────────────────────────────
// Every stream in the pipeline — export input, intermediates, feed
// output — is gzip-compressed, line-delimited JSON.

// OpenGzipLines opens a .jsonl.gz file for reading and returns the
// decompressed reader plus a close function releasing both layers.
func OpenGzipLines(path string) (io.Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		// An empty export is written as an empty (non-gzip) file when the
		// bulk operation matched nothing; treat it as an empty stream.
		if err == io.EOF {
			return &emptyReader{}, f.Close, nil
		}
		f.Close()
		return nil, nil, fmt.Errorf("gzip %s: %w", path, err)
	}
	closer := func() error {
		gz.Close()
		return f.Close()
	}
	return gz, closer, nil
}

type emptyReader struct{}

func (*emptyReader) Read([]byte) (int, error) { return 0, io.EOF }

// OpenGzipFile is OpenGzipLines packaged as a single ReadCloser, for
// callers that re-open the same stream multiple times.
func OpenGzipFile(path string) (io.ReadCloser, error) {
	r, closeFn, err := OpenGzipLines(path)
	if err != nil {
		return nil, err
	}
	return &readCloser{r: r, close: closeFn}, nil
}

type readCloser struct {
	r     io.Reader
	close func() error
}

func (rc *readCloser) Read(p []byte) (int, error) { return rc.r.Read(p) }
func (rc *readCloser) Close() error               { return rc.close() }

// LineWriter writes one JSON document per line into a gzip file.
type LineWriter struct {
	f   *os.File
	gz  *gzip.Writer
	buf *bufio.Writer
	n   int
}

// NewLineWriter creates (truncating) the target .jsonl.gz file.
func NewLineWriter(path string) (*LineWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	gz := gzip.NewWriter(f)
	return &LineWriter{f: f, gz: gz, buf: bufio.NewWriter(gz)}, nil
}

// Write marshals v and appends it as one line.
func (w *LineWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.buf.Write(b); err != nil {
		return err
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		return err
	}
	w.n++
	return nil
}

// Count returns the number of lines written so far.
func (w *LineWriter) Count() int { return w.n }

// Close flushes all layers and closes the file.
func (w *LineWriter) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.f.Close()
		return err
	}
	if err := w.gz.Close(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

// ReadLines decodes every line of a decompressed JSONL stream into T.
func ReadLines[T any](r io.Reader) ([]T, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	var out []T
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, sc.Err()
}
