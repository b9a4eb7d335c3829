package trace

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"sync"
)

// JSONLWriter writes records as JSON, one per line. It is safe for concurrent use.
type JSONLWriter struct {
	mu     sync.Mutex
	buf    *bufio.Writer
	enc    *json.Encoder
	closer io.Closer
}

// NewJSONLWriter writes to w. Records are buffered until Flush or Close.
func NewJSONLWriter(w io.Writer) *JSONLWriter {
	buf := bufio.NewWriter(w)
	jw := &JSONLWriter{buf: buf, enc: json.NewEncoder(buf)}
	if c, ok := w.(io.Closer); ok {
		jw.closer = c
	}
	return jw
}

// OpenJSONLFile opens the file at path for appending, creating it if needed.
func OpenJSONLFile(path string) (*JSONLWriter, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return NewJSONLWriter(f), nil
}

func (w *JSONLWriter) Write(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(rec)
}

// Flush writes the buffered records to the underlying writer.
func (w *JSONLWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Flush()
}

// Close flushes, then closes the underlying writer if it is an io.Closer.
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.buf.Flush(); err != nil {
		return err
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

// ReadJSONL decodes every record from r.
func ReadJSONL(r io.Reader) ([]Record, error) {
	var records []Record
	dec := json.NewDecoder(r)
	for {
		var rec Record
		if err := dec.Decode(&rec); err == io.EOF {
			return records, nil
		} else if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
}
