package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
)

// WriterSink streams entries as JSON lines to an io.Writer.
type WriterSink struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewWriterSink creates a sink writing to the given writer.
// A nil writer falls back to os.Stdout.
func NewWriterSink(w io.Writer) *WriterSink {
	if w == nil {
		w = os.Stdout
	}
	return &WriterSink{writer: w}
}

func (s *WriterSink) Write(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bytes, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	// Prefix with AUDIT: for easy filtering
	_, err = s.writer.Write(append([]byte("AUDIT: "), append(bytes, '\n')...))
	return err
}
