package relay

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPSink writes fragments as raw text to an event-stream response,
// flushing after every write.
type HTTPSink struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

// NewHTTPSink wraps w. Headers are not sent until Start or the first Write.
func NewHTTPSink(w http.ResponseWriter) *HTTPSink {
	return &HTTPSink{w: w, rc: http.NewResponseController(w)}
}

// Start commits the 200 event-stream response and flushes the headers so
// the caller sees the stream open before the first fragment arrives.
func (s *HTTPSink) Start() error {
	if s.started {
		return nil
	}
	s.started = true

	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	return s.flush()
}

// Write sends one fragment and flushes it.
func (s *HTTPSink) Write(fragment string) error {
	if err := s.Start(); err != nil {
		return err
	}
	if _, err := io.WriteString(s.w, fragment); err != nil {
		return fmt.Errorf("writing fragment: %w", err)
	}
	return s.flush()
}

func (s *HTTPSink) flush() error {
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("flushing response: %w", err)
	}
	return nil
}

// BufferSink collects fragments in memory.
type BufferSink struct {
	parts []string
}

func (b *BufferSink) Write(fragment string) error {
	b.parts = append(b.parts, fragment)
	return nil
}

// Parts returns the fragments in the order they were written.
func (b *BufferSink) Parts() []string {
	return b.parts
}

// String returns the concatenated fragments.
func (b *BufferSink) String() string {
	return strings.Join(b.parts, "")
}
