package proxy

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/kalambet/chatrelay/internal/upstream"
)

const maxEventSize = 1 << 20

// Stream reads text fragments from an OpenAI-compatible SSE response.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	closed  bool
	done    bool
}

func newStream(body io.ReadCloser) *Stream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64<<10), maxEventSize)
	return &Stream{body: body, scanner: sc}
}

// Next returns the next non-empty content delta, or io.EOF once the
// upstream sends [DONE] or closes the stream.
func (s *Stream) Next() (string, error) {
	if s.closed || s.done {
		return "", io.EOF
	}

	for s.scanner.Scan() {
		line := s.scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			// Blank separators, comments and event/id fields.
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			s.done = true
			return "", io.EOF
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", &upstream.StreamError{Provider: providerName, Message: "malformed stream chunk", Cause: err}
		}
		if chunk.Error != nil {
			return "", &upstream.StreamError{Provider: providerName, Message: chunk.Error.Message}
		}

		var text strings.Builder
		for _, c := range chunk.Choices {
			text.WriteString(c.Delta.Content)
		}
		if text.Len() == 0 {
			// Role-only openers and the final finish_reason marker carry no text.
			continue
		}
		return text.String(), nil
	}

	if err := s.scanner.Err(); err != nil {
		return "", &upstream.StreamError{Provider: providerName, Message: "failed to read stream", Cause: err}
	}
	s.done = true
	return "", io.EOF
}

// Close releases the HTTP response and its request context.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}
