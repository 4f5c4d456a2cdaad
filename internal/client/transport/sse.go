package transport

import (
	"bufio"
	"bytes"
	"io"
)

// maxEventSize bounds a single SSE line.
const maxEventSize = 1024 * 1024

// SSEReader parses Server-Sent Events from a stream.
type SSEReader struct {
	scanner *bufio.Scanner
}

// NewSSEReader creates a new SSE reader from an io.Reader.
func NewSSEReader(r io.Reader) *SSEReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxEventSize)
	return &SSEReader{scanner: scanner}
}

// ReadEvent reads the next SSE event from the stream.
// Returns the event type (empty when the server omits "event:"), the joined
// data lines, and io.EOF once the stream ends.
func (s *SSEReader) ReadEvent() (string, []byte, error) {
	var eventType string
	var dataLines [][]byte

	for s.scanner.Scan() {
		line := bytes.TrimRight(s.scanner.Bytes(), "\r")

		// Empty line signals end of event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return eventType, bytes.Join(dataLines, []byte("\n")), nil
			}
			eventType = ""
			continue
		}

		switch {
		case line[0] == ':':
			// comment / keep-alive
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			data := line[len("data:"):]
			data = bytes.TrimPrefix(data, []byte(" "))
			dataLines = append(dataLines, append([]byte(nil), data...))
		}
		// id: and retry: are ignored
	}

	if err := s.scanner.Err(); err != nil {
		return "", nil, err
	}
	// If we have data, return it before EOF
	if len(dataLines) > 0 {
		return eventType, bytes.Join(dataLines, []byte("\n")), nil
	}
	return "", nil, io.EOF
}
