package proxy

import (
	"bytes"
	"strings"
)

// usageScanner incrementally parses an SSE byte stream for token
// usage, independently of the bytes being relayed to the client. It
// only ever reads the stream; it never alters what is forwarded.
type usageScanner struct {
	provider Provider

	// pending holds the trailing partial line of the last chunk until
	// its newline arrives in a later chunk.
	pending []byte

	input  int
	output int
}

func newUsageScanner(p Provider) *usageScanner {
	return &usageScanner{provider: p}
}

// Feed consumes the next relayed chunk. Complete lines are parsed;
// an incomplete trailing line is buffered for the next call.
func (s *usageScanner) Feed(chunk []byte) {
	s.pending = append(s.pending, chunk...)

	for {
		idx := bytes.IndexByte(s.pending, '\n')
		if idx < 0 {
			return
		}
		line := s.pending[:idx]
		s.pending = s.pending[idx+1:]
		s.scanLine(string(line))
	}
}

func (s *usageScanner) scanLine(line string) {
	line = strings.TrimSuffix(strings.TrimSpace(line), "\r")

	payload, ok := strings.CutPrefix(line, "data: ")
	if !ok {
		return
	}
	// The terminator is relayed like any other chunk but carries no
	// usage payload.
	if strings.Contains(payload, "[DONE]") {
		return
	}

	s.provider.applyStreamEvent([]byte(payload), &s.input, &s.output)
}

// Usage returns the latest counts observed so far.
func (s *usageScanner) Usage() (input, output int) {
	return s.input, s.output
}
