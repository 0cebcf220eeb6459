package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// stdioRequest is one line of the stdio protocol.
type stdioRequest struct {
	ID   string `json:"id"`
	Tool string `json:"tool"`
	Args Args   `json:"args"`
}

type stdioResponse struct {
	ID     string `json:"id,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// StdioServer runs the tool catalog over a newline-delimited JSON
// protocol: one request object per input line, one response object
// per output line. Blank lines are skipped.
type StdioServer struct {
	dispatcher *Dispatcher
}

func NewStdioServer(dispatcher *Dispatcher) *StdioServer {
	return &StdioServer{dispatcher: dispatcher}
}

// Serve reads requests from r until EOF or context cancellation,
// writing one response line per request to w. Malformed lines produce
// an error response rather than terminating the loop.
func (s *StdioServer) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	encoder := json.NewEncoder(w)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req stdioRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			if err := encoder.Encode(stdioResponse{Error: "invalid request: not a JSON object"}); err != nil {
				return fmt.Errorf("write response: %w", err)
			}
			continue
		}

		resp := stdioResponse{ID: req.ID}
		result, err := s.dispatcher.Dispatch(ctx, req.Tool, req.Args)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Result = result
		}

		if err := encoder.Encode(resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read requests: %w", err)
	}
	return nil
}
