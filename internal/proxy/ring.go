package proxy

import (
	"sync"

	"github.com/felipepmaragno/tokenmeter/internal/domain"
)

// requestLog is a fixed-capacity in-memory ring of recently proxied
// requests, served on the local stats endpoint.
type requestLog struct {
	mu       sync.Mutex
	capacity int
	entries  []domain.ProxyRequestLog
}

func newRequestLog(capacity int) *requestLog {
	return &requestLog{capacity: capacity}
}

func (r *requestLog) push(entry domain.ProxyRequestLog) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, entry)
	if len(r.entries) > r.capacity {
		r.entries = r.entries[len(r.entries)-r.capacity:]
	}
}

// snapshot returns up to limit entries, most recent first.
// limit <= 0 returns everything retained.
func (r *requestLog) snapshot(limit int) []domain.ProxyRequestLog {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.ProxyRequestLog, n)
	for i := 0; i < n; i++ {
		out[i] = r.entries[len(r.entries)-1-i]
	}
	return out
}
