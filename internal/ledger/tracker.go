// Package ledger keeps usage records: a per-session in-memory tracker
// and a durable ledger of daily and all-time aggregates backed by a
// pluggable store.
package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felipepmaragno/tokenmeter/internal/domain"
)

// Tracker is the in-memory per-session usage log. Safe for concurrent
// use. Resetting it never touches durable aggregates.
type Tracker struct {
	mu        sync.RWMutex
	sessionID string
	records   []domain.UsageRecord
	now       func() time.Time
}

// NewTracker starts a fresh session. An empty sessionID generates one.
func NewTracker(sessionID string) *Tracker {
	if sessionID == "" {
		sessionID = newSessionID()
	}
	return &Tracker{
		sessionID: sessionID,
		now:       time.Now,
	}
}

func newSessionID() string {
	return "session_" + uuid.New().String()
}

// SessionID returns the current session identifier.
func (t *Tracker) SessionID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessionID
}

// Record appends a new immutable usage record and returns it.
func (t *Tracker) Record(model string, inputTokens, outputTokens int, requestID string) (domain.UsageRecord, error) {
	if inputTokens < 0 || outputTokens < 0 {
		return domain.UsageRecord{}, fmt.Errorf("record usage for %s: %w", model, domain.ErrNegativeTokens)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	record := domain.UsageRecord{
		Timestamp:    t.now(),
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  inputTokens + outputTokens,
		RequestID:    requestID,
	}
	t.records = append(t.records, record)
	return record, nil
}

// Stats aggregates the session's records. Empty sessions report zero
// totals and nil first/last timestamps.
func (t *Tracker) Stats() domain.UsageStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := domain.UsageStats{
		RequestCount: len(t.records),
		ByModel:      make(map[string]domain.ModelStats),
	}
	if len(t.records) == 0 {
		return stats
	}

	for _, r := range t.records {
		stats.TotalInputTokens += r.InputTokens
		stats.TotalOutputTokens += r.OutputTokens
		stats.TotalTokens += r.TotalTokens

		m := stats.ByModel[r.Model]
		m.InputTokens += r.InputTokens
		m.OutputTokens += r.OutputTokens
		m.TotalTokens += r.TotalTokens
		m.RequestCount++
		stats.ByModel[r.Model] = m
	}

	stats.AverageTokensPerReq = float64(stats.TotalTokens) / float64(len(t.records))
	first := t.records[0].Timestamp
	last := t.records[len(t.records)-1].Timestamp
	stats.FirstRequest = &first
	stats.LastRequest = &last
	return stats
}

// Records returns the most recent limit records in chronological
// order, or all records when limit <= 0.
func (t *Tracker) Records(limit int) []domain.UsageRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	start := 0
	if limit > 0 && limit < len(t.records) {
		start = len(t.records) - limit
	}
	out := make([]domain.UsageRecord, len(t.records)-start)
	copy(out, t.records[start:])
	return out
}

// Reset clears all in-memory records and issues a new session id.
// Destructive and irreversible for session state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = nil
	t.sessionID = newSessionID()
}

// Export captures the session for hand-off across process restarts.
type Export struct {
	SessionID string               `json:"sessionId"`
	Records   []domain.UsageRecord `json:"records"`
}

// ExportData snapshots the session id and full record list.
func (t *Tracker) ExportData() Export {
	t.mu.RLock()
	defer t.mu.RUnlock()

	records := make([]domain.UsageRecord, len(t.records))
	copy(records, t.records)
	return Export{SessionID: t.sessionID, Records: records}
}

// ImportData replaces the current session wholesale.
func (t *Tracker) ImportData(data Export) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sessionID = data.SessionID
	t.records = make([]domain.UsageRecord, len(data.Records))
	copy(t.records, data.Records)
}
