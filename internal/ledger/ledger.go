package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/felipepmaragno/tokenmeter/internal/domain"
)

// maxRecentRecords caps the snapshot's recent-record list.
const maxRecentRecords = 100

// Ledger maintains durable daily and all-time aggregates. Every
// commit is a load-apply-save cycle against the store; the mutex-free
// alternative loses updates, so all snapshot access is serialized
// through commitMu (single-proxy-instance assumption; cross-process
// writers are out of scope).
type Ledger struct {
	commitMu chan struct{}
	store    Store
	now      func() time.Time
}

// NewLedger wraps a store. The zero time source is time.Now.
func NewLedger(store Store) *Ledger {
	l := &Ledger{
		commitMu: make(chan struct{}, 1),
		store:    store,
		now:      time.Now,
	}
	l.commitMu <- struct{}{}
	return l
}

func (l *Ledger) lock(ctx context.Context) error {
	select {
	case <-l.commitMu:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Ledger) unlock() {
	l.commitMu <- struct{}{}
}

// Commit applies one completed request to the aggregates: total
// stats, the day's bucket, and the recent-record list. Records must
// have non-negative token counts.
func (l *Ledger) Commit(ctx context.Context, record domain.UsageRecord, cost float64) error {
	if record.InputTokens < 0 || record.OutputTokens < 0 {
		return fmt.Errorf("commit usage for %s: %w", record.Model, domain.ErrNegativeTokens)
	}

	if err := l.lock(ctx); err != nil {
		return err
	}
	defer l.unlock()

	snap, err := l.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}

	total := record.InputTokens + record.OutputTokens

	snap.TotalStats.TotalInputTokens += record.InputTokens
	snap.TotalStats.TotalOutputTokens += record.OutputTokens
	snap.TotalStats.TotalTokens += total
	snap.TotalStats.TotalCost += cost
	snap.TotalStats.RequestCount++

	day := record.Timestamp.UTC().Format("2006-01-02")
	daily, ok := snap.DailyStats[day]
	if !ok {
		daily = domain.DailyStats{Date: day, Models: make(map[string]int)}
	}
	if daily.Models == nil {
		daily.Models = make(map[string]int)
	}
	daily.InputTokens += record.InputTokens
	daily.OutputTokens += record.OutputTokens
	daily.TotalTokens += total
	daily.Cost += cost
	daily.RequestCount++
	daily.Models[record.Model] += total
	snap.DailyStats[day] = daily

	snap.RecentRecords = append(snap.RecentRecords, record)
	if len(snap.RecentRecords) > maxRecentRecords {
		snap.RecentRecords = snap.RecentRecords[len(snap.RecentRecords)-maxRecentRecords:]
	}

	snap.LastUpdated = l.now()

	if err := l.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}

// DailyStats returns the bucket for an ISO date (today when empty).
// Missing days report zeroed stats for that date.
func (l *Ledger) DailyStats(ctx context.Context, date string) (domain.DailyStats, error) {
	if date == "" {
		date = l.now().UTC().Format("2006-01-02")
	}

	if err := l.lock(ctx); err != nil {
		return domain.DailyStats{}, err
	}
	defer l.unlock()

	snap, err := l.store.Load(ctx)
	if err != nil {
		return domain.DailyStats{}, fmt.Errorf("load ledger: %w", err)
	}

	daily, ok := snap.DailyStats[date]
	if !ok {
		return domain.DailyStats{Date: date, Models: map[string]int{}}, nil
	}
	return daily, nil
}

// TotalStats returns the all-time accumulator.
func (l *Ledger) TotalStats(ctx context.Context) (domain.TotalStats, time.Time, error) {
	if err := l.lock(ctx); err != nil {
		return domain.TotalStats{}, time.Time{}, err
	}
	defer l.unlock()

	snap, err := l.store.Load(ctx)
	if err != nil {
		return domain.TotalStats{}, time.Time{}, fmt.Errorf("load ledger: %w", err)
	}
	return snap.TotalStats, snap.LastUpdated, nil
}

// History returns up to limit most recent durable records, oldest of
// the tail first. limit <= 0 returns the full retained list.
func (l *Ledger) History(ctx context.Context, limit int) ([]domain.UsageRecord, error) {
	if err := l.lock(ctx); err != nil {
		return nil, err
	}
	defer l.unlock()

	snap, err := l.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	records := snap.RecentRecords
	if limit > 0 && limit < len(records) {
		records = records[len(records)-limit:]
	}
	out := make([]domain.UsageRecord, len(records))
	copy(out, records)
	return out, nil
}

// Reset clears all durable aggregates. Session resets never reach
// here; only an explicit durable reset does.
func (l *Ledger) Reset(ctx context.Context) error {
	if err := l.lock(ctx); err != nil {
		return err
	}
	defer l.unlock()

	snap := emptySnapshot()
	snap.LastUpdated = l.now()
	if err := l.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}
