package core

import (
	"context"
	"sort"
	"time"

	"github.com/Cypherspark/optout-gateway/internal/db"
)

const DefaultStatsWindow = 24 * time.Hour

// HistoryQuery filters the history log. Start and End are inclusive at day
// granularity in UTC. An empty Action matches both actions.
type HistoryQuery struct {
	Start  *time.Time
	End    *time.Time
	Action Action
}

type Stats struct {
	Optins  int `json:"optins"`
	Optouts int `json:"optouts"`
}

func (s Stats) Total() int { return s.Optins + s.Optouts }

// FilterHistory applies q to entries and returns the matches newest first.
func FilterHistory(entries []HistoryEntry, q HistoryQuery) []HistoryEntry {
	var from, to time.Time
	if q.Start != nil {
		from = dayStart(*q.Start)
	}
	if q.End != nil {
		to = dayEnd(*q.End)
	}

	out := make([]HistoryEntry, 0, len(entries))
	for _, e := range entries {
		if q.Start != nil && e.Timestamp.Before(from) {
			continue
		}
		if q.End != nil && e.Timestamp.After(to) {
			continue
		}
		if q.Action != "" && e.Action != q.Action {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out
}

// ComputeStats counts entries with a timestamp in [now-window, now].
func ComputeStats(entries []HistoryEntry, now time.Time, window time.Duration) Stats {
	since := now.Add(-window)
	var st Stats
	for _, e := range entries {
		if e.Timestamp.Before(since) || e.Timestamp.After(now) {
			continue
		}
		switch e.Action {
		case ActionOptIn:
			st.Optins++
		case ActionOptOut:
			st.Optouts++
		}
	}
	return st
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dayEnd(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), time.UTC)
}

// AppendHistory records e as is. The in-memory append always happens; the
// returned error only reports a failed durable write.
func (s *Store) AppendHistory(ctx context.Context, e HistoryEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now().UTC()
	}
	s.mu.Lock()
	_ = s.loadLocked(ctx)
	s.history = append(s.history, e)
	err := s.persistLocked(ctx, db.KeyHistory, s.history)
	listeners := s.listeners
	s.mu.Unlock()

	s.publish([]HistoryEntry{e}, listeners)
	return err
}

func (s *Store) QueryHistory(ctx context.Context, q HistoryQuery) []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked(ctx)
	return FilterHistory(s.history, q)
}

// Stats counts opt-ins and opt-outs over the trailing window, 24h when
// window is not positive.
func (s *Store) Stats(ctx context.Context, window time.Duration) Stats {
	if window <= 0 {
		window = DefaultStatsWindow
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked(ctx)
	return ComputeStats(s.history, s.now(), window)
}

// ClearHistory truncates the log. There is no undo.
func (s *Store) ClearHistory(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked(ctx)
	s.history = []HistoryEntry{}
	return s.persistLocked(ctx, db.KeyHistory, s.history)
}
