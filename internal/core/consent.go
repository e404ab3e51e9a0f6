package core

import (
	"context"
	"errors"

	"github.com/Cypherspark/optout-gateway/internal/db"
	"github.com/Cypherspark/optout-gateway/internal/metrics"
)

type Outcome string

const (
	OutcomeAdded          Outcome = "added"
	OutcomeAlreadyBlocked Outcome = "alreadyBlocked"
	OutcomeRemoved        Outcome = "removed"
	OutcomeNotFound       Outcome = "notFound"
	OutcomeInvalid        Outcome = "invalid"
)

// Change is one requested consent transition.
type Change struct {
	Action Action
	Number string
	// ReceivedOn is the destination number for inbound messages, otherwise
	// SourceManual or SourceAPI.
	ReceivedOn string
	// ConfigID is the matched rule set; empty for manual and API changes.
	ConfigID string
	// AlwaysRecord appends history even when the blocklist did not change.
	AlwaysRecord bool
}

type ChangeResult struct {
	Number   string  `json:"number"`
	Original string  `json:"original"`
	Outcome  Outcome `json:"outcome"`
	Changed  bool    `json:"-"`
}

// IsBlocked reports whether number, once normalized, is on the blocklist.
func (s *Store) IsBlocked(ctx context.Context, number string) bool {
	n := Normalize(number)
	if n == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked(ctx)
	_, ok := s.blocked[n]
	return ok
}

// ListOptOuts returns the normalized blocked numbers in insertion order.
func (s *Store) ListOptOuts(ctx context.Context) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked(ctx)
	out := make([]string, len(s.optouts))
	for i, e := range s.optouts {
		out[i] = e.Number
	}
	return out
}

func (s *Store) OptOutEntries(ctx context.Context) []OptOutEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked(ctx)
	return append([]OptOutEntry{}, s.optouts...)
}

func (s *Store) OptOutCount(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked(ctx)
	return len(s.optouts)
}

// Add blocklists entry.Number without recording history. It is a no-op when
// the normalized number is already present.
func (s *Store) Add(ctx context.Context, entry OptOutEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked(ctx)

	if !s.addLocked(entry.Number, entry.ConfigID) {
		return false, nil
	}
	metrics.OptOutListSize.Set(float64(len(s.optouts)))
	return true, s.persistLocked(ctx, db.KeyOptOuts, s.optouts)
}

// Remove drops the first entry matching number without recording history.
func (s *Store) Remove(ctx context.Context, number string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.loadLocked(ctx)

	if !s.removeLocked(Normalize(number)) {
		return false, nil
	}
	metrics.OptOutListSize.Set(float64(len(s.optouts)))
	return true, s.persistLocked(ctx, db.KeyOptOuts, s.optouts)
}

// Apply runs a single change. An opt-in for an unknown number or an
// unusable number is reported in the result, not as an error.
func (s *Store) Apply(ctx context.Context, c Change) (ChangeResult, error) {
	res, err := s.ApplyBatch(ctx, []Change{c})
	return res[0], err
}

// ApplyBatch runs changes in order under one lock and persists once. The
// blocklist is written before the history so a reader never sees history for
// a change the blocklist does not reflect. A non-nil error wraps
// ErrNotPersisted; the results are still authoritative for this process.
func (s *Store) ApplyBatch(ctx context.Context, changes []Change) ([]ChangeResult, error) {
	results := make([]ChangeResult, 0, len(changes))
	var recorded []HistoryEntry
	var dirty bool

	s.mu.Lock()
	_ = s.loadLocked(ctx)
	for _, c := range changes {
		r, h := s.applyLocked(c)
		results = append(results, r)
		dirty = dirty || r.Changed
		if h != nil {
			s.history = append(s.history, *h)
			recorded = append(recorded, *h)
		}
	}

	var errs []error
	if dirty {
		errs = append(errs, s.persistLocked(ctx, db.KeyOptOuts, s.optouts))
	}
	if len(recorded) > 0 {
		errs = append(errs, s.persistLocked(ctx, db.KeyHistory, s.history))
	}
	size := len(s.optouts)
	listeners := s.listeners
	s.mu.Unlock()

	metrics.OptOutListSize.Set(float64(size))
	s.publish(recorded, listeners)
	return results, errors.Join(errs...)
}

func (s *Store) applyLocked(c Change) (ChangeResult, *HistoryEntry) {
	n := Normalize(c.Number)
	r := ChangeResult{Number: n, Original: c.Number}
	if n == "" || !c.Action.Valid() {
		r.Outcome = OutcomeInvalid
		return r, nil
	}

	switch c.Action {
	case ActionOptOut:
		provenance := c.ConfigID
		if provenance == "" {
			provenance = c.ReceivedOn
		}
		r.Changed = s.addLocked(c.Number, provenance)
		r.Outcome = OutcomeAlreadyBlocked
		if r.Changed {
			r.Outcome = OutcomeAdded
		}
	case ActionOptIn:
		r.Changed = s.removeLocked(n)
		r.Outcome = OutcomeNotFound
		if r.Changed {
			r.Outcome = OutcomeRemoved
		}
	}

	if !r.Changed && !c.AlwaysRecord {
		return r, nil
	}
	return r, &HistoryEntry{
		Number:     n,
		Action:     c.Action,
		Timestamp:  s.now().UTC(),
		ReceivedOn: c.ReceivedOn,
		ConfigID:   c.ConfigID,
	}
}

func (s *Store) addLocked(raw, configID string) bool {
	n := Normalize(raw)
	if n == "" {
		return false
	}
	if _, ok := s.blocked[n]; ok {
		return false
	}
	now := s.now().UTC()
	e := OptOutEntry{Number: n, ConfigID: configID, CreatedAt: &now}
	if raw != n {
		e.OriginalNumber = raw
	}
	s.optouts = append(s.optouts, e)
	s.blocked[n] = struct{}{}
	return true
}

func (s *Store) removeLocked(n string) bool {
	if _, ok := s.blocked[n]; !ok {
		return false
	}
	for i, e := range s.optouts {
		if e.Number == n {
			s.optouts = append(s.optouts[:i], s.optouts[i+1:]...)
			break
		}
	}
	delete(s.blocked, n)
	return true
}

func (s *Store) publish(entries []HistoryEntry, listeners []func(HistoryEntry)) {
	for _, h := range entries {
		metrics.ConsentEvents.WithLabelValues(string(h.Action), eventSource(h.ReceivedOn)).Inc()
		for _, fn := range listeners {
			fn(h)
		}
	}
}

func eventSource(receivedOn string) string {
	switch receivedOn {
	case SourceManual, SourceAPI:
		return receivedOn
	}
	return "inbound"
}
