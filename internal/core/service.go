package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Cypherspark/optout-gateway/internal/db"
	"github.com/Cypherspark/optout-gateway/internal/metrics"
	"go.uber.org/zap"
)

// Store owns the consent state: rule sets, senders, credentials, the
// blocklist and the history log. Every read-modify-write runs under mu and
// updates memory before the durable write.
type Store struct {
	backend db.Backend
	log     *zap.Logger
	now     func() time.Time

	envCreds          *credentialsRecord
	optinNeedsRemoval bool

	mu        sync.Mutex
	loaded    bool
	memOnly   map[string]bool // keys whose load failed; never written back
	configs   []OptOutConfig
	senders   []CustomSender
	creds     credentialsRecord
	optouts   []OptOutEntry
	blocked   map[string]struct{}
	history   []HistoryEntry
	listeners []func(HistoryEntry)

	degraded atomic.Bool
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithEnvCredentials pins credentials from the environment. Both values must
// be set; a half-populated pair is ignored.
func WithEnvCredentials(apiKey, apiSecret string) Option {
	return func(s *Store) {
		if apiKey != "" && apiSecret != "" {
			s.envCreds = &credentialsRecord{APIKey: apiKey, APISecret: apiSecret, IsLocked: true}
		}
	}
}

// WithOptinHistoryRequiresRemoval records inbound opt-in history only when
// the number was actually on the blocklist.
func WithOptinHistoryRequiresRemoval(v bool) Option {
	return func(s *Store) { s.optinNeedsRemoval = v }
}

func NewStore(backend db.Backend, log *zap.Logger, opts ...Option) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Store{
		backend: backend,
		log:     log,
		now:     time.Now,
		memOnly: make(map[string]bool),
		blocked: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load reads all records from the backend. It is called lazily by every
// operation, so calling it at startup only moves the cost up front.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *Store) loadLocked(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	s.loaded = true

	var errs []error

	var cfg configRecord
	if err := s.read(ctx, db.KeyConfig, &cfg); err != nil {
		errs = append(errs, err)
	}
	s.configs, s.senders = cfg.OptoutConfigs, cfg.CustomSenders

	if err := s.read(ctx, db.KeyCredentials, &s.creds); err != nil {
		errs = append(errs, err)
	}

	var rawOptouts []json.RawMessage
	if err := s.read(ctx, db.KeyOptOuts, &rawOptouts); err != nil {
		errs = append(errs, err)
	}
	migrated := s.loadOptOutsLocked(rawOptouts)

	if err := s.read(ctx, db.KeyHistory, &s.history); err != nil {
		errs = append(errs, err)
	}

	if migrated {
		s.log.Info("migrated legacy opt-out entries", zap.Int("entries", len(s.optouts)))
		if err := s.persistLocked(ctx, db.KeyOptOuts, s.optouts); err != nil {
			errs = append(errs, err)
		}
	}
	metrics.OptOutListSize.Set(float64(len(s.optouts)))

	return errors.Join(errs...)
}

// read decodes key into v. A missing key leaves v at its zero value. Any other
// failure pins the key to memory for the rest of the process.
func (s *Store) read(ctx context.Context, key string, v any) error {
	raw, err := s.backend.Get(ctx, key)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err == nil {
		err = json.Unmarshal(raw, v)
	}
	if err != nil {
		s.memOnly[key] = true
		s.degraded.Store(true)
		s.log.Error("load record failed, continuing in memory",
			zap.String("key", key), zap.String("backend", s.backend.Name()), zap.Error(err))
		return fmt.Errorf("%w: load %s: %v", ErrNotPersisted, key, err)
	}
	return nil
}

// loadOptOutsLocked accepts both the current object form and legacy bare
// number strings. It reports whether anything had to be rewritten.
func (s *Store) loadOptOutsLocked(raw []json.RawMessage) (migrated bool) {
	s.optouts = make([]OptOutEntry, 0, len(raw))
	s.blocked = make(map[string]struct{}, len(raw))

	for _, item := range raw {
		var e OptOutEntry
		if trimmed := bytes.TrimSpace(item); len(trimmed) > 0 && trimmed[0] == '"' {
			var number string
			if err := json.Unmarshal(trimmed, &number); err != nil {
				migrated = true
				continue
			}
			e = OptOutEntry{Number: number, ConfigID: SourceManual}
			migrated = true
		} else if err := json.Unmarshal(item, &e); err != nil {
			s.log.Warn("dropping unreadable opt-out entry", zap.ByteString("entry", item), zap.Error(err))
			migrated = true
			continue
		}

		n := Normalize(e.Number)
		if n != e.Number {
			if e.OriginalNumber == "" {
				e.OriginalNumber = e.Number
			}
			e.Number = n
			migrated = true
		}
		if n == "" {
			migrated = true
			continue
		}
		if _, dup := s.blocked[n]; dup {
			migrated = true
			continue
		}
		s.blocked[n] = struct{}{}
		s.optouts = append(s.optouts, e)
	}
	return migrated
}

func (s *Store) persistLocked(ctx context.Context, key string, v any) error {
	if s.memOnly[key] {
		return fmt.Errorf("%w: %s is held in memory only", ErrNotPersisted, key)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.backend.Set(ctx, key, raw); err != nil {
		s.degraded.Store(true)
		metrics.PersistenceWriteFailures.WithLabelValues(s.backend.Name()).Inc()
		s.log.Error("persist failed, change kept in memory",
			zap.String("key", key), zap.String("backend", s.backend.Name()), zap.Error(err))
		return fmt.Errorf("%w: %s: %v", ErrNotPersisted, key, err)
	}
	return nil
}

func (s *Store) persistConfigLocked(ctx context.Context) error {
	return s.persistLocked(ctx, db.KeyConfig, configRecord{
		OptoutConfigs: nonNil(s.configs),
		CustomSenders: nonNil(s.senders),
	})
}

// Degraded reports whether any durable read or write has failed.
func (s *Store) Degraded() bool { return s.degraded.Load() }

func (s *Store) Ping(ctx context.Context) error { return s.backend.Ping(ctx) }

func (s *Store) BackendName() string { return s.backend.Name() }

// Subscribe registers fn to receive every history entry after it is recorded.
// fn runs outside the store lock.
func (s *Store) Subscribe(fn func(HistoryEntry)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
