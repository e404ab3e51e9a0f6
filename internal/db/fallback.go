package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Cypherspark/optout-gateway/internal/metrics"
	"go.uber.org/zap"
)

// Fallback writes to Primary and silently falls back to Secondary when the
// primary write fails. A write only errors when both backends reject it.
type Fallback struct {
	Primary   Backend
	Secondary Backend
	log       *zap.Logger
}

var _ Backend = (*Fallback)(nil)

func NewFallback(primary, secondary Backend, log *zap.Logger) *Fallback {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fallback{Primary: primary, Secondary: secondary, log: log}
}

func (f *Fallback) Name() string {
	return f.Primary.Name() + "+" + f.Secondary.Name()
}

// Get prefers the primary. A secondary hit covers records written while the
// primary was down.
func (f *Fallback) Get(ctx context.Context, key string) (json.RawMessage, error) {
	v, err := f.Primary.Get(ctx, key)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, ErrNotFound) {
		f.log.Warn("primary read failed, trying secondary",
			zap.String("backend", f.Primary.Name()), zap.String("key", key), zap.Error(err))
	}
	v2, err2 := f.Secondary.Get(ctx, key)
	if err2 == nil {
		return v2, nil
	}
	if errors.Is(err, ErrNotFound) && errors.Is(err2, ErrNotFound) {
		return nil, ErrNotFound
	}
	if errors.Is(err2, ErrNotFound) {
		return nil, err
	}
	return nil, fmt.Errorf("%s: %v; %s: %w", f.Primary.Name(), err, f.Secondary.Name(), err2)
}

func (f *Fallback) Set(ctx context.Context, key string, value json.RawMessage) error {
	err := f.Primary.Set(ctx, key, value)
	if err == nil {
		return nil
	}
	metrics.PersistenceWriteFailures.WithLabelValues(f.Primary.Name()).Inc()
	f.log.Warn("primary write failed, writing secondary",
		zap.String("backend", f.Primary.Name()), zap.String("key", key), zap.Error(err))

	if err2 := f.Secondary.Set(ctx, key, value); err2 != nil {
		metrics.PersistenceWriteFailures.WithLabelValues(f.Secondary.Name()).Inc()
		return fmt.Errorf("%s: %v; %s: %w", f.Primary.Name(), err, f.Secondary.Name(), err2)
	}
	return nil
}

// Ping reports healthy while either backend answers.
func (f *Fallback) Ping(ctx context.Context) error {
	err := f.Primary.Ping(ctx)
	if err == nil {
		return nil
	}
	if err2 := f.Secondary.Ping(ctx); err2 != nil {
		return fmt.Errorf("%s: %v; %s: %w", f.Primary.Name(), err, f.Secondary.Name(), err2)
	}
	return nil
}

func (f *Fallback) Close() error {
	return errors.Join(f.Primary.Close(), f.Secondary.Close())
}
