package db

import (
	"context"
	"encoding/json"
	"errors"
)

// Record keys. Each key holds one JSON document.
const (
	KeyConfig      = "config"
	KeyCredentials = "credentials"
	KeyOptOuts     = "optouts"
	KeyHistory     = "history"
)

// ErrNotFound is returned by Get when a key has never been written.
var ErrNotFound = errors.New("record not found")

// Backend is a durable key/value store for the service's JSON records.
// Writes are last-write-wins.
type Backend interface {
	Name() string
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Set(ctx context.Context, key string, value json.RawMessage) error
	Ping(ctx context.Context) error
	Close() error
}
