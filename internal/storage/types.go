package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable means the medium could not be read or written, or held
// data that does not decode.
var ErrUnavailable = errors.New("storage unavailable")

// Config configures storage.
type Config struct {
	Driver      string
	Path        string        // file, sqlite
	DSN         string        // postgres
	Addr        string        // redis
	Password    string        // redis
	DB          int           // redis
	KeyPrefix   string        // redis
	BusyTimeout time.Duration // sqlite; 0 means default
	AuditLimit  int           // redis; 0 means default
}

// Store is the persistence port shared by subscribers, the scheduler and
// the audit trail.
type Store interface {
	// LoadSubscribers returns the persisted set. A store that was never
	// written yields an empty slice.
	LoadSubscribers(ctx context.Context) ([]int64, error)
	// SaveSubscribers replaces the persisted set as one unit.
	SaveSubscribers(ctx context.Context, ids []int64) error

	GetMarker(ctx context.Context, key string) (time.Time, bool, error)
	PutMarker(ctx context.Context, key string, at time.Time) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// AuditEntry records a subscriber change or a broadcast cycle.
type AuditEntry struct {
	At       time.Time `json:"at"`
	ActorID  int64     `json:"actor_id,omitempty"`
	ChatID   int64     `json:"chat_id,omitempty"`
	Action   string    `json:"action"`
	Target   string    `json:"target,omitempty"`
	OK       int       `json:"ok,omitempty"`
	Fail     int       `json:"fail,omitempty"`
	Removed  int       `json:"removed,omitempty"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms,omitempty"`
	MetaJSON string    `json:"meta,omitempty"`
}

func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
