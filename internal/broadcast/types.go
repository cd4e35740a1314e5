// Package broadcast runs one delivery cycle over the subscriber set:
// deliver to every recipient in order, pace between sends, retry once on a
// rate limit, and prune recipients that are gone in a single commit.
package broadcast

import (
	"context"
	"errors"
	"time"

	"songbot/internal/delivery"
	"songbot/internal/storage"
)

var (
	// ErrCycleRunning is returned when Run is called while a cycle is active.
	ErrCycleRunning = errors.New("broadcast: cycle already running")
	// ErrInterrupted is returned with a partial report when ctx ends mid-cycle.
	ErrInterrupted = errors.New("broadcast: cycle interrupted")
)

// Content is what every recipient receives in one cycle.
type Content struct {
	Text           string
	ParseMode      string
	DisablePreview bool

	// Trigger names what started the cycle ("daily", "manual"); ActorID is
	// the user behind a manual trigger. Both only feed logs and the audit.
	Trigger string
	ActorID int64
}

// Channel delivers content to one recipient. Failures should carry a
// *delivery.ChannelError so they classify precisely.
type Channel interface {
	Deliver(ctx context.Context, recipient int64, content Content) error
}

// Store is the subscriber set as seen by a cycle.
type Store interface {
	Snapshot() ([]int64, error)
	Prune(ctx context.Context, ids []int64) (int, error)
}

// Auditor records finished cycles.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Config struct {
	// Pacing is the delay after each first-try success.
	Pacing time.Duration
	// Workers above 1 switches to bounded parallel delivery sharing one
	// rate limiter of 1/Pacing.
	Workers     int
	SendTimeout time.Duration
	// CycleTimeout bounds the whole cycle; zero means no bound.
	CycleTimeout time.Duration
	// CommitTimeout bounds the final prune, which runs even after ctx ended.
	CommitTimeout    time.Duration
	Retry            delivery.RetryPolicy
	PruneOnRetryGone bool
	// MaxFailures caps Report.Failures.
	MaxFailures int
}

func DefaultConfig() Config {
	return Config{
		Pacing:           50 * time.Millisecond,
		Workers:          1,
		SendTimeout:      15 * time.Second,
		CommitTimeout:    10 * time.Second,
		Retry:            delivery.DefaultRetryPolicy(),
		PruneOnRetryGone: true,
		MaxFailures:      200,
	}
}

type Status uint8

const (
	StatusSent Status = iota + 1
	StatusRetriedAndSent
	StatusDropped
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusRetriedAndSent:
		return "retried_and_sent"
	case StatusDropped:
		return "dropped"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Attempt is the per-recipient result of a cycle.
type Attempt struct {
	Recipient int64
	Status    Status
	Tries     int
	// Outcome is the classification of the last failure, if any.
	Outcome delivery.Outcome
	// Remove is set when the recipient joins the removal set.
	Remove bool
}

// Report summarises a cycle. Successful+Failed+Skipped == Total.
type Report struct {
	Trigger    string
	StartedAt  time.Time
	FinishedAt time.Time

	Total      int
	Successful int
	Failed     int
	Removed    int
	Retried    int
	Skipped    int

	// Failures lists dropped recipients, capped by Config.MaxFailures.
	Failures []Attempt
	// Err is the error Run returned, as text.
	Err string
}

func (r Report) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
