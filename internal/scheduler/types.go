package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"songbot/internal/eventbus"
	"songbot/internal/metrics"
	logx "songbot/pkg/logx"
)

const DefaultGrace = time.Hour

type Config struct {
	Enabled  bool
	Timezone string // IANA TZ, e.g. "Europe/Moscow"
}

type DailyOptions struct {
	// Grace is how late an occurrence may still run. Zero means DefaultGrace.
	Grace time.Duration
	// Timeout bounds one run. Zero means no bound beyond the service context.
	Timeout time.Duration
}

// MarkerStore persists the last served occurrence per job.
type MarkerStore interface {
	GetMarker(ctx context.Context, key string) (time.Time, bool, error)
	PutMarker(ctx context.Context, key string, at time.Time) error
}

type Job func(ctx context.Context) error

type daily struct {
	name    string
	at      string
	hour    int
	minute  int
	opt     DailyOptions
	job     Job
	entryID cron.EntryID
	running *atomic.Bool
}

func (d *daily) spec() string { return cronSpec(d.hour, d.minute) }

// Result is what one trigger decided.
type Result string

const (
	ResultRan          Result = "ran"
	ResultJobFailed    Result = "job_failed"
	ResultAlreadyDone  Result = "already_done"
	ResultNotDue       Result = "not_due"
	ResultMissedGrace  Result = "missed_grace"
	ResultOverlap      Result = "overlap"
	ResultBaseline     Result = "baseline"
	ResultMarkerFailed Result = "marker_failed"
)

type Decision struct {
	Job    string
	Due    time.Time
	Result Result
	Err    error
}

type JobInfo struct {
	Name    string
	At      string
	Grace   time.Duration
	Next    time.Time
	LastRun time.Time
	Running bool
}

type Service struct {
	mu sync.Mutex

	log     logx.Logger
	cfg     Config
	loc     *time.Location
	parser  cron.Parser
	c       *cron.Cron
	jobs    []*daily
	markers MarkerStore
	now     func() time.Time
	bus     eventbus.Bus
	metrics *metrics.Broadcast

	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}
