package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"songbot/internal/delivery"
	"songbot/internal/eventbus"
	"songbot/internal/metrics"
	"songbot/internal/storage"
	logx "songbot/pkg/logx"
)

type Orchestrator struct {
	store   Store
	channel Channel
	log     logx.Logger

	classifier *delivery.Classifier
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time
	bus        eventbus.Bus
	metrics    *metrics.Broadcast
	audit      Auditor

	mu   sync.Mutex
	cfg  Config
	last *Report

	running atomic.Bool
}

type Option func(*Orchestrator)

func WithClassifier(c *delivery.Classifier) Option {
	return func(o *Orchestrator) {
		if c != nil {
			o.classifier = c
		}
	}
}

// WithSleep replaces the pacing and retry wait. Tests pass a recorder.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.sleep = fn
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func WithEventBus(b eventbus.Bus) Option { return func(o *Orchestrator) { o.bus = b } }

func WithMetrics(m *metrics.Broadcast) Option { return func(o *Orchestrator) { o.metrics = m } }

func WithAudit(a Auditor) Option { return func(o *Orchestrator) { o.audit = a } }

func New(cfg Config, store Store, channel Channel, log logx.Logger, opts ...Option) *Orchestrator {
	if log.IsZero() {
		log = logx.Nop()
	}
	o := &Orchestrator{
		store:      store,
		channel:    channel,
		log:        log,
		cfg:        normalize(cfg),
		classifier: delivery.NewClassifier(),
		sleep:      sleepCtx,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func normalize(cfg Config) Config {
	def := DefaultConfig()
	if cfg.Pacing < 0 {
		cfg.Pacing = 0
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = def.CommitTimeout
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	return cfg
}

// Apply swaps the config. A running cycle keeps the config it started with.
func (o *Orchestrator) Apply(cfg Config) {
	cfg = normalize(cfg)
	o.mu.Lock()
	o.cfg = cfg
	o.mu.Unlock()
	o.log.Debug("broadcast config applied",
		logx.Duration("pacing", cfg.Pacing),
		logx.Int("workers", cfg.Workers),
		logx.Bool("prune_on_retry_gone", cfg.PruneOnRetryGone),
	)
}

func (o *Orchestrator) config() Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// Running reports whether a cycle is in progress.
func (o *Orchestrator) Running() bool { return o.running.Load() }

// LastReport returns the report of the most recent finished cycle.
func (o *Orchestrator) LastReport() (Report, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return Report{}, false
	}
	r := *o.last
	r.Failures = append([]Attempt(nil), o.last.Failures...)
	return r, true
}

// Run executes one broadcast cycle. Delivery failures never abort the
// cycle; only a failed snapshot or a failed prune commit is returned as an
// error (wrapping storage.ErrUnavailable). If ctx ends mid-cycle the
// partial report is returned with ErrInterrupted.
func (o *Orchestrator) Run(ctx context.Context, content Content) (Report, error) {
	if !o.running.CompareAndSwap(false, true) {
		return Report{}, ErrCycleRunning
	}
	defer o.running.Store(false)

	cfg := o.config()
	if cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.CycleTimeout)
		defer cancel()
	}

	rep := Report{Trigger: content.Trigger, StartedAt: o.now()}
	log := o.log.With(logx.String("trigger", content.Trigger))

	ids, err := o.store.Snapshot()
	if err != nil {
		err = fmt.Errorf("broadcast snapshot: %w", err)
		log.Error("broadcast aborted: subscriber set unavailable", logx.Err(err))
		return o.finish(ctx, rep, content, err), err
	}
	rep.Total = len(ids)
	o.publish(eventbus.TypeBroadcastStarted, eventbus.BroadcastStarted{Trigger: content.Trigger, Total: rep.Total})
	log.Info("broadcast started", logx.Int("recipients", rep.Total), logx.Int("workers", cfg.Workers), logx.Duration("pacing", cfg.Pacing))

	tally := newTally(&rep, cfg.MaxFailures)
	if cfg.Workers > 1 {
		o.runParallel(ctx, cfg, ids, content, tally)
	} else {
		o.runSequential(ctx, cfg, ids, content, tally)
	}

	var runErr error
	if rep.Skipped > 0 {
		runErr = ErrInterrupted
		log.Warn("broadcast interrupted", logx.Int("skipped", rep.Skipped), logx.Err(ctx.Err()))
	}

	if removals := tally.removals(); len(removals) > 0 {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.CommitTimeout)
		n, err := o.store.Prune(cctx, removals)
		cancel()
		if err != nil {
			err = fmt.Errorf("broadcast prune: %w", err)
			log.Error("failed to remove unreachable recipients", logx.Int("pending", len(removals)), logx.Err(err))
			runErr = errors.Join(runErr, err)
		} else {
			rep.Removed = n
			log.Info("unreachable recipients removed", logx.Int("removed", n), logx.Int64s("ids", removals))
		}
	}

	return o.finish(ctx, rep, content, runErr), runErr
}

func (o *Orchestrator) runSequential(ctx context.Context, cfg Config, ids []int64, content Content, t *tally) {
	for i, id := range ids {
		if ctx.Err() != nil {
			t.skip(len(ids) - i)
			return
		}
		a := o.attempt(ctx, cfg, id, content)
		t.record(a)
		o.logAttempt(a)
		if a.Status == StatusSent && cfg.Pacing > 0 && i < len(ids)-1 {
			// a cancelled pacing wait surfaces on the next ctx check
			_ = o.sleep(ctx, cfg.Pacing)
		}
	}
}

// attempt delivers to one recipient, retrying per cfg.Retry. The removal
// decision is made only after the last try.
func (o *Orchestrator) attempt(ctx context.Context, cfg Config, id int64, content Content) Attempt {
	a := Attempt{Recipient: id, Tries: 1}
	err := o.deliver(ctx, cfg, id, content)
	if err == nil {
		a.Status = StatusSent
		return a
	}
	out := o.classifier.Classify(err)
	for {
		wait, retry := cfg.Retry.Next(a.Tries, out)
		if !retry {
			break
		}
		o.log.Debug("rate limited; retrying once",
			logx.Int64("recipient", id),
			logx.Duration("wait", wait),
			logx.String("reason", out.Reason),
		)
		if err := o.sleep(ctx, wait); err != nil {
			break
		}
		a.Tries++
		if err = o.deliver(ctx, cfg, id, content); err == nil {
			a.Status = StatusRetriedAndSent
			a.Outcome = out
			return a
		}
		out = o.classifier.Classify(err)
	}
	a.Status = StatusDropped
	a.Outcome = out
	a.Remove = out.Kind == delivery.OutcomeRecipientGone && (a.Tries == 1 || cfg.PruneOnRetryGone)
	return a
}

func (o *Orchestrator) deliver(ctx context.Context, cfg Config, id int64, content Content) error {
	if cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.SendTimeout)
		defer cancel()
	}
	return o.channel.Deliver(ctx, id, content)
}

func (o *Orchestrator) logAttempt(a Attempt) {
	switch a.Status {
	case StatusSent:
		o.metrics.Delivery("sent")
	case StatusRetriedAndSent:
		o.metrics.Delivery("retried")
		o.log.Info("delivered after retry", logx.Int64("recipient", a.Recipient))
	case StatusDropped:
		o.metrics.Delivery(a.Outcome.Kind.String())
		fields := []logx.Field{
			logx.Int64("recipient", a.Recipient),
			logx.String("outcome", a.Outcome.Kind.String()),
			logx.String("reason", a.Outcome.Reason),
			logx.Int("tries", a.Tries),
		}
		if a.Remove {
			o.log.Info("recipient unreachable; scheduled for removal", fields...)
		} else {
			o.log.Warn("delivery failed", fields...)
		}
	}
}

func (o *Orchestrator) finish(ctx context.Context, rep Report, content Content, err error) Report {
	rep.FinishedAt = o.now()
	result := "ok"
	if err != nil {
		rep.Err = err.Error()
		result = "error"
		if errors.Is(err, ErrInterrupted) && !errors.Is(err, storage.ErrUnavailable) {
			result = "interrupted"
		}
	}

	o.mu.Lock()
	stored := rep
	stored.Failures = append([]Attempt(nil), rep.Failures...)
	o.last = &stored
	o.mu.Unlock()

	o.metrics.Cycle(result, rep.Duration(), rep.Removed, rep.Skipped, rep.FinishedAt)
	o.publish(eventbus.TypeBroadcastFinished, eventbus.BroadcastFinished{
		Trigger:    rep.Trigger,
		Total:      rep.Total,
		Successful: rep.Successful,
		Failed:     rep.Failed,
		Removed:    rep.Removed,
		Skipped:    rep.Skipped,
		Took:       rep.Duration(),
		Err:        rep.Err,
	})
	if o.audit != nil {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		aerr := o.audit.AppendAudit(actx, storage.AuditEntry{
			At:      rep.FinishedAt,
			ActorID: content.ActorID,
			Action:  "broadcast",
			Target:  rep.Trigger,
			OK:      rep.Successful,
			Fail:    rep.Failed,
			Removed: rep.Removed,
			Error:   rep.Err,
			TookMS:  rep.Duration().Milliseconds(),
		})
		cancel()
		if aerr != nil {
			o.log.Warn("broadcast audit failed", logx.Err(aerr))
		}
	}

	fields := []logx.Field{
		logx.String("trigger", rep.Trigger),
		logx.Int("total", rep.Total),
		logx.Int("successful", rep.Successful),
		logx.Int("failed", rep.Failed),
		logx.Int("removed", rep.Removed),
		logx.Int("retried", rep.Retried),
		logx.Int("skipped", rep.Skipped),
		logx.Duration("took", rep.Duration()),
	}
	if err != nil {
		o.log.Warn("broadcast finished with errors", append(fields, logx.Err(err))...)
	} else {
		o.log.Info("broadcast finished", fields...)
	}
	return rep
}

func (o *Orchestrator) publish(typ string, data any) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(eventbus.Event{Type: typ, Time: o.now(), Data: data})
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// tally accumulates a report; it is shared by parallel workers.
type tally struct {
	mu      sync.Mutex
	rep     *Report
	max     int
	removal []int64
}

func newTally(rep *Report, max int) *tally { return &tally{rep: rep, max: max} }

func (t *tally) record(a Attempt) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a.Tries > 1 {
		t.rep.Retried++
	}
	switch a.Status {
	case StatusSent, StatusRetriedAndSent:
		t.rep.Successful++
	case StatusDropped:
		t.rep.Failed++
		if len(t.rep.Failures) < t.max {
			t.rep.Failures = append(t.rep.Failures, a)
		}
		if a.Remove {
			t.removal = append(t.removal, a.Recipient)
		}
	}
}

func (t *tally) skip(n int) {
	t.mu.Lock()
	t.rep.Skipped += n
	t.mu.Unlock()
}

func (t *tally) removals() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int64(nil), t.removal...)
}
