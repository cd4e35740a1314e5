package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"songbot/internal/eventbus"
	"songbot/internal/metrics"
	logx "songbot/pkg/logx"
)

const markerPrefix = "schedule:"

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithEventBus(b eventbus.Bus) Option { return func(s *Service) { s.bus = b } }

func WithMetrics(m *metrics.Broadcast) Option { return func(s *Service) { s.metrics = m } }

func New(cfg Config, markers MarkerStore, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:     log,
		cfg:     cfg,
		markers: markers,
		now:     time.Now,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.loc = s.loadLocationLocked()
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. A timezone change re-registers every job.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if oldTZ == strings.TrimSpace(cfg.Timezone) {
		return
	}
	s.loc = s.loadLocationLocked()
	if s.c != nil {
		s.restartLocked()
	}
}

// Start begins cron triggering and runs a catch-up pass in the background.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.c != nil {
		s.mu.Unlock()
		return
	}
	s.loc = s.loadLocationLocked()
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.jobs {
		s.registerLocked(d)
	}
	s.c.Start()
	runCtx := s.runCtx
	n := len(s.jobs)
	loc := s.loc
	s.wg.Add(1)
	s.mu.Unlock()

	s.log.Info("service started", logx.String("tz", loc.String()), logx.Int("jobs", n))
	go func() {
		defer s.wg.Done()
		s.CatchUp(runCtx)
	}()
}

// Stop stops triggering and waits for running jobs until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	start := s.now()
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCancel = nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	cronDone := c.Stop().Done()
	if cancel != nil {
		cancel()
	}
	jobsDone := make(chan struct{})
	go func() {
		<-cronDone
		s.wg.Wait()
		close(jobsDone)
	}()
	select {
	case <-jobsDone:
	case <-ctx.Done():
		s.log.Warn("stop timed out; jobs still running")
	}
	s.log.Info("service stopped", logx.Duration("took", s.now().Sub(start)))
}

// AddDaily registers (or replaces) a job that runs every day at atHHMM in
// the scheduler timezone.
func (s *Service) AddDaily(name, atHHMM string, opt DailyOptions, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	h, m, err := parseHHMM(atHHMM)
	if err != nil {
		return err
	}
	if opt.Grace <= 0 {
		opt.Grace = DefaultGrace
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	running := &atomic.Bool{}
	if old := s.removeLocked(name); old != nil {
		// a replaced job keeps its overlap guard
		running = old.running
	}
	d := &daily{name: name, at: strings.TrimSpace(atHHMM), hour: h, minute: m, opt: opt, job: job, running: running}
	s.jobs = append(s.jobs, d)
	if s.c != nil {
		s.registerLocked(d)
	}
	return nil
}

// Remove unregisters a job. It reports whether one existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(strings.TrimSpace(name)) != nil
}

func (s *Service) removeLocked(name string) *daily {
	for i, d := range s.jobs {
		if d.name != name {
			continue
		}
		if s.c != nil && d.entryID != 0 {
			s.c.Remove(d.entryID)
		}
		s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
		return d
	}
	return nil
}

func (s *Service) registerLocked(d *daily) {
	eid, err := s.c.AddFunc(d.spec(), func() { s.fire(d) })
	if err != nil {
		s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("at", d.at), logx.Err(err))
		return
	}
	d.entryID = eid
	s.log.Debug("schedule registered",
		logx.String("name", d.name),
		logx.String("at", d.at),
		logx.Duration("grace", d.opt.Grace),
		logx.Time("next", s.c.Entry(eid).Next),
	)
}

// restartLocked swaps in a fresh cron for the current location. The old
// cron is stopped without waiting: a job it already fired keeps running
// under runCtx and is tracked by s.wg.
func (s *Service) restartLocked() {
	old := s.c
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for _, d := range s.jobs {
		s.registerLocked(d)
	}
	s.c.Start()
	if old != nil {
		old.Stop()
	}
	s.log.Info("service restarted", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.jobs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// CatchUp checks every job once for a missed occurrence. A job without a
// marker gets a baseline instead of a run.
func (s *Service) CatchUp(ctx context.Context) []Decision {
	s.mu.Lock()
	jobs := append([]*daily(nil), s.jobs...)
	s.mu.Unlock()

	out := make([]Decision, 0, len(jobs))
	for _, d := range jobs {
		if ctx.Err() != nil {
			break
		}
		out = append(out, s.trigger(ctx, d, true))
	}
	return out
}

// fire is the cron callback.
func (s *Service) fire(d *daily) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	s.trigger(ctx, d, false)
}

func (s *Service) trigger(ctx context.Context, d *daily, catchUp bool) Decision {
	s.mu.Lock()
	loc := s.loc
	s.mu.Unlock()

	now := s.now()
	dec := Decision{Job: d.name, Due: lastOccurrence(now, d.hour, d.minute, loc)}
	defer func() { s.report(dec) }()

	if !d.running.CompareAndSwap(false, true) {
		dec.Result = ResultOverlap
		return dec
	}
	defer d.running.Store(false)

	key := markerPrefix + d.name
	last, ok, err := s.markers.GetMarker(ctx, key)
	if err != nil {
		dec.Result, dec.Err = ResultMarkerFailed, err
		return dec
	}
	if catchUp && !ok {
		// first start: record where we are, run nothing
		dec.Result = ResultBaseline
		if err := s.markers.PutMarker(ctx, key, dec.Due); err != nil {
			dec.Result, dec.Err = ResultMarkerFailed, err
		}
		return dec
	}
	dec.Result = decideRun(now, dec.Due, last, ok, d.opt.Grace)
	if dec.Result != ResultRan {
		return dec
	}
	// the marker is written first so a crash mid-run cannot repeat the day
	if err := s.markers.PutMarker(ctx, key, dec.Due); err != nil {
		dec.Result, dec.Err = ResultMarkerFailed, err
		return dec
	}

	jctx := ctx
	if d.opt.Timeout > 0 {
		var cancel context.CancelFunc
		jctx, cancel = context.WithTimeout(ctx, d.opt.Timeout)
		defer cancel()
	}
	s.log.Info("job started", logx.String("name", d.name), logx.Time("due", dec.Due), logx.Bool("catch_up", catchUp), logx.Duration("late", now.Sub(dec.Due)))
	if err := runJob(jctx, d.job); err != nil {
		dec.Result, dec.Err = ResultJobFailed, err
	}
	return dec
}

func runJob(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("job panicked")
		}
	}()
	return job(ctx)
}

func (s *Service) report(dec Decision) {
	s.metrics.SchedulerRun(dec.Job, string(dec.Result))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduleDecision, Time: s.now(), Data: eventbus.ScheduleDecision{Job: dec.Job, Due: dec.Due, Result: string(dec.Result)}})
	}
	fields := []logx.Field{logx.String("name", dec.Job), logx.Time("due", dec.Due), logx.String("result", string(dec.Result))}
	switch dec.Result {
	case ResultRan:
		s.log.Info("job finished", fields...)
	case ResultMissedGrace:
		s.log.Warn("occurrence missed beyond grace; skipped", fields...)
	case ResultJobFailed, ResultMarkerFailed:
		s.log.Error("job failed", append(fields, logx.Err(dec.Err))...)
	case ResultOverlap:
		s.log.Warn("previous run still active; trigger skipped", fields...)
	default:
		s.log.Debug("trigger skipped", fields...)
	}
}

// NextRun returns the next trigger time of a job.
func (s *Service) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.jobs {
		if d.name != name {
			continue
		}
		if s.c != nil && d.entryID != 0 {
			return s.c.Entry(d.entryID).Next, true
		}
		sched, err := s.parser.Parse(d.spec())
		if err != nil {
			return time.Time{}, false
		}
		return sched.Next(s.now().In(s.loc)), true
	}
	return time.Time{}, false
}

// Jobs lists registered jobs with their next trigger and last served
// occurrence.
func (s *Service) Jobs(ctx context.Context) []JobInfo {
	s.mu.Lock()
	jobs := append([]*daily(nil), s.jobs...)
	s.mu.Unlock()

	out := make([]JobInfo, 0, len(jobs))
	for _, d := range jobs {
		info := JobInfo{Name: d.name, At: d.at, Grace: d.opt.Grace, Running: d.running.Load()}
		info.Next, _ = s.NextRun(d.name)
		if last, ok, err := s.markers.GetMarker(ctx, markerPrefix+d.name); err == nil && ok {
			info.LastRun = last
		}
		out = append(out, info)
	}
	return out
}
