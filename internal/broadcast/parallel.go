package broadcast

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// runParallel delivers with at most cfg.Workers sends in flight. Pacing
// becomes a token bucket of one send per cfg.Pacing shared by all workers;
// a retry waits out its retry_after without taking a token.
func (o *Orchestrator) runParallel(ctx context.Context, cfg Config, ids []int64, content Content, t *tally) {
	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.Pacing > 0 {
		lim = rate.NewLimiter(rate.Every(cfg.Pacing), 1)
	}

	var g errgroup.Group
	g.SetLimit(cfg.Workers)
	for i, id := range ids {
		if ctx.Err() != nil {
			t.skip(len(ids) - i)
			break
		}
		g.Go(func() error {
			if err := lim.Wait(ctx); err != nil {
				t.skip(1)
				return nil
			}
			a := o.attempt(ctx, cfg, id, content)
			t.record(a)
			o.logAttempt(a)
			return nil
		})
	}
	_ = g.Wait()
}
