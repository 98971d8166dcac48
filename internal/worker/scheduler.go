package worker

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/Xunop/celestial/internal/log"
)

// Scheduler runs periodic maintenance tasks.
type Scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
}

func NewScheduler(timeout time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(),
		ctx:     ctx,
		cancel:  cancel,
		timeout: timeout,
	}
}

// Add registers fn under a cron expression such as "@every 1h" or "0 3 * * *".
func (s *Scheduler) Add(spec, name string, fn func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx := s.ctx
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}
		start := time.Now()
		if err := fn(ctx); err != nil {
			log.Error("Scheduled task failed", zap.String("task", name), zap.Error(err))
			return
		}
		log.Debug("Scheduled task done", zap.String("task", name), zap.Duration("took", time.Since(start)))
	})
	if err != nil {
		return errors.Wrapf(err, "invalid schedule %q for %s", spec, name)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running tasks and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}
