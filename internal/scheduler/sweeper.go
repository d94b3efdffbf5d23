// Package scheduler runs the background lock expiry sweep.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// Expirer resets slot locks that outlived their TTL.
type Expirer interface {
	ExpireLocks(ctx context.Context) (int, error)
}

// Observer records sweep outcomes.
type Observer interface {
	SweepCompleted(expired int, err error)
}

// Sweeper calls ExpireLocks on a fixed interval. Runs never overlap: a tick that arrives
// while the previous sweep is still going is skipped.
type Sweeper struct {
	sched    gocron.Scheduler
	expirer  Expirer
	obs      Observer
	log      zerolog.Logger
	interval time.Duration
}

func NewSweeper(expirer Expirer, interval time.Duration, obs Observer, log zerolog.Logger) (*Sweeper, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", interval)
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	s := &Sweeper{
		sched:    sched,
		expirer:  expirer,
		obs:      obs,
		log:      log.With().Str("component", "sweeper").Logger(),
		interval: interval,
	}

	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()
			_, _ = s.RunOnce(ctx)
		}),
		gocron.WithName("expire-slot-locks"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, fmt.Errorf("schedule lock sweep: %w", err)
	}
	return s, nil
}

// Start begins ticking. The first sweep runs one interval from now.
func (s *Sweeper) Start() {
	s.sched.Start()
	s.log.Info().Dur("interval", s.interval).Msg("lock sweeper started")
}

// Stop waits for a running sweep to finish and stops the schedule.
func (s *Sweeper) Stop() error {
	return s.sched.Shutdown()
}

// Every adds a housekeeping task on its own interval to the same scheduler.
func (s *Sweeper) Every(name string, interval time.Duration, task func()) error {
	_, err := s.sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

// RunOnce performs one sweep immediately. It backs both the schedule and the admin trigger.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	n, err := s.expirer.ExpireLocks(ctx)
	if s.obs != nil {
		s.obs.SweepCompleted(n, err)
	}
	if err != nil {
		s.log.Error().Err(err).Msg("lock sweep failed")
		return n, err
	}
	s.log.Debug().Int("expired", n).Msg("lock sweep finished")
	return n, nil
}
