package update

import (
	"context"
	"time"
)

// Scheduler drives periodic update checks. A failed check is retried on a
// short delay a bounded number of times, then the scheduler gives up until
// the next regular interval.
type Scheduler struct {
	engine      *Engine
	interval    time.Duration
	retryDelay  time.Duration
	maxFailures int

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewScheduler creates a Scheduler over the engine's configured cadence.
func NewScheduler(engine *Engine) *Scheduler {
	return &Scheduler{
		engine:      engine,
		interval:    engine.cfg.CheckInterval(),
		retryDelay:  engine.cfg.CheckRetryDelay(),
		maxFailures: engine.cfg.MaxCheckFailures,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the check loop, checking once immediately.
func (s *Scheduler) Start() {
	go s.loop()
}

// Stop halts the loop and waits for it to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) loop() {
	defer close(s.doneCh)

	failures := 0
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-timer.C:
		}

		_, err := s.engine.CheckForUpdates(context.Background())
		if err != nil {
			failures++
			if failures < s.maxFailures {
				log.Info("check failed, will retry", "failures", failures, "retryIn", s.retryDelay)
				timer.Reset(s.retryDelay)
				continue
			}
			log.Warn("check failed repeatedly, waiting for next scheduled check", "failures", failures)
		}
		failures = 0
		timer.Reset(s.interval)
	}
}
