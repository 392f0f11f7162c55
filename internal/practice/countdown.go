package practice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

type countdown struct {
	cancel context.CancelFunc

	mu        sync.Mutex
	remaining int
}

func (c *countdown) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// decrement removes one second and reports whether time has run out.
func (c *countdown) decrement() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remaining > 0 {
		c.remaining--
	}
	return c.remaining == 0
}

// StartCountdown starts the timer for an in-progress attempt. When it reaches
// zero the attempt is saved with no time left and submitted. Starting a timer
// that is already running is a no-op.
func (s *Service) StartCountdown(ctx context.Context, id string) error {
	a, err := s.repo.GetAttempt(ctx, id)
	if err != nil {
		return err
	}
	if a.Completed() {
		return ErrAttemptCompleted
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}
	if _, running := s.timers[id]; running {
		return nil
	}
	tctx, cancel := context.WithCancel(s.ctx)
	c := &countdown{cancel: cancel, remaining: a.TimeRemaining}
	s.timers[id] = c

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runCountdown(tctx, id, c)
	}()
	return nil
}

// StopCountdown stops the timer for an attempt, if one is running.
func (s *Service) StopCountdown(id string) {
	s.stopTimer(id)
}

// Remaining reports the live remaining time of a running countdown.
func (s *Service) Remaining(id string) (int, bool) {
	s.mu.Lock()
	c, ok := s.timers[id]
	s.mu.Unlock()
	if !ok {
		return 0, false
	}
	return c.get(), true
}

// Close stops every countdown and waits for them, including any auto-submit
// already under way, to finish.
func (s *Service) Close() {
	s.mu.Lock()
	for id, c := range s.timers {
		c.cancel()
		delete(s.timers, id)
	}
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

func (s *Service) stopTimer(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.timers[id]; ok {
		c.cancel()
		delete(s.timers, id)
	}
}

func (s *Service) runCountdown(ctx context.Context, id string, c *countdown) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	expired := c.get() <= 0
	for !expired {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired = c.decrement()
		}
	}

	// Keep the timer registered until the zero is persisted so a concurrent
	// Save cannot write back a stale remaining time.
	submit, err := s.expire(id)
	if err != nil {
		slog.Error("failed to persist expired attempt", "attempt", id, "error", err)
	}
	s.stopTimer(id)
	if !submit {
		return
	}

	if _, err := s.Submit(s.ctx, id); err != nil && !errors.Is(err, ErrSubmitInProgress) && !errors.Is(err, ErrAttemptCompleted) {
		slog.Warn("auto-submit failed", "attempt", id, "error", err)
	}
}

// expireRetryDelay spaces out attempts to claim an attempt held by a save.
const expireRetryDelay = 20 * time.Millisecond

// expire records that time ran out and reports whether the attempt still needs
// an automatic submission. An attempt that is being submitted or is already
// completed is left alone.
func (s *Service) expire(id string) (bool, error) {
	for {
		err := s.acquire(id, busySaving)
		if err == nil {
			break
		}
		if errors.Is(err, ErrSubmitInProgress) {
			return false, nil
		}
		select {
		case <-s.ctx.Done():
			return false, s.ctx.Err()
		case <-time.After(expireRetryDelay):
		}
	}
	defer s.release(id)

	a, err := s.repo.GetAttempt(s.ctx, id)
	if err != nil {
		return false, err
	}
	if a.Completed() {
		return false, nil
	}
	a.TimeRemaining = 0
	a.LastSaved = s.now().UTC()
	err = s.repo.SaveAttempt(s.ctx, a)
	if errors.Is(err, ErrAttemptCompleted) {
		return false, nil
	}
	return true, err
}
