package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type closer struct {
	name string
	fn   func() error
}

// stack releases resources in reverse acquisition order.
type stack struct {
	mu      sync.Mutex
	closers []closer
}

func (s *stack) push(name string, fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closers = append(s.closers, closer{name: name, fn: fn})
}

func (s *stack) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.closers)
}

// unwind pops and runs every closer. Each closer is bounded by ctx; one that
// does not return in time is abandoned and reported, and unwinding continues.
func (s *stack) unwind(ctx context.Context, logger *zap.Logger) error {
	s.mu.Lock()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	var errs error
	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := runBounded(ctx, c.fn); err != nil {
			logger.Warn("teardown step failed", zap.String("resource", c.name), zap.Error(err))
			errs = multierr.Append(errs, fmt.Errorf("close %s: %w", c.name, err))
			continue
		}
		logger.Debug("released", zap.String("resource", c.name))
	}
	return errs
}

func runBounded(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
