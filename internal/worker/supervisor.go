package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Logger is the minimal structured logging surface the supervisor needs.
type Logger interface {
	Info(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Debug(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
}

// Supervisor runs a set of named workers and tracks their health.
// A failed worker does not terminate its siblings; the health tracker
// reports the failure so the orchestrator can restart the process.
type Supervisor struct {
	workers         map[string]Worker
	health          *HealthTracker
	logger          Logger
	shutdownTimeout time.Duration
}

type SupervisorOption func(*Supervisor)

// WithShutdownTimeout bounds how long Run waits for workers after the
// context is cancelled. Zero waits indefinitely.
func WithShutdownTimeout(timeout time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		s.shutdownTimeout = timeout
	}
}

func NewSupervisor(logger Logger, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		workers: make(map[string]Worker),
		health:  NewHealthTracker(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a worker. Panics on duplicate names; registration happens
// once at startup and a duplicate is a programming error.
func (s *Supervisor) Register(w Worker) {
	if _, exists := s.workers[w.Name()]; exists {
		panic(fmt.Sprintf("worker %s already registered", w.Name()))
	}
	s.workers[w.Name()] = w
	s.logger.Debug("worker registered", zap.String("worker", w.Name()))
}

func (s *Supervisor) Health() *HealthTracker {
	return s.health
}

// Run starts every registered worker and blocks until either all workers
// exit or the context is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	if len(s.workers) == 0 {
		s.logger.Warn("no workers registered")
		return nil
	}

	s.logger.Info("starting workers", zap.Int("count", len(s.workers)))

	var wg sync.WaitGroup
	for name, w := range s.workers {
		wg.Add(1)
		go func(name string, w Worker) {
			defer wg.Done()
			s.logger.Info("worker starting", zap.String("worker", name))
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("worker failed", zap.String("worker", name), zap.Error(err))
				s.health.MarkFailed(name)
			} else {
				s.logger.Info("worker stopped", zap.String("worker", name))
				s.health.MarkHealthy(name)
			}
		}(name, w)
	}

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down workers")
		if s.shutdownTimeout > 0 {
			return s.waitWithTimeout(&wg, s.shutdownTimeout)
		}
		wg.Wait()
		return nil
	case <-waitChan(&wg):
		s.logger.Warn("all workers have exited")
		return nil
	}
}

func (s *Supervisor) waitWithTimeout(wg *sync.WaitGroup, timeout time.Duration) error {
	select {
	case <-waitChan(wg):
		return nil
	case <-time.After(timeout):
		s.logger.Warn("shutdown timeout exceeded", zap.Duration("timeout", timeout))
		return fmt.Errorf("shutdown timeout exceeded (%v)", timeout)
	}
}

func waitChan(wg *sync.WaitGroup) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}
