// Package supervisor runs the client's long-lived goroutines (connection
// loop, config watcher, signal consumers) under one cancelable context.
// Panics are recovered, failures can restart with backoff, and each task's
// state is visible through Tasks.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"maintwatch/pkg/logx"
)

// TaskInfo describes one supervised goroutine.
type TaskInfo struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	StartedAt time.Time `json:"started_at"`
	Restarts  int       `json:"restarts,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	cancelOnErr bool

	mu    sync.Mutex
	err   error
	tasks map[string]*TaskInfo

	wg       sync.WaitGroup
	waitOnce sync.Once
	done     chan struct{}
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the supervisor context on the first recorded
// error.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, tasks: map[string]*TaskInfo{}, done: make(chan struct{})}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first recorded failure.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Tasks returns a snapshot sorted by name.
func (s *Supervisor) Tasks() []TaskInfo {
	s.mu.Lock()
	out := make([]TaskInfo, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b TaskInfo) int { return strings.Compare(a.Name, b.Name) })
	return out
}

func (s *Supervisor) update(name string, fn func(t *TaskInfo)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	if !ok {
		t = &TaskInfo{Name: name}
		s.tasks[name] = t
	}
	fn(t)
}

func (s *Supervisor) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	if s.cancelOnErr {
		s.cancel()
	}
}

// spawn starts body as a tracked goroutine.
func (s *Supervisor) spawn(name string, body func(ctx context.Context)) {
	s.update(name, func(t *TaskInfo) {
		t.Running = true
		t.StartedAt = time.Now()
	})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.update(name, func(t *TaskInfo) { t.Running = false })
		s.log.Debug("task started", logx.String("task", name))
		body(s.ctx)
		s.log.Debug("task stopped", logx.String("task", name))
	}()
}

// Go runs fn once. A panic or an error other than context.Canceled is
// recorded as the supervisor error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.spawn(name, func(ctx context.Context) {
		if err := s.call(ctx, name, fn); err != nil && !errors.Is(err, context.Canceled) {
			s.fail(fmt.Errorf("%s: %w", name, err))
		}
	})
}

// Loop runs fn once; fn is expected to return when ctx ends.
func (s *Supervisor) Loop(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// call invokes fn, turning a panic into an error and noting it on the task.
func (s *Supervisor) call(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task panicked", logx.String("task", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic in %s: %v", name, r)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			msg := err.Error()
			s.update(name, func(t *TaskInfo) { t.LastError = msg })
		}
	}()
	return fn(ctx)
}

type RestartOption func(*restartPolicy)

type restartPolicy struct {
	min, max    time.Duration
	maxRestarts int // <=0 means unlimited
	fatal       bool
	// stableAfter resets the backoff when a run lasted at least this long.
	stableAfter time.Duration
}

// WithRestartBackoff bounds the exponential delay between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.min = min
		}
		if max > 0 {
			p.max = max
		}
	}
}

// WithMaxRestarts limits restarts; the first run is not counted.
func WithMaxRestarts(n int) RestartOption { return func(p *restartPolicy) { p.maxRestarts = n } }

// WithFatalOnGiveUp records the last error as the supervisor error once
// restarts are exhausted.
func WithFatalOnGiveUp(enabled bool) RestartOption {
	return func(p *restartPolicy) { p.fatal = enabled }
}

// GoRestart runs fn and restarts it after an error or panic, waiting a
// jittered exponential backoff. A nil return or cancellation ends it.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	p := restartPolicy{min: 250 * time.Millisecond, max: 30 * time.Second, stableAfter: 30 * time.Second}
	for _, o := range opts {
		o(&p)
	}
	p.max = max(p.max, p.min)

	s.spawn(name, func(ctx context.Context) {
		delay := p.min
		for restarts := 0; ; restarts++ {
			began := time.Now()
			err := s.call(ctx, name, fn)
			if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if p.maxRestarts > 0 && restarts >= p.maxRestarts {
				s.log.Error("task gave up", logx.String("task", name), logx.Int("restarts", restarts), logx.Err(err))
				if p.fatal {
					s.fail(fmt.Errorf("%s: %w", name, err))
				}
				return
			}
			if time.Since(began) >= p.stableAfter {
				delay = p.min
			}

			wait := delay + time.Duration(rand.Int64N(int64(delay)/5+1))
			s.log.Warn("task restarting", logx.String("task", name), logx.Duration("backoff", wait), logx.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			delay = min(delay*2, p.max)
			s.update(name, func(t *TaskInfo) { t.Restarts++ })
		}
	})
}

func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every task has returned or ctx ends.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.waitOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}
