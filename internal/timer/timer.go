// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Cinder Contributors

// Package timer schedules repeating callbacks advanced by the poll loop.
// Nothing here owns a goroutine: timers only fire inside Scheduler.Update.
package timer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/cinderhost/cinder/pkg/errutil"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Callback is run each time a timer fires.
type Callback func(ctx context.Context) error

// Timer fires its callback every delay, either forever (iterations 0) or a
// fixed number of times.
type Timer struct {
	id        ulid.ULID
	owner     string
	delay     time.Duration
	infinite  bool
	remaining int
	next      time.Time
	cb        Callback
	finished  bool
	sched     *Scheduler
}

// ID returns the timer's unique identifier.
func (t *Timer) ID() string { return t.id.String() }

// Owner returns the plugin that created the timer.
func (t *Timer) Owner() string { return t.owner }

// Delay returns the interval between firings.
func (t *Timer) Delay() time.Duration { return t.delay }

// Remaining returns the number of firings left, or 0 for infinite timers.
func (t *Timer) Remaining() int { return t.remaining }

// Finished reports whether the timer will never fire again.
func (t *Timer) Finished() bool { return t.finished }

// Destroy cancels the timer. Further calls have no effect.
func (t *Timer) Destroy() {
	if t.finished {
		return
	}
	t.finished = true
	t.sched.retire(t)
}

// update fires the timer if it is due at now. The next firing is scheduled
// relative to now, so a late tick fires once rather than catching up.
func (t *Timer) update(ctx context.Context, now time.Time) {
	if t.finished || now.Before(t.next) {
		return
	}
	t.next = now.Add(t.delay)
	if !t.infinite {
		t.remaining--
		if t.remaining <= 0 {
			t.Destroy()
		}
	}
	t.sched.fire(ctx, t)
}

// Scheduler holds the active timers.
//
// A Scheduler is not safe for concurrent use; it belongs to the poll loop.
type Scheduler struct {
	clock   Clock
	logger  *slog.Logger
	active  []*Timer
	retired int
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock, for tests.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithLogger sets the logger callback failures are reported to.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// NewScheduler creates an empty scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		clock:  systemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create adds a timer owned by owner that first fires delay from now.
// iterations 0 repeats until destroyed.
func (s *Scheduler) Create(owner string, delay time.Duration, iterations int, cb Callback) (*Timer, error) {
	if iterations < 0 {
		return nil, oops.In("timer").Code("INVALID_TIMER").
			With("owner", owner).With("iterations", iterations).
			Errorf("iterations must not be negative")
	}
	if delay < 0 {
		return nil, oops.In("timer").Code("INVALID_TIMER").
			With("owner", owner).With("delay", delay.String()).
			Errorf("delay must not be negative")
	}
	if cb == nil {
		return nil, oops.In("timer").Code("INVALID_TIMER").With("owner", owner).Errorf("callback is required")
	}

	t := &Timer{
		id:        ulid.Make(),
		owner:     owner,
		delay:     delay,
		infinite:  iterations == 0,
		remaining: iterations,
		next:      s.clock.Now().Add(delay),
		cb:        cb,
		sched:     s,
	}
	s.active = append(s.active, t)
	TimersActive.Inc()
	return t, nil
}

// Update fires every due timer once. Timers created by callbacks during
// Update are first considered on the next call.
func (s *Scheduler) Update(ctx context.Context) {
	now := s.clock.Now()
	current := append([]*Timer(nil), s.active...)
	for _, t := range current {
		t.update(ctx, now)
	}
	s.compact()
}

// Len returns the number of timers that have not finished.
func (s *Scheduler) Len() int {
	return len(s.active) - s.retired
}

// Timers returns the timers that have not finished, in creation order.
func (s *Scheduler) Timers() []*Timer {
	out := make([]*Timer, 0, s.Len())
	for _, t := range s.active {
		if !t.finished {
			out = append(out, t)
		}
	}
	return out
}

// DestroyOwner cancels every timer created by owner and returns how many
// were cancelled.
func (s *Scheduler) DestroyOwner(owner string) int {
	n := 0
	for _, t := range s.active {
		if t.owner == owner && !t.finished {
			t.Destroy()
			n++
		}
	}
	s.compact()
	return n
}

// Clear cancels every timer.
func (s *Scheduler) Clear() {
	for _, t := range s.active {
		t.Destroy()
	}
	s.compact()
}

func (s *Scheduler) retire(*Timer) {
	s.retired++
	TimersActive.Dec()
}

func (s *Scheduler) compact() {
	if s.retired == 0 {
		return
	}
	kept := s.active[:0]
	for _, t := range s.active {
		if !t.finished {
			kept = append(kept, t)
		}
	}
	for i := len(kept); i < len(s.active); i++ {
		s.active[i] = nil
	}
	s.active = kept
	s.retired = 0
}

// fire runs the callback of t; errors and panics are logged with the owner.
func (s *Scheduler) fire(ctx context.Context, t *Timer) {
	err := safeCall(ctx, t.cb)
	if err != nil {
		Fires.WithLabelValues(StatusError).Inc()
		err = oops.In("timer").With("owner", t.owner).With("timer", t.ID()).Wrap(err)
		errutil.LogError(s.logger.With("plugin", t.owner), "timer callback failed", err)
		return
	}
	Fires.WithLabelValues(StatusSuccess).Inc()
}

func safeCall(ctx context.Context, cb Callback) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("timer callback panicked: %v", r)
		}
	}()
	return cb(ctx)
}
