/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"context"
	"time"
)

// Loop runs posted functions one at a time on a single goroutine. It is
// also a Scheduler whose callbacks are posted back into the loop, so game
// timers never race with actions.
type Loop struct {
	events chan func()
	done   chan struct{}
}

func NewLoop() *Loop {
	return &Loop{
		events: make(chan func(), 64),
		done:   make(chan struct{}),
	}
}

// Run processes events until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-l.events:
			fn()
		}
	}
}

// Post queues fn without waiting for it. It reports false once the loop has
// stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.events <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})

	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrLoopStopped
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, func() { l.Post(f) })
}
