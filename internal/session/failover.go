/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Seednode/plaguecourt/internal/channel"
	"github.com/Seednode/plaguecourt/internal/game"
	"github.com/Seednode/plaguecourt/internal/relay"
)

// successor picks the first roster entry other than the departed host.
func successor(doc game.Document, old string) string {
	for _, p := range doc.Players {
		if p.ID != old {
			return p.ID
		}
	}
	return ""
}

// failover runs on members when the host's channel closes. Every member
// derives the same successor from its last replica.
func (e *Endpoint) failover(old string) {
	doc, ok := e.replica.Replica()
	if !ok {
		e.logf("SESSION: Host %s lost before any document arrived", old)
		return
	}

	next := successor(doc, old)
	e.logf("SESSION: Host %s lost, successor is %s", old, next)

	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.Timeout)
	defer cancel()

	var err error
	if next == e.self {
		err = e.takeOver(ctx, doc, old)
	} else {
		err = e.rejoin(ctx)
	}
	if err != nil {
		e.logf("SESSION: Failover failed: %v", err)
	}
}

// takeOver restores the game from doc with this endpoint as host and
// re-registers the session code.
func (e *Endpoint) takeOver(ctx context.Context, doc game.Document, old string) error {
	g := game.Restore(e.gameConfig(), doc)
	carrier, tasks := e.secrets()

	err := e.loop.Do(ctx, func() {
		if err := g.Rejoin(e.self, carrier, tasks); err != nil {
			e.logf("SESSION: Own secrets rejected: %v", err)
		}
		_ = g.Leave(old)
	})
	if err != nil {
		return err
	}

	e.lead(g)

	err = e.retry(ctx, func() error {
		return e.relay.RegisterHost(ctx, e.Code(), e.self)
	}, relay.ErrCodeCollision, relay.ErrAlreadyRegistered)
	if err != nil {
		return fmt.Errorf("re-register %s: %w", e.Code(), err)
	}

	e.logf("SESSION: Took over session %s", e.Code())
	e.note(HostChanged{Host: e.self})
	e.broadcastSoon()

	time.AfterFunc(e.cfg.Timeout, e.sweep)

	return nil
}

// sweep removes players who never reconnected after a failover.
func (e *Endpoint) sweep() {
	g := e.currentGame()
	if g == nil {
		return
	}

	e.loop.Post(func() {
		connected := e.manager.Peers()
		for _, p := range g.Snapshot().Players {
			if p.ID == e.self || slices.Contains(connected, p.ID) {
				continue
			}
			e.logf("SESSION: %s did not return after failover", p.ID)
			_ = g.Leave(p.ID)
		}
		e.broadcastSoon()
	})
}

// secrets returns what only this endpoint knows about its own role.
func (e *Endpoint) secrets() (bool, []game.Task) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.private == nil {
		return false, nil
	}
	return e.private.Role == game.RolePlague, slices.Clone(e.private.Tasks)
}

// rejoin registers with the successor and hands it the secrets it cannot
// read from the replica: the plague claim and this player's task list.
func (e *Endpoint) rejoin(ctx context.Context) error {
	var host string
	err := e.retry(ctx, func() error {
		h, err := e.relay.RegisterMember(ctx, e.Code(), e.self, e.cfg.Username)
		host = h
		return err
	}, relay.ErrSessionNotFound, relay.ErrAlreadyRegistered)
	if err != nil {
		return fmt.Errorf("rejoin %s: %w", e.Code(), err)
	}

	e.replica.Follow(host)
	e.note(HostChanged{Host: host})

	if err := e.awaitChannel(ctx, host); err != nil {
		return err
	}

	carrier, tasks := e.secrets()

	return e.replica.SendAction(&game.Rejoin{Plague: carrier, Tasks: tasks})
}

func (e *Endpoint) awaitChannel(ctx context.Context, peer string) error {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		if state, ok := e.manager.State(peer); ok && state == channel.Open {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("channel to %s: %w", peer, ctx.Err())
		case <-ticker.C:
		}
	}
}

// retry calls fn until it succeeds, fails with an error not listed in
// retryable, or ctx ends.
func (e *Endpoint) retry(ctx context.Context, fn func() error, retryable ...error) error {
	for {
		err := fn()
		if err == nil {
			return nil
		}

		if !slices.ContainsFunc(retryable, func(target error) bool { return errors.Is(err, target) }) {
			return err
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ctx.Err(), err)
		case <-time.After(retryInterval):
		}
	}
}
