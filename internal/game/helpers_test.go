/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game_test

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/Seednode/plaguecourt/internal/game"
	"github.com/Seednode/plaguecourt/internal/replica"
	"github.com/stretchr/testify/require"
)

type fakeTimer struct {
	at      time.Time
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// fakeClock is a manual clock and scheduler. Timers fire in deadline order,
// ties in scheduling order.
type fakeClock struct {
	now    time.Time
	seq    int
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 18, 20, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) game.Timer {
	c.seq++
	t := &fakeTimer{at: c.now.Add(d), seq: c.seq, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) next() *fakeTimer {
	var next *fakeTimer
	for _, t := range c.timers {
		if t.stopped || t.fired {
			continue
		}
		if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.seq < next.seq) {
			next = t
		}
	}
	return next
}

func (c *fakeClock) fireNext() bool {
	t := c.next()
	if t == nil {
		return false
	}
	c.now = t.at
	t.fired = true
	t.fn()
	return true
}

func (c *fakeClock) advance(d time.Duration) {
	deadline := c.now.Add(d)
	for {
		t := c.next()
		if t == nil || t.at.After(deadline) {
			break
		}
		c.fireNext()
	}
	c.now = deadline
}

type delivery struct {
	to string
	m  replica.Message
}

type recorder struct {
	broadcasts []replica.Message
	direct     []delivery
}

func (r *recorder) Broadcast(m replica.Message) {
	r.broadcasts = append(r.broadcasts, m)
}

func (r *recorder) SendTo(peer string, m replica.Message) {
	r.direct = append(r.direct, delivery{to: peer, m: m})
}

func (r *recorder) count(typ string) int {
	n := 0
	for _, m := range r.broadcasts {
		if m.MessageType() == typ {
			n++
		}
	}
	return n
}

func (r *recorder) last(typ string) replica.Message {
	for i := len(r.broadcasts) - 1; i >= 0; i-- {
		if r.broadcasts[i].MessageType() == typ {
			return r.broadcasts[i]
		}
	}
	return nil
}

func (r *recorder) privateTo(id, typ string) []replica.Message {
	var out []replica.Message
	for _, d := range r.direct {
		if d.to == id && d.m.MessageType() == typ {
			out = append(out, d.m)
		}
	}
	return out
}

type fixture struct {
	g     *game.Game
	clock *fakeClock
	rec   *recorder
	ids   []string
}

func newFixture(t *testing.T, n int, seed uint64, rules game.Rules) *fixture {
	t.Helper()

	f := &fixture{clock: newFakeClock(), rec: &recorder{}}
	f.g = game.New(game.Config{
		Rules:     rules,
		Host:      "p1",
		Rand:      rand.New(rand.NewPCG(seed, seed^0x5eed)),
		Scheduler: f.clock,
		Notifier:  f.rec,
		Now:       f.clock.Now,
	})

	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("p%d", i)
		f.ids = append(f.ids, id)
		require.NoError(t, f.g.Join(id, "player "+id))
		require.NoError(t, f.g.ToggleReady(id))
	}
	return f
}

func startedFixture(t *testing.T, n int, seed uint64) *fixture {
	t.Helper()

	f := newFixture(t, n, seed, game.DefaultRules())
	require.NoError(t, f.g.Start("p1"))
	return f
}

func (f *fixture) roleHolder(role game.Role) string {
	doc := f.g.Snapshot()
	for _, id := range f.ids {
		if doc.Roles[id] == role {
			return id
		}
	}
	return ""
}

// worker returns a living player that is neither prince nor carrier.
func (f *fixture) worker(exclude ...string) string {
	doc := f.g.Snapshot()
	for _, p := range doc.Players {
		if p.IsDead || p.ID == f.g.Plague() || doc.Roles[p.ID] == game.RolePrince {
			continue
		}
		skip := false
		for _, e := range exclude {
			skip = skip || e == p.ID
		}
		if !skip {
			return p.ID
		}
	}
	return ""
}

func (f *fixture) completeAllTasks(t *testing.T) {
	t.Helper()

	doc := f.g.Snapshot()
	for _, p := range doc.Players {
		if p.IsDead {
			continue
		}
		for _, task := range f.g.Tasks(p.ID) {
			require.NoError(t, f.g.CompleteTask(p.ID, task.ID))
		}
	}
}
