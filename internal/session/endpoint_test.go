/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package session_test

import (
	"context"
	"math/rand/v2"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/Seednode/plaguecourt/internal/game"
	"github.com/Seednode/plaguecourt/internal/relay"
	"github.com/Seednode/plaguecourt/internal/replica"
	"github.com/Seednode/plaguecourt/internal/session"
	"github.com/stretchr/testify/require"
)

const wait = 10 * time.Second

func startRelay(t *testing.T) string {
	t.Helper()

	srv := httptest.NewServer(relay.NewServer(relay.Config{}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func config(url, name, code string) session.Config {
	return session.Config{
		RelayURL:  url,
		Code:      code,
		Username:  name,
		Listen:    "127.0.0.1:0",
		Advertise: []string{"127.0.0.1"},
		Timeout:   5 * time.Second,
		Period:    50 * time.Millisecond,
	}
}

func host(t *testing.T, url, name string, rules game.Rules) *session.Endpoint {
	t.Helper()

	cfg := config(url, name, "")
	cfg.Rules = rules

	e, err := session.Host(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func join(t *testing.T, url, name, code string) *session.Endpoint {
	t.Helper()

	return joinWith(t, url, name, code, game.DefaultRules())
}

func joinWith(t *testing.T, url, name, code string, rules game.Rules) *session.Endpoint {
	t.Helper()

	cfg := config(url, name, code)
	cfg.Rules = rules

	e, err := session.Join(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func players(e *session.Endpoint) int {
	doc, ok := e.Document()
	if !ok {
		return 0
	}
	return len(doc.Players)
}

// awaitNote drains e's notifications until one of type typ arrives.
func awaitNote(t *testing.T, e *session.Endpoint, typ string) replica.Message {
	t.Helper()

	deadline := time.After(wait)
	for {
		select {
		case m := <-e.Notifications():
			if m.MessageType() == typ {
				return m
			}
		case <-deadline:
			t.Fatalf("no %s notification", typ)
			return nil
		}
	}
}

func TestHostAndMembersShareDocument(t *testing.T) {
	url := startRelay(t)
	ctx := context.Background()

	alice := host(t, url, "alice", game.DefaultRules())
	require.True(t, alice.IsHost())
	require.Len(t, alice.Code(), 5)

	bob := join(t, url, "bob", alice.Code())
	carol := join(t, url, "carol", strings.ToLower(alice.Code()))
	require.False(t, bob.IsHost())

	all := []*session.Endpoint{alice, bob, carol}
	for _, e := range all {
		require.Eventually(t, func() bool { return players(e) == 3 }, wait, 20*time.Millisecond)
	}

	doc, _ := bob.Document()
	require.Equal(t, alice.Self(), doc.Host)
	require.Equal(t, "alice", doc.Players[0].Name)

	for _, e := range all {
		require.NoError(t, e.Act(ctx, &game.ToggleReady{}))
	}
	require.Eventually(t, func() bool {
		doc, _ := alice.Document()
		for _, p := range doc.Players {
			if !p.Ready {
				return false
			}
		}
		return true
	}, wait, 20*time.Millisecond)

	require.NoError(t, bob.Act(ctx, &game.StartGame{}))
	rejected := awaitNote(t, bob, "action-rejected").(game.ActionRejected)
	require.Equal(t, "start-game", rejected.Action)

	require.NoError(t, alice.Act(ctx, &game.StartGame{}))

	princes, carriers := 0, 0
	for _, e := range all {
		awaitNote(t, e, "role-assigned")
		private, ok := e.Private()
		require.True(t, ok)

		switch private.Role {
		case game.RolePrince:
			princes++
		case game.RolePlague:
			carriers++
		}
	}
	require.Equal(t, 1, princes)
	require.Equal(t, 1, carriers)

	require.Eventually(t, func() bool {
		doc, ok := carol.Document()
		return ok && doc.Phase == game.PhaseRound
	}, wait, 20*time.Millisecond)

	doc, _ = carol.Document()
	for _, role := range doc.Roles {
		require.NotEqual(t, game.RolePlague, role)
	}
	require.Empty(t, doc.Reveal)
}

func TestJoinRejectedWhenFull(t *testing.T) {
	url := startRelay(t)

	rules := game.DefaultRules()
	rules.MinPlayers = 1
	rules.MaxPlayers = 1

	alice := host(t, url, "alice", rules)
	bob := join(t, url, "bob", alice.Code())

	msg := awaitNote(t, bob, "join-rejected").(game.JoinRejected)
	require.Equal(t, game.ErrGameFull.Error(), msg.Reason)
	require.Equal(t, 1, players(alice))
}

func TestJoinValidatesCode(t *testing.T) {
	_, err := session.Join(context.Background(), config("ws://127.0.0.1:1/relay", "bob", ""))
	require.ErrorIs(t, err, session.ErrCodeRequired)

	_, err = session.Join(context.Background(), config("ws://127.0.0.1:1/relay", "bob", "I0O1!"))
	require.ErrorIs(t, err, session.ErrInvalidCode)

	url := startRelay(t)
	_, err = session.Join(context.Background(), config(url, "bob", "ZZZZZ"))
	require.ErrorIs(t, err, relay.ErrSessionNotFound)
}

func TestFailoverElectsFirstMember(t *testing.T) {
	url := startRelay(t)

	alice := host(t, url, "alice", game.DefaultRules())

	bob := join(t, url, "bob", alice.Code())
	require.Eventually(t, func() bool { return players(alice) == 2 }, wait, 20*time.Millisecond)

	carol := join(t, url, "carol", alice.Code())
	for _, e := range []*session.Endpoint{bob, carol} {
		require.Eventually(t, func() bool { return players(e) == 3 }, wait, 20*time.Millisecond)
	}

	require.NoError(t, alice.Close())

	require.Eventually(t, bob.IsHost, wait, 20*time.Millisecond)
	changed := awaitNote(t, carol, "host-changed").(session.HostChanged)
	require.Equal(t, bob.Self(), changed.Host)

	require.Eventually(t, func() bool {
		doc, ok := carol.Document()
		return ok && doc.Host == bob.Self() && len(doc.Players) == 2
	}, wait, 20*time.Millisecond)

	doc, _ := bob.Document()
	require.Equal(t, []string{"bob", "carol"}, []string{doc.Players[0].Name, doc.Players[1].Name})
	require.Equal(t, game.PhaseLobby, doc.Phase)
}

func ids(doc game.Document) []string {
	out := make([]string, 0, len(doc.Players))
	for _, p := range doc.Players {
		out = append(out, p.ID)
	}
	return out
}

// seedAwayFrom finds a seed whose role layout for n players keeps the
// prince and the carrier out of the given roster positions.
func seedAwayFrom(n int, positions ...int) uint64 {
	roster := make([]string, n)
	for i := range roster {
		roster[i] = string(rune('a' + i))
	}

	for seed := uint64(0); ; seed++ {
		a := game.AssignRoles(roster, rand.New(rand.NewPCG(seed, seed)))
		away := true
		for _, i := range positions {
			away = away && roster[i] != a.Prince && roster[i] != a.Plague
		}
		if away {
			return seed
		}
	}
}

func TestFailoverMidGame(t *testing.T) {
	url := startRelay(t)
	ctx := context.Background()

	rules := game.DefaultRules()
	rules.InfectionDelay = 200 * time.Millisecond

	seed := seedAwayFrom(5, 0, 1)
	cfg := config(url, "alice", "")
	cfg.Rules = rules
	cfg.Rand = rand.New(rand.NewPCG(seed, seed))

	alice, err := session.Host(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = alice.Close() })

	all := []*session.Endpoint{alice}
	for _, name := range []string{"bob", "carol", "dave", "erin"} {
		e := joinWith(t, url, name, alice.Code(), rules)
		all = append(all, e)
		require.Eventually(t, func() bool { return players(alice) == len(all) }, wait, 20*time.Millisecond)
	}
	bob, carol := all[1], all[2]

	for _, e := range all {
		require.Eventually(t, func() bool { return players(e) == 5 }, wait, 20*time.Millisecond)
		require.NoError(t, e.Act(ctx, &game.ToggleReady{}))
	}
	require.Eventually(t, func() bool {
		doc, _ := alice.Document()
		return !slices.ContainsFunc(doc.Players, func(p game.Player) bool { return !p.Ready })
	}, wait, 20*time.Millisecond)

	require.NoError(t, alice.Act(ctx, &game.StartGame{}))
	for _, e := range all {
		awaitNote(t, e, "role-assigned")
	}
	require.Eventually(t, func() bool {
		doc, ok := carol.Document()
		return ok && doc.Phase == game.PhaseRound
	}, wait, 20*time.Millisecond)

	before, _ := carol.Document()
	require.Equal(t, 1, before.Round)

	require.NoError(t, alice.Close())

	require.Eventually(t, bob.IsHost, wait, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		doc, ok := carol.Document()
		return ok && doc.Host == bob.Self() && len(doc.Players) == 4
	}, wait, 20*time.Millisecond)

	after, _ := carol.Document()
	require.Equal(t, game.PhaseRound, after.Phase)
	require.Equal(t, before.Round, after.Round)
	require.Equal(t, ids(before)[1:], ids(after))

	var carrier *session.Endpoint
	target := ""
	for _, e := range all[1:] {
		private, ok := e.Private()
		require.True(t, ok)

		switch private.Role {
		case game.RolePlague:
			carrier = e
		case game.RoleNoble, game.RoleCommoner:
			if target == "" {
				target = e.Self()
			}
		}
	}
	require.NotNil(t, carrier)
	require.NotEqual(t, bob, carrier)
	require.NotEmpty(t, target)

	require.Eventually(t, func() bool {
		if err := carrier.Act(ctx, &game.Infect{TargetID: target}); err != nil {
			return false
		}
		doc, ok := bob.Document()
		return ok && doc.Cooldowns.Plague
	}, wait, 100*time.Millisecond)

	require.Eventually(t, func() bool {
		doc, ok := carol.Document()
		if !ok {
			return false
		}
		p, found := doc.Player(target)
		return found && p.IsDead
	}, wait, 20*time.Millisecond)
}
