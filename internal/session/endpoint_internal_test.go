/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package session

import (
	"context"
	"testing"
	"time"

	"github.com/Seednode/plaguecourt/internal/channel"
	"github.com/Seednode/plaguecourt/internal/game"
	"github.com/Seednode/plaguecourt/internal/history"
	"github.com/Seednode/plaguecourt/internal/replica"
	"github.com/stretchr/testify/require"
)

// idleTransport has no open channels.
type idleTransport struct{}

func (idleTransport) Send(string, []byte) error { return channel.ErrChannelNotOpen }
func (idleTransport) Peers() []string           { return nil }

func TestGameEndingDuringTakeOverIsRecorded(t *testing.T) {
	store, err := history.Open(context.Background(), t.TempDir()+"/history.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	e := &Endpoint{
		cfg:     Config{History: store, Rules: game.DefaultRules()},
		self:    "next",
		code:    "ABCDE",
		loop:    game.NewLoop(),
		notes:   make(chan replica.Message, noteBuffer),
		names:   make(map[string]string),
		replica: replica.New(replica.Config[game.Document]{Transport: idleTransport{}}),
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	t.Cleanup(e.cancel)
	go func() { _ = e.loop.Run(e.ctx) }()

	doc := game.Document{
		Host: "old",
		Players: []game.Player{
			{ID: "old", Name: "old"},
			{ID: "next", Name: "next"},
			{ID: "p3", Name: "p3"},
		},
		Roles: map[string]game.Role{
			"old":  game.RolePrince,
			"next": game.RoleNoble,
			"p3":   game.RoleCommoner,
		},
		NobleGroups: []game.NobleGroup{{Noble: "next", Commoners: []string{"p3"}}},
		Phase:       game.PhaseRound,
		Round:       1,
		Hour:        8,
		Deadline:    time.Now().Add(time.Minute),
	}

	g := game.Restore(e.gameConfig(), doc)
	t.Cleanup(func() { e.loop.Post(g.StopTimers) })

	require.Nil(t, e.currentGame())
	require.NotPanics(t, func() { require.NoError(t, g.Leave("old")) })
	require.Equal(t, game.PhaseEnd, g.Phase())

	var results []history.Result
	require.Eventually(t, func() bool {
		results, err = store.Recent(context.Background(), 10)
		return err == nil && len(results) == 1
	}, 5*time.Second, 20*time.Millisecond)

	require.Equal(t, "ABCDE", results[0].Code)
	require.Equal(t, game.WinnerPlague, results[0].Winner)
	require.Equal(t, 1, results[0].Rounds)
	require.Equal(t, 2, results[0].Players)
}
