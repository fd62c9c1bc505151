/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Seednode/plaguecourt/internal/game"
	"github.com/stretchr/testify/require"
)

func TestLoopSerializesCalls(t *testing.T) {
	loop := game.NewLoop()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	counter := 0
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, loop.Do(ctx, func() { counter++ }))
		}()
	}
	wg.Wait()

	require.NoError(t, loop.Do(ctx, func() {}))
	require.Equal(t, 50, counter)

	fired := make(chan struct{})
	loop.AfterFunc(5*time.Millisecond, func() {
		counter++
		close(fired)
	})

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("timer callback never ran")
	}

	cancel()
	require.NoError(t, <-done)
	require.ErrorIs(t, loop.Do(context.Background(), func() {}), game.ErrLoopStopped)
	require.False(t, loop.Post(func() {}))
}

func TestLoopDrivesGame(t *testing.T) {
	loop := game.NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = loop.Run(ctx) }()

	rules := game.DefaultRules()
	rules.RoundDuration = 60 * time.Millisecond
	rules.WarningLead = 20 * time.Millisecond
	rules.DiscussionBase = time.Millisecond
	rules.GameHours = []int{1}

	g := game.New(game.Config{Rules: rules, Host: "a", Scheduler: loop})

	require.NoError(t, loop.Do(ctx, func() {
		for _, id := range []string{"a", "b", "c"} {
			require.NoError(t, g.Join(id, id))
			require.NoError(t, g.ToggleReady(id))
		}
		require.NoError(t, g.Start("a"))
	}))

	require.Eventually(t, func() bool {
		var phase game.Phase
		_ = loop.Do(ctx, func() { phase = g.Phase() })
		return phase == game.PhaseEnd
	}, 5*time.Second, 10*time.Millisecond)
}
