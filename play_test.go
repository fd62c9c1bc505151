/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/Seednode/plaguecourt/internal/game"
	"github.com/Seednode/plaguecourt/internal/history"
	"github.com/Seednode/plaguecourt/internal/session"
	"github.com/fatih/color"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func testDocument() game.Document {
	return game.Document{
		Host: "aaaa1111",
		Players: []game.Player{
			{ID: "aaaa1111", Name: "Alice"},
			{ID: "bbbb2222", Name: "Bob"},
			{ID: "bbbc3333", Name: "Carol", IsDead: true},
		},
		Bodies: []game.Body{{ID: "dddd4444", PlayerID: "dddd4444"}},
		Phase:  game.PhaseRound,
		Round:  2,
	}
}

func TestParseAction(t *testing.T) {
	doc := testDocument()

	cases := []struct {
		line string
		want any
	}{
		{"ready", &game.ToggleReady{}},
		{"START", &game.StartGame{}},
		{"reset", &game.ResetGame{}},
		{"char Lady Mirela", &game.ChooseCharacter{Character: "Lady Mirela"}},
		{"move 1.5 -2 chapel", &game.Move{Position: game.Position{X: 1.5, Y: -2, Room: "chapel"}}},
		{"move 3 4", &game.Move{Position: game.Position{X: 3, Y: 4}}},
		{"task t-2", &game.CompleteTask{TaskID: "t-2"}},
		{"infect bob", &game.Infect{TargetID: "bbbb2222"}},
		{"stab AAAA", &game.Stab{TargetID: "aaaa1111"}},
		{"clean carol", &game.CleanBody{BodyID: "bbbc3333"}},
		{"clean dddd", &game.CleanBody{BodyID: "dddd4444"}},
	}

	for _, c := range cases {
		t.Run(c.line, func(t *testing.T) {
			got, err := parseAction(strings.Fields(c.line), doc)
			require.NoError(t, err)
			require.Equal(t, c.want, got)
		})
	}
}

func TestParseActionErrors(t *testing.T) {
	doc := testDocument()

	for _, line := range []string{"dance", "task", "move 1", "move x 2", "char"} {
		_, err := parseAction(strings.Fields(line), doc)
		require.ErrorIs(t, err, errUsage, line)
	}

	_, err := parseAction([]string{"stab", "bbb"}, doc)
	require.ErrorIs(t, err, errUnknownPlayer)

	_, err = parseAction([]string{"stab", "zed"}, doc)
	require.ErrorIs(t, err, errUnknownPlayer)
}

func TestDescribe(t *testing.T) {
	doc := testDocument()

	require.Equal(t, "Bob died of tasks",
		describe(game.PlayerDied{PlayerID: "bbbb2222", Cause: game.CauseTasks}, doc, "aaaa1111"))
	require.Empty(t,
		describe(&game.PlayerDied{PlayerID: "aaaa1111", Cause: game.CauseStab}, doc, "aaaa1111"))
	require.Equal(t, "you are commoner (shown as noble), serving Alice",
		describe(game.RoleAssigned{Role: game.RoleCommoner, Displayed: game.RoleNoble, Noble: "aaaa1111"}, doc, "bbbb2222"))
	require.Equal(t, "the plague won after 3 round(s); the plague was Bob",
		describe(game.GameEnded{Winner: game.WinnerPlague, Round: 3, Reveal: map[string]game.Role{"bbbb2222": game.RolePlague}}, doc, ""))
	require.Equal(t, "stab rejected: not allowed",
		describe(&game.ActionRejected{Action: "stab", Reason: "not allowed"}, doc, ""))
	require.Equal(t, "Bob is now hosting",
		describe(session.HostChanged{Host: "bbbb2222"}, doc, ""))
	require.Equal(t, "task t-3 done", describe(game.TaskCompleted{TaskID: "t-3"}, doc, ""))
	require.Empty(t, describe(game.CooldownStarted{}, doc, ""))
}

func TestStatus(t *testing.T) {
	doc := testDocument()
	private := game.RoleAssigned{
		Role:  game.RoleCommoner,
		Tasks: []game.Task{{ID: "t-1", Room: "kitchen", Done: true}, {ID: "t-2", Room: "chapel"}},
	}

	out := status(doc, private, "bbbb2222")

	require.Contains(t, out, "phase round, round 2")
	require.Contains(t, out, "aaaa11 Alice [host]")
	require.Contains(t, out, "bbbb22 Bob [you]")
	require.Contains(t, out, "Carol (dead)")
	require.Contains(t, out, "role commoner")
	require.Contains(t, out, "task t-1 in kitchen: done")
	require.Contains(t, out, "task t-2 in chapel: todo")
}

func TestPrintHistory(t *testing.T) {
	var out bytes.Buffer

	err := printHistory(context.Background(), nil, &out)
	require.ErrorIs(t, err, history.ErrNotConfigured)

	store, err := history.Open(context.Background(), t.TempDir()+"/history.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, printHistory(context.Background(), store, &out))
	require.Equal(t, "no finished games yet\n", out.String())

	out.Reset()
	require.NoError(t, store.Record(context.Background(), history.Result{
		Code: "ABCDE", Winner: game.WinnerNobility, Rounds: 4, Players: 6,
	}))
	require.NoError(t, printHistory(context.Background(), store, &out))
	require.Contains(t, out.String(), "ABCDE  nobility won in 4 round(s) with 6 players")
}
