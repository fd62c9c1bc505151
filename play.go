/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/Seednode/plaguecourt/internal/game"
	"github.com/Seednode/plaguecourt/internal/history"
	"github.com/Seednode/plaguecourt/internal/replica"
	"github.com/Seednode/plaguecourt/internal/session"
	"github.com/fatih/color"
	"github.com/skip2/go-qrcode"
	"golang.org/x/sync/errgroup"
)

const rulesPrefix = envPrefix + "_"

var (
	errQuit          = errors.New("quit")
	errUnknownPlayer = errors.New("no such player")
	errUsage         = errors.New("usage")
)

var (
	bold    = color.New(color.Bold).SprintFunc()
	danger  = color.New(color.FgRed, color.Bold).SprintFunc()
	notice  = color.New(color.FgYellow).SprintFunc()
	success = color.New(color.FgGreen).SprintFunc()
	muted   = color.New(color.FgHiBlack).SprintFunc()
)

const helpText = `commands:
  ready                toggle ready in the lobby
  char <name>          choose a character in the lobby
  start                start the game (host)
  reset                return to the lobby after a game (host)
  move <x> <y> [room]  move your character
  task <id>            complete one of your tasks
  infect <player>      infect a player (plague)
  stab <player>        stab a player (prince)
  clean <body>         clean a body
  status               show the game
  history              show recent finished games
  quit                 leave the session`

// Play hosts a new session when no code is configured and joins one
// otherwise, then drives it from the lines read on in.
func Play(ctx context.Context, cfg *Config, in io.Reader, out io.Writer) error {
	rules, err := game.LoadRules(rulesPrefix)
	if err != nil {
		return err
	}

	var store *history.Store
	if cfg.history != "" {
		store, err = history.Open(ctx, cfg.history)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	sc := session.Config{
		RelayURL:  cfg.relayURL,
		Code:      cfg.code,
		Username:  cfg.name,
		Listen:    cfg.listen,
		Advertise: cfg.advertise,
		Rules:     rules,
		Timeout:   cfg.timeout,
		History:   store,
		Logf:      logger(cfg),
	}

	var e *session.Endpoint
	if cfg.code == "" {
		e, err = session.Host(ctx, sc)
	} else {
		e, err = session.Join(ctx, sc)
	}
	if err != nil {
		return err
	}
	defer e.Close()

	logf(cfg, "PLAY: %s is %s in session %s", cfg.name, e.Self(), e.Code())

	printBanner(out, e, cfg.relayURL)

	lines := make(chan string)
	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-e.Done():
				return
			}
		}
	}()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-e.Done():
				return nil
			case m := <-e.Notifications():
				doc, _ := e.Document()
				if text := describe(m, doc, e.Self()); text != "" {
					fmt.Fprintln(out, text)
				}
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return errQuit
				}

				err := command(ctx, e, store, line, out)
				switch {
				case errors.Is(err, errQuit):
					return err
				case err != nil:
					fmt.Fprintln(out, danger(err.Error()))
				}
			}
		}
	})

	err = g.Wait()
	if errors.Is(err, errQuit) {
		return nil
	}
	return err
}

func printBanner(out io.Writer, e *session.Endpoint, relayURL string) {
	role := "joined"
	if e.IsHost() {
		role = "hosting"
	}

	fmt.Fprintf(out, "%s session %s\n", role, bold(e.Code()))

	hint := fmt.Sprintf("plaguecourt play --relay %s --code %s --name <you>", relayURL, e.Code())
	if qr, err := qrcode.New(hint, qrcode.Medium); err == nil {
		fmt.Fprint(out, qr.ToSmallString(false))
	}

	fmt.Fprintln(out, muted(hint))
	fmt.Fprintln(out, muted("type help for commands"))
}

// command runs one line of input.
func command(ctx context.Context, e *session.Endpoint, store *history.Store, line string, out io.Writer) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	doc, _ := e.Document()

	switch strings.ToLower(fields[0]) {
	case "help", "?":
		fmt.Fprintln(out, helpText)
		return nil
	case "quit", "exit":
		return errQuit
	case "status", "doc":
		private, _ := e.Private()
		fmt.Fprint(out, status(doc, private, e.Self()))
		return nil
	case "history":
		return printHistory(ctx, store, out)
	}

	action, err := parseAction(fields, doc)
	if err != nil {
		return err
	}

	return e.Act(ctx, action)
}

// parseAction turns a command into the action it names. Players are
// referenced by name or by a prefix of their ID.
func parseAction(fields []string, doc game.Document) (replica.Message, error) {
	arg := func(n int) (string, error) {
		if len(fields) <= n {
			return "", fmt.Errorf("%w: %s needs %d argument(s)", errUsage, fields[0], n)
		}
		return fields[n], nil
	}

	switch strings.ToLower(fields[0]) {
	case "ready":
		return &game.ToggleReady{}, nil
	case "start":
		return &game.StartGame{}, nil
	case "reset":
		return &game.ResetGame{}, nil
	case "char", "character":
		if _, err := arg(1); err != nil {
			return nil, err
		}
		return &game.ChooseCharacter{Character: strings.Join(fields[1:], " ")}, nil
	case "move":
		if _, err := arg(2); err != nil {
			return nil, err
		}
		x, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad x %q", errUsage, fields[1])
		}
		y, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad y %q", errUsage, fields[2])
		}
		pos := game.Position{X: x, Y: y}
		if len(fields) > 3 {
			pos.Room = fields[3]
		}
		return &game.Move{Position: pos}, nil
	case "task":
		id, err := arg(1)
		if err != nil {
			return nil, err
		}
		return &game.CompleteTask{TaskID: id}, nil
	case "infect", "stab", "clean":
		ref, err := arg(1)
		if err != nil {
			return nil, err
		}
		target, err := resolvePlayer(doc, ref)
		if err != nil {
			return nil, err
		}
		switch strings.ToLower(fields[0]) {
		case "infect":
			return &game.Infect{TargetID: target}, nil
		case "stab":
			return &game.Stab{TargetID: target}, nil
		default:
			return &game.CleanBody{BodyID: target}, nil
		}
	}

	return nil, fmt.Errorf("%w: unknown command %q, try help", errUsage, fields[0])
}

func resolvePlayer(doc game.Document, ref string) (string, error) {
	for _, p := range doc.Players {
		if strings.EqualFold(p.Name, ref) {
			return p.ID, nil
		}
	}

	var matches []string
	for _, p := range doc.Players {
		if strings.HasPrefix(p.ID, strings.ToLower(ref)) {
			matches = append(matches, p.ID)
		}
	}
	for _, b := range doc.Bodies {
		if strings.HasPrefix(b.ID, strings.ToLower(ref)) && !slices.Contains(matches, b.ID) {
			matches = append(matches, b.ID)
		}
	}

	if len(matches) != 1 {
		return "", fmt.Errorf("%w: %q", errUnknownPlayer, ref)
	}
	return matches[0], nil
}

func nameOf(doc game.Document, id string) string {
	if p, ok := doc.Player(id); ok {
		return p.Name
	}
	if len(id) > 6 {
		return id[:6]
	}
	return id
}

// describe renders a notification for the terminal. Messages with nothing
// to show return an empty string.
func describe(m replica.Message, doc game.Document, self string) string {
	switch m := replica.Deref(m).(type) {
	case game.RoleAssigned:
		text := "you are " + bold(string(m.Role))
		if m.Displayed != m.Role {
			text += " (shown as " + string(m.Displayed) + ")"
		}
		if m.Noble != "" {
			text += ", serving " + nameOf(doc, m.Noble)
		}
		return text
	case game.RoundStarted:
		return notice(fmt.Sprintf("round %d: the clock strikes %d, %ds to work", m.Round, m.Hour, m.Seconds))
	case game.CooldownStarted:
		if m.Active {
			return notice(fmt.Sprintf("round %d is ending soon", m.Round))
		}
	case game.DiscussionStarted:
		return notice(fmt.Sprintf("%s discussion for %ds", m.Kind, m.Seconds))
	case game.Died:
		return danger("you died of " + string(m.Cause))
	case game.PlayerDied:
		if m.PlayerID == self {
			return ""
		}
		return danger(fmt.Sprintf("%s died of %s", nameOf(doc, m.PlayerID), m.Cause))
	case game.Promoted:
		return fmt.Sprintf("%s now leads the %s group in place of %s", nameOf(doc, m.PlayerID), m.Color, nameOf(doc, m.Replaces))
	case game.TaskCompleted:
		return muted("task " + m.TaskID + " done")
	case game.BodyRemoved:
		return muted(fmt.Sprintf("%s cleaned the body of %s", nameOf(doc, m.By), nameOf(doc, m.BodyID)))
	case game.GameEnded:
		text := success(fmt.Sprintf("the %s won after %d round(s)", m.Winner, m.Round))
		for id, role := range m.Reveal {
			if role == game.RolePlague {
				text += "; the plague was " + bold(nameOf(doc, id))
			}
		}
		return text
	case game.LobbyReset:
		return "back to the lobby"
	case game.ActionRejected:
		return danger(fmt.Sprintf("%s rejected: %s", m.Action, m.Reason))
	case game.JoinRejected:
		return danger("could not join: " + m.Reason)
	case session.HostChanged:
		return notice(nameOf(doc, m.Host) + " is now hosting")
	}

	return ""
}

func status(doc game.Document, private game.RoleAssigned, self string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "phase %s, round %d", doc.Phase, doc.Round)
	if !doc.Deadline.IsZero() && (doc.Phase == game.PhaseRound || doc.Phase == game.PhaseDiscussion) {
		fmt.Fprintf(&b, ", %s left", time.Until(doc.Deadline).Round(time.Second))
	}
	b.WriteString("\n")

	for _, p := range doc.Players {
		marks := []string{}
		if p.ID == doc.Host {
			marks = append(marks, "host")
		}
		if p.ID == self {
			marks = append(marks, "you")
		}
		if doc.Phase == game.PhaseLobby && p.Ready {
			marks = append(marks, "ready")
		}
		if role, ok := doc.Roles[p.ID]; ok {
			marks = append(marks, string(role))
		}

		name := p.Name
		if p.IsDead {
			name = muted(name + " (dead)")
		}
		fmt.Fprintf(&b, "  %s %s [%s]\n", p.ID[:min(6, len(p.ID))], name, strings.Join(marks, ", "))
	}

	if private.Role != game.RoleNone && doc.Phase != game.PhaseLobby {
		fmt.Fprintf(&b, "role %s\n", bold(string(private.Role)))
	}

	for _, t := range private.Tasks {
		state := "todo"
		if t.Done {
			state = success("done")
		}
		fmt.Fprintf(&b, "  task %s in %s: %s\n", t.ID, t.Room, state)
	}

	for _, body := range doc.Bodies {
		fmt.Fprintf(&b, "  body of %s in %s\n", nameOf(doc, body.PlayerID), body.Position.Room)
	}

	return b.String()
}

func printHistory(ctx context.Context, store *history.Store, out io.Writer) error {
	results, err := store.Recent(ctx, 10)
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Fprintln(out, "no finished games yet")
		return nil
	}

	for _, r := range results {
		fmt.Fprintf(out, "  %s  %s  %s won in %d round(s) with %d players\n",
			r.EndedAt.Local().Format(time.DateTime), r.Code, r.Winner, r.Rounds, r.Players)
	}
	return nil
}
