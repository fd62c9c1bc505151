/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package game is the host-authoritative state machine: roster, roles,
// noble groups, tasks, round and discussion phases, deaths and win
// conditions. A Game is not safe for concurrent use; Loop serializes
// access to it.
package game

import (
	"maps"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/Seednode/plaguecourt/internal/replica"
)

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// Scheduler runs f after d. Callbacks must be serialized with every other
// call into the Game.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Notifier delivers the game's outbound messages.
type Notifier interface {
	Broadcast(m replica.Message)
	SendTo(peer string, m replica.Message)
}

type nopNotifier struct{}

func (nopNotifier) Broadcast(replica.Message)      {}
func (nopNotifier) SendTo(string, replica.Message) {}

// Characters are handed out in join order until a player picks another.
var Characters = []string{"knight", "maiden", "friar", "jester", "smith", "bard", "herald", "falconer"}

type Config struct {
	Rules     Rules
	Host      string
	Rand      *rand.Rand
	Scheduler Scheduler
	Notifier  Notifier
	Now       func() time.Time
	Logf      func(format string, args ...any)
}

type Game struct {
	cfg Config

	doc    Document
	plague string
	// tasks never leaves the host except in each player's RoleAssigned.
	tasks map[string][]Task

	timers []Timer
	epoch  uint64
}

func New(cfg Config) *Game {
	if cfg.Rand == nil {
		cfg.Rand = NewRand()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = nopNotifier{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if len(cfg.Rules.GameHours) == 0 {
		cfg.Rules = DefaultRules()
	}

	return &Game{
		cfg: cfg,
		doc: Document{
			Host:    cfg.Host,
			Players: []Player{},
			Phase:   PhaseLobby,
		},
		tasks: make(map[string][]Task),
	}
}

// Restore rebuilds a game from a replicated document, resuming the current
// phase with whatever time its deadline has left. The plague carrier and
// every task list stay unknown until their players send Rejoin.
func Restore(cfg Config, doc Document) *Game {
	g := New(cfg)
	g.doc = doc.Clone()
	g.doc.Host = cfg.Host
	if g.doc.Phase == "" {
		g.doc.Phase = PhaseLobby
	}
	if g.doc.Players == nil {
		g.doc.Players = []Player{}
	}

	remaining := max(g.doc.Deadline.Sub(g.cfg.Now()), 0)

	switch g.doc.Phase {
	case PhaseRound:
		if lead := g.cfg.Rules.WarningLead; remaining > lead {
			g.schedule(remaining-lead, g.roundWarning)
		} else {
			g.doc.Cooldowns = Cooldowns{Plague: true, Prince: true}
		}
		g.schedule(remaining, g.roundEnd)
	case PhaseDiscussion:
		g.schedule(remaining, g.discussionEnd)
	}

	g.logf("GAMES: Restored %s phase of round %d with %s left", g.doc.Phase, g.doc.Round, remaining.Round(time.Second))

	return g
}

func (g *Game) logf(format string, args ...any) {
	if g.cfg.Logf != nil {
		g.cfg.Logf(format, args...)
	}
}

// Snapshot returns a deep copy of the canonical document.
func (g *Game) Snapshot() Document {
	return g.doc.Clone()
}

func (g *Game) Phase() Phase {
	return g.doc.Phase
}

func (g *Game) Host() string {
	return g.doc.Host
}

func (g *Game) SetHost(id string) {
	g.doc.Host = id
}

// Plague returns the carrier's ID, or "" when unknown.
func (g *Game) Plague() string {
	return g.plague
}

func (g *Game) trueRole(id string) Role {
	if id != "" && id == g.plague {
		return RolePlague
	}
	return g.doc.Roles[id]
}

// Tasks returns a copy of id's task list.
func (g *Game) Tasks(id string) []Task {
	return slices.Clone(g.tasks[id])
}

// Private is the secret view of the game for id.
func (g *Game) Private(id string) RoleAssigned {
	msg := RoleAssigned{
		Role:      g.trueRole(id),
		Displayed: g.doc.Roles[id],
		Tasks:     g.Tasks(id),
	}
	if gi := g.doc.GroupOf(id); gi >= 0 {
		msg.GroupColor = g.doc.NobleGroups[gi].Color
		msg.Noble = g.doc.NobleGroups[gi].Noble
	}
	return msg
}

func (g *Game) schedule(d time.Duration, fn func()) {
	epoch := g.epoch
	t := g.cfg.Scheduler.AfterFunc(d, func() {
		if g.epoch != epoch {
			return
		}
		fn()
	})
	g.timers = append(g.timers, t)
}

// enterPhase cancels every timer of the phase being left.
func (g *Game) enterPhase(p Phase) {
	g.StopTimers()
	g.doc.Phase = p
}

// StopTimers cancels all pending timers.
func (g *Game) StopTimers() {
	for _, t := range g.timers {
		t.Stop()
	}
	g.timers = nil
	g.epoch++
}

func (g *Game) inGame() bool {
	return g.doc.Phase == PhaseRound || g.doc.Phase == PhaseDiscussion
}

func (g *Game) living(id string) (*Player, error) {
	p, ok := g.doc.Player(id)
	if !ok {
		return nil, ErrUnknownPlayer
	}
	if p.IsDead {
		return nil, ErrPlayerIsDead
	}
	return p, nil
}

// Join adds a player to the lobby. A player already on the roster is
// accepted again in any phase.
func (g *Game) Join(id, name string) error {
	if _, ok := g.doc.Player(id); ok {
		return nil
	}
	if g.doc.Phase != PhaseLobby {
		return ErrAlreadyStarted
	}
	if len(g.doc.Players) >= g.cfg.Rules.MaxPlayers {
		return ErrGameFull
	}

	g.doc.Players = append(g.doc.Players, Player{
		ID:        id,
		Name:      name,
		Character: Characters[len(g.doc.Players)%len(Characters)],
	})

	g.logf("GAMES: Player %q (%s) joined", name, id)

	return nil
}

// Leave removes a player from the roster in any phase.
func (g *Game) Leave(id string) error {
	idx := slices.IndexFunc(g.doc.Players, func(p Player) bool { return p.ID == id })
	if idx < 0 {
		return ErrUnknownPlayer
	}

	p := g.doc.Players[idx]
	g.doc.Players = slices.Delete(g.doc.Players, idx, idx+1)

	g.logf("GAMES: Player %q (%s) left", p.Name, id)

	if !g.inGame() {
		delete(g.doc.Roles, id)
		delete(g.tasks, id)
		return nil
	}

	if g.doc.Roles[id] == RoleNoble {
		g.promote(id)
	}
	for i := range g.doc.NobleGroups {
		grp := &g.doc.NobleGroups[i]
		grp.Commoners = slices.DeleteFunc(grp.Commoners, func(c string) bool { return c == id })
	}
	delete(g.doc.Roles, id)
	delete(g.tasks, id)

	if id == g.plague {
		g.plague = ""
		g.endGame(WinnerNobility)
		return nil
	}

	if w, over := g.CheckGameEnd(); over {
		g.endGame(w)
	}
	return nil
}

func (g *Game) ToggleReady(id string) error {
	if g.doc.Phase != PhaseLobby {
		return ErrWrongPhase
	}
	p, ok := g.doc.Player(id)
	if !ok {
		return ErrUnknownPlayer
	}
	p.Ready = !p.Ready
	return nil
}

func (g *Game) ChooseCharacter(id, character string) error {
	if g.doc.Phase != PhaseLobby {
		return ErrWrongPhase
	}
	if character == "" || len(character) > 32 {
		return ErrNotAllowed
	}
	p, ok := g.doc.Player(id)
	if !ok {
		return ErrUnknownPlayer
	}
	p.Character = character
	return nil
}

// Move updates a player's position. Ghosts keep moving.
func (g *Game) Move(id string, pos Position) error {
	p, ok := g.doc.Player(id)
	if !ok {
		return ErrUnknownPlayer
	}
	p.Position = pos
	return nil
}

// Start deals roles, groups and tasks and begins the first round.
func (g *Game) Start(by string) error {
	if by != g.doc.Host {
		return ErrNotAllowed
	}
	if g.doc.Phase != PhaseLobby {
		return ErrAlreadyStarted
	}
	if len(g.doc.Players) < g.cfg.Rules.MinPlayers {
		return ErrTooFewPlayers
	}
	for _, p := range g.doc.Players {
		if !p.Ready {
			return ErrNotAllReady
		}
	}

	roster := make([]string, 0, len(g.doc.Players))
	for _, p := range g.doc.Players {
		roster = append(roster, p.ID)
	}

	a := AssignRoles(roster, g.cfg.Rand)
	g.plague = a.Plague
	g.doc.Roles = a.Roles
	g.doc.NobleGroups = FormGroups(a.Nobles, a.Commoners, Palette)
	g.tasks = AssignTasks(roster, a, g.cfg.Rules.TaskCount(len(roster)), g.cfg.Rand)
	g.doc.Deaths = nil
	g.doc.Bodies = nil
	g.doc.Round = 0
	g.doc.Winner = WinnerNone
	g.doc.Reveal = nil

	g.logf("GAMES: Started with %d players, %d nobles", len(roster), len(a.Nobles))

	for _, id := range roster {
		g.cfg.Notifier.SendTo(id, g.Private(id))
	}

	g.beginRound()
	return nil
}

func (g *Game) hour() int {
	hours := g.cfg.Rules.GameHours
	return hours[min(g.doc.Round, len(hours))-1]
}

func (g *Game) beginRound() {
	g.enterPhase(PhaseRound)

	rules := g.cfg.Rules
	g.doc.Round++
	g.doc.Hour = g.hour()
	g.doc.Discussion = ""
	g.doc.Cooldowns = Cooldowns{}
	g.doc.Deadline = g.cfg.Now().Add(rules.RoundDuration)

	for _, tasks := range g.tasks {
		for i := range tasks {
			tasks[i].Done = false
		}
	}

	g.schedule(rules.RoundDuration-rules.WarningLead, g.roundWarning)
	g.schedule(rules.RoundDuration, g.roundEnd)

	g.logf("GAMES: Round %d started (hour %d)", g.doc.Round, g.doc.Hour)

	g.cfg.Notifier.Broadcast(RoundStarted{
		Round:   g.doc.Round,
		Hour:    g.doc.Hour,
		Seconds: int64(rules.RoundDuration / time.Second),
	})
}

func (g *Game) roundWarning() {
	g.doc.Cooldowns = Cooldowns{Plague: true, Prince: true}
	g.cfg.Notifier.Broadcast(CooldownStarted{Active: true, Round: g.doc.Round})
}

// roundEnd kills every worker with unfinished tasks, then opens discussion.
func (g *Game) roundEnd() {
	for _, p := range slices.Clone(g.doc.Players) {
		if g.doc.Phase != PhaseRound {
			return
		}

		role := g.trueRole(p.ID)
		if role == RolePrince || role == RolePlague {
			continue
		}
		if cur, ok := g.doc.Player(p.ID); !ok || cur.IsDead {
			continue
		}

		unfinished := slices.ContainsFunc(g.tasks[p.ID], func(t Task) bool { return !t.Done })
		if unfinished {
			g.kill(p.ID, CauseTasks)
		}
	}

	if g.doc.Phase == PhaseRound {
		g.beginDiscussion()
	}
}

func (g *Game) beginDiscussion() {
	g.enterPhase(PhaseDiscussion)

	kind := DiscussionPrince
	if g.doc.Round <= g.cfg.Rules.NobleDiscussionRounds {
		kind = DiscussionNoble
	}
	d := time.Duration(g.doc.Hour) * g.cfg.Rules.DiscussionBase

	g.doc.Discussion = kind
	g.doc.Deadline = g.cfg.Now().Add(d)

	g.schedule(d, g.discussionEnd)

	g.logf("GAMES: Discussion %d (%s) for %s", g.doc.Round, kind, d)

	g.cfg.Notifier.Broadcast(DiscussionStarted{
		Round:   g.doc.Round,
		Kind:    kind,
		Seconds: int64(d / time.Second),
	})
}

func (g *Game) discussionEnd() {
	if g.doc.Round >= g.cfg.Rules.Rounds() {
		g.endGame(WinnerNobility)
		return
	}
	g.beginRound()
}

func (g *Game) targetFor(by, target string) error {
	if target == by {
		return ErrNotAllowed
	}
	_, err := g.living(target)
	return err
}

// Infect marks target to die after the infection delay. Only the plague
// carrier may infect, once per round and not during the cooldown.
func (g *Game) Infect(by, target string) error {
	if g.doc.Phase != PhaseRound {
		return ErrWrongPhase
	}
	if _, err := g.living(by); err != nil {
		return err
	}
	if g.plague == "" || by != g.plague {
		return ErrNotAllowed
	}
	if g.doc.Cooldowns.Plague {
		return ErrOnCooldown
	}
	if err := g.targetFor(by, target); err != nil {
		return err
	}

	g.doc.Cooldowns.Plague = true
	g.schedule(g.cfg.Rules.InfectionDelay, func() {
		if g.doc.Phase == PhaseRound {
			g.kill(target, CauseInfection)
		}
	})

	g.logf("GAMES: %s infected %s", by, target)

	return nil
}

// Stab kills target at once. Stabbing the plague carrier wins the game for
// the nobility.
func (g *Game) Stab(by, target string) error {
	if g.doc.Phase != PhaseRound {
		return ErrWrongPhase
	}
	if _, err := g.living(by); err != nil {
		return err
	}
	if g.trueRole(by) != RolePrince {
		return ErrNotAllowed
	}
	if g.doc.Cooldowns.Prince {
		return ErrOnCooldown
	}
	if err := g.targetFor(by, target); err != nil {
		return err
	}

	g.doc.Cooldowns.Prince = true
	carrier := target == g.plague

	g.logf("GAMES: %s stabbed %s", by, target)

	g.kill(target, CauseStab)

	if carrier && g.doc.Phase != PhaseEnd {
		g.endGame(WinnerNobility)
	}
	return nil
}

func (g *Game) kill(id string, cause Cause) {
	p, ok := g.doc.Player(id)
	if !ok || p.IsDead {
		return
	}

	p.IsDead = true
	p.IsGhost = true

	g.doc.Deaths = append(g.doc.Deaths, Death{
		PlayerID: id,
		Cause:    cause,
		Round:    g.doc.Round,
		Time:     g.cfg.Now(),
	})
	g.doc.Bodies = append(g.doc.Bodies, Body{
		ID:       id,
		PlayerID: id,
		Position: p.Position,
	})

	g.logf("GAMES: %s died (%s)", id, cause)

	g.cfg.Notifier.SendTo(id, Died{Cause: cause})
	g.cfg.Notifier.Broadcast(PlayerDied{PlayerID: id, Cause: cause})

	if g.doc.Roles[id] == RoleNoble {
		g.promote(id)
	}

	if w, over := g.CheckGameEnd(); over {
		g.endGame(w)
	}
}

// promote replaces a lost noble with a random living commoner of its
// group. A group with nobody left to promote is dissolved.
func (g *Game) promote(noble string) {
	gi := slices.IndexFunc(g.doc.NobleGroups, func(grp NobleGroup) bool { return grp.Noble == noble })
	if gi < 0 {
		return
	}
	grp := &g.doc.NobleGroups[gi]

	var candidates []string
	for _, c := range grp.Commoners {
		if p, ok := g.doc.Player(c); ok && !p.IsDead {
			candidates = append(candidates, c)
		}
	}

	if len(candidates) == 0 {
		g.doc.NobleGroups = slices.Delete(g.doc.NobleGroups, gi, gi+1)
		return
	}

	heir := candidates[g.cfg.Rand.IntN(len(candidates))]
	grp.Noble = heir
	grp.Commoners = slices.DeleteFunc(slices.Clone(grp.Commoners), func(c string) bool { return c == heir })
	g.doc.Roles[heir] = RoleNoble

	g.logf("GAMES: %s promoted to replace %s", heir, noble)

	g.cfg.Notifier.Broadcast(Promoted{PlayerID: heir, Replaces: noble, Color: grp.Color})
	g.cfg.Notifier.SendTo(heir, g.Private(heir))
}

// CheckGameEnd evaluates the win conditions. The plague wins once the
// living are down to two with the prince among them, or when the prince is
// dead; the nobility wins when the carrier is dead.
func (g *Game) CheckGameEnd() (Winner, bool) {
	if !g.inGame() {
		return WinnerNone, false
	}

	living, princes, carrierAlive := 0, 0, false
	for _, p := range g.doc.Players {
		if p.IsDead {
			continue
		}
		living++
		if g.trueRole(p.ID) == RolePrince {
			princes++
		}
		if p.ID == g.plague {
			carrierAlive = true
		}
	}

	known := g.plague != ""

	switch {
	case known && !carrierAlive:
		return WinnerNobility, true
	case princes == 0:
		return WinnerPlague, true
	case known && living <= 2 && princes == 1:
		return WinnerPlague, true
	}
	return WinnerNone, false
}

func (g *Game) endGame(w Winner) {
	g.enterPhase(PhaseEnd)

	reveal := maps.Clone(g.doc.Roles)
	if reveal == nil {
		reveal = make(map[string]Role)
	}
	if g.plague != "" {
		reveal[g.plague] = RolePlague
	}

	g.doc.Winner = w
	g.doc.Reveal = reveal
	g.doc.Discussion = ""
	g.doc.Deadline = time.Time{}

	g.logf("GAMES: Game over after round %d, %s wins", g.doc.Round, w)

	g.cfg.Notifier.Broadcast(GameEnded{
		Winner:  w,
		Round:   g.doc.Round,
		Players: len(g.doc.Players),
		Reveal:  maps.Clone(reveal),
	})
}

// Reset returns an ended game to the lobby.
func (g *Game) Reset(by string) error {
	if by != g.doc.Host {
		return ErrNotAllowed
	}
	if g.doc.Phase != PhaseEnd {
		return ErrWrongPhase
	}

	g.enterPhase(PhaseLobby)

	g.plague = ""
	g.doc.Roles = nil
	g.doc.NobleGroups = nil
	g.tasks = make(map[string][]Task)
	g.doc.Deaths = nil
	g.doc.Bodies = nil
	g.doc.Round = 0
	g.doc.Hour = 0
	g.doc.Discussion = ""
	g.doc.Cooldowns = Cooldowns{}
	g.doc.Deadline = time.Time{}
	g.doc.Winner = WinnerNone
	g.doc.Reveal = nil

	for i := range g.doc.Players {
		g.doc.Players[i].Ready = false
		g.doc.Players[i].IsDead = false
		g.doc.Players[i].IsGhost = false
	}

	g.cfg.Notifier.Broadcast(LobbyReset{})
	return nil
}

func (g *Game) CompleteTask(id, taskID string) error {
	if g.doc.Phase != PhaseRound {
		return ErrWrongPhase
	}
	if _, err := g.living(id); err != nil {
		return err
	}

	tasks := g.tasks[id]
	i := slices.IndexFunc(tasks, func(t Task) bool { return t.ID == taskID })
	if i < 0 {
		return ErrUnknownTask
	}
	tasks[i].Done = true

	g.cfg.Notifier.SendTo(id, TaskCompleted{TaskID: taskID})
	return nil
}

func (g *Game) CleanBody(by, bodyID string) error {
	if g.doc.Phase != PhaseRound {
		return ErrWrongPhase
	}
	if _, err := g.living(by); err != nil {
		return err
	}

	i := slices.IndexFunc(g.doc.Bodies, func(b Body) bool { return b.ID == bodyID })
	if i < 0 {
		return ErrUnknownBody
	}
	g.doc.Bodies = slices.Delete(g.doc.Bodies, i, i+1)

	g.cfg.Notifier.Broadcast(BodyRemoved{BodyID: bodyID, By: by})
	return nil
}

// Rejoin hands a new host the secrets it cannot read from the replicated
// document after failover: the carrier claims the plague and workers return
// their task lists. Claims count only from living players during a game.
func (g *Game) Rejoin(id string, plague bool, tasks []Task) error {
	p, ok := g.doc.Player(id)
	if !ok {
		return ErrUnknownPlayer
	}
	if !g.inGame() || p.IsDead {
		return nil
	}

	if plague {
		return g.claimPlague(id, tasks)
	}
	return g.claimTasks(id, tasks)
}

// claimPlague accepts one carrier, displayed as noble or commoner, who has
// no tasks.
func (g *Game) claimPlague(id string, tasks []Task) error {
	if g.plague == id {
		return nil
	}
	if g.plague != "" || len(tasks) > 0 || len(g.tasks[id]) > 0 {
		return ErrNotAllowed
	}
	if role := g.doc.Roles[id]; role != RoleNoble && role != RoleCommoner {
		return ErrNotAllowed
	}

	g.plague = id
	g.tasks[id] = []Task{}
	g.logf("GAMES: Recovered plague carrier after failover")
	return nil
}

// claimTasks accepts the first task list a worker returns. Rooms and
// durations always come from the catalog.
func (g *Game) claimTasks(id string, tasks []Task) error {
	if len(tasks) == 0 || id == g.plague {
		return nil
	}
	if g.doc.Roles[id] == RolePrince {
		return ErrNotAllowed
	}
	if _, known := g.tasks[id]; known {
		return nil
	}

	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		c, ok := TaskByID(t.ID)
		if !ok || slices.ContainsFunc(out, func(o Task) bool { return o.ID == c.ID }) {
			return ErrUnknownTask
		}
		c.Done = t.Done
		out = append(out, c)
	}
	g.tasks[id] = out
	return nil
}

// Apply dispatches one action received from a player. Both pointer and
// value variants are accepted.
func (g *Game) Apply(from string, m replica.Message) error {
	switch a := replica.Deref(m).(type) {
	case ToggleReady:
		return g.ToggleReady(from)
	case ChooseCharacter:
		return g.ChooseCharacter(from, a.Character)
	case Move:
		return g.Move(from, a.Position)
	case StartGame:
		return g.Start(from)
	case ResetGame:
		return g.Reset(from)
	case CompleteTask:
		return g.CompleteTask(from, a.TaskID)
	case Infect:
		return g.Infect(from, a.TargetID)
	case Stab:
		return g.Stab(from, a.TargetID)
	case CleanBody:
		return g.CleanBody(from, a.BodyID)
	case Rejoin:
		return g.Rejoin(from, a.Plague, a.Tasks)
	default:
		return ErrUnknownAction
	}
}
