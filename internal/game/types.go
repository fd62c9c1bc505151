/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"maps"
	"slices"
	"time"
)

type Role string

const (
	RoleNone     Role = ""
	RolePrince   Role = "prince"
	RoleNoble    Role = "noble"
	RolePlague   Role = "plague"
	RoleCommoner Role = "commoner"
)

type Phase string

const (
	PhaseLobby      Phase = "lobby"
	PhaseRound      Phase = "round"
	PhaseDiscussion Phase = "discussion"
	PhaseEnd        Phase = "end"
)

type Winner string

const (
	WinnerNone     Winner = ""
	WinnerNobility Winner = "nobility"
	WinnerPlague   Winner = "plague"
)

type Cause string

const (
	CauseTasks     Cause = "tasks"
	CauseInfection Cause = "infection"
	CauseStab      Cause = "stab"
)

// DiscussionKind decides who leads a discussion.
type DiscussionKind string

const (
	DiscussionNoble  DiscussionKind = "noble"
	DiscussionPrince DiscussionKind = "prince"
)

type Position struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Room string  `json:"room,omitempty"`
}

type Player struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Ready     bool     `json:"ready"`
	Position  Position `json:"position"`
	Character string   `json:"character,omitempty"`
	IsDead    bool     `json:"isDead"`
	IsGhost   bool     `json:"isGhost"`
}

type NobleGroup struct {
	Noble     string   `json:"noble"`
	Commoners []string `json:"commoners"`
	Color     string   `json:"color"`
}

type Task struct {
	ID       string        `json:"id"`
	Room     string        `json:"room"`
	Duration time.Duration `json:"duration"`
	Done     bool          `json:"done"`
}

type Death struct {
	PlayerID string    `json:"playerId"`
	Cause    Cause     `json:"cause"`
	Round    int       `json:"round"`
	Time     time.Time `json:"time"`
}

// Body is what a death leaves behind until someone cleans it.
type Body struct {
	ID       string   `json:"id"`
	PlayerID string   `json:"playerId"`
	Position Position `json:"position"`
}

// Cooldowns disable the special actions. Both are cleared at the start of
// every round.
type Cooldowns struct {
	Plague bool `json:"plague"`
	Prince bool `json:"prince"`
}

// Document is the canonical game state broadcast by the host. Roles holds
// displayed roles only; the plague carrier appears as noble or commoner
// until Reveal is filled in at the end of the game.
type Document struct {
	Host        string            `json:"host"`
	Players     []Player          `json:"players"`
	Roles       map[string]Role   `json:"roles,omitempty"`
	NobleGroups []NobleGroup      `json:"nobleGroups,omitempty"`
	Deaths      []Death           `json:"deaths,omitempty"`
	Bodies      []Body            `json:"bodies,omitempty"`
	Round       int               `json:"round"`
	Hour        int               `json:"hour,omitempty"`
	Phase       Phase             `json:"phase"`
	Discussion  DiscussionKind    `json:"discussion,omitempty"`
	Cooldowns   Cooldowns         `json:"cooldowns"`
	Deadline    time.Time         `json:"deadline"`
	Winner      Winner            `json:"winner,omitempty"`
	Reveal      map[string]Role   `json:"reveal,omitempty"`
}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	out := d
	out.Players = slices.Clone(d.Players)
	out.Roles = maps.Clone(d.Roles)
	out.Deaths = slices.Clone(d.Deaths)
	out.Bodies = slices.Clone(d.Bodies)
	out.Reveal = maps.Clone(d.Reveal)

	if d.NobleGroups != nil {
		out.NobleGroups = make([]NobleGroup, len(d.NobleGroups))
		for i, g := range d.NobleGroups {
			g.Commoners = slices.Clone(g.Commoners)
			out.NobleGroups[i] = g
		}
	}

	return out
}

// Player returns the roster entry for id.
func (d *Document) Player(id string) (*Player, bool) {
	for i := range d.Players {
		if d.Players[i].ID == id {
			return &d.Players[i], true
		}
	}
	return nil, false
}

// Living returns the IDs of players who are not dead, in roster order.
func (d *Document) Living() []string {
	var ids []string
	for _, p := range d.Players {
		if !p.IsDead {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// GroupOf returns the index of the noble group led by or containing id.
func (d *Document) GroupOf(id string) int {
	for i, g := range d.NobleGroups {
		if g.Noble == id || slices.Contains(g.Commoners, id) {
			return i
		}
	}
	return -1
}
