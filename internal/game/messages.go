/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import "github.com/Seednode/plaguecourt/internal/replica"

// Actions, sent by members to the host.

type ToggleReady struct{}

type ChooseCharacter struct {
	Character string `json:"character"`
}

type Move struct {
	Position Position `json:"position"`
}

type StartGame struct{}

type ResetGame struct{}

type CompleteTask struct {
	TaskID string `json:"taskId"`
}

type Infect struct {
	TargetID string `json:"targetId"`
}

type Stab struct {
	TargetID string `json:"targetId"`
}

type CleanBody struct {
	BodyID string `json:"bodyId"`
}

// Rejoin is sent to a newly elected host so it can recover secret state
// that never appears in the document.
type Rejoin struct {
	Plague bool   `json:"plague"`
	Tasks  []Task `json:"tasks,omitempty"`
}

func (ToggleReady) MessageType() string     { return "toggle-ready" }
func (ChooseCharacter) MessageType() string { return "choose-character" }
func (Move) MessageType() string            { return "move" }
func (StartGame) MessageType() string       { return "start-game" }
func (ResetGame) MessageType() string       { return "reset-game" }
func (CompleteTask) MessageType() string    { return "complete-task" }
func (Infect) MessageType() string          { return "infect" }
func (Stab) MessageType() string            { return "stab" }
func (CleanBody) MessageType() string       { return "clean-body" }
func (Rejoin) MessageType() string          { return "rejoin" }

// Notifications, sent by the host.

// RoleAssigned is private to its recipient.
type RoleAssigned struct {
	Role       Role   `json:"role"`
	Displayed  Role   `json:"displayed"`
	Tasks      []Task `json:"tasks"`
	GroupColor string `json:"groupColor,omitempty"`
	Noble      string `json:"noble,omitempty"`
}

type RoundStarted struct {
	Round   int   `json:"round"`
	Hour    int   `json:"hour"`
	Seconds int64 `json:"seconds"`
}

type CooldownStarted struct {
	Active bool `json:"active"`
	Round  int  `json:"round"`
}

type DiscussionStarted struct {
	Round   int            `json:"round"`
	Kind    DiscussionKind `json:"kind"`
	Seconds int64          `json:"seconds"`
}

// Died is private to the victim.
type Died struct {
	Cause Cause `json:"cause"`
}

type PlayerDied struct {
	PlayerID string `json:"playerId"`
	Cause    Cause  `json:"cause"`
}

type Promoted struct {
	PlayerID string `json:"playerId"`
	Replaces string `json:"replaces"`
	Color    string `json:"color"`
}

type BodyRemoved struct {
	BodyID string `json:"bodyId"`
	By     string `json:"by"`
}

type GameEnded struct {
	Winner  Winner          `json:"winner"`
	Round   int             `json:"round"`
	Players int             `json:"players"`
	Reveal  map[string]Role `json:"reveal"`
}

type LobbyReset struct{}

// TaskCompleted is private to the worker whose task it was.
type TaskCompleted struct {
	TaskID string `json:"taskId"`
}

// ActionRejected goes to the sender of a rejected action only.
type ActionRejected struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

type JoinRejected struct {
	Reason string `json:"reason"`
}

func (RoleAssigned) MessageType() string      { return "role-assigned" }
func (RoundStarted) MessageType() string      { return "round-started" }
func (CooldownStarted) MessageType() string   { return "cooldown" }
func (DiscussionStarted) MessageType() string { return "discussion-started" }
func (Died) MessageType() string              { return "died" }
func (PlayerDied) MessageType() string        { return "player-died" }
func (Promoted) MessageType() string          { return "promoted" }
func (BodyRemoved) MessageType() string       { return "body-removed" }
func (GameEnded) MessageType() string         { return "game-ended" }
func (LobbyReset) MessageType() string        { return "lobby-reset" }
func (TaskCompleted) MessageType() string     { return "task-completed" }
func (ActionRejected) MessageType() string    { return "action-rejected" }
func (JoinRejected) MessageType() string      { return "join-rejected" }

// RegisterMessages adds every game message variant to codec.
func RegisterMessages(codec *replica.Codec) {
	codec.Register(
		func() replica.Message { return &ToggleReady{} },
		func() replica.Message { return &ChooseCharacter{} },
		func() replica.Message { return &Move{} },
		func() replica.Message { return &StartGame{} },
		func() replica.Message { return &ResetGame{} },
		func() replica.Message { return &CompleteTask{} },
		func() replica.Message { return &Infect{} },
		func() replica.Message { return &Stab{} },
		func() replica.Message { return &CleanBody{} },
		func() replica.Message { return &Rejoin{} },
		func() replica.Message { return &RoleAssigned{} },
		func() replica.Message { return &RoundStarted{} },
		func() replica.Message { return &CooldownStarted{} },
		func() replica.Message { return &DiscussionStarted{} },
		func() replica.Message { return &Died{} },
		func() replica.Message { return &PlayerDied{} },
		func() replica.Message { return &Promoted{} },
		func() replica.Message { return &BodyRemoved{} },
		func() replica.Message { return &GameEnded{} },
		func() replica.Message { return &LobbyReset{} },
		func() replica.Message { return &TaskCompleted{} },
		func() replica.Message { return &ActionRejected{} },
		func() replica.Message { return &JoinRejected{} },
	)
}
