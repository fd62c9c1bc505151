/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/caarlos0/env/v11"
)

// Rules holds the tunable constants of a game. Every field can be
// overridden from the environment.
type Rules struct {
	MinPlayers int `env:"MIN_PLAYERS" envDefault:"3"`
	MaxPlayers int `env:"MAX_PLAYERS" envDefault:"30"`

	RoundDuration  time.Duration `env:"ROUND_DURATION" envDefault:"2m"`
	WarningLead    time.Duration `env:"WARNING_LEAD" envDefault:"20s"`
	DiscussionBase time.Duration `env:"DISCUSSION_BASE" envDefault:"5s"`
	InfectionDelay time.Duration `env:"INFECTION_DELAY" envDefault:"10s"`

	// GameHours is the in-game clock per round; its length is the number of rounds.
	GameHours             []int `env:"GAME_HOURS" envDefault:"6,7,8,9,10,11,12" envSeparator:","`
	NobleDiscussionRounds int   `env:"NOBLE_DISCUSSION_ROUNDS" envDefault:"3"`

	TasksPerPlayer  int `env:"TASKS_PER_PLAYER" envDefault:"3"`
	SmallLobbyTasks int `env:"SMALL_LOBBY_TASKS" envDefault:"2"`
	SmallLobbySize  int `env:"SMALL_LOBBY_SIZE" envDefault:"5"`
}

// DefaultRules returns the rules with every default applied.
func DefaultRules() Rules {
	var r Rules
	if err := env.ParseWithOptions(&r, env.Options{Environment: map[string]string{}}); err != nil {
		panic("game: invalid rule defaults: " + err.Error())
	}
	return r
}

// LoadRules reads rules from environment variables named prefix+FIELD.
func LoadRules(prefix string) (Rules, error) {
	var r Rules
	if err := env.ParseWithOptions(&r, env.Options{Prefix: prefix}); err != nil {
		return Rules{}, fmt.Errorf("parse env: %w", err)
	}
	if err := r.Validate(); err != nil {
		return Rules{}, err
	}
	return r, nil
}

func (r Rules) Validate() error {
	switch {
	case r.MinPlayers < 1:
		return errors.New("min players must be at least 1")
	case r.MaxPlayers < r.MinPlayers:
		return fmt.Errorf("max players (%d) below min players (%d)", r.MaxPlayers, r.MinPlayers)
	case len(r.GameHours) == 0:
		return errors.New("at least one game hour is required")
	case r.RoundDuration <= 0 || r.DiscussionBase <= 0:
		return errors.New("round and discussion durations must be positive")
	case r.WarningLead < 0 || r.WarningLead >= r.RoundDuration:
		return fmt.Errorf("warning lead %s must be shorter than the round (%s)", r.WarningLead, r.RoundDuration)
	case r.InfectionDelay < 0:
		return errors.New("infection delay must not be negative")
	}
	return nil
}

// Rounds is the number of rounds before the game is forced to end.
func (r Rules) Rounds() int {
	return len(r.GameHours)
}

// NobleCount returns how many nobles a game of n players gets.
func NobleCount(n int) int {
	switch {
	case n >= 26:
		return 5
	case n >= 21:
		return 4
	case n >= 16:
		return 3
	case n >= 4:
		return 2
	case n >= 2:
		return 1
	default:
		return 0
	}
}

// Palette colors noble groups, cycled by group index.
var Palette = []string{"red", "blue", "green", "yellow", "purple", "orange"}

// NewRand returns a generator seeded from crypto/rand.
func NewRand() *rand.Rand {
	var b [16]byte
	if _, err := crand.Read(b[:]); err != nil {
		panic("crypto/rand failure: " + err.Error())
	}
	return rand.New(rand.NewPCG(binary.LittleEndian.Uint64(b[:8]), binary.LittleEndian.Uint64(b[8:])))
}
