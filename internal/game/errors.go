/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import "errors"

var (
	ErrGameFull       = errors.New("game full")
	ErrAlreadyStarted = errors.New("game already started")
	ErrNotAllReady    = errors.New("not all players are ready")
	ErrTooFewPlayers  = errors.New("too few players")

	ErrWrongPhase    = errors.New("not allowed in this phase")
	ErrNotAllowed    = errors.New("action not allowed for this player")
	ErrOnCooldown    = errors.New("action on cooldown")
	ErrUnknownPlayer = errors.New("unknown player")
	ErrUnknownTask   = errors.New("unknown task")
	ErrUnknownBody   = errors.New("unknown body")
	ErrUnknownAction = errors.New("unknown action")
	ErrPlayerIsDead  = errors.New("player is dead")
	ErrLoopStopped   = errors.New("game loop stopped")
)
