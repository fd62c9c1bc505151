/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package relay

import (
	"encoding/json"
	"errors"
)

// Message types exchanged between endpoints and the relay.
const (
	TypeRegisterHost = "register-host"
	TypeRegisterPeer = "register-peer"
	TypeRegistered   = "registered"
	TypeError        = "error"
	TypeSignal       = "signal"
	TypeNewPeer      = "new-peer"
	TypePeerLeft     = "peer-left"
	TypeSessionEnded = "session-ended"
)

// Reasons carried by error messages.
const (
	ReasonCodeCollision     = "code collision"
	ReasonSessionNotFound   = "session not found"
	ReasonAlreadyRegistered = "peer already registered"
	ReasonBadRequest        = "bad request"
)

var (
	ErrCodeCollision     = errors.New(ReasonCodeCollision)
	ErrSessionNotFound   = errors.New(ReasonSessionNotFound)
	ErrAlreadyRegistered = errors.New(ReasonAlreadyRegistered)
	ErrBadRequest        = errors.New(ReasonBadRequest)
	ErrClosed            = errors.New("relay connection closed")
)

// Message is the single envelope used on the relay socket in both directions.
// Which fields are set depends on Type.
type Message struct {
	Type       string          `json:"type"`
	Code       string          `json:"code,omitempty"`       // register-host, register-peer, registered, session-ended
	PeerID     string          `json:"peerId,omitempty"`     // register-*, registered, new-peer, peer-left
	Username   string          `json:"username,omitempty"`   // register-peer, new-peer
	HostPeerID string          `json:"hostPeerId,omitempty"` // registered
	From       string          `json:"from,omitempty"`       // signal
	To         string          `json:"to,omitempty"`         // signal
	Payload    json.RawMessage `json:"payload,omitempty"`    // signal, never inspected
	Reason     string          `json:"reason,omitempty"`     // error
}

func errorMessage(reason string) Message {
	return Message{Type: TypeError, Reason: reason}
}

// reasonError maps an error reason back to its sentinel.
func reasonError(reason string) error {
	switch reason {
	case ReasonCodeCollision:
		return ErrCodeCollision
	case ReasonSessionNotFound:
		return ErrSessionNotFound
	case ReasonAlreadyRegistered:
		return ErrAlreadyRegistered
	case ReasonBadRequest:
		return ErrBadRequest
	default:
		return errors.New(reason)
	}
}
