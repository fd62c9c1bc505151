/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package identity generates session-local peer identifiers and
// human-shareable session codes.
package identity

import (
	"crypto/rand"
	"encoding/base32"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

const (
	// SessionCodeLength is the length of generated session codes.
	SessionCodeLength = 5

	// SessionCodeChars excludes characters that are easily confused when read aloud.
	SessionCodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

var peerEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewPeerID returns a random version 4 UUID encoded as 26 lowercase base32 characters.
func NewPeerID() string {
	u := uuid.New()
	return strings.ToLower(peerEncoding.EncodeToString(u[:]))
}

// NewSessionCode returns a random session code. It does not check for collisions.
func NewSessionCode() string {
	code := make([]byte, SessionCodeLength)
	limit := big.NewInt(int64(len(SessionCodeChars)))
	for i := range code {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		code[i] = SessionCodeChars[n.Int64()]
	}
	return string(code)
}

// UniqueSessionCode generates codes until exists reports one as free.
func UniqueSessionCode(exists func(code string) bool) string {
	for {
		code := NewSessionCode()
		if !exists(code) {
			return code
		}
	}
}

// ValidSessionCode reports whether code could have been produced by NewSessionCode.
func ValidSessionCode(code string) bool {
	if len(code) != SessionCodeLength {
		return false
	}
	for _, r := range code {
		if !strings.ContainsRune(SessionCodeChars, r) {
			return false
		}
	}
	return true
}
