// Package domain contains entities without transport logic, just data and
// the small invariants that belong to them.
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxRoomIDLen   = 128
	MaxUsernameLen = 36
)

var (
	ErrRoomIDEmpty     = errors.New("room id empty")
	ErrRoomIDTooLong   = errors.New("room id too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUsernameTooLong = errors.New("username too long")
)

// ClientID identifies one signaling connection. It is assigned by the
// server and never reused.
type ClientID string

func NewClientID() ClientID {
	return ClientID(uuid.NewString())
}

// ValidateUsername applies the display-name limits used by the peer client.
func ValidateUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	return nil
}
