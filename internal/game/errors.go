package game

import "errors"

// Domain errors, mapped to client-visible rejections at the transport layer.
var (
	// ErrIllegalAction rejects an action submitted in the wrong phase, out of
	// turn, or against a denied attribute. State is never mutated first.
	ErrIllegalAction = errors.New("illegal action")

	// ErrSessionNotJoinable rejects join/create against a full or non-waiting
	// session, or one the identity is already seated in.
	ErrSessionNotJoinable = errors.New("session not joinable")

	// ErrDeckProvision signals that every deck fallback was exhausted.
	ErrDeckProvision = errors.New("deck provisioning failed")
)
