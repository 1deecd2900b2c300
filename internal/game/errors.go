package game

import (
	"errors"
	"fmt"

	"github.com/neevan0842/chess-arena/internal/position"
)

// Code tags the closed set of failure variants the session engine can
// return. Position-engine failures keep their own types and are surfaced
// unchanged; everything else is an *Error.
type Code string

const (
	CodeNotFound       Code = "not_found"
	CodeConflict       Code = "conflict"
	CodeForbidden      Code = "forbidden"
	CodeInfrastructure Code = "infrastructure"
)

type Error struct {
	Code   Code
	GameID string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.GameID != "" {
		msg = fmt.Sprintf("%s (game %s)", msg, e.GameID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func notFound(gameID string) *Error {
	return &Error{Code: CodeNotFound, GameID: gameID, Reason: "game not found"}
}

func conflict(gameID, reason string) *Error {
	return &Error{Code: CodeConflict, GameID: gameID, Reason: reason}
}

func forbidden(gameID, reason string) *Error {
	return &Error{Code: CodeForbidden, GameID: gameID, Reason: reason}
}

func infrastructure(gameID, reason string, err error) *Error {
	return &Error{Code: CodeInfrastructure, GameID: gameID, Reason: reason, Err: err}
}

// WrapInfrastructure tags a dependency failure raised outside this
// package so it maps to the same variant on the wire.
func WrapInfrastructure(gameID, reason string, err error) *Error {
	return infrastructure(gameID, reason, err)
}

// CodeOf extracts the variant tag from any engine error, including the
// position engine's notation failures.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

func IsNotFound(err error) bool  { c, ok := CodeOf(err); return ok && c == CodeNotFound }
func IsConflict(err error) bool  { c, ok := CodeOf(err); return ok && c == CodeConflict }
func IsForbidden(err error) bool { c, ok := CodeOf(err); return ok && c == CodeForbidden }

func IsInvalidNotation(err error) bool {
	var e *position.NotationError
	return errors.As(err, &e)
}

func IsIllegalMove(err error) bool {
	var e *position.IllegalMoveError
	return errors.As(err, &e)
}
