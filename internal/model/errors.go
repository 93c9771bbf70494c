package model

import "errors"

// Common errors used across the application
var (
	// Player errors
	ErrPlayerNotFound   = errors.New("player not found")
	ErrNameTaken        = errors.New("name is already taken")
	ErrUserNotFound     = errors.New("registered user not found")
	ErrUserExists       = errors.New("registered user already exists")
	ErrWrongPassword    = errors.New("incorrect password")
	ErrNotInGame        = errors.New("player is not in a game")
	ErrAlreadyInGame    = errors.New("player is already in a game")
	ErrPermissionDenied = errors.New("permission denied")

	// Game errors
	ErrGameNotFound       = errors.New("game not found")
	ErrGameStarted        = errors.New("game has already started")
	ErrGameNotStarted     = errors.New("game has not started")
	ErrGameEnded          = errors.New("game has ended")
	ErrLevelNotLoaded     = errors.New("scenario has not been uploaded")
	ErrLevelLoaded        = errors.New("scenario has already been uploaded")
	ErrNotHost            = errors.New("player is not the host")
	ErrNotSideOwner       = errors.New("player does not control that side")
	ErrSideOutOfRange     = errors.New("side index out of range")
	ErrObserversForbidden = errors.New("observers are not allowed in this game")
	ErrBannedFromGame     = errors.New("player is banned from this game")
	ErrIncorrectPassword  = errors.New("incorrect game password")
	ErrCannotTargetSelf   = errors.New("cannot target yourself")
	ErrTargetModerator    = errors.New("cannot target a moderator")
	ErrNotObserver        = errors.New("target is not an observer")
	ErrMalformedCommand   = errors.New("malformed command")
	ErrStaleRequest       = errors.New("choice request already served")
	ErrCreationDisabled   = errors.New("game creation is disabled")

	// Ban errors
	ErrBanNotFound     = errors.New("ban not found")
	ErrInvalidDuration = errors.New("invalid ban duration")
	ErrInvalidTarget   = errors.New("invalid ban target")

	// Protocol errors
	ErrFrameTooLarge      = errors.New("frame exceeds maximum size")
	ErrUnsupportedVersion = errors.New("client version not accepted")
	ErrTLSUnavailable     = errors.New("tls requested but not configured")
)

// UserMessage is an error whose text is safe to show to the offending client
// as a private server message.
type UserMessage struct {
	Text string
	Err  error
}

func (e *UserMessage) Error() string {
	return e.Text
}

func (e *UserMessage) Unwrap() error {
	return e.Err
}

// Tell wraps a sentinel with a client-facing explanation
func Tell(err error, text string) error {
	return &UserMessage{Text: text, Err: err}
}
