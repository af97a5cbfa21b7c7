package domain

import "errors"

var (
	// Lookup / storage.
	ErrNotFound = errors.New("not found")
	ErrLockHeld = errors.New("lock already held")

	// Input validation at create/vote time.
	ErrValidation    = errors.New("validation failed")
	ErrInvalidAmount = errors.New("invalid amount")

	// Lifecycle state machine.
	ErrInvalidState       = errors.New("invalid state for operation")
	ErrMatchFull          = errors.New("match is full")
	ErrAlreadyJoined      = errors.New("player already joined")
	ErrNotJoined          = errors.New("player has not joined")
	ErrPredictionLocked   = errors.New("prediction already locked")
	ErrPredictionClosed   = errors.New("prediction window closed")
	ErrVotingEnded        = errors.New("voting period ended")
	ErrVotingNotEnded     = errors.New("voting period not ended")
	ErrResolutionNotReady = errors.New("resolution time not reached")
	ErrUnauthorized       = errors.New("unauthorized")

	// Settlement / claims.
	ErrNoWinnings     = errors.New("no winnings to claim")
	ErrAlreadyClaimed = errors.New("already claimed")

	// Oracle.
	ErrStalePrice        = errors.New("price feed is stale")
	ErrPriceUnavailable  = errors.New("price unavailable")
	ErrConfidenceTooWide = errors.New("confidence interval too wide")

	// Checked arithmetic.
	ErrOverflow = errors.New("arithmetic overflow")
)
