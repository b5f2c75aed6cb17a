package engine

import (
	"errors"

	"github.com/vietddude/deadletter/internal/infra/storage"
)

var (
	// ErrMessageNotFound is returned when no message has the given id
	ErrMessageNotFound = storage.ErrMessageNotFound

	// ErrInvalidMessage is returned by AddMessage for malformed input
	ErrInvalidMessage = errors.New("invalid message")

	// ErrStrategyNotFound is returned when a named strategy is not registered
	ErrStrategyNotFound = errors.New("strategy not found")

	// ErrNoApplicableStrategy is returned when no strategy matches the message
	ErrNoApplicableStrategy = errors.New("no applicable strategy")

	// ErrTerminal is returned when acting on a resolved or abandoned message
	ErrTerminal = errors.New("message is in a terminal state")

	// ErrAttemptInFlight is returned when another attempt holds the message
	ErrAttemptInFlight = errors.New("recovery attempt in flight")

	// errNotClaimable aborts a claim that lost to another transition
	errNotClaimable = errors.New("message not claimable")

	// errNotDue aborts a claim submitted before the scheduled time
	errNotDue = errors.New("message not due")

	// errLeaseLost aborts finalizing an attempt whose lease was taken over
	errLeaseLost = errors.New("lease lost")
)
