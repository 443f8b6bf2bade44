package order

import "errors"

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrFinalState        = errors.New("order already in a final state")
	ErrActorNotAllowed   = errors.New("actor is not allowed to request this transition")
)
