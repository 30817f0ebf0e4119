package services

import "errors"

// Error taxonomy shared by the messaging services. Callers wrap these with
// fmt.Errorf("...: %w", Err...) and handlers map them with errors.Is.
var (
	// ErrValidation malformed input; nothing was mutated.
	ErrValidation = errors.New("validation error")
	// ErrNotFound unknown session, message, agent, conversation or campaign.
	ErrNotFound = errors.New("not found")
	// ErrCapacity no eligible agent, or the target agent is at capacity.
	ErrCapacity = errors.New("no agent available")
	// ErrDelivery a single outbound send failed.
	ErrDelivery = errors.New("delivery failure")
	// ErrConfiguration a trigger or setting could not be used as configured.
	ErrConfiguration = errors.New("configuration error")
	// ErrInvalidState an operation is not allowed from the record's current status.
	ErrInvalidState = errors.New("invalid state transition")
)
