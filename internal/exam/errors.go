package exam

import "errors"

// Sentinel errors for the attempt lifecycle. Service methods wrap these
// with %w so handlers can branch with errors.Is while still seeing the
// operation's fallback message.
var (
	ErrExamNotFound    = errors.New("exam not found")
	ErrNotPublished    = errors.New("exam is not available")
	ErrAttemptLimit    = errors.New("maximum attempts reached")
	ErrAttemptNotFound = errors.New("attempt not found")
	ErrAttemptActive   = errors.New("an active attempt already exists")
	ErrTimeExpired     = errors.New("time limit exceeded")
	ErrInvalidOption   = errors.New("option does not belong to question")
)
