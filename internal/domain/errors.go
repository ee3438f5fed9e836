package domain

import "errors"

// Command-level failures surfaced verbatim as user-facing replies.
// None of these is retried or escalated.
var (
	ErrAlreadyRunning  = errors.New("a sprint is already running in this room")
	ErrNoActiveSprint  = errors.New("no active sprint in this room")
	ErrInvalidDuration = errors.New("sprint duration must be between 1 and 180 minutes")
	ErrInvalidAmount   = errors.New("word count must be a non-negative number")
	ErrNotFound        = errors.New("target not found")
	ErrUnauthorized    = errors.New("not authorized")
)
