package core

import "errors"

// Failure kinds the adapters translate into replies and HTTP statuses.
var (
	ErrInvalidAccount      = errors.New("task-board account id is malformed")
	ErrUnlinked            = errors.New("chat identity has no linked task-board account")
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")
	ErrDeliveryFailed      = errors.New("chat message delivery failed")
)

// Store errors.
var (
	ErrLinkNotFound   = errors.New("account link not found")
	ErrReminderExists = errors.New("reminder already recorded for this due window")
)
