package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, queues and brokers return
// these (optionally wrapped) so services can decide what is retryable and
// what is a lost outcome:
// - ErrNotFound: record does not exist in the store
// - ErrConflict: record with the same identity already exists
// - ErrInvalidState: record is in a state that forbids the transition
//   (a terminal event cannot be completed twice)
// - ErrUnavailable: broker, provider or store temporarily unavailable
// - ErrClosed: component was shut down and no longer accepts work
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
	ErrClosed       = errors.New("closed")
)
