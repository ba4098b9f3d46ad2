package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, connectors and the lens
// loader return these (optionally wrapped) so callers can branch on them with
// errors.Is without knowing which backend produced them.
//
// - ErrNotFound: record does not exist in the store
// - ErrConflict: a concurrent writer won the race for the same key
// - ErrDuplicate: identical content was already ingested
// - ErrInvalidState: record in the wrong state for the requested operation
// - ErrUnavailable: backend or connector temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrDuplicate    = errors.New("duplicate")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
