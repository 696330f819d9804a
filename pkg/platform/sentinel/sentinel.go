package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can translate them into coded domain errors.
//
// These represent factual states about records, not validation failures:
//   - ErrNotFound: record does not exist in the store
//   - ErrConflict: optimistic revision check lost against a concurrent writer
//   - ErrInvalidState: record is in the wrong state for the requested change
//   - ErrUnavailable: backing service temporarily unreachable
//
// For validation errors (bad input, missing answers), use pkg/domain-errors.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
