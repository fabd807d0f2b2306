package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrRateLimited      = errors.New("rate limited")
	ErrBudgetExceeded   = errors.New("daily budget exceeded")
	ErrDuplicateBatch   = errors.New("duplicate batch")
	ErrStoreUnavailable = errors.New("backing store unavailable")
	ErrProviderFailure  = errors.New("provider failure")
)
