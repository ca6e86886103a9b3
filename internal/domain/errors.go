package domain

import "errors"

var (
	ErrInvalidID               = errors.New("invalid id")
	ErrNotOwner                = errors.New("not the owner")
	ErrInvalidTimestamp        = errors.New("invalid timestamp")
	ErrNotFound                = errors.New("not found")
	ErrInternalCacheCorruption = errors.New("internal cache corruption")
	ErrInvalidThreshold        = errors.New("invalid discard threshold")
	ErrInvalidObjective        = errors.New("invalid objective")
	ErrForbidden               = errors.New("forbidden")
)
