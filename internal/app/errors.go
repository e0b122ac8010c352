package service

import "errors"

// Sentinel errors for engine operations.
var (
	ErrSelfPair        = errors.New("a user cannot be paired with themselves")
	ErrUnknownCategory = errors.New("unknown category")
	ErrInvalidUser     = errors.New("user id must not be empty")
)
