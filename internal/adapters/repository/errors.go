package repository

import "errors"

// Sentinel errors for the similarity store.
var (
	ErrNotFound    = errors.New("similarity row not found")
	ErrInvalidPair = errors.New("invalid user pair")
	ErrInvalidRow  = errors.New("invalid similarity row")
)
