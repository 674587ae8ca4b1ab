package model

import "errors"

var (
	// ErrInvalidInput is returned for malformed URLs, non-positive validity and malformed custom codes
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict is returned when a short code is already taken by a live record
	ErrConflict = errors.New("short code already exists")
	// ErrNotFound is returned when a short code does not exist
	ErrNotFound = errors.New("short code not found")
	// ErrExpired is returned when a short code exists but is past its expiry
	ErrExpired = errors.New("short code has expired")
	// ErrResourceExhausted is returned when the generator runs out of attempts
	ErrResourceExhausted = errors.New("short code space exhausted")
	// ErrTimeout is returned when a store operation exceeds its deadline
	ErrTimeout = errors.New("store operation timed out")
	// ErrCorruption is returned when a stored record violates clicks == len(history)
	ErrCorruption = errors.New("record corrupted")
)
