package models

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrHintsDisabled       = errors.New("hints are disabled for this session profile")
	ErrAlreadyClosed       = errors.New("ticket already closed")
)
