package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidJob        = errors.New("invalid job")
	ErrModelNotFound     = errors.New("model not found")
	ErrNoCredentials     = errors.New("no API keys available")
	ErrProviderFailure   = errors.New("provider failure")
	ErrRateLimited       = errors.New("rate limited")
	ErrInvalidTransition = errors.New("invalid status transition")
)
