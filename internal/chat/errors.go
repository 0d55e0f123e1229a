// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat defines the platform-neutral view of a chat service.
package chat

import (
	"errors"
	"time"
)

// Non-retryable platform errors.
var (
	ErrNotFound  = errors.New("message not found")
	ErrForbidden = errors.New("missing permission")
)

// TransientError is a platform failure worth retrying: network errors,
// rate limiting, 5xx responses.
type TransientError struct {
	Op string
	// RetryAfter is the delay requested by the platform, zero if unknown.
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	if e.Err != nil {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Op + ": transient platform error"
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err (or anything it wraps) is a *TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// RetryAfter returns the platform-requested delay carried by err, if any.
func RetryAfter(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}
