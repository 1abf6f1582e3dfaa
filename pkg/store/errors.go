// Copyright 2025 Certen Protocol

package store

import "errors"

// Sentinel errors for deposit/redemption store operations. F.4
// remediation: explicit errors instead of nil, nil returns.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("store: record not found")

	// ErrAlreadyExists is returned by create when the id already exists.
	ErrAlreadyExists = errors.New("store: record already exists")

	// ErrConcurrentUpdate is returned when an update loses an optimistic
	// concurrency race on lastActivityAt.
	ErrConcurrentUpdate = errors.New("store: concurrent update conflict")
)
