// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist (or has been evicted).
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a write that would violate an entity's lifecycle,
// e.g. updating a task that already reached a terminal state.
var ErrConflict = errors.New("conflict")

// ErrValidation indicates invalid caller input. Wrap it with a detail message:
//
//	fmt.Errorf("%w: urls must contain 1 to 5 entries", domain.ErrValidation)
var ErrValidation = errors.New("validation error")

// ErrCapacity indicates a bounded resource (e.g. the task registry) is full.
var ErrCapacity = errors.New("capacity exhausted")
