// Package storage defines the persistence contract for user learning
// records and provides two interchangeable backends: a JSON document
// store (one file per user, atomic replace) and a relational sqlite
// store (normalized tables, transactional upsert).
package storage

import (
	"errors"
	"fmt"

	"github.com/pberezin/tutor/internal/model"
)

// ErrNotFound is returned by Get and Delete for unknown users.
// Callers treat it as "create new", not as a failure.
var ErrNotFound = errors.New("user record not found")

// StorageError wraps a backend I/O failure (disk, permissions,
// database). It is retryable at the caller's discretion and is never
// swallowed by the backends.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ioErr wraps err as a StorageError unless it already carries a
// classification from this package.
func ioErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// Backend is the uniform contract both stores satisfy. A Put followed
// by a Get yields a structurally equal record on either backend.
type Backend interface {
	// Get returns the full record for a user, or ErrNotFound.
	Get(userID string) (*model.UserRecord, error)
	// Put overwrites the user's record atomically (all-or-nothing).
	Put(userID string, rec *model.UserRecord) error
	// Delete removes the user's record, or returns ErrNotFound.
	Delete(userID string) error
	// ListUsers returns all known user IDs in lexical order.
	ListUsers() ([]string, error)
	Close() error
}
