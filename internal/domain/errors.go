package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrSecondFactorTimeout  = errors.New("timed out waiting for verification code")
	ErrSecondFactorRejected = errors.New("verification code rejected")
	ErrSyncInProgress       = errors.New("sync already in progress")
)

type AuthenticationError struct {
	Username string
	Err      error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Username, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// TransportError is a failed call to the remote note service.
type TransportError struct {
	Op         string
	RecordID   string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	msg := e.Op
	if e.RecordID != "" {
		msg += " " + e.RecordID
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", msg, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError marks malformed compression, envelope, or run data.
type DecodeError struct {
	RecordID string
	Stage    string
	Err      error
}

func (e *DecodeError) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("decode %s (%s): %v", e.RecordID, e.Stage, e.Err)
	}
	return fmt.Sprintf("decode (%s): %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type EmbeddingError struct {
	RecordID string
	Err      error
}

func (e *EmbeddingError) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("embedding %s: %v", e.RecordID, e.Err)
	}
	return fmt.Sprintf("embedding: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// StorageError wraps document store failures. ConnectionLost is set when the
// store itself is unreachable, which aborts a sync run.
type StorageError struct {
	Op             string
	RecordID       string
	ConnectionLost bool
	Err            error
}

func (e *StorageError) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("storage %s %s: %v", e.Op, e.RecordID, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsConnectionLost reports whether err carries a StorageError for an
// unreachable store.
func IsConnectionLost(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.ConnectionLost
}
