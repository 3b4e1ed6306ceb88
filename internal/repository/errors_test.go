package repository

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"notes-sync-indexer/internal/domain"
)

func TestStorageError_ConnectionLost(t *testing.T) {
	tests := []struct {
		name string
		err  error
		lost bool
	}{
		{"refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), true},
		{"net op error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("no route")}, true},
		{"plain error", errors.New("validation failed"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := storageError("upsert", "rec-1", tt.err)

			var se *domain.StorageError
			if !errors.As(err, &se) {
				t.Fatalf("expected StorageError, got %T", err)
			}
			if se.ConnectionLost != tt.lost {
				t.Errorf("expected ConnectionLost=%v, got %v", tt.lost, se.ConnectionLost)
			}
			if domain.IsConnectionLost(err) != tt.lost {
				t.Errorf("expected IsConnectionLost=%v", tt.lost)
			}
			if !errors.Is(err, tt.err) {
				t.Error("expected cause to be preserved")
			}
		})
	}
}
