package repository

import (
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"

	"notes-sync-indexer/internal/domain"

	"github.com/go-kivik/kivik/v4"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// storageError wraps err as a *domain.StorageError, flagging failures that
// mean the store itself is unreachable.
func storageError(op, recordID string, err error) error {
	return &domain.StorageError{
		Op:             op,
		RecordID:       recordID,
		ConnectionLost: isConnectionLost(err),
		Err:            err,
	}
}

func isConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return kivik.HTTPStatus(err) == http.StatusServiceUnavailable
}

func isNotFound(err error) bool {
	return kivik.HTTPStatus(err) == http.StatusNotFound
}
