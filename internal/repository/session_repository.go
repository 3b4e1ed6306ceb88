package repository

import (
	"context"
	"fmt"
	"time"

	"notes-sync-indexer/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// SessionRepository persists remote-service session material per
// (username, environment).
type SessionRepository interface {
	Save(ctx context.Context, session *domain.Session) error
	// Load returns domain.ErrNotFound when nothing is stored.
	Load(ctx context.Context, username, environment string) (*domain.Session, error)
	Delete(ctx context.Context, username, environment string) error
}

type sessionDoc struct {
	ID   string `json:"_id"`
	Rev  string `json:"_rev,omitempty"`
	Type string `json:"type"`
	domain.Session
}

type sessionRepository struct {
	client *kivik.Client
	dbName string
}

func NewSessionRepository(client *kivik.Client, dbName string) SessionRepository {
	return &sessionRepository{
		client: client,
		dbName: dbName,
	}
}

func sessionDocID(username, environment string) string {
	return fmt.Sprintf("session:%s:%s", username, environment)
}

func (r *sessionRepository) Save(ctx context.Context, session *domain.Session) error {
	db := r.client.DB(r.dbName)
	docID := sessionDocID(session.Username, session.Environment)

	doc := sessionDoc{ID: docID, Type: "session", Session: *session}
	doc.UpdatedAt = time.Now()

	rev, err := db.GetRev(ctx, docID)
	if err != nil && !isNotFound(err) {
		return storageError("save session", docID, err)
	}
	doc.Rev = rev

	if _, err := db.Put(ctx, docID, doc); err != nil {
		return storageError("save session", docID, err)
	}

	session.UpdatedAt = doc.UpdatedAt
	return nil
}

func (r *sessionRepository) Load(ctx context.Context, username, environment string) (*domain.Session, error) {
	db := r.client.DB(r.dbName)
	docID := sessionDocID(username, environment)

	var doc sessionDoc
	if err := db.Get(ctx, docID).ScanDoc(&doc); err != nil {
		if isNotFound(err) {
			return nil, domain.ErrNotFound
		}
		return nil, storageError("load session", docID, err)
	}

	session := doc.Session
	if session.Material.Cookies == nil {
		session.Material.Cookies = make(map[string]string)
	}
	return &session, nil
}

func (r *sessionRepository) Delete(ctx context.Context, username, environment string) error {
	db := r.client.DB(r.dbName)
	docID := sessionDocID(username, environment)

	rev, err := db.GetRev(ctx, docID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return storageError("delete session", docID, err)
	}

	if _, err := db.Delete(ctx, docID, rev); err != nil && !isNotFound(err) {
		return storageError("delete session", docID, err)
	}
	return nil
}
