package handler

import (
	"context"

	"notes-sync-indexer/internal/domain"
)

type Searcher interface {
	Search(ctx context.Context, ownerID string, req *domain.SearchRequest) (*domain.SearchResponse, error)
}

type SyncRunner interface {
	Run(ctx context.Context) (*domain.SyncReport, error)
	InProgress() bool
	LastReport(ctx context.Context) (*domain.SyncReport, error)
}

type CodeVerifier interface {
	Submit(req *domain.SubmitCodeRequest) error
	Pending(key string) (*domain.CodeStatusResponse, error)
}

type SessionStater interface {
	State() domain.SessionStatePayload
}
