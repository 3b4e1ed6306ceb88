package service

import (
	"context"

	"notes-sync-indexer/internal/domain"
)

// Authenticator signs a session in against the remote note service.
type Authenticator interface {
	SignIn(ctx context.Context, s *domain.Session, password string) error
	RequiresSecondFactor(s *domain.Session) bool
	SubmitSecondFactor(ctx context.Context, s *domain.Session, code string) error
	// Validate checks restored session material with a cheap round trip.
	Validate(ctx context.Context, s *domain.Session) error
}

type NoteSource interface {
	ListZones(ctx context.Context, s *domain.Session) ([]domain.Zone, error)
	ListChanged(ctx context.Context, s *domain.Session, zone domain.Zone) ([]domain.RecordChange, error)
	Fetch(ctx context.Context, s *domain.Session, zone domain.Zone, recordID string) (*domain.RawNoteRecord, error)
	FolderName(ctx context.Context, s *domain.Session, zone domain.Zone, folderID string) (string, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type NoteChunker interface {
	Chunk(note *domain.DecodedNote) []string
}

type Truncator interface {
	Truncate(text string, maxTokens int) string
}

// CodeSource yields second-factor codes. Next does not block: it reports
// false when no code is pending.
type CodeSource interface {
	Next(ctx context.Context) (string, bool, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event)
}

// SessionProvider hands the sync engine an authenticated session.
type SessionProvider interface {
	Authenticate(ctx context.Context) (*domain.Session, error)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, domain.Event) {}
