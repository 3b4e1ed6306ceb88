package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"notes-sync-indexer/internal/chunker"
	"notes-sync-indexer/internal/domain"
	"notes-sync-indexer/internal/logger"
	"notes-sync-indexer/internal/repository"
)

const DefaultSearchLimit = 5

const searchPreamble = "Below is a list of notes found for different dates. Newer ones are more important, " +
	"and information in older notes from more than a month ago may already be outdated. " +
	"Current date is %s. Use these notes to craft the most helpful response to the query. " +
	"If the question was about the present or future, make sure to clarify that this is how you noted it earlier.\n\n"

type SearchConfig struct {
	MaxTokens int
	Limit     int
	Location  *time.Location
}

type SearchService struct {
	chunks    repository.ChunkRepository
	embedder  Embedder
	truncator Truncator
	cfg       SearchConfig
	now       func() time.Time
}

func NewSearchService(chunks repository.ChunkRepository, embedder Embedder, truncator Truncator, cfg SearchConfig) *SearchService {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = chunker.DefaultMaxTokens
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultSearchLimit
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &SearchService{
		chunks:    chunks,
		embedder:  embedder,
		truncator: truncator,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Search embeds the query and renders the closest chunks of ownerID's notes
// as a single text response.
func (s *SearchService) Search(ctx context.Context, ownerID string, req *domain.SearchRequest) (*domain.SearchResponse, error) {
	query := req.SearchQuery
	if s.truncator != nil {
		query = s.truncator.Truncate(query, s.cfg.MaxTokens)
	}

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := s.chunks.SimilaritySearch(ctx, vector, domain.SearchFilter{OwnerID: ownerID}, s.cfg.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search notes: %w", err)
	}
	if len(hits) == 0 {
		return nil, domain.ErrNotFound
	}

	logger.Ctx(ctx).Debug("search completed", "owner_id", ownerID, "hits", len(hits), "top_score", hits[0].Score)

	return &domain.SearchResponse{Response: s.render(hits)}, nil
}

func (s *SearchService) render(hits []domain.ScoredChunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, searchPreamble, s.now().In(s.cfg.Location).Format(chunker.CreationDateLayout))

	for i, hit := range hits {
		fmt.Fprintf(&b, "**Note %d content:**\n```\n%s\n```\n\n", i+1, hit.Text)
	}
	return b.String()
}
