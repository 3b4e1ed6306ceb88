package repository

import (
	"context"
	"fmt"
	"net/http"

	"notes-sync-indexer/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

const (
	chunkDocType = "chunk"
	findPageSize = 500
)

// ChunkRepository stores embedded note chunks keyed by their chunk-qualified
// record id.
type ChunkRepository interface {
	// Upsert fully replaces or inserts the chunk at its record id.
	Upsert(ctx context.Context, chunk *domain.StoredNoteChunk) error
	// LastEditedDates returns the newest stored edit time per note.
	LastEditedDates(ctx context.Context) (domain.SyncCursor, error)
	// DeleteStale removes chunks of noteID whose record id is not in keep.
	DeleteStale(ctx context.Context, noteID string, keep []string) (int, error)
	SimilaritySearch(ctx context.Context, vector []float32, filter domain.SearchFilter, limit int) ([]domain.ScoredChunk, error)
}

type chunkDoc struct {
	ID   string `json:"_id"`
	Rev  string `json:"_rev,omitempty"`
	Type string `json:"type"`
	domain.StoredNoteChunk
}

type chunkRepository struct {
	client *kivik.Client
	dbName string
}

func NewChunkRepository(client *kivik.Client, dbName string) ChunkRepository {
	return &chunkRepository{
		client: client,
		dbName: dbName,
	}
}

func chunkDocID(recordID string) string {
	return fmt.Sprintf("chunk:%s", recordID)
}

// EnsureChunkIndexes creates the Mango indexes the chunk queries rely on.
func EnsureChunkIndexes(ctx context.Context, client *kivik.Client, dbName string) error {
	db := client.DB(dbName)
	indexes := map[string][]string{
		"chunk-note":  {"type", "note_id"},
		"chunk-owner": {"type", "owner_id"},
	}
	for name, fields := range indexes {
		index := map[string]interface{}{"fields": fields}
		if err := db.CreateIndex(ctx, "chunks", name, index); err != nil {
			return fmt.Errorf("failed to create index %s: %w", name, err)
		}
	}
	return nil
}

func (r *chunkRepository) Upsert(ctx context.Context, chunk *domain.StoredNoteChunk) error {
	db := r.client.DB(r.dbName)
	docID := chunkDocID(chunk.RecordID)

	doc := chunkDoc{ID: docID, Type: chunkDocType, StoredNoteChunk: *chunk}

	// One retry covers a concurrent writer bumping the revision in between.
	for attempt := 0; attempt < 2; attempt++ {
		rev, err := db.GetRev(ctx, docID)
		switch {
		case err == nil:
			doc.Rev = rev
		case isNotFound(err):
			doc.Rev = ""
		default:
			return storageError("upsert", chunk.RecordID, err)
		}

		_, err = db.Put(ctx, docID, doc)
		if err == nil {
			return nil
		}
		if kivik.HTTPStatus(err) != http.StatusConflict {
			return storageError("upsert", chunk.RecordID, err)
		}
	}

	return storageError("upsert", chunk.RecordID, fmt.Errorf("revision conflict on %s", docID))
}

func (r *chunkRepository) LastEditedDates(ctx context.Context) (domain.SyncCursor, error) {
	builder := domain.NewCursorBuilder()

	err := r.find(ctx, map[string]interface{}{"type": chunkDocType},
		[]string{"record_id", "note_id", "chunk_count", "last_edited_date"},
		func(rows *kivik.ResultSet) error {
			var doc struct {
				RecordID       string `json:"record_id"`
				NoteID         string `json:"note_id"`
				ChunkCount     int    `json:"chunk_count"`
				LastEditedDate int64  `json:"last_edited_date"`
			}
			if err := rows.ScanDoc(&doc); err != nil {
				return nil
			}
			key := doc.NoteID
			if key == "" {
				key = doc.RecordID
			}
			builder.Add(key, doc.LastEditedDate, doc.ChunkCount)
			return nil
		})
	if err != nil {
		return nil, storageError("last edited dates", "", err)
	}

	return builder.Cursor(), nil
}

func (r *chunkRepository) DeleteStale(ctx context.Context, noteID string, keep []string) (int, error) {
	db := r.client.DB(r.dbName)

	kept := make(map[string]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}

	type staleDoc struct {
		ID       string `json:"_id"`
		Rev      string `json:"_rev"`
		RecordID string `json:"record_id"`
	}
	var stale []staleDoc

	err := r.find(ctx, map[string]interface{}{"type": chunkDocType, "note_id": noteID},
		[]string{"_id", "_rev", "record_id"},
		func(rows *kivik.ResultSet) error {
			var doc staleDoc
			if err := rows.ScanDoc(&doc); err != nil {
				return err
			}
			if !kept[doc.RecordID] {
				stale = append(stale, doc)
			}
			return nil
		})
	if err != nil {
		return 0, storageError("find stale", noteID, err)
	}

	deleted := 0
	for _, doc := range stale {
		if _, err := db.Delete(ctx, doc.ID, doc.Rev); err != nil && !isNotFound(err) {
			return deleted, storageError("delete stale", doc.RecordID, err)
		}
		deleted++
	}

	return deleted, nil
}

// SimilaritySearch scans the owner's chunks and ranks them by cosine
// similarity in process.
func (r *chunkRepository) SimilaritySearch(ctx context.Context, vector []float32, filter domain.SearchFilter, limit int) ([]domain.ScoredChunk, error) {
	if limit <= 0 {
		limit = 5
	}

	selector := map[string]interface{}{"type": chunkDocType}
	if filter.OwnerID != "" {
		selector["owner_id"] = filter.OwnerID
	}

	best := newTopK(limit)

	err := r.find(ctx, selector, nil, func(rows *kivik.ResultSet) error {
		var doc chunkDoc
		if err := rows.ScanDoc(&doc); err != nil {
			return nil
		}
		// Empty-note markers carry no vector.
		if len(doc.Embeddings) != len(vector) {
			return nil
		}
		best.offer(domain.ScoredChunk{
			StoredNoteChunk: doc.StoredNoteChunk,
			Score:           cosineSimilarity(vector, doc.Embeddings),
		})
		return nil
	})
	if err != nil {
		return nil, storageError("similarity search", "", err)
	}

	return best.results(), nil
}

// find pages through a Mango query with bookmarks, handing each row to fn.
func (r *chunkRepository) find(ctx context.Context, selector map[string]interface{}, fields []string, fn func(rows *kivik.ResultSet) error) error {
	db := r.client.DB(r.dbName)
	bookmark := ""

	for {
		query := map[string]interface{}{
			"selector": selector,
			"limit":    findPageSize,
		}
		if fields != nil {
			query["fields"] = fields
		}
		if bookmark != "" {
			query["bookmark"] = bookmark
		}

		rows := db.Find(ctx, query)
		n := 0
		for rows.Next() {
			n++
			if err := fn(rows); err != nil {
				rows.Close()
				return err
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		meta, err := rows.Metadata()
		rows.Close()
		if err != nil {
			return err
		}

		if n < findPageSize || meta.Bookmark == "" || meta.Bookmark == bookmark {
			return nil
		}
		bookmark = meta.Bookmark
	}
}
