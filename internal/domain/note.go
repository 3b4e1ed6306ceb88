package domain

import "fmt"

type Zone struct {
	Name            string `json:"zone_name"`
	OwnerRecordName string `json:"owner_record_name"`
}

// RecordChange is the lightweight listing entry returned when enumerating a
// zone: enough to decide whether the full record needs fetching.
type RecordChange struct {
	RecordID   string `json:"record_id"`
	ModifiedAt int64  `json:"modified_at"`
}

type RawNoteRecord struct {
	RecordID         string `json:"record_id"`
	ZoneName         string `json:"zone_name"`
	OwnerID          string `json:"owner_id"`
	CreatedAt        int64  `json:"created_at"`
	ModifiedAt       int64  `json:"modified_at"`
	TitleEncrypted   []byte `json:"title_encrypted"`
	SnippetEncrypted []byte `json:"snippet_encrypted,omitempty"`
	TextEncrypted    []byte `json:"text_encrypted"`
	FolderID         string `json:"folder_id"`
	FolderOwnerID    string `json:"folder_owner_id"`
}

type DecodedNote struct {
	Title          string `json:"title"`
	Text           string `json:"text"`
	RecordID       string `json:"record_id"`
	CreatedDate    int64  `json:"created_date"`
	LastEditedDate int64  `json:"last_edited_date"`
	FolderID       string `json:"folder_id"`
	FolderName     string `json:"folder_name"`
	OwnerID        string `json:"owner_id"`
}

type StoredNoteChunk struct {
	RecordID       string    `json:"record_id" bson:"record_id"`
	NoteID         string    `json:"note_id" bson:"note_id"`
	ChunkIndex     int       `json:"chunk_index" bson:"chunk_index"`
	ChunkCount     int       `json:"chunk_count" bson:"chunk_count"`
	Title          string    `json:"title" bson:"title"`
	Text           string    `json:"text" bson:"text"`
	Embeddings     []float32 `json:"embeddings,omitempty" bson:"embeddings,omitempty"`
	CreatedDate    int64     `json:"created_date" bson:"created_date"`
	LastEditedDate int64     `json:"last_edited_date" bson:"last_edited_date"`
	FolderID       string    `json:"folder_id" bson:"folder_id"`
	FolderName     string    `json:"folder_name" bson:"folder_name"`
	OwnerID        string    `json:"owner_id" bson:"owner_id"`
}

// ScoredChunk is a search hit.
type ScoredChunk struct {
	StoredNoteChunk
	Score float64 `json:"score" bson:"score"`
}

// ChunkRecordID returns the storage key of chunk i out of n for a note.
// A single-chunk note keeps the bare record id.
func ChunkRecordID(recordID string, i, n int) string {
	if n <= 1 {
		return recordID
	}
	return fmt.Sprintf("%s-%d", recordID, i)
}

// ChunkTitle mirrors ChunkRecordID for the human readable title.
func ChunkTitle(title string, i, n int) string {
	if n <= 1 {
		return title
	}
	return fmt.Sprintf("%s - %d", title, i+1)
}

// NewStoredNoteChunk builds the persisted document for chunk i of n.
func NewStoredNoteChunk(note *DecodedNote, text string, embeddings []float32, i, n int) *StoredNoteChunk {
	return &StoredNoteChunk{
		RecordID:       ChunkRecordID(note.RecordID, i, n),
		NoteID:         note.RecordID,
		ChunkIndex:     i,
		ChunkCount:     n,
		Title:          ChunkTitle(note.Title, i, n),
		Text:           text,
		Embeddings:     embeddings,
		CreatedDate:    note.CreatedDate,
		LastEditedDate: note.LastEditedDate,
		FolderID:       note.FolderID,
		FolderName:     note.FolderName,
		OwnerID:        note.OwnerID,
	}
}

// NewEmptyNoteMarker records a note whose text produced no chunks. It has
// no embeddings, so searches never return it, but it keeps the note in the
// sync cursor.
func NewEmptyNoteMarker(note *DecodedNote) *StoredNoteChunk {
	return &StoredNoteChunk{
		RecordID:       note.RecordID,
		NoteID:         note.RecordID,
		Title:          note.Title,
		CreatedDate:    note.CreatedDate,
		LastEditedDate: note.LastEditedDate,
		FolderID:       note.FolderID,
		FolderName:     note.FolderName,
		OwnerID:        note.OwnerID,
	}
}
