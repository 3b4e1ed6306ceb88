package domain

import "time"

// SyncCursor maps a note's record id to the last_edited_date stored for it.
type SyncCursor map[string]int64

// CursorBuilder folds stored chunk rows into a SyncCursor. A note enters
// the cursor only when its rows form one complete chunk set, and then at the
// oldest edit date among them, so a partly rewritten note is fetched again.
type CursorBuilder struct {
	notes map[string]*storedNote
}

type storedNote struct {
	oldest     int64
	rows       int
	chunkCount int
	mixed      bool
}

func NewCursorBuilder() *CursorBuilder {
	return &CursorBuilder{notes: make(map[string]*storedNote)}
}

// Add records one stored row. Empty-note markers have a chunkCount of zero.
func (b *CursorBuilder) Add(noteID string, lastEdited int64, chunkCount int) {
	n, ok := b.notes[noteID]
	if !ok {
		b.notes[noteID] = &storedNote{oldest: lastEdited, rows: 1, chunkCount: chunkCount}
		return
	}
	n.rows++
	if lastEdited < n.oldest {
		n.oldest = lastEdited
	}
	if chunkCount != n.chunkCount {
		n.mixed = true
	}
}

func (b *CursorBuilder) Cursor() SyncCursor {
	cursor := make(SyncCursor, len(b.notes))
	for id, n := range b.notes {
		want := n.chunkCount
		if want == 0 {
			want = 1
		}
		if n.mixed || n.rows != want {
			continue
		}
		cursor[id] = n.oldest
	}
	return cursor
}

// NeedsSync reports whether a remote note modified at modifiedAt must be
// fetched again.
func (c SyncCursor) NeedsSync(recordID string, modifiedAt int64) bool {
	synced, ok := c[recordID]
	return !ok || modifiedAt > synced
}

type FailureKind string

const (
	FailureTransport FailureKind = "transport"
	FailureDecode    FailureKind = "decode"
	FailureEmbedding FailureKind = "embedding"
	FailureStorage   FailureKind = "storage"
)

type SyncFailure struct {
	Kind     FailureKind `json:"kind" bson:"kind"`
	Zone     string      `json:"zone,omitempty" bson:"zone,omitempty"`
	RecordID string      `json:"record_id,omitempty" bson:"record_id,omitempty"`
	Error    string      `json:"error" bson:"error"`
}

type SyncReport struct {
	RunID              string        `json:"run_id" bson:"run_id"`
	StartedAt          time.Time     `json:"started_at" bson:"started_at"`
	FinishedAt         time.Time     `json:"finished_at" bson:"finished_at"`
	ZonesScanned       int           `json:"zones_scanned" bson:"zones_scanned"`
	NotesExamined      int           `json:"notes_examined" bson:"notes_examined"`
	NotesChanged       int           `json:"notes_changed" bson:"notes_changed"`
	NotesIndexed       int           `json:"notes_indexed" bson:"notes_indexed"`
	ChunksStored       int           `json:"chunks_stored" bson:"chunks_stored"`
	StaleChunksDeleted int           `json:"stale_chunks_deleted" bson:"stale_chunks_deleted"`
	Failures           []SyncFailure `json:"failures" bson:"failures"`
	Aborted            bool          `json:"aborted" bson:"aborted"`
	AbortReason        string        `json:"abort_reason,omitempty" bson:"abort_reason,omitempty"`
}

func (r *SyncReport) Failed() bool {
	return r.Aborted || len(r.Failures) > 0
}
