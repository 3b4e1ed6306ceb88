package domain

type EventType string

const (
	EventSessionState         EventType = "session_state"
	EventSecondFactorRequired EventType = "second_factor_required"
	EventSyncStarted          EventType = "sync_started"
	EventNoteIndexed          EventType = "note_indexed"
	EventNoteFailed           EventType = "note_failed"
	EventSyncCompleted        EventType = "sync_completed"
)

// Event is a progress notification published by the auth and sync services
// and delivered to connected websocket clients. Events about a note go to
// the note's owner; events with no OwnerID concern the account being synced
// and go to the operator only.
type Event struct {
	Type    EventType
	OwnerID string
	Payload interface{}
}

type SessionStatePayload struct {
	Username    string       `json:"username"`
	Environment string       `json:"environment"`
	Phase       SessionPhase `json:"phase"`
	Error       string       `json:"error,omitempty"`
}

type SecondFactorPayload struct {
	Username  string `json:"username"`
	VerifyURL string `json:"verify_url,omitempty"`
	Deadline  int64  `json:"deadline"`
}

type SyncStartedPayload struct {
	RunID string `json:"run_id"`
}

type NoteIndexedPayload struct {
	RunID    string `json:"run_id"`
	OwnerID  string `json:"owner_id"`
	RecordID string `json:"record_id"`
	Title    string `json:"title"`
	Chunks   int    `json:"chunks"`
}

type NoteFailedPayload struct {
	RunID   string `json:"run_id"`
	OwnerID string `json:"owner_id,omitempty"`
	SyncFailure
}
