package service

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"notes-sync-indexer/internal/domain"

	"github.com/klauspost/compress/gzip"
	"google.golang.org/protobuf/encoding/protowire"
)

// encodeNoteBody builds a compressed note payload holding text as one plain
// attribute run.
func encodeNoteBody(t *testing.T, text string) []byte {
	t.Helper()

	var styled []byte
	styled = protowire.AppendTag(styled, 2, protowire.BytesType)
	styled = protowire.AppendBytes(styled, []byte(text))
	var run []byte
	run = protowire.AppendTag(run, 1, protowire.VarintType)
	run = protowire.AppendVarint(run, uint64(len([]rune(text))))
	styled = protowire.AppendTag(styled, 5, protowire.BytesType)
	styled = protowire.AppendBytes(styled, run)

	var version []byte
	version = protowire.AppendTag(version, 3, protowire.BytesType)
	version = protowire.AppendBytes(version, styled)
	var doc []byte
	doc = protowire.AppendTag(doc, 2, protowire.BytesType)
	doc = protowire.AppendBytes(doc, version)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(doc); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

type mockSessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	saveErr  error
	deleted  int
}

func newMockSessionRepository() *mockSessionRepository {
	return &mockSessionRepository{sessions: make(map[string]*domain.Session)}
}

func (m *mockSessionRepository) Save(ctx context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	copied := *session
	m.sessions[session.Username+"/"+session.Environment] = &copied
	return nil
}

func (m *mockSessionRepository) Load(ctx context.Context, username, environment string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[username+"/"+environment]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (m *mockSessionRepository) Delete(ctx context.Context, username, environment string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, username+"/"+environment)
	m.deleted++
	return nil
}

type mockAuthenticator struct {
	mu          sync.Mutex
	password    string
	requireCode bool
	validCode   string
	validateErr error
	signIns     int
	submitted   []string
}

func (m *mockAuthenticator) SignIn(ctx context.Context, s *domain.Session, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signIns++
	if password != m.password {
		return &domain.AuthenticationError{Username: s.Username, Err: errors.New("bad password")}
	}
	s.Material.SessionToken = "token"
	s.SecondFactorRequired = m.requireCode
	return nil
}

func (m *mockAuthenticator) RequiresSecondFactor(s *domain.Session) bool {
	return s.SecondFactorRequired
}

func (m *mockAuthenticator) SubmitSecondFactor(ctx context.Context, s *domain.Session, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, code)
	if code != m.validCode {
		return domain.ErrSecondFactorRejected
	}
	s.SecondFactorRequired = false
	s.Material.TrustToken = "trust"
	return nil
}

func (m *mockAuthenticator) Validate(ctx context.Context, s *domain.Session) error {
	return m.validateErr
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event domain.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func (p *recordingPublisher) ofType(typ domain.EventType) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Event
	for _, e := range p.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (p *recordingPublisher) phases() []domain.SessionPhase {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.SessionPhase
	for _, e := range p.events {
		if state, ok := e.Payload.(domain.SessionStatePayload); ok {
			out = append(out, state.Phase)
		}
	}
	return out
}

type staticSessions struct {
	session *domain.Session
	err     error
}

func (s staticSessions) Authenticate(ctx context.Context) (*domain.Session, error) {
	return s.session, s.err
}

type mockNoteSource struct {
	mu         sync.Mutex
	zones      []domain.Zone
	changes    map[string][]domain.RecordChange
	records    map[string]*domain.RawNoteRecord
	fetchErr   map[string]error
	folders    map[string]string
	fetched    []string
	folderHits int
}

func (m *mockNoteSource) ListZones(ctx context.Context, s *domain.Session) ([]domain.Zone, error) {
	return m.zones, nil
}

func (m *mockNoteSource) ListChanged(ctx context.Context, s *domain.Session, zone domain.Zone) ([]domain.RecordChange, error) {
	return m.changes[zone.Name], nil
}

func (m *mockNoteSource) Fetch(ctx context.Context, s *domain.Session, zone domain.Zone, recordID string) (*domain.RawNoteRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetched = append(m.fetched, recordID)
	if err := m.fetchErr[recordID]; err != nil {
		return nil, err
	}
	rec, ok := m.records[recordID]
	if !ok {
		return nil, &domain.TransportError{Op: "lookup", RecordID: recordID, Err: domain.ErrNotFound}
	}
	copied := *rec
	return &copied, nil
}

func (m *mockNoteSource) FolderName(ctx context.Context, s *domain.Session, zone domain.Zone, folderID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.folderHits++
	name, ok := m.folders[folderID]
	if !ok {
		return "", errors.New("folder lookup failed")
	}
	return name, nil
}

func (m *mockNoteSource) fetchedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]string(nil), m.fetched...)
	sort.Strings(out)
	return out
}

// fakeEmbedder returns a one-dimensional vector and fails for text holding
// the marker.
type fakeEmbedder struct {
	failMarker string
	calls      int
	mu         sync.Mutex
}

func (e *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.failMarker != "" && strings.Contains(text, e.failMarker) {
		return nil, &domain.EmbeddingError{Err: errors.New("rate limited")}
	}
	return []float32{float32(len(text))}, nil
}

type mockChunkRepository struct {
	mu        sync.Mutex
	chunks    map[string]*domain.StoredNoteChunk
	upsertErr func(chunk *domain.StoredNoteChunk) error
	upserts   int
	hits      []domain.ScoredChunk
	lastQuery domain.SearchFilter
}

func newMockChunkRepository() *mockChunkRepository {
	return &mockChunkRepository{chunks: make(map[string]*domain.StoredNoteChunk)}
}

func (m *mockChunkRepository) Upsert(ctx context.Context, chunk *domain.StoredNoteChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		if err := m.upsertErr(chunk); err != nil {
			return err
		}
	}
	m.upserts++
	copied := *chunk
	m.chunks[chunk.RecordID] = &copied
	return nil
}

func (m *mockChunkRepository) LastEditedDates(ctx context.Context) (domain.SyncCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	builder := domain.NewCursorBuilder()
	for _, c := range m.chunks {
		builder.Add(c.NoteID, c.LastEditedDate, c.ChunkCount)
	}
	return builder.Cursor(), nil
}

func (m *mockChunkRepository) DeleteStale(ctx context.Context, noteID string, keep []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := make(map[string]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}
	deleted := 0
	for id, c := range m.chunks {
		if c.NoteID == noteID && !kept[id] {
			delete(m.chunks, id)
			deleted++
		}
	}
	return deleted, nil
}

func (m *mockChunkRepository) SimilaritySearch(ctx context.Context, vector []float32, filter domain.SearchFilter, limit int) ([]domain.ScoredChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastQuery = filter
	if len(m.hits) > limit {
		return m.hits[:limit], nil
	}
	return m.hits, nil
}

func (m *mockChunkRepository) ids() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.chunks))
	for id := range m.chunks {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (m *mockChunkRepository) snapshot() map[string]domain.StoredNoteChunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.StoredNoteChunk, len(m.chunks))
	for id, c := range m.chunks {
		out[id] = *c
	}
	return out
}

type mockReportRepository struct {
	mu   sync.Mutex
	last *domain.SyncReport
}

func (m *mockReportRepository) Save(ctx context.Context, report *domain.SyncReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *report
	m.last = &copied
	return nil
}

func (m *mockReportRepository) Last(ctx context.Context) (*domain.SyncReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil, domain.ErrNotFound
	}
	return m.last, nil
}
