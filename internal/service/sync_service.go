package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"notes-sync-indexer/internal/decoder"
	"notes-sync-indexer/internal/domain"
	"notes-sync-indexer/internal/logger"
	"notes-sync-indexer/internal/repository"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var syncTracer = otel.Tracer("notes-sync-indexer/sync")

type SyncService struct {
	sessions SessionProvider
	source   NoteSource
	chunker  NoteChunker
	embedder Embedder
	chunks   repository.ChunkRepository
	reports  repository.ReportRepository
	events   EventPublisher
	workers  int

	running sync.Mutex
}

func NewSyncService(
	sessions SessionProvider,
	source NoteSource,
	chunker NoteChunker,
	embedder Embedder,
	chunks repository.ChunkRepository,
	reports repository.ReportRepository,
	events EventPublisher,
	workers int,
) *SyncService {
	if workers <= 0 {
		workers = 1
	}
	if events == nil {
		events = nopPublisher{}
	}
	return &SyncService{
		sessions: sessions,
		source:   source,
		chunker:  chunker,
		embedder: embedder,
		chunks:   chunks,
		reports:  reports,
		events:   events,
		workers:  workers,
	}
}

// syncRun is the state shared by the workers of one run.
type syncRun struct {
	session *domain.Session
	cursor  domain.SyncCursor

	mu      sync.Mutex
	report  *domain.SyncReport
	folders map[string]string
}

func (r *syncRun) fail(ctx context.Context, kind domain.FailureKind, zone, recordID string, err error) domain.SyncFailure {
	f := domain.SyncFailure{Kind: kind, Zone: zone, RecordID: recordID, Error: err.Error()}

	r.mu.Lock()
	r.report.Failures = append(r.report.Failures, f)
	r.mu.Unlock()

	logger.Ctx(ctx).Warn("note sync failed", "kind", kind, "zone", zone, "record_id", recordID, "error", err)
	return f
}

// InProgress reports whether a run currently holds the lock.
func (s *SyncService) InProgress() bool {
	if s.running.TryLock() {
		s.running.Unlock()
		return false
	}
	return true
}

// Run performs one incremental sync. Per-note failures are collected in the
// report; the returned error is set only when the run aborted.
func (s *SyncService) Run(ctx context.Context) (*domain.SyncReport, error) {
	if !s.running.TryLock() {
		return nil, domain.ErrSyncInProgress
	}
	defer s.running.Unlock()

	report := &domain.SyncReport{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Failures:  []domain.SyncFailure{},
	}

	ctx, span := syncTracer.Start(ctx, "sync.run",
		trace.WithAttributes(attribute.String("sync.run_id", report.RunID)))
	defer span.End()

	log := logger.Ctx(ctx).With("run_id", report.RunID)
	ctx = logger.WithLogger(ctx, log)

	log.Info("sync started")
	s.events.Publish(ctx, domain.Event{
		Type:    domain.EventSyncStarted,
		Payload: domain.SyncStartedPayload{RunID: report.RunID},
	})

	err := s.run(ctx, report)
	if err != nil {
		report.Aborted = true
		report.AbortReason = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	s.finish(ctx, report, span)
	return report, err
}

func (s *SyncService) run(ctx context.Context, report *domain.SyncReport) error {
	session, err := s.sessions.Authenticate(ctx)
	if err != nil {
		return err
	}

	cursor, err := s.chunks.LastEditedDates(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sync cursor: %w", err)
	}

	zones, err := s.source.ListZones(ctx, session)
	if err != nil {
		return fmt.Errorf("failed to list zones: %w", err)
	}

	r := &syncRun{
		session: session,
		cursor:  cursor,
		report:  report,
		folders: make(map[string]string),
	}

	for _, zone := range zones {
		if err := s.syncZone(ctx, r, zone); err != nil {
			return err
		}
	}
	return nil
}

func (s *SyncService) syncZone(ctx context.Context, r *syncRun, zone domain.Zone) error {
	ctx, span := syncTracer.Start(ctx, "sync.zone",
		trace.WithAttributes(attribute.String("zone.name", zone.Name)))
	defer span.End()

	changes, err := s.source.ListChanged(ctx, r.session, zone)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.fail(ctx, domain.FailureTransport, zone.Name, "", err)
		return nil
	}

	var changed []domain.RecordChange
	for _, c := range changes {
		if r.cursor.NeedsSync(c.RecordID, c.ModifiedAt) {
			changed = append(changed, c)
		}
	}

	r.mu.Lock()
	r.report.ZonesScanned++
	r.report.NotesExamined += len(changes)
	r.report.NotesChanged += len(changed)
	r.mu.Unlock()

	span.SetAttributes(
		attribute.Int("notes.examined", len(changes)),
		attribute.Int("notes.changed", len(changed)),
	)
	logger.Ctx(ctx).Info("zone scanned", "zone", zone.Name, "examined", len(changes), "changed", len(changed))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, change := range changed {
		change := change
		g.Go(func() error {
			return s.syncNote(gctx, r, zone, change)
		})
	}
	return g.Wait()
}

// syncNote indexes one changed note. It returns an error only for
// conditions that must abort the whole run.
func (s *SyncService) syncNote(ctx context.Context, r *syncRun, zone domain.Zone, change domain.RecordChange) error {
	ctx, span := syncTracer.Start(ctx, "sync.note",
		trace.WithAttributes(attribute.String("note.record_id", change.RecordID)))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return err
	}

	rec, err := s.source.Fetch(ctx, r.session, zone, change.RecordID)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.noteFailed(ctx, r, span, domain.FailureTransport, zone.Name, zone.OwnerRecordName, change.RecordID, err)
		return nil
	}

	folderName := s.folderName(ctx, r, zone, rec.FolderID)

	note, err := decoder.DecodeNote(rec, folderName)
	if err != nil {
		owner := rec.FolderOwnerID
		if owner == "" {
			owner = zone.OwnerRecordName
		}
		s.noteFailed(ctx, r, span, domain.FailureDecode, zone.Name, owner, change.RecordID, err)
		return nil
	}

	texts := s.chunker.Chunk(note)
	keep := make([]string, 0, len(texts))
	stored := 0
	complete := true

	if len(texts) == 0 {
		marker := domain.NewEmptyNoteMarker(note)
		if err := s.chunks.Upsert(ctx, marker); err != nil {
			if domain.IsConnectionLost(err) {
				return err
			}
			s.noteFailed(ctx, r, span, domain.FailureStorage, zone.Name, note.OwnerID, marker.RecordID, err)
			return nil
		}
		keep = append(keep, marker.RecordID)
	}

	for i, text := range texts {
		chunkID := domain.ChunkRecordID(note.RecordID, i, len(texts))

		vector, err := s.embedder.Embed(ctx, text)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var embErr *domain.EmbeddingError
			if !errors.As(err, &embErr) {
				err = &domain.EmbeddingError{RecordID: chunkID, Err: err}
			}
			s.noteFailed(ctx, r, span, domain.FailureEmbedding, zone.Name, note.OwnerID, chunkID, err)
			complete = false
			continue
		}

		chunk := domain.NewStoredNoteChunk(note, text, vector, i, len(texts))
		if err := s.chunks.Upsert(ctx, chunk); err != nil {
			if domain.IsConnectionLost(err) {
				return err
			}
			s.noteFailed(ctx, r, span, domain.FailureStorage, zone.Name, note.OwnerID, chunkID, err)
			complete = false
			continue
		}
		keep = append(keep, chunk.RecordID)
		stored++
	}

	// An incomplete note keeps its older rows, which hold it out of the
	// cursor until a later run stores every chunk.
	deleted := 0
	if complete {
		deleted, err = s.chunks.DeleteStale(ctx, note.RecordID, keep)
		if err != nil {
			if domain.IsConnectionLost(err) {
				return err
			}
			s.noteFailed(ctx, r, span, domain.FailureStorage, zone.Name, note.OwnerID, note.RecordID, err)
			complete = false
		}
	}

	r.mu.Lock()
	r.report.ChunksStored += stored
	r.report.StaleChunksDeleted += deleted
	if complete {
		r.report.NotesIndexed++
	}
	runID := r.report.RunID
	r.mu.Unlock()

	span.SetAttributes(
		attribute.Int("chunks.stored", stored),
		attribute.Int("chunks.deleted", deleted),
	)

	if complete {
		logger.Ctx(ctx).Info("note indexed", "record_id", note.RecordID, "chunks", stored, "stale_deleted", deleted)
		s.events.Publish(ctx, domain.Event{
			Type:    domain.EventNoteIndexed,
			OwnerID: note.OwnerID,
			Payload: domain.NoteIndexedPayload{
				RunID:    runID,
				OwnerID:  note.OwnerID,
				RecordID: note.RecordID,
				Title:    note.Title,
				Chunks:   stored,
			},
		})
	}
	return nil
}

func (s *SyncService) noteFailed(ctx context.Context, r *syncRun, span trace.Span, kind domain.FailureKind, zone, ownerID, recordID string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	f := r.fail(ctx, kind, zone, recordID, err)
	s.events.Publish(ctx, domain.Event{
		Type:    domain.EventNoteFailed,
		OwnerID: ownerID,
		Payload: domain.NoteFailedPayload{RunID: r.report.RunID, OwnerID: ownerID, SyncFailure: f},
	})
}

// folderName resolves and caches folder titles for the run. Lookup failures
// fall back to the folder id.
func (s *SyncService) folderName(ctx context.Context, r *syncRun, zone domain.Zone, folderID string) string {
	if folderID == "" {
		return ""
	}

	r.mu.Lock()
	name, ok := r.folders[folderID]
	r.mu.Unlock()
	if ok {
		return name
	}

	name, err := s.source.FolderName(ctx, r.session, zone, folderID)
	if err != nil || name == "" {
		if err != nil {
			logger.Ctx(ctx).Warn("failed to resolve folder name", "folder_id", folderID, "error", err)
		}
		name = folderID
	}

	r.mu.Lock()
	r.folders[folderID] = name
	r.mu.Unlock()
	return name
}

func (s *SyncService) finish(ctx context.Context, report *domain.SyncReport, span trace.Span) {
	report.FinishedAt = time.Now().UTC()

	span.SetAttributes(
		attribute.Int("sync.zones", report.ZonesScanned),
		attribute.Int("sync.notes_changed", report.NotesChanged),
		attribute.Int("sync.notes_indexed", report.NotesIndexed),
		attribute.Int("sync.chunks_stored", report.ChunksStored),
		attribute.Int("sync.failures", len(report.Failures)),
	)

	// Saved on a fresh context so a cancelled run still records its outcome.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.reports.Save(saveCtx, report); err != nil {
		logger.Ctx(ctx).Error("failed to save sync report", "error", err)
	}

	s.events.Publish(ctx, domain.Event{Type: domain.EventSyncCompleted, Payload: report})

	level := slog.LevelInfo
	if report.Failed() {
		level = slog.LevelWarn
	}
	logger.Ctx(ctx).Log(ctx, level, "sync finished",
		"duration_ms", report.FinishedAt.Sub(report.StartedAt).Milliseconds(),
		"zones", report.ZonesScanned,
		"examined", report.NotesExamined,
		"changed", report.NotesChanged,
		"indexed", report.NotesIndexed,
		"chunks", report.ChunksStored,
		"stale_deleted", report.StaleChunksDeleted,
		"failures", len(report.Failures),
		"aborted", report.Aborted,
	)
}

// LastReport returns the outcome of the most recent run.
func (s *SyncService) LastReport(ctx context.Context) (*domain.SyncReport, error) {
	return s.reports.Last(ctx)
}
