package handler

import (
	"context"
	"errors"
	"net/http"

	"notes-sync-indexer/internal/domain"
	"notes-sync-indexer/internal/logger"
	"notes-sync-indexer/pkg/response"
)

type SyncHandler struct {
	syncService SyncRunner
	session     SessionStater
	// runs outlive the request that triggered them
	baseCtx context.Context
}

func NewSyncHandler(baseCtx context.Context, syncService SyncRunner, session SessionStater) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		session:     session,
		baseCtx:     baseCtx,
	}
}

// Trigger starts a sync run in the background. Progress is reported on the
// event stream.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if h.syncService.InProgress() {
		response.Fail(w, http.StatusConflict, response.CodeSyncInProgress, domain.ErrSyncInProgress.Error())
		return
	}

	log := logger.Ctx(r.Context())
	ctx := logger.WithLogger(h.baseCtx, log)
	go func() {
		if _, err := h.syncService.Run(ctx); err != nil {
			if errors.Is(err, domain.ErrSyncInProgress) {
				log.Info("sync already running, trigger ignored")
				return
			}
			log.Error("triggered sync aborted", "error", err)
		}
	}()

	response.Accepted(w, map[string]string{
		"message": "Sync started",
	})
}

func (h *SyncHandler) Last(w http.ResponseWriter, r *http.Request) {
	report, err := h.syncService.LastReport(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.NotFound(w, "No sync has completed yet")
			return
		}
		logger.Ctx(r.Context()).Error("failed to load sync report", "error", err)
		response.Internal(w, "Failed to load sync report")
		return
	}

	response.OK(w, report)
}

func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]interface{}{
		"session":     h.session.State(),
		"in_progress": h.syncService.InProgress(),
	})
}
