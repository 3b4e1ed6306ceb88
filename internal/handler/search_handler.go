package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"notes-sync-indexer/internal/domain"
	"notes-sync-indexer/internal/logger"
	"notes-sync-indexer/internal/middleware"
	"notes-sync-indexer/pkg/response"

	"github.com/go-playground/validator/v10"
)

type SearchHandler struct {
	searchService Searcher
	validator     *validator.Validate
}

func NewSearchHandler(searchService Searcher) *SearchHandler {
	return &SearchHandler{
		searchService: searchService,
		validator:     validator.New(),
	}
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r)
	if ownerID == "" {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req domain.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.InvalidRequest(w, "Invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		response.InvalidRequest(w, "search_query is required")
		return
	}

	res, err := h.searchService.Search(r.Context(), ownerID, &req)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			response.NotFound(w, "No results found")
			return
		}
		logger.Ctx(r.Context()).Error("search failed", "error", err)
		response.Internal(w, "Search failed")
		return
	}

	response.OK(w, res)
}
