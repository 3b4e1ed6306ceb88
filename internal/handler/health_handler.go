package handler

import (
	"net/http"

	"notes-sync-indexer/pkg/response"
)

func Health(w http.ResponseWriter, r *http.Request) {
	response.OK(w, map[string]string{
		"status": "ok",
	})
}
