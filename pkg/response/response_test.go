package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOK(t *testing.T) {
	rec := httptest.NewRecorder()
	OK(rec, map[string]int{"chunks": 3})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	want := `{"ok":true,"data":{"chunks":3}}` + "\n"
	if rec.Body.String() != want {
		t.Errorf("body = %s, want %s", rec.Body.String(), want)
	}
}

func TestFailures(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w http.ResponseWriter)
		wantStatus int
		wantCode   Code
	}{
		{"invalid request", func(w http.ResponseWriter) { InvalidRequest(w, "bad") }, http.StatusBadRequest, CodeInvalidRequest},
		{"unauthorized", func(w http.ResponseWriter) { Unauthorized(w, "bad") }, http.StatusUnauthorized, CodeUnauthorized},
		{"not found", func(w http.ResponseWriter) { NotFound(w, "bad") }, http.StatusNotFound, CodeNotFound},
		{"internal", func(w http.ResponseWriter) { Internal(w, "bad") }, http.StatusInternalServerError, CodeInternal},
		{"rate limited", func(w http.ResponseWriter) {
			Fail(w, http.StatusTooManyRequests, CodeRateLimited, "bad")
		}, http.StatusTooManyRequests, CodeRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var env Envelope
			if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if env.OK || env.Data != nil {
				t.Errorf("expected an error-only envelope, got %s", rec.Body.String())
			}
			if env.Error == nil || env.Error.Code != tt.wantCode || env.Error.Message != "bad" {
				t.Errorf("error = %+v, want code %s", env.Error, tt.wantCode)
			}
		})
	}
}
