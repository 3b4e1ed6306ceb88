package handler

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strings"

	"notes-sync-indexer/internal/domain"
	"notes-sync-indexer/internal/logger"
	"notes-sync-indexer/internal/service"
	"notes-sync-indexer/pkg/response"

	"github.com/go-playground/validator/v10"
)

var verifyPage = template.Must(template.New("verify").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Verification code</title></head>
<body>
<h1>Enter the verification code</h1>
{{if .Message}}<p>{{.Message}}</p>{{end}}
<form method="post" action="/api/v1/verification/code">
<label>Key <input type="password" name="key" value="{{.Key}}" required></label><br>
<label>Code <input type="text" name="code" inputmode="numeric" autocomplete="one-time-code" required></label><br>
<button type="submit">Submit</button>
</form>
</body>
</html>
`))

type verifyPageData struct {
	Key     string
	Message string
}

type VerificationHandler struct {
	verificationService CodeVerifier
	validator           *validator.Validate
}

func NewVerificationHandler(verificationService CodeVerifier) *VerificationHandler {
	return &VerificationHandler{
		verificationService: verificationService,
		validator:           validator.New(),
	}
}

// Page serves the form a person uses to hand over the code sent to their
// trusted device.
func (h *VerificationHandler) Page(w http.ResponseWriter, r *http.Request) {
	h.renderPage(w, http.StatusOK, verifyPageData{Key: r.URL.Query().Get("key")})
}

// Submit accepts a code either from the form or as JSON.
func (h *VerificationHandler) Submit(w http.ResponseWriter, r *http.Request) {
	fromForm := !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")

	var req domain.SubmitCodeRequest
	if fromForm {
		if err := r.ParseForm(); err != nil {
			response.InvalidRequest(w, "Invalid form")
			return
		}
		req.Key = r.PostForm.Get("key")
		req.Code = r.PostForm.Get("code")
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.InvalidRequest(w, "Invalid request body")
		return
	}
	req.Code = strings.TrimSpace(req.Code)

	if err := h.validator.Struct(req); err != nil {
		if fromForm {
			h.renderPage(w, http.StatusBadRequest, verifyPageData{Key: req.Key, Message: "The code must be 4 to 8 digits."})
			return
		}
		response.InvalidRequest(w, err.Error())
		return
	}

	if err := h.verificationService.Submit(&req); err != nil {
		if errors.Is(err, service.ErrInvalidVerifyKey) {
			if fromForm {
				h.renderPage(w, http.StatusUnauthorized, verifyPageData{Message: "Invalid key."})
				return
			}
			response.Unauthorized(w, err.Error())
			return
		}
		logger.Ctx(r.Context()).Error("failed to accept verification code", "error", err)
		response.Internal(w, "Failed to accept code")
		return
	}

	logger.Ctx(r.Context()).Info("verification code received")
	if fromForm {
		h.renderPage(w, http.StatusOK, verifyPageData{Message: "Code received. You can close this page."})
		return
	}
	response.Accepted(w, map[string]string{
		"message": "Code received",
	})
}

// Pending hands the waiting code to a standalone sync process.
func (h *VerificationHandler) Pending(w http.ResponseWriter, r *http.Request) {
	res, err := h.verificationService.Pending(r.URL.Query().Get("key"))
	if err != nil {
		if errors.Is(err, service.ErrInvalidVerifyKey) {
			response.Unauthorized(w, err.Error())
			return
		}
		response.Internal(w, "Failed to read code")
		return
	}
	response.OK(w, res)
}

func (h *VerificationHandler) renderPage(w http.ResponseWriter, status int, data verifyPageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = verifyPage.Execute(w, data)
}
