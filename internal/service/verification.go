package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"notes-sync-indexer/internal/domain"
	"notes-sync-indexer/pkg/hash"
)

// Mailbox holds at most one pending verification code. A newer delivery
// replaces an unread one.
type Mailbox struct {
	mu   sync.Mutex
	code string
	set  bool
}

func NewMailbox() *Mailbox {
	return &Mailbox{}
}

func (m *Mailbox) Deliver(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.code = code
	m.set = true
}

// Take removes and returns the pending code.
func (m *Mailbox) Take() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.set {
		return "", false
	}
	code := m.code
	m.code, m.set = "", false
	return code, true
}

func (m *Mailbox) Next(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	code, ok := m.Take()
	return code, ok, nil
}

// HTTPCodeSource polls a running server for a code delivered to its
// verification endpoint.
type HTTPCodeSource struct {
	endpoint   string
	key        string
	httpClient *http.Client
}

func NewHTTPCodeSource(serverURL, key string, httpClient *http.Client) *HTTPCodeSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPCodeSource{
		endpoint:   strings.TrimRight(serverURL, "/") + "/api/v1/verification/code",
		key:        key,
		httpClient: httpClient,
	}
}

func (c *HTTPCodeSource) Next(ctx context.Context) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?key="+url.QueryEscape(c.key), nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("failed to poll verification code: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", false, fmt.Errorf("verification endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		Data domain.CodeStatusResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", false, fmt.Errorf("failed to decode verification response: %w", err)
	}
	if out.Data.Code == nil || *out.Data.Code == "" {
		return "", false, nil
	}
	return *out.Data.Code, true, nil
}

// VerificationService guards the mailbox behind a shared key whose bcrypt
// hash is configured on the server.
type VerificationService struct {
	mailbox *Mailbox
	keyHash string
}

func NewVerificationService(mailbox *Mailbox, keyHash string) *VerificationService {
	return &VerificationService{
		mailbox: mailbox,
		keyHash: keyHash,
	}
}

func (s *VerificationService) Submit(req *domain.SubmitCodeRequest) error {
	if err := s.checkKey(req.Key); err != nil {
		return err
	}
	s.mailbox.Deliver(strings.TrimSpace(req.Code))
	return nil
}

// Pending pops the waiting code, if any.
func (s *VerificationService) Pending(key string) (*domain.CodeStatusResponse, error) {
	if err := s.checkKey(key); err != nil {
		return nil, err
	}
	res := &domain.CodeStatusResponse{}
	if code, ok := s.mailbox.Take(); ok {
		res.Code = &code
	}
	return res, nil
}

func (s *VerificationService) checkKey(key string) error {
	if s.keyHash == "" || key == "" {
		return ErrInvalidVerifyKey
	}
	if err := hash.Compare(s.keyHash, key); err != nil {
		return ErrInvalidVerifyKey
	}
	return nil
}
