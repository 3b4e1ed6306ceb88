// Package icloud talks to the iCloud web services: Apple ID sign-in with
// two-factor verification, and the CloudKit database holding Notes records.
package icloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"notes-sync-indexer/internal/domain"
	"notes-sync-indexer/internal/logger"

	"golang.org/x/time/rate"
)

const (
	DefaultAuthURL     = "https://idmsa.apple.com/appleauth/auth"
	DefaultSetupURL    = "https://setup.icloud.com/setup/ws/1"
	DefaultDatabaseURL = "https://p140-ckdatabasews.icloud.com"

	DefaultContainer = "com.apple.notes"
	DefaultDatabase  = "shared"

	databaseService = "ckdatabasews"

	// Widget key of the icloud.com web client.
	widgetKey = "d39ba9916b7251055b22c7f910e2ea796ee65e98b2ddecea8f5dde8d9d1a815d"
	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15"
	homeURL   = "https://www.icloud.com"

	maxResponseSize = 32 << 20
)

// Build identifiers sent with every CloudKit call, as the web client does.
var ckParams = map[string]string{
	"ckjsBuildVersion":      "2310ProjectDev27",
	"ckjsVersion":           "2.6.4",
	"clientBuildNumber":     "2420Project27",
	"clientMasteringNumber": "2420B21",
}

type Config struct {
	AuthURL     string
	SetupURL    string
	DatabaseURL string
	Container   string
	// Database is the CloudKit database scope: private or shared.
	Database          string
	RequestsPerSecond float64
	HTTPClient        *http.Client
}

// Client is stateless apart from transport concerns; everything tied to the
// account lives in the *domain.Session passed to each call.
type Client struct {
	authURL     string
	setupURL    string
	databaseURL string
	container   string
	database    string
	limiter     *rate.Limiter
	httpClient  *http.Client

	// guards session material shared between concurrent fetches
	mu sync.Mutex
}

func NewClient(cfg Config) *Client {
	c := &Client{
		authURL:     strings.TrimRight(cfg.AuthURL, "/"),
		setupURL:    strings.TrimRight(cfg.SetupURL, "/"),
		databaseURL: strings.TrimRight(cfg.DatabaseURL, "/"),
		container:   cfg.Container,
		database:    cfg.Database,
		httpClient:  cfg.HTTPClient,
	}
	if c.authURL == "" {
		c.authURL = DefaultAuthURL
	}
	if c.setupURL == "" {
		c.setupURL = DefaultSetupURL
	}
	if c.databaseURL == "" {
		c.databaseURL = DefaultDatabaseURL
	}
	if c.container == "" {
		c.container = DefaultContainer
	}
	if c.database == "" {
		c.database = DefaultDatabase
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c
}

type request struct {
	method  string
	url     string
	body    any
	headers map[string]string
}

type response struct {
	status  int
	header  http.Header
	body    []byte
	request string
}

func (r *response) decode(v any) error {
	if err := json.Unmarshal(r.body, v); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", r.request, err)
	}
	return nil
}

// do sends req with the session's cookies and folds any cookies set by the
// response back into the session.
func (c *Client) do(ctx context.Context, s *domain.Session, req request) (*response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var body io.Reader
	if req.body != nil {
		b, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Origin", homeURL)
	httpReq.Header.Set("Referer", homeURL+"/")
	httpReq.Header.Set("User-Agent", userAgent)
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}
	if cookie := c.cookieHeader(s); cookie != "" {
		httpReq.Header.Set("Cookie", cookie)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.storeCookies(s, resp.Cookies())

	logger.Ctx(ctx).Debug("icloud request",
		"method", req.method,
		"path", httpReq.URL.Path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(started).Milliseconds(),
	)

	return &response{
		status:  resp.StatusCode,
		header:  resp.Header,
		body:    respBody,
		request: httpReq.URL.Path,
	}, nil
}

func (c *Client) cookieHeader(s *domain.Session) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(s.Material.Cookies) == 0 {
		return ""
	}
	names := make([]string, 0, len(s.Material.Cookies))
	for name := range s.Material.Cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+s.Material.Cookies[name])
	}
	return strings.Join(parts, "; ")
}

func (c *Client) storeCookies(s *domain.Session, cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.Material.Cookies == nil {
		s.Material.Cookies = make(map[string]string)
	}
	for _, ck := range cookies {
		if ck.MaxAge < 0 || ck.Value == "" {
			delete(s.Material.Cookies, ck.Name)
			continue
		}
		s.Material.Cookies[ck.Name] = ck.Value
	}
}

func (c *Client) serviceURL(s *domain.Session, name, fallback string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if u := s.Material.ServiceURLs[name]; u != "" {
		return strings.TrimRight(u, "/")
	}
	return fallback
}
