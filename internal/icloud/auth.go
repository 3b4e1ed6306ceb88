package icloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"notes-sync-indexer/internal/domain"

	"github.com/google/uuid"
)

type signInRequest struct {
	AccountName string   `json:"accountName"`
	Password    string   `json:"password"`
	RememberMe  bool     `json:"rememberMe"`
	TrustTokens []string `json:"trustTokens"`
}

type securityCodeRequest struct {
	SecurityCode struct {
		Code string `json:"code"`
	} `json:"securityCode"`
}

type accountLoginRequest struct {
	AccountCountryCode string `json:"accountCountryCode"`
	DSWebAuthToken     string `json:"dsWebAuthToken"`
	ExtendedLogin      bool   `json:"extended_login"`
	TrustToken         string `json:"trustToken"`
}

type accountData struct {
	DSInfo struct {
		DSID string `json:"dsid"`
	} `json:"dsInfo"`
	Webservices map[string]struct {
		URL    string `json:"url"`
		Status string `json:"status"`
	} `json:"webservices"`
	HSAChallengeRequired bool `json:"hsaChallengeRequired"`
	HSATrustedBrowser    bool `json:"hsaTrustedBrowser"`
}

// SignIn submits the account credentials. When Apple asks for a second
// factor the session is flagged and the caller must follow up with
// SubmitSecondFactor; otherwise the session is fully set up on return.
func (c *Client) SignIn(ctx context.Context, s *domain.Session, password string) error {
	if s.Material.ClientID == "" {
		s.Material.ClientID = "auth-" + uuid.NewString()
	}
	s.SecondFactorRequired = false

	body := signInRequest{
		AccountName: s.Username,
		Password:    password,
		RememberMe:  true,
		TrustTokens: []string{},
	}
	if s.Material.TrustToken != "" {
		body.TrustTokens = []string{s.Material.TrustToken}
	}

	resp, err := c.do(ctx, s, request{
		method:  http.MethodPost,
		url:     c.authURL + "/signin?isRememberMeEnabled=true",
		body:    body,
		headers: c.authHeaders(s),
	})
	if err != nil {
		return &domain.TransportError{Op: "signin", Err: err}
	}
	c.captureAuthHeaders(s, resp.header)

	switch resp.status {
	case http.StatusOK:
	case http.StatusConflict:
		s.SecondFactorRequired = true
		return nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return &domain.AuthenticationError{Username: s.Username, Err: errors.New("invalid username or password")}
	default:
		return &domain.TransportError{Op: "signin", StatusCode: resp.status, Err: errors.New(string(resp.body))}
	}

	return c.accountLogin(ctx, s)
}

func (c *Client) RequiresSecondFactor(s *domain.Session) bool {
	return s.SecondFactorRequired
}

// SubmitSecondFactor verifies a code from a trusted device, asks Apple to
// trust this client, and completes the account login.
func (c *Client) SubmitSecondFactor(ctx context.Context, s *domain.Session, code string) error {
	var body securityCodeRequest
	body.SecurityCode.Code = code

	resp, err := c.do(ctx, s, request{
		method:  http.MethodPost,
		url:     c.authURL + "/verify/trusteddevice/securitycode",
		body:    body,
		headers: c.authHeaders(s),
	})
	if err != nil {
		return &domain.TransportError{Op: "verify security code", Err: err}
	}
	c.captureAuthHeaders(s, resp.header)

	switch {
	case resp.status == http.StatusOK || resp.status == http.StatusNoContent:
	case resp.status == http.StatusBadRequest || resp.status == http.StatusUnauthorized:
		return domain.ErrSecondFactorRejected
	default:
		return &domain.TransportError{Op: "verify security code", StatusCode: resp.status, Err: errors.New(string(resp.body))}
	}

	resp, err = c.do(ctx, s, request{
		method:  http.MethodGet,
		url:     c.authURL + "/2sv/trust",
		headers: c.authHeaders(s),
	})
	if err != nil {
		return &domain.TransportError{Op: "trust session", Err: err}
	}
	c.captureAuthHeaders(s, resp.header)
	if resp.status >= http.StatusBadRequest {
		return &domain.TransportError{Op: "trust session", StatusCode: resp.status, Err: errors.New(string(resp.body))}
	}

	s.SecondFactorRequired = false
	return c.accountLogin(ctx, s)
}

// Validate checks that a restored session is still accepted.
func (c *Client) Validate(ctx context.Context, s *domain.Session) error {
	resp, err := c.do(ctx, s, request{
		method: http.MethodPost,
		url:    c.setupURL + "/validate",
		body:   map[string]any{},
	})
	if err != nil {
		return &domain.TransportError{Op: "validate", Err: err}
	}
	if resp.status != http.StatusOK {
		return &domain.AuthenticationError{
			Username: s.Username,
			Err:      fmt.Errorf("session rejected with status %d", resp.status),
		}
	}

	var data accountData
	if err := resp.decode(&data); err != nil {
		return &domain.TransportError{Op: "validate", Err: err}
	}
	c.applyAccountData(s, &data)
	return nil
}

func (c *Client) accountLogin(ctx context.Context, s *domain.Session) error {
	resp, err := c.do(ctx, s, request{
		method: http.MethodPost,
		url:    c.setupURL + "/accountLogin",
		body: accountLoginRequest{
			AccountCountryCode: s.Material.AccountCountry,
			DSWebAuthToken:     s.Material.SessionToken,
			ExtendedLogin:      true,
			TrustToken:         s.Material.TrustToken,
		},
	})
	if err != nil {
		return &domain.TransportError{Op: "account login", Err: err}
	}
	if resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden {
		return &domain.AuthenticationError{Username: s.Username, Err: errors.New("account login rejected")}
	}
	if resp.status != http.StatusOK {
		return &domain.TransportError{Op: "account login", StatusCode: resp.status, Err: errors.New(string(resp.body))}
	}

	var data accountData
	if err := resp.decode(&data); err != nil {
		return &domain.TransportError{Op: "account login", Err: err}
	}
	if data.DSInfo.DSID == "" {
		return &domain.AuthenticationError{Username: s.Username, Err: errors.New("account login returned no dsid")}
	}
	c.applyAccountData(s, &data)

	if data.HSAChallengeRequired && !data.HSATrustedBrowser {
		s.SecondFactorRequired = true
	}
	return nil
}

func (c *Client) applyAccountData(s *domain.Session, data *accountData) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if data.DSInfo.DSID != "" {
		s.Material.DSID = data.DSInfo.DSID
	}
	for name, svc := range data.Webservices {
		if svc.URL == "" {
			continue
		}
		if s.Material.ServiceURLs == nil {
			s.Material.ServiceURLs = make(map[string]string)
		}
		s.Material.ServiceURLs[name] = svc.URL
	}
}

func (c *Client) authHeaders(s *domain.Session) map[string]string {
	h := map[string]string{
		"X-Apple-OAuth-Client-Id":          widgetKey,
		"X-Apple-OAuth-Client-Type":        "firstPartyAuth",
		"X-Apple-OAuth-Redirect-URI":       homeURL,
		"X-Apple-OAuth-Require-Grant-Code": "true",
		"X-Apple-OAuth-Response-Mode":      "web_message",
		"X-Apple-OAuth-Response-Type":      "code",
		"X-Apple-OAuth-State":              s.Material.ClientID,
		"X-Apple-Widget-Key":               widgetKey,
	}
	if s.Material.Scnt != "" {
		h["scnt"] = s.Material.Scnt
	}
	if s.Material.SessionID != "" {
		h["X-Apple-ID-Session-Id"] = s.Material.SessionID
	}
	return h
}

func (c *Client) captureAuthHeaders(s *domain.Session, h http.Header) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set := func(dst *string, key string) {
		if v := h.Get(key); v != "" {
			*dst = v
		}
	}
	set(&s.Material.AccountCountry, "X-Apple-ID-Account-Country")
	set(&s.Material.SessionID, "X-Apple-ID-Session-Id")
	set(&s.Material.SessionToken, "X-Apple-Session-Token")
	set(&s.Material.TrustToken, "X-Apple-TwoSV-Trust-Token")
	set(&s.Material.Scnt, "scnt")
}
