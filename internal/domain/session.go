package domain

import "time"

type SessionPhase string

const (
	PhaseUnauthenticated      SessionPhase = "unauthenticated"
	PhaseAwaitingSecondFactor SessionPhase = "awaiting_second_factor"
	PhaseAuthenticated        SessionPhase = "authenticated"
	PhaseFailed               SessionPhase = "failed"
)

// SessionMaterial is everything the remote service needs to recognise a
// previously authenticated client.
type SessionMaterial struct {
	SessionToken   string            `json:"session_token,omitempty" bson:"session_token,omitempty"`
	TrustToken     string            `json:"trust_token,omitempty" bson:"trust_token,omitempty"`
	AccountCountry string            `json:"account_country,omitempty" bson:"account_country,omitempty"`
	SessionID      string            `json:"session_id,omitempty" bson:"session_id,omitempty"`
	Scnt           string            `json:"scnt,omitempty" bson:"scnt,omitempty"`
	DSID           string            `json:"dsid,omitempty" bson:"dsid,omitempty"`
	ClientID       string            `json:"client_id" bson:"client_id"`
	Cookies        map[string]string `json:"cookies" bson:"cookies"`
	ServiceURLs    map[string]string `json:"service_urls,omitempty" bson:"service_urls,omitempty"`
}

type Session struct {
	Username    string          `json:"username" bson:"username"`
	Environment string          `json:"environment" bson:"environment"`
	Phase       SessionPhase    `json:"phase" bson:"phase"`
	Material    SessionMaterial `json:"material" bson:"material"`
	UpdatedAt   time.Time       `json:"updated_at" bson:"updated_at"`

	// Set by the authenticator during sign-in; never persisted.
	SecondFactorRequired bool `json:"-" bson:"-"`
}

func NewSession(username, environment, clientID string) *Session {
	return &Session{
		Username:    username,
		Environment: environment,
		Phase:       PhaseUnauthenticated,
		Material: SessionMaterial{
			ClientID: clientID,
			Cookies:  make(map[string]string),
		},
	}
}

func (s *Session) Authenticated() bool {
	return s.Phase == PhaseAuthenticated
}
