package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"notes-sync-indexer/internal/domain"
	"notes-sync-indexer/internal/logger"
	"notes-sync-indexer/internal/repository"

	"github.com/google/uuid"
)

const (
	DefaultPollInterval       = 5 * time.Second
	DefaultSecondFactorWindow = 300 * time.Second

	maxStaleCodes = 8
)

type AuthConfig struct {
	Username    string
	Password    string
	Environment string
	// PollInterval is how often the code source is checked while a second
	// factor is pending; Deadline bounds the whole wait.
	PollInterval time.Duration
	Deadline     time.Duration
	// VerifyURL is advertised to clients when a code is needed.
	VerifyURL string
}

// AuthService drives a session from unauthenticated to authenticated,
// restoring persisted material when it still validates.
type AuthService struct {
	auth     Authenticator
	sessions repository.SessionRepository
	codes    CodeSource
	events   EventPublisher
	cfg      AuthConfig

	// serialises sign-in attempts
	mu      sync.Mutex
	current *domain.Session

	stateMu sync.RWMutex
	state   domain.SessionStatePayload
}

func NewAuthService(auth Authenticator, sessions repository.SessionRepository, codes CodeSource, events EventPublisher, cfg AuthConfig) *AuthService {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultSecondFactorWindow
	}
	if events == nil {
		events = nopPublisher{}
	}
	return &AuthService{
		auth:     auth,
		sessions: sessions,
		codes:    codes,
		events:   events,
		cfg:      cfg,
		state: domain.SessionStatePayload{
			Username:    cfg.Username,
			Environment: cfg.Environment,
			Phase:       domain.PhaseUnauthenticated,
		},
	}
}

// State returns the last published session state.
func (s *AuthService) State() domain.SessionStatePayload {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Authenticate returns an authenticated session, restoring and validating a
// known one before falling back to a full sign-in.
func (s *AuthService) Authenticate(ctx context.Context) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logger.Ctx(ctx).With("username", s.cfg.Username, "environment", s.cfg.Environment)

	session := s.restore(ctx)
	if session != nil {
		err := s.auth.Validate(ctx, session)
		if err == nil {
			log.Debug("restored session is valid")
			s.current = session
			s.transition(ctx, session, domain.PhaseAuthenticated, nil)
			return session, nil
		}
		log.Info("restored session no longer valid, signing in again", "error", err)

		s.current = nil
		if err := s.sessions.Delete(ctx, s.cfg.Username, s.cfg.Environment); err != nil {
			log.Warn("failed to delete stale session", "error", err)
		}
		clientID := session.Material.ClientID
		if clientID == "" {
			clientID = uuid.New().String()
		}
		session = domain.NewSession(s.cfg.Username, s.cfg.Environment, clientID)
		s.transition(ctx, session, domain.PhaseUnauthenticated, nil)
	} else {
		session = domain.NewSession(s.cfg.Username, s.cfg.Environment, uuid.New().String())
	}

	if err := s.auth.SignIn(ctx, session, s.cfg.Password); err != nil {
		return nil, s.fail(ctx, session, err)
	}

	if s.auth.RequiresSecondFactor(session) {
		if err := s.awaitSecondFactor(ctx, session); err != nil {
			return nil, s.fail(ctx, session, err)
		}
	}

	s.transition(ctx, session, domain.PhaseAuthenticated, nil)
	s.current = session

	if err := s.sessions.Save(ctx, session); err != nil {
		log.Error("failed to persist session", "error", err)
	}

	log.Info("signed in")
	return session, nil
}

func (s *AuthService) restore(ctx context.Context) *domain.Session {
	if s.current != nil {
		return s.current
	}

	session, err := s.sessions.Load(ctx, s.cfg.Username, s.cfg.Environment)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.Ctx(ctx).Warn("failed to load persisted session", "error", err)
		}
		return nil
	}
	return session
}

func (s *AuthService) awaitSecondFactor(ctx context.Context, session *domain.Session) error {
	log := logger.Ctx(ctx)
	deadline := time.Now().Add(s.cfg.Deadline)

	s.discardStaleCodes(ctx)
	s.transition(ctx, session, domain.PhaseAwaitingSecondFactor, nil)
	s.events.Publish(ctx, domain.Event{
		Type: domain.EventSecondFactorRequired,
		Payload: domain.SecondFactorPayload{
			Username:  s.cfg.Username,
			VerifyURL: s.cfg.VerifyURL,
			Deadline:  deadline.Unix(),
		},
	})
	log.Info("waiting for verification code", "deadline", deadline, "verify_url", s.cfg.VerifyURL)

	timer := time.NewTimer(s.cfg.Deadline)
	defer timer.Stop()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		code, ok, err := s.codes.Next(ctx)
		if err != nil {
			log.Warn("failed to poll verification code", "error", err)
		}
		if ok {
			return s.auth.SubmitSecondFactor(ctx, session, code)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return domain.ErrSecondFactorTimeout
		case <-ticker.C:
		}
	}
}

// discardStaleCodes empties the code source so a code sent for an earlier
// prompt is not submitted against this one.
func (s *AuthService) discardStaleCodes(ctx context.Context) {
	for i := 0; i < maxStaleCodes; i++ {
		_, ok, err := s.codes.Next(ctx)
		if err != nil || !ok {
			return
		}
		logger.Ctx(ctx).Info("discarded stale verification code")
	}
}

func (s *AuthService) fail(ctx context.Context, session *domain.Session, err error) error {
	s.transition(ctx, session, domain.PhaseFailed, err)
	logger.Ctx(ctx).Error("authentication failed", "username", s.cfg.Username, "error", err)

	var authErr *domain.AuthenticationError
	if errors.As(err, &authErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &domain.AuthenticationError{Username: s.cfg.Username, Err: fmt.Errorf("sign in: %w", err)}
}

func (s *AuthService) transition(ctx context.Context, session *domain.Session, phase domain.SessionPhase, err error) {
	session.Phase = phase

	state := domain.SessionStatePayload{
		Username:    s.cfg.Username,
		Environment: s.cfg.Environment,
		Phase:       phase,
	}
	if err != nil {
		state.Error = err.Error()
	}

	s.stateMu.Lock()
	changed := s.state != state
	s.state = state
	s.stateMu.Unlock()

	if changed {
		s.events.Publish(ctx, domain.Event{Type: domain.EventSessionState, Payload: state})
	}
}
