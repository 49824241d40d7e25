package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/fueltrack/internal/events"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const tokenExpiryLeeway = 30 * time.Second

var (
	// ErrSignedOut indicates the session holds no usable access token.
	ErrSignedOut = errors.New("auth: signed out")
	// ErrInvalidSignIn indicates the sign-in request carried no access token.
	ErrInvalidSignIn = errors.New("auth: access token required")
	// ErrInvalidIDToken indicates the ID token supplied at sign-in failed verification.
	ErrInvalidIDToken = errors.New("auth: id token rejected")
)

// IDTokenVerifier resolves an ID token into the identity it asserts.
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (Identity, error)
}

// SignInRequest is what the token acquisition flow hands over.
type SignInRequest struct {
	AccessToken string
	Expiry      time.Time
	IDToken     string
	Email       string
}

// State is the observable auth state.
type State struct {
	SignedIn bool      `json:"signed_in"`
	Email    string    `json:"email,omitempty"`
	Expiry   time.Time `json:"expiry,omitempty"`
}

// SessionConfig describes the dependencies of a Session.
type SessionConfig struct {
	Verifier    IDTokenVerifier
	Credentials CredentialStore
	Events      *events.Dispatcher
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Session owns the bearer token capability and publishes every change to it. It
// implements oauth2.TokenSource.
type Session struct {
	verifier    IDTokenVerifier
	credentials CredentialStore
	events      *events.Dispatcher
	clock       func() time.Time
	logger      *zap.Logger

	mu    sync.RWMutex
	token *oauth2.Token
	email string
}

// NewSession constructs a signed-out Session.
func NewSession(cfg SessionConfig) *Session {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		verifier:    cfg.Verifier,
		credentials: cfg.Credentials,
		events:      cfg.Events,
		clock:       clock,
		logger:      logger,
	}
}

// Resume loads persisted credentials, if any. A missing or expired credential leaves the
// session signed out without error.
func (s *Session) Resume(ctx context.Context) (State, error) {
	if s.credentials == nil {
		return s.State(), nil
	}
	stored, err := s.credentials.Load()
	if errors.Is(err, ErrNoCredentials) {
		return s.State(), nil
	}
	if err != nil {
		return s.State(), err
	}
	token := &oauth2.Token{AccessToken: stored.AccessToken, TokenType: stored.TokenType, Expiry: stored.Expiry}
	if !s.usable(token) {
		s.logger.Info("stored session expired", zap.Time("expiry", stored.Expiry))
		return s.State(), nil
	}
	s.set(token, stored.Email)
	return s.State(), nil
}

// SignIn installs a new access token. When an ID token is supplied it is verified and its
// email wins over the one given in the request.
func (s *Session) SignIn(ctx context.Context, request SignInRequest) (State, error) {
	accessToken := strings.TrimSpace(request.AccessToken)
	if accessToken == "" {
		return s.State(), ErrInvalidSignIn
	}
	email := strings.TrimSpace(request.Email)
	if request.IDToken != "" && s.verifier != nil {
		identity, err := s.verifier.Verify(ctx, request.IDToken)
		if err != nil {
			s.logger.Warn("id token rejected", zap.Error(err))
			return s.State(), fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
		}
		email = identity.Email
	}
	token := &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer", Expiry: request.Expiry}
	if s.credentials != nil {
		err := s.credentials.Save(Credentials{
			AccessToken: token.AccessToken,
			TokenType:   token.TokenType,
			Expiry:      token.Expiry,
			Email:       email,
		})
		if err != nil {
			s.logger.Warn("failed to persist credentials", zap.Error(err))
		}
	}
	s.set(token, email)
	return s.State(), nil
}

// SignOut drops the token and any persisted credentials.
func (s *Session) SignOut(ctx context.Context) error {
	if s.credentials != nil {
		if err := s.credentials.Delete(); err != nil {
			return err
		}
	}
	s.set(nil, "")
	return nil
}

// Token returns the current bearer token or ErrSignedOut.
func (s *Session) Token() (*oauth2.Token, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	if !s.usable(token) {
		return nil, ErrSignedOut
	}
	return token, nil
}

// State returns a snapshot of the auth state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.usable(s.token) {
		return State{}
	}
	return State{SignedIn: true, Email: s.email, Expiry: s.token.Expiry}
}

func (s *Session) usable(token *oauth2.Token) bool {
	if token == nil || token.AccessToken == "" {
		return false
	}
	if token.Expiry.IsZero() {
		return true
	}
	return s.clock().Add(tokenExpiryLeeway).Before(token.Expiry)
}

func (s *Session) set(token *oauth2.Token, email string) {
	s.mu.Lock()
	s.token = token
	s.email = email
	s.mu.Unlock()

	state := s.State()
	s.logger.Info("auth state changed", zap.Bool("signed_in", state.SignedIn), zap.String("email", state.Email))
	s.events.Publish(events.Event{
		Kind: events.KindAuthChanged,
		Attrs: map[string]string{
			"signed_in": boolString(state.SignedIn),
			"email":     state.Email,
		},
		Timestamp: s.clock().UTC(),
	})
}

func boolString(value bool) string {
	if value {
		return "true"
	}
	return "false"
}
