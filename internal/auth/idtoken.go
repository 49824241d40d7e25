package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	defaultJWKSCacheTTL = 10 * time.Minute
	// DefaultGoogleJWKSURL publishes Google's ID token signing keys.
	DefaultGoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
)

var defaultGoogleIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

var (
	errMissingToken         = errors.New("id token must not be empty")
	errMissingKeyIdentifier = errors.New("token missing key identifier")
	errKeyNotFound          = errors.New("signing key not found in JWKS")
	errUntrustedIssuer      = errors.New("token issuer not allowed")
	errMissingSubject       = errors.New("token missing subject claim")
	errMissingEmail         = errors.New("token missing verified email")
	errMissingAudience      = errors.New("audience configuration required")
	errMissingJWKSURL       = errors.New("jwks url configuration required")

	// ErrInvalidVerifierConfig indicates the verifier cannot be constructed.
	ErrInvalidVerifierConfig = errors.New("auth: invalid id token verifier config")
)

// GoogleVerifierConfig bundles configuration required to instantiate a GoogleVerifier.
type GoogleVerifierConfig struct {
	ClientID   string
	JWKSURL    string
	Issuers    []string
	HTTPClient *http.Client
	CacheTTL   time.Duration
	Logger     *zap.Logger
	Clock      func() time.Time
}

// Identity is the account an ID token vouches for.
type Identity struct {
	Subject string
	Email   string
	Expiry  time.Time
}

type googleClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// GoogleVerifier checks Google ID tokens offline against a cached JWKS and extracts the
// account email shown next to the sync controls.
type GoogleVerifier struct {
	clientID string
	issuers  map[string]struct{}
	clock    func() time.Time
	keys     *keySet
}

// NewGoogleVerifier constructs a verifier with validated configuration.
func NewGoogleVerifier(cfg GoogleVerifierConfig) (*GoogleVerifier, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	if clientID == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingAudience)
	}
	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidVerifierConfig, errMissingJWKSURL)
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultJWKSCacheTTL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	issuerList := cfg.Issuers
	if len(issuerList) == 0 {
		issuerList = defaultGoogleIssuers
	}
	issuers := make(map[string]struct{}, len(issuerList))
	for _, issuer := range issuerList {
		if trimmed := strings.TrimSpace(issuer); trimmed != "" {
			issuers[trimmed] = struct{}{}
		}
	}
	if len(issuers) == 0 {
		return nil, fmt.Errorf("%w: no allowed issuers", ErrInvalidVerifierConfig)
	}

	return &GoogleVerifier{
		clientID: clientID,
		issuers:  issuers,
		clock:    clock,
		keys: &keySet{
			url:        jwksURL,
			httpClient: httpClient,
			ttl:        ttl,
			logger:     logger,
		},
	}, nil
}

// Verify validates the raw ID token and returns the identity it asserts.
func (v *GoogleVerifier) Verify(ctx context.Context, rawToken string) (Identity, error) {
	if strings.TrimSpace(rawToken) == "" {
		return Identity{}, errMissingToken
	}

	claims := &googleClaims{}
	_, err := jwt.ParseWithClaims(
		rawToken,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			keyID, _ := token.Header["kid"].(string)
			if keyID == "" {
				return nil, errMissingKeyIdentifier
			}
			return v.keys.lookup(ctx, keyID, v.clock())
		},
		jwt.WithAudience(v.clientID),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithTimeFunc(v.clock),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Identity{}, err
	}
	if _, ok := v.issuers[claims.Issuer]; !ok {
		return Identity{}, errUntrustedIssuer
	}
	if claims.Subject == "" {
		return Identity{}, errMissingSubject
	}
	if claims.Email == "" || !claims.EmailVerified {
		return Identity{}, errMissingEmail
	}

	return Identity{
		Subject: claims.Subject,
		Email:   strings.ToLower(claims.Email),
		Expiry:  claims.ExpiresAt.Time,
	}, nil
}
