package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zalando/go-keyring"
)

const (
	defaultKeyringService = "fueltrack"
	defaultKeyringUser    = "google-drive"
)

// ErrNoCredentials indicates nothing is persisted for the session.
var ErrNoCredentials = errors.New("auth: no stored credentials")

// Credentials is the persisted form of a signed-in session.
type Credentials struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type,omitempty"`
	Expiry      time.Time `json:"expiry"`
	Email       string    `json:"email,omitempty"`
}

// CredentialStore persists the session between CLI invocations.
type CredentialStore interface {
	Save(Credentials) error
	Load() (Credentials, error)
	Delete() error
}

// KeyringStore keeps credentials in the operating system keychain.
type KeyringStore struct {
	service string
	user    string
}

// NewKeyringStore constructs a KeyringStore. Empty arguments select the defaults.
func NewKeyringStore(service, user string) *KeyringStore {
	if service == "" {
		service = defaultKeyringService
	}
	if user == "" {
		user = defaultKeyringUser
	}
	return &KeyringStore{service: service, user: user}
}

func (s *KeyringStore) Save(credentials Credentials) error {
	payload, err := json.Marshal(credentials)
	if err != nil {
		return fmt.Errorf("auth: encode credentials: %w", err)
	}
	if err := keyring.Set(s.service, s.user, string(payload)); err != nil {
		return fmt.Errorf("auth: store credentials: %w", err)
	}
	return nil
}

func (s *KeyringStore) Load() (Credentials, error) {
	payload, err := keyring.Get(s.service, s.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return Credentials{}, ErrNoCredentials
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("auth: read credentials: %w", err)
	}
	var credentials Credentials
	if err := json.Unmarshal([]byte(payload), &credentials); err != nil {
		return Credentials{}, fmt.Errorf("auth: decode credentials: %w", err)
	}
	return credentials, nil
}

func (s *KeyringStore) Delete() error {
	err := keyring.Delete(s.service, s.user)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("auth: delete credentials: %w", err)
	}
	return nil
}
