package credential

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zalando/go-keyring"

	apperrors "github.com/go-i2p/wgclient/lib/errors"
)

// DefaultKeyringService is the keyring service name tokens are stored under.
const DefaultKeyringService = "wgclient"

const tokenKey = "access-token"

// TokenStore persists the account access token.
type TokenStore interface {
	Token() (string, error)
	SetToken(token string) error
	Clear() error
}

// KeyringTokenStore keeps the token in the system keyring.
type KeyringTokenStore struct {
	service string
	account string
}

// NewKeyringTokenStore returns a store for one account under service.
// An empty service selects DefaultKeyringService.
func NewKeyringTokenStore(service, account string) *KeyringTokenStore {
	if service == "" {
		service = DefaultKeyringService
	}
	if account == "" {
		account = tokenKey
	}
	return &KeyringTokenStore{service: service, account: account}
}

// Token returns the stored token. A missing entry yields ErrNotFound.
func (s *KeyringTokenStore) Token() (string, error) {
	token, err := keyring.Get(s.service, s.account)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", fmt.Errorf("access token: %w", apperrors.ErrNotFound)
		}
		return "", fmt.Errorf("failed to read access token: %w", err)
	}
	return token, nil
}

// SetToken stores token, replacing any previous value.
func (s *KeyringTokenStore) SetToken(token string) error {
	if token == "" {
		return fmt.Errorf("%w: empty access token", apperrors.ErrInvalidInput)
	}
	if err := keyring.Set(s.service, s.account, token); err != nil {
		return fmt.Errorf("failed to store access token: %w", err)
	}
	log.WithField("service", s.service).Debug("Stored access token in keyring")
	return nil
}

// Clear removes the stored token. Clearing a missing token is not an error.
func (s *KeyringTokenStore) Clear() error {
	err := keyring.Delete(s.service, s.account)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete access token: %w", err)
	}
	return nil
}

// MemoryTokenStore holds the token in memory.
type MemoryTokenStore struct {
	mu    sync.RWMutex
	token string
}

// NewMemoryTokenStore returns a store seeded with token, which may be empty.
func NewMemoryTokenStore(token string) *MemoryTokenStore {
	return &MemoryTokenStore{token: token}
}

func (s *MemoryTokenStore) Token() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == "" {
		return "", fmt.Errorf("access token: %w", apperrors.ErrNotFound)
	}
	return s.token, nil
}

func (s *MemoryTokenStore) SetToken(token string) error {
	if token == "" {
		return fmt.Errorf("%w: empty access token", apperrors.ErrInvalidInput)
	}
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return nil
}

func (s *MemoryTokenStore) Clear() error {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
	return nil
}
