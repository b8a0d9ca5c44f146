package credentials

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type store interface {
	Put(ctx context.Context, userID uuid.UUID, sealed []byte) error
	Get(ctx context.Context, userID uuid.UUID) ([]byte, error)
}

// Service seals and stores each user's aggregator API key.
type Service struct {
	store  store
	sealer *Sealer
}

// NewService constructs a Service. A nil sealer disables saving and reading keys.
func NewService(store store, sealer *Sealer) *Service {
	return &Service{store: store, sealer: sealer}
}

// Save seals and stores apiKey for userID.
func (s *Service) Save(ctx context.Context, userID uuid.UUID, apiKey string) error {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return ErrEmptyKey
	}
	if s.sealer == nil {
		return ErrSealingDisabled
	}
	sealed, err := s.sealer.Seal([]byte(apiKey))
	if err != nil {
		return err
	}
	return s.store.Put(ctx, userID, sealed)
}

// APIKey returns the plaintext key for userID, or ErrNotConfigured.
func (s *Service) APIKey(ctx context.Context, userID uuid.UUID) (string, error) {
	if s.sealer == nil {
		return "", ErrSealingDisabled
	}
	sealed, err := s.store.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	plain, err := s.sealer.Open(sealed)
	if err != nil {
		return "", fmt.Errorf("open credentials for %s: %w", userID, err)
	}
	return string(plain), nil
}

// Configured reports whether userID has a stored key.
func (s *Service) Configured(ctx context.Context, userID uuid.UUID) (bool, error) {
	_, err := s.store.Get(ctx, userID)
	switch {
	case err == nil:
		return true, nil
	case err == ErrNotConfigured:
		return false, nil
	default:
		return false, err
	}
}
