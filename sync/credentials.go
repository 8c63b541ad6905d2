// ABOUTME: CredentialStore contract for per-user calendar settings and OAuth tokens
// ABOUTME: Includes a mutex-guarded in-memory implementation for tests and embedding
package sync

import (
	"context"
	gosync "sync"

	"github.com/harperreed/issuecal/models"
)

// CredentialStore is the per-user property bag. Get returns an empty record
// (not an error) for unknown users.
type CredentialStore interface {
	Get(ctx context.Context, userID string) (*models.Credentials, error)
	Put(ctx context.Context, userID string, patch models.CredentialPatch) error
}

// MemoryCredentialStore keeps credentials in a map.
type MemoryCredentialStore struct {
	mu    gosync.RWMutex
	users map[string]models.Credentials
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{users: make(map[string]models.Credentials)}
}

func (s *MemoryCredentialStore) Get(_ context.Context, userID string) (*models.Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	creds, ok := s.users[userID]
	if !ok {
		return &models.Credentials{UserID: userID}, nil
	}
	return &creds, nil
}

func (s *MemoryCredentialStore) Put(_ context.Context, userID string, patch models.CredentialPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, ok := s.users[userID]
	if !ok {
		creds = models.Credentials{UserID: userID}
	}
	creds.Apply(patch)
	s.users[userID] = creds
	return nil
}
