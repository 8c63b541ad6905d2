// ABOUTME: Credential and event-reference stores on Charm KV
// ABOUTME: Lets several devices share per-user calendar settings through charm sync

package charm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/harperreed/issuecal/models"
)

const (
	credentialsPrefix = "credentials/"
	eventsPrefix      = "events/"
)

// credentialRecord is the stored shape; tokenExpiry is epoch millis.
type credentialRecord struct {
	CalendarID   string `json:"calendarId,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	AccessToken  string `json:"accessToken,omitempty"`
	TokenExpiry  int64  `json:"tokenExpiry,omitempty"`
	RelayURL     string `json:"relayUrl,omitempty"`
	RelayAPIKey  string `json:"relayApiKey,omitempty"`
}

// Sealer encrypts secret fields before they leave the machine. *db.Sealer
// satisfies it.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(stored string) (string, error)
}

// CredentialStore keeps one JSON record per user under credentials/<id>.
// Tokens and the relay key are sealed when a sealer is configured.
type CredentialStore struct {
	client *Client
	sealer Sealer
	mu     sync.Mutex
}

func NewCredentialStore(client *Client, sealer Sealer) *CredentialStore {
	return &CredentialStore{client: client, sealer: sealer}
}

func (s *CredentialStore) seal(value string) (string, error) {
	if s.sealer == nil {
		return value, nil
	}
	return s.sealer.Seal(value)
}

func (s *CredentialStore) open(value string) (string, error) {
	if s.sealer == nil {
		return value, nil
	}
	return s.sealer.Open(value)
}

func (s *CredentialStore) Get(_ context.Context, userID string) (*models.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(userID)
}

func (s *CredentialStore) get(userID string) (*models.Credentials, error) {
	creds := &models.Credentials{UserID: userID}

	data, err := s.client.Get([]byte(credentialsPrefix + userID))
	if isNotFound(err) {
		return creds, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}

	var rec credentialRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode credentials: %w", err)
	}

	creds.CalendarID = rec.CalendarID
	creds.RelayURL = rec.RelayURL
	if creds.RefreshToken, err = s.open(rec.RefreshToken); err != nil {
		return nil, fmt.Errorf("failed to open refresh token: %w", err)
	}
	if creds.AccessToken, err = s.open(rec.AccessToken); err != nil {
		return nil, fmt.Errorf("failed to open access token: %w", err)
	}
	if creds.RelayAPIKey, err = s.open(rec.RelayAPIKey); err != nil {
		return nil, fmt.Errorf("failed to open relay key: %w", err)
	}
	if rec.TokenExpiry > 0 {
		creds.TokenExpiry = time.UnixMilli(rec.TokenExpiry).UTC()
	}
	return creds, nil
}

func (s *CredentialStore) Put(_ context.Context, userID string, patch models.CredentialPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	creds, err := s.get(userID)
	if err != nil {
		return err
	}
	creds.Apply(patch)

	rec := credentialRecord{CalendarID: creds.CalendarID, RelayURL: creds.RelayURL}
	if rec.RefreshToken, err = s.seal(creds.RefreshToken); err != nil {
		return err
	}
	if rec.AccessToken, err = s.seal(creds.AccessToken); err != nil {
		return err
	}
	if rec.RelayAPIKey, err = s.seal(creds.RelayAPIKey); err != nil {
		return err
	}
	if !creds.TokenExpiry.IsZero() {
		rec.TokenExpiry = creds.TokenExpiry.UnixMilli()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode credentials: %w", err)
	}
	if err := s.client.Set([]byte(credentialsPrefix+userID), data); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

// ListUsers returns every user with stored credentials.
func (s *CredentialStore) ListUsers(_ context.Context) ([]string, error) {
	keys, err := s.client.KeysWithPrefix(credentialsPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	users := make([]string, 0, len(keys))
	for _, k := range keys {
		users = append(users, strings.TrimPrefix(k, credentialsPrefix))
	}
	return users, nil
}

// EventRefStore keeps issue event ids under events/<issue>.
type EventRefStore struct {
	client *Client
}

func NewEventRefStore(client *Client) *EventRefStore {
	return &EventRefStore{client: client}
}

func (s *EventRefStore) EventID(_ context.Context, issueID string) (string, error) {
	data, err := s.client.Get([]byte(eventsPrefix + issueID))
	if isNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get event id: %w", err)
	}
	return string(data), nil
}

func (s *EventRefStore) SetEventID(_ context.Context, issueID, eventID string) error {
	key := []byte(eventsPrefix + issueID)
	if eventID == "" {
		if err := s.client.Delete(key); err != nil && !isNotFound(err) {
			return fmt.Errorf("failed to clear event id: %w", err)
		}
		return nil
	}
	if err := s.client.Set(key, []byte(eventID)); err != nil {
		return fmt.Errorf("failed to set event id: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, badger.ErrKeyNotFound)
}
