// README: Device token registry for push delivery.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"firebase.google.com/go/v4/db"

	"carpool/internal/types"
)

var ErrNoToken = errors.New("no device token registered")

type TokenStore interface {
	Register(ctx context.Context, userID types.ID, token string) error
	Token(ctx context.Context, userID types.ID) (string, error)
}

const tokensNode = "fcm_tokens"

type tokenEntry struct {
	Token     string `json:"token"`
	UpdatedAt int64  `json:"updated_at"`
}

// RTDBTokens keeps one device token per user under fcm_tokens/{uid} in the
// Firebase realtime database.
type RTDBTokens struct {
	client *db.Client
}

func NewRTDBTokens(client *db.Client) *RTDBTokens {
	return &RTDBTokens{client: client}
}

func (r *RTDBTokens) Register(ctx context.Context, userID types.ID, token string) error {
	entry := tokenEntry{Token: token, UpdatedAt: time.Now().UnixMilli()}
	if err := r.client.NewRef(tokensNode).Child(string(userID)).Set(ctx, entry); err != nil {
		return fmt.Errorf("saving device token: %w", err)
	}
	return nil
}

func (r *RTDBTokens) Token(ctx context.Context, userID types.ID) (string, error) {
	var entry tokenEntry
	if err := r.client.NewRef(tokensNode).Child(string(userID)).Get(ctx, &entry); err != nil {
		return "", fmt.Errorf("reading device token: %w", err)
	}
	if entry.Token == "" {
		return "", ErrNoToken
	}
	return entry.Token, nil
}

// MemoryTokens is the registry used when Firebase is not configured.
type MemoryTokens struct {
	mu     sync.RWMutex
	tokens map[types.ID]string
}

func NewMemoryTokens() *MemoryTokens {
	return &MemoryTokens{tokens: make(map[types.ID]string)}
}

func (m *MemoryTokens) Register(_ context.Context, userID types.ID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[userID] = token
	return nil
}

func (m *MemoryTokens) Token(_ context.Context, userID types.ID) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[userID]
	if !ok {
		return "", ErrNoToken
	}
	return t, nil
}
