// Package history implements the durable per-user conversation log: a single
// unified, bounded, oldest-first sequence backed by a key-value store with
// per-key TTL. The log is provider-agnostic so a conversation continues
// seamlessly across a provider switch.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Defaults from the unified-log revision.
const (
	// DefaultCap is the maximum number of entries kept per user.
	DefaultCap = 100

	// DefaultTTL is the retention window, refreshed on every write.
	DefaultTTL = 30 * 24 * time.Hour
)

// Roles for history entries.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNotFound is returned by KV.Get for a missing key.
var ErrNotFound = errors.New("history: key not found")

// KV is the minimal durable key-value surface the store needs. The Redis
// client implements it in production; tests inject an in-memory fake.
type KV interface {
	// Get returns the value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores value at key with the given TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Del removes the given keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error
}

// Entry is one message in a user's conversation log.
type Entry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Provider tags which backend produced an assistant entry. It is never
	// replayed into completion requests.
	Provider string `json:"source,omitempty"`
}

// Store is the chat-history store.
type Store struct {
	kv     KV
	cap    int
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a history store. Zero cap/ttl fall back to defaults.
func New(kv KV, capacity int, ttl time.Duration, logger *slog.Logger) *Store {
	if capacity <= 0 {
		capacity = DefaultCap
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		kv:     kv,
		cap:    capacity,
		ttl:    ttl,
		logger: logger.With("component", "history"),
	}
}

// Append adds an entry to the user's log, evicting from the front while the
// cap is exceeded, and refreshes the retention TTL to the full window.
func (s *Store) Append(ctx context.Context, userID, role, content, provider string) error {
	entries := s.Read(ctx, userID)

	entries = append(entries, Entry{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Provider:  provider,
	})
	for len(entries) > s.cap {
		entries = entries[1:]
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("history: marshaling log: %w", err)
	}

	if err := s.kv.Set(ctx, chatKey(userID), string(data), s.ttl); err != nil {
		return fmt.Errorf("history: writing log: %w", err)
	}
	return nil
}

// Read returns the user's log, oldest first. Store failures degrade to "no
// history" rather than propagating: a broken store must not abort the
// conversation.
func (s *Store) Read(ctx context.Context, userID string) []Entry {
	raw, err := s.kv.Get(ctx, chatKey(userID))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Error("history read failed, degrading to empty",
				"user", userID, "error", err)
		}
		return nil
	}

	var entries []Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		s.logger.Error("history log corrupted, degrading to empty",
			"user", userID, "error", err)
		return nil
	}
	return entries
}

// Clear deletes the user's log, including the legacy per-provider keys kept
// for backward compatibility. Idempotent.
func (s *Store) Clear(ctx context.Context, userID string) error {
	keys := []string{
		chatKey(userID),
		legacyKey(userID, "primary"),
		legacyKey(userID, "secondary"),
	}
	if err := s.kv.Del(ctx, keys...); err != nil {
		return fmt.Errorf("history: clearing log: %w", err)
	}
	return nil
}

func chatKey(userID string) string {
	return fmt.Sprintf("chat:%s:messages", userID)
}

func legacyKey(userID, provider string) string {
	return fmt.Sprintf("chat:%s:%s:messages", userID, provider)
}
