// Package session implements in-memory, TTL-based tracking of an active
// conversation per (user, channel) pair. A session binds the pair to the
// completion provider chosen by the most recent trigger message.
//
// Reads always re-validate the timeout themselves; the periodic sweeper only
// reclaims memory for pairs that never come back.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jholhewres/ccbot/pkg/ccbot/llm"
)

// DefaultTimeout is the inactivity window after which a session expires.
const DefaultTimeout = 30 * time.Second

// DefaultSweepInterval is how often the sweeper reclaims expired sessions.
const DefaultSweepInterval = 10 * time.Second

// Session is the bounded-lifetime binding of a (user, channel) pair to
// "currently in conversation".
type Session struct {
	// LastActivity is bumped on every message attributed to the session.
	LastActivity time.Time

	// StartTime is when the session was created.
	StartTime time.Time

	// Notified records whether the session-mode hint was already shown.
	Notified bool

	// Provider is the completion provider bound to this session. It is
	// overwritten by every Touch, so the active provider is always the one
	// selected by the most recent trigger.
	Provider llm.ProviderID

	// IsNew is transient: true only on the Touch call that created the
	// session.
	IsNew bool
}

// Manager owns the session map. No other component mutates sessions directly.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	timeout       time.Duration
	sweepInterval time.Duration

	// now is injectable for tests.
	now func() time.Time

	logger *slog.Logger
}

// NewManager creates a session manager. Zero durations fall back to defaults.
func NewManager(timeout, sweepInterval time.Duration, logger *slog.Logger) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions:      make(map[string]*Session),
		timeout:       timeout,
		sweepInterval: sweepInterval,
		now:           time.Now,
		logger:        logger.With("component", "sessions"),
	}
}

// IsActive reports whether the pair has a live session. An expired entry is
// lazily deleted on lookup.
func (m *Manager) IsActive(userID, channelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := sessionKey(userID, channelID)
	s, ok := m.sessions[key]
	if !ok {
		return false
	}
	if m.now().Sub(s.LastActivity) > m.timeout {
		delete(m.sessions, key)
		return false
	}
	return true
}

// Touch creates or refreshes the session for the pair and returns a snapshot
// of its state. With forceNew, or when no session exists, a fresh session is
// created. The bound provider is overwritten unconditionally on every call.
func (m *Manager) Touch(userID, channelID string, forceNew bool, provider llm.ProviderID) Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := sessionKey(userID, channelID)
	now := m.now()

	s, ok := m.sessions[key]
	if !ok || forceNew {
		s = &Session{
			StartTime: now,
			IsNew:     true,
		}
		m.sessions[key] = s
		m.logger.Debug("session created",
			"user", userID, "channel", channelID, "provider", string(provider))
	} else {
		s.IsNew = false
	}

	s.LastActivity = now
	s.Provider = provider

	return *s
}

// Peek returns a read-only snapshot of the session, or nil if none exists.
// Peek does not validate the timeout; callers pair it with IsActive.
func (m *Manager) Peek(userID, channelID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionKey(userID, channelID)]
	if !ok {
		return nil
	}
	snapshot := *s
	return &snapshot
}

// MarkNotified records that the session-mode hint was shown for the pair.
func (m *Manager) MarkNotified(userID, channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[sessionKey(userID, channelID)]; ok {
		s.Notified = true
	}
}

// Count returns the number of tracked sessions, expired ones included.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// StartSweeper launches the periodic reclaim loop. It is a watchdog, not a
// correctness guarantee: IsActive re-validates the timeout on every read.
func (m *Manager) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Sweep removes all expired sessions.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, s := range m.sessions {
		if now.Sub(s.LastActivity) > m.timeout {
			delete(m.sessions, key)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debug("sessions swept", "removed", removed, "remaining", len(m.sessions))
	}
	return removed
}

// SetClock overrides the time source. Intended for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func sessionKey(userID, channelID string) string {
	return fmt.Sprintf("%s-%s", userID, channelID)
}
