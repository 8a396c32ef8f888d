// Package confirm implements the two-phase gate in front of destructive
// actions: propose a request, wait for an explicit affirmative reply within a
// deadline, then execute or abandon.
//
// At most one request may be outstanding per (user, channel) key, and the
// outstanding marker is released exactly once on any resolution. A stuck
// marker would permanently block that key from issuing the same command, so
// the release goes through sync.Once and is deferred inside Await.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrPending is returned by Propose when the key already has an outstanding
// request. A second request is rejected, not queued.
var ErrPending = errors.New("confirm: a confirmation is already pending for this key")

// Outcome is the resolution of a confirmation wait.
type Outcome int

const (
	// Confirmed means an affirmative reply arrived in time.
	Confirmed Outcome = iota

	// TimedOut means the deadline elapsed with no affirmative reply.
	TimedOut

	// Canceled means the surrounding context was canceled.
	Canceled
)

// DefaultTimeout is how long a confirmation prompt stays open.
const DefaultTimeout = 30 * time.Second

// defaultAffirmatives are matched case-insensitively as substrings, the same
// way the platform filter did ("是" must match inside a longer reply).
var defaultAffirmatives = []string{"确定", "是", "yes", "confirm"}

// Config holds confirmation workflow settings.
type Config struct {
	// Timeout is the reply deadline.
	Timeout time.Duration

	// Affirmatives are the accepted confirmation tokens.
	Affirmatives []string
}

// DefaultConfig returns the standard 30-second window and token set.
func DefaultConfig() Config {
	return Config{
		Timeout:      DefaultTimeout,
		Affirmatives: defaultAffirmatives,
	}
}

// Request is the handle for one outstanding confirmation.
type Request struct {
	// ID uniquely identifies the request in logs.
	ID string

	// Action is the opaque descriptor of what is being confirmed.
	Action string

	userID    string
	channelID string
	timeout   time.Duration

	replies chan string

	tracker *Tracker
	once    sync.Once
}

// Tracker owns the outstanding-request set.
type Tracker struct {
	mu      sync.Mutex
	pending map[string]*Request

	cfg    Config
	logger *slog.Logger
}

// NewTracker creates a confirmation tracker. Zero config values fall back to
// defaults.
func NewTracker(cfg Config, logger *slog.Logger) *Tracker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if len(cfg.Affirmatives) == 0 {
		cfg.Affirmatives = defaultAffirmatives
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		pending: make(map[string]*Request),
		cfg:     cfg,
		logger:  logger.With("component", "confirm"),
	}
}

// Propose registers a confirmation request for the key. It is rejected with
// ErrPending if one is already outstanding.
func (t *Tracker) Propose(userID, channelID, action string) (*Request, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := requestKey(userID, channelID)
	if _, exists := t.pending[key]; exists {
		return nil, ErrPending
	}

	r := &Request{
		ID:        uuid.NewString(),
		Action:    action,
		userID:    userID,
		channelID: channelID,
		timeout:   t.cfg.Timeout,
		replies:   make(chan string, 1),
		tracker:   t,
	}
	t.pending[key] = r

	t.logger.Debug("confirmation proposed",
		"request", r.ID, "user", userID, "channel", channelID, "action", action)
	return r, nil
}

// Pending reports whether the key has an outstanding request.
func (t *Tracker) Pending(userID, channelID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[requestKey(userID, channelID)]
	return ok
}

// Intercept routes an inbound message into an outstanding confirmation.
// Returns true when the key has a pending request and the text looks
// affirmative: the message then belongs to the workflow and must never reach
// the completion path.
func (t *Tracker) Intercept(userID, channelID, text string) bool {
	t.mu.Lock()
	r, ok := t.pending[requestKey(userID, channelID)]
	t.mu.Unlock()

	if !ok || !t.IsAffirmative(text) {
		return false
	}

	select {
	case r.replies <- text:
	default:
		// A reply already arrived; the extra one is still consumed here.
	}
	return true
}

// IsAffirmative reports whether the text contains one of the confirmation
// tokens, case-insensitively.
func (t *Tracker) IsAffirmative(text string) bool {
	lower := strings.ToLower(text)
	for _, token := range t.cfg.Affirmatives {
		if strings.Contains(lower, strings.ToLower(token)) {
			return true
		}
	}
	return false
}

// release removes the request from the outstanding set, exactly once.
func (t *Tracker) release(r *Request) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := requestKey(r.userID, r.channelID)
	if t.pending[key] == r {
		delete(t.pending, key)
	}
}

// Await blocks until an affirmative reply is delivered, the deadline elapses
// or the context is canceled. The outstanding marker is released on every
// path before Await returns.
func (r *Request) Await(ctx context.Context) Outcome {
	defer r.Release()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case <-r.replies:
		return Confirmed
	case <-timer.C:
		return TimedOut
	case <-ctx.Done():
		return Canceled
	}
}

// Release clears the outstanding marker. Safe to call multiple times; only
// the first call has effect.
func (r *Request) Release() {
	r.once.Do(func() {
		r.tracker.release(r)
		r.tracker.logger.Debug("confirmation released", "request", r.ID)
	})
}

func requestKey(userID, channelID string) string {
	return fmt.Sprintf("%s-%s", userID, channelID)
}
