// gateway.go implements the retry/backoff wrapper around the providers.
// The primary provider retries only on rate-limit signals; the secondary
// retries on any error and, once exhausted, falls back to the primary.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Retry defaults, matching the bot's original behavior.
const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
)

// Gateway is the uniform completion surface over both providers.
type Gateway struct {
	providers map[ProviderID]Provider

	maxAttempts int
	baseDelay   time.Duration

	// sleep is injectable so tests can observe backoff without waiting.
	sleep func(time.Duration)

	logger *slog.Logger
}

// NewGateway creates a gateway over the given providers.
func NewGateway(primary, secondary Provider, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	providers := make(map[ProviderID]Provider, 2)
	if primary != nil {
		providers[Primary] = primary
	}
	if secondary != nil {
		providers[Secondary] = secondary
	}
	return &Gateway{
		providers:   providers,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		sleep:       time.Sleep,
		logger:      logger.With("component", "gateway"),
	}
}

// Provider returns the provider bound to the given ID, or nil.
func (g *Gateway) Provider(id ProviderID) Provider {
	return g.providers[id]
}

// Complete runs a completion against the provider bound to id. Secondary
// failures after all retries fall back to one primary run before surfacing.
func (g *Gateway) Complete(ctx context.Context, id ProviderID, messages []Message) (string, error) {
	p := g.providers[id]
	if p == nil {
		return "", fmt.Errorf("llm: no provider configured for %q", id)
	}

	text, err := g.completeWithRetry(ctx, p, messages)
	if err == nil {
		return text, nil
	}

	if id == Secondary {
		if primary := g.providers[Primary]; primary != nil {
			g.logger.Warn("secondary provider exhausted, falling back to primary",
				"error", err)
			return g.completeWithRetry(ctx, primary, messages)
		}
	}

	return "", err
}

// completeWithRetry runs up to maxAttempts calls with exponential backoff.
// The delay doubles per attempt (base*2, base*4, ...).
func (g *Gateway) completeWithRetry(ctx context.Context, p Provider, messages []Message) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		text, err := p.Complete(ctx, messages)
		if err == nil {
			return text, nil
		}
		lastErr = err

		// The primary retries only the rate-limit condition; anything else
		// propagates immediately. The secondary retries everything.
		if p.ID() == Primary && !IsRateLimit(err) {
			return "", err
		}

		if attempt == g.maxAttempts {
			break
		}

		delay := g.baseDelay << attempt
		g.logger.Warn("completion failed, retrying",
			"provider", p.Label(),
			"attempt", attempt,
			"max_attempts", g.maxAttempts,
			"delay", delay,
			"error", err,
		)
		g.sleep(delay)
	}

	return "", fmt.Errorf("llm: %s failed after %d attempts: %w", p.Label(), g.maxAttempts, lastErr)
}
