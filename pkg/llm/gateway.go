package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// GatewayConfig tunes the retry and continuation budgets.
type GatewayConfig struct {
	// MaxAttempts is the total number of tries per call (default 3).
	MaxAttempts int
	// MaxContinuations caps follow-up calls issued when output is cut off
	// by a length limit (default 3).
	MaxContinuations int
	// Backoff is the base delay between attempts; attempt n waits n*Backoff
	// (default 500ms).
	Backoff time.Duration
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.MaxContinuations <= 0 {
		c.MaxContinuations = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
	return c
}

// Gateway wraps a raw Client with bounded retry and truncation continuation.
// A cancellation observed between attempts aborts immediately; an in-flight
// call is never interrupted by the gateway itself.
type Gateway struct {
	client Client
	cfg    GatewayConfig
}

// NewGateway creates a Gateway around the given client.
func NewGateway(client Client, cfg GatewayConfig) *Gateway {
	return &Gateway{client: client, cfg: cfg.withDefaults()}
}

// Complete runs one logical generation: retried per attempt budget, then
// extended with continuation calls while the provider reports a length
// cut-off. The returned Result carries the concatenated text and summed
// character counts.
func (g *Gateway) Complete(ctx context.Context, system, user string) (*Result, error) {
	res, err := g.completeWithRetry(ctx, system, user)
	if err != nil {
		return nil, err
	}

	for i := 0; i < g.cfg.MaxContinuations && res.FinishReason == FinishLength; i++ {
		cont, err := g.completeWithRetry(ctx, system, continuationPrompt(res.Text))
		if err != nil {
			// Partial output is better than none; the caller sees the
			// truncated finish reason and can decide.
			return res, nil
		}
		res.Text += cont.Text
		res.InputChars += cont.InputChars
		res.OutputChars += cont.OutputChars
		res.FinishReason = cont.FinishReason
	}

	return res, nil
}

func (g *Gateway) completeWithRetry(ctx context.Context, system, user string) (*Result, error) {
	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := g.client.Complete(ctx, system, user)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !Retryable(err) {
			return nil, &GenerationError{Attempts: attempt, Err: err}
		}
		if attempt < g.cfg.MaxAttempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * g.cfg.Backoff):
			}
		}
	}
	return nil, &GenerationError{Attempts: g.cfg.MaxAttempts, Err: lastErr}
}

// continuationTail is how much of the already-produced output the follow-up
// prompt shows the model to anchor the continuation point.
const continuationTail = 2000

func continuationPrompt(produced string) string {
	tail := produced
	if len(tail) > continuationTail {
		tail = tail[len(tail)-continuationTail:]
	}
	return fmt.Sprintf(`Your previous response was cut off by a length limit. Continue from exactly where you left off. Do not repeat anything, do not add commentary, do not restart — output only the continuation.

The tail of what you already produced:
%s`, strings.TrimRight(tail, "\n"))
}
