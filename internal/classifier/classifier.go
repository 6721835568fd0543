// Package classifier decides whether a document is AI-policy related by
// asking a language model and parsing its JSON verdict.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ai-policy-docs/internal/document"
	"github.com/JakeFAU/ai-policy-docs/internal/llm"
	"github.com/JakeFAU/ai-policy-docs/internal/metrics"
	"github.com/JakeFAU/ai-policy-docs/internal/policy/ratelimit"
)

// Pacer admits calls to the completion endpoint.
type Pacer interface {
	Wait(ctx context.Context) error
	Backoff() time.Duration
}

// Options tune a Classifier.
type Options struct {
	MaxAttempts int
	Logger      *zap.Logger
	// Sleep waits after a rate limited attempt. Defaults to ratelimit.Sleep.
	Sleep func(context.Context, time.Duration) error
}

// Classifier turns documents into verdicts.
type Classifier struct {
	completer   llm.Completer
	pacer       Pacer
	maxAttempts int
	sleep       func(context.Context, time.Duration) error
	logger      *zap.Logger
}

// New wires a completer and a pacer into a Classifier.
func New(completer llm.Completer, pacer Pacer, opts Options) *Classifier {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sleep == nil {
		opts.Sleep = ratelimit.Sleep
	}
	return &Classifier{
		completer:   completer,
		pacer:       pacer,
		maxAttempts: opts.MaxAttempts,
		sleep:       opts.Sleep,
		logger:      opts.Logger,
	}
}

// Classify asks the model about doc. Errors wrapping ErrMalformedResponse
// mean the document should be skipped; any other error means the endpoint
// could not be reached within the attempt budget.
func (c *Classifier) Classify(ctx context.Context, doc document.Document) (document.Verdict, error) {
	text, err := c.complete(ctx, BuildPrompt(doc))
	if err != nil {
		metrics.ObserveClassification("failed")
		return document.Verdict{}, fmt.Errorf("classify %s: %w", doc.DocumentNumber, err)
	}
	verdict, err := ParseVerdict(doc.DocumentNumber, text)
	if err != nil {
		metrics.ObserveClassification("malformed")
		c.logger.Debug("unparseable response",
			zap.String("document_number", doc.DocumentNumber),
			zap.String("response", text),
		)
		return document.Verdict{}, fmt.Errorf("classify %s: %w", doc.DocumentNumber, err)
	}
	metrics.ObserveClassification("parsed")
	return verdict, nil
}

func (c *Classifier) complete(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.pacer.Wait(ctx); err != nil {
			return "", err
		}
		text, err := c.completer.Complete(ctx, SystemInstruction, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", err
		}
		if attempt == c.maxAttempts {
			break
		}
		if errors.Is(err, llm.ErrRateLimited) {
			wait := c.pacer.Backoff()
			c.logger.Info("rate limit exceeded, backing off",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
			)
			if serr := c.sleep(ctx, wait); serr != nil {
				return "", serr
			}
			continue
		}
		c.logger.Warn("completion failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}
	return "", fmt.Errorf("after %d attempt(s): %w", c.maxAttempts, lastErr)
}
