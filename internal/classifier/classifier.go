// Package classifier turns a complaint string into a validated
// ticket.TriageResult. External-provider failures, unparsable output, and
// schema violations are all absorbed into a pre-validated fallback result;
// the only error that escapes is an unrecoverable internal one.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/triagehub/internal/ticket"
)

// DefaultTimeout bounds the end-to-end provider call.
const DefaultTimeout = 30 * time.Second

// ErrFallbackInvalid means the configured fallback result itself fails
// validation, leaving the classifier with nothing safe to return.
var ErrFallbackInvalid = errors.New("classifier fallback result is invalid")

// Provider is the interface for any LLM backend.
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Classifier orchestrates prompt construction, the provider call, response
// parsing, and schema validation.
type Classifier struct {
	provider Provider
	timeout  time.Duration
	fallback ticket.TriageResult
	logger   log.Logger
	metrics  *ticket.Metrics
}

// Options configures optional Classifier behavior.
type Options struct {
	// Timeout bounds the provider call; DefaultTimeout when zero.
	Timeout time.Duration

	// Fallback overrides the default fallback result. Must validate with
	// AIStatus forced to fallback.
	Fallback *ticket.TriageResult

	Logger  log.Logger
	Metrics *ticket.Metrics
}

// DefaultFallback returns the safe result substituted when the provider
// misbehaves.
func DefaultFallback() ticket.TriageResult {
	return ticket.TriageResult{
		Category:       ticket.CategoryTechnical,
		SentimentScore: 5,
		Urgency:        ticket.UrgencyMedium,
		DraftResponse: "Thank you for contacting us. We appreciate your feedback. " +
			"We're reviewing your concern and will get back to you shortly. " +
			"Our support team aims to respond within 24 hours.",
		AIStatus: ticket.AIStatusFallback,
	}
}

// New creates a Classifier. The fallback result is validated up front so a
// misconfigured deployment fails at boot rather than mid-pipeline.
func New(provider Provider, opts Options) (*Classifier, error) {
	if provider == nil {
		return nil, errors.New("classifier provider is required")
	}

	fallback := DefaultFallback()
	if opts.Fallback != nil {
		fallback = *opts.Fallback
		fallback.AIStatus = ticket.AIStatusFallback
	}
	if err := fallback.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFallbackInvalid, err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}

	return &Classifier{
		provider: provider,
		timeout:  timeout,
		fallback: fallback,
		logger:   logger,
		metrics:  opts.Metrics,
	}, nil
}

// response is the JSON shape the provider is instructed to emit.
type response struct {
	Category       string `json:"category"`
	SentimentScore int    `json:"sentiment_score"`
	Urgency        string `json:"urgency"`
	DraftResponse  string `json:"draft_response"`
}

// Triage classifies a complaint. It always returns a valid TriageResult
// unless the fallback itself is unusable, which is the sole error case.
func (c *Classifier) Triage(ctx context.Context, complaint string) (ticket.TriageResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.logger.Info(ctx, "starting triage", "complaint_len", len(complaint))

	start := time.Now()
	raw, err := c.provider.Complete(ctx, BuildPrompt(complaint))
	if c.metrics != nil {
		c.metrics.LLMCallDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		c.logger.Error(ctx, err, "provider call failed, using fallback")
		return c.useFallback(ctx)
	}

	parsed, ok := parseResponse(raw)
	if !ok {
		c.logger.Warn(ctx, "provider output is not valid JSON, using fallback", "raw_len", len(raw))
		return c.useFallback(ctx)
	}

	result := ticket.TriageResult{
		Category:       ticket.Category(parsed.Category),
		SentimentScore: parsed.SentimentScore,
		Urgency:        ticket.Urgency(parsed.Urgency),
		DraftResponse:  parsed.DraftResponse,
		AIStatus:       ticket.AIStatusSuccess,
	}
	if err := result.Validate(); err != nil {
		c.logger.Warn(ctx, "provider output failed validation, using fallback", "reason", err.Error())
		return c.useFallback(ctx)
	}

	if c.metrics != nil {
		c.metrics.ClassifierTotal.WithLabelValues(string(ticket.AIStatusSuccess)).Inc()
	}
	c.logger.Info(ctx, "triage success",
		"category", string(result.Category),
		"urgency", string(result.Urgency),
		"sentiment", result.SentimentScore,
	)
	return result, nil
}

func (c *Classifier) useFallback(ctx context.Context) (ticket.TriageResult, error) {
	// Re-validate: the fallback was checked at construction, but this is the
	// last line of defense before a result reaches the store.
	if err := c.fallback.Validate(); err != nil {
		if c.metrics != nil {
			c.metrics.ClassifierTotal.WithLabelValues(string(ticket.AIStatusError)).Inc()
		}
		c.logger.Error(ctx, err, "fallback result is invalid")
		return ticket.TriageResult{}, fmt.Errorf("%w: %v", ErrFallbackInvalid, err)
	}
	if c.metrics != nil {
		c.metrics.ClassifierTotal.WithLabelValues(string(ticket.AIStatusFallback)).Inc()
	}
	return c.fallback, nil
}

// parseResponse attempts a direct JSON parse, then once more after stripping
// markdown code fences.
func parseResponse(raw string) (response, bool) {
	var r response
	if err := json.Unmarshal([]byte(raw), &r); err == nil {
		return r, true
	}

	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```json") {
		cleaned = cleaned[len("```json"):]
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = cleaned[len("```"):]
	}
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")

	if err := json.Unmarshal([]byte(strings.TrimSpace(cleaned)), &r); err != nil {
		return response{}, false
	}
	return r, true
}
