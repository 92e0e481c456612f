package ticket

import (
	"fmt"
	"strings"
)

// Field bounds. Sentiment and draft-response ranges are also enforced by the
// database check constraints; these checks exist so invalid classifier output
// never reaches the store at all.
const (
	MinComplaintLen = 10
	MaxComplaintLen = 5000

	MinSentiment = 1
	MaxSentiment = 10

	MinDraftLen = 20
	MaxDraftLen = 2000

	MaxAgentResponseLen = 2000

	// MaxErrorLen bounds the persisted error_message.
	MaxErrorLen = 500
)

// ValidComplaint trims the complaint and checks its length bounds.
// Returns the trimmed text.
func ValidComplaint(complaint string) (string, error) {
	trimmed := strings.TrimSpace(complaint)
	if len(trimmed) < MinComplaintLen {
		return "", fmt.Errorf("complaint must be at least %d characters (got %d)", MinComplaintLen, len(trimmed))
	}
	if len(trimmed) > MaxComplaintLen {
		return "", fmt.Errorf("complaint must be at most %d characters (got %d)", MaxComplaintLen, len(trimmed))
	}
	return trimmed, nil
}

// ValidStatus reports whether s is one of the lifecycle statuses.
func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ValidAIStatus reports whether s is one of the classifier outcome statuses.
func ValidAIStatus(s AIStatus) bool {
	switch s {
	case AIStatusSuccess, AIStatusFallback, AIStatusError:
		return true
	}
	return false
}

// ValidCategory reports whether c is one of the closed category set.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryBilling, CategoryTechnical, CategoryFeatureRequest:
		return true
	}
	return false
}

// ValidUrgency reports whether u is one of the closed urgency set.
func ValidUrgency(u Urgency) bool {
	switch u {
	case UrgencyHigh, UrgencyMedium, UrgencyLow:
		return true
	}
	return false
}

// Validate checks every TriageResult field constraint. A result that fails
// here must never be merged into a ticket.
func (r TriageResult) Validate() error {
	if !ValidCategory(r.Category) {
		return fmt.Errorf("unrecognized category %q", r.Category)
	}
	if r.SentimentScore < MinSentiment || r.SentimentScore > MaxSentiment {
		return fmt.Errorf("sentiment_score %d out of range [%d,%d]", r.SentimentScore, MinSentiment, MaxSentiment)
	}
	if !ValidUrgency(r.Urgency) {
		return fmt.Errorf("unrecognized urgency %q", r.Urgency)
	}
	if n := len(r.DraftResponse); n < MinDraftLen || n > MaxDraftLen {
		return fmt.Errorf("draft_response length %d out of range [%d,%d]", n, MinDraftLen, MaxDraftLen)
	}
	switch r.AIStatus {
	case AIStatusSuccess, AIStatusFallback, AIStatusError:
	default:
		return fmt.Errorf("unrecognized ai_status %q", r.AIStatus)
	}
	return nil
}

// TruncateError bounds a failure detail for storage in error_message.
func TruncateError(msg string) string {
	if len(msg) <= MaxErrorLen {
		return msg
	}
	return msg[:MaxErrorLen]
}
