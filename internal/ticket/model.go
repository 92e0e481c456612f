package ticket

import "time"

// Status tracks where a ticket is in its triage lifecycle.
type Status string

const (
	// StatusPending means created, not yet claimed by a worker
	StatusPending Status = "pending"

	// StatusProcessing means a worker holds exclusive processing rights
	StatusProcessing Status = "processing"

	// StatusCompleted means triage finished and results were merged
	StatusCompleted Status = "completed"

	// StatusFailed means triage exhausted its retries
	StatusFailed Status = "failed"
)

// Category is the complaint category assigned by the classifier.
type Category string

const (
	CategoryBilling        Category = "Billing"
	CategoryTechnical      Category = "Technical"
	CategoryFeatureRequest Category = "Feature Request"
)

// Urgency is the urgency level assigned by the classifier.
type Urgency string

const (
	UrgencyHigh   Urgency = "High"
	UrgencyMedium Urgency = "Medium"
	UrgencyLow    Urgency = "Low"
)

// AIStatus records whether the classifier's own output was used verbatim,
// a safe fallback was substituted, or a hard failure occurred.
type AIStatus string

const (
	AIStatusSuccess  AIStatus = "success"
	AIStatusFallback AIStatus = "fallback"
	AIStatusError    AIStatus = "error"
)

// Ticket is one customer complaint and its triage lifecycle record.
type Ticket struct {
	ID             int64     `json:"id"`
	Complaint      string    `json:"complaint"`
	Status         Status    `json:"status"`
	Category       *Category `json:"category"`
	SentimentScore *int      `json:"sentiment_score"`
	Urgency        *Urgency  `json:"urgency"`

	AIDraftResponse *string   `json:"ai_draft_response"`
	AIStatus        *AIStatus `json:"ai_status"`

	AgentEditedResponse *string    `json:"agent_edited_response"`
	AgentID             *string    `json:"agent_id"`
	ResolvedAt          *time.Time `json:"resolved_at"`

	ErrorMessage *string   `json:"error_message"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TriageResult is the validated output of the classifier, merged into the
// ticket record on completion.
type TriageResult struct {
	Category       Category `json:"category"`
	SentimentScore int      `json:"sentiment_score"`
	Urgency        Urgency  `json:"urgency"`
	DraftResponse  string   `json:"draft_response"`
	AIStatus       AIStatus `json:"ai_status"`
}

// UpdateEvent is the wire projection of a ticket state transition, emitted
// once per meaningful transition and fanned out to live subscribers.
type UpdateEvent struct {
	TicketID       int64     `json:"ticket_id"`
	Status         Status    `json:"status"`
	Category       *Category `json:"category,omitempty"`
	Urgency        *Urgency  `json:"urgency,omitempty"`
	SentimentScore *int      `json:"sentiment_score,omitempty"`
	AIStatus       *AIStatus `json:"ai_status,omitempty"`
	DraftResponse  *string   `json:"draft_response,omitempty"`
	ErrorMessage   *string   `json:"error_message,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewUpdateEvent projects a ticket row into its UpdateEvent.
func NewUpdateEvent(t *Ticket) UpdateEvent {
	return UpdateEvent{
		TicketID:       t.ID,
		Status:         t.Status,
		Category:       t.Category,
		Urgency:        t.Urgency,
		SentimentScore: t.SentimentScore,
		AIStatus:       t.AIStatus,
		DraftResponse:  t.AIDraftResponse,
		ErrorMessage:   t.ErrorMessage,
		UpdatedAt:      t.UpdatedAt,
	}
}
