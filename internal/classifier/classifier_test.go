package classifier

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/triagehub/internal/ticket"
)

type mockProvider struct {
	out string
	err error

	calls   int
	prompts []string
}

func (m *mockProvider) Complete(_ context.Context, prompt string) (string, error) {
	m.calls++
	m.prompts = append(m.prompts, prompt)
	return m.out, m.err
}

const goodJSON = `{
	"category": "Billing",
	"sentiment_score": 3,
	"urgency": "High",
	"draft_response": "We are sorry about the duplicate charge and have issued a refund."
}`

func newClassifier(t *testing.T, p Provider, opts Options) *Classifier {
	t.Helper()
	c, err := New(p, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, Options{}); err == nil {
		t.Error("New(nil) succeeded")
	}

	// An invalid fallback override must fail at construction.
	bad := ticket.TriageResult{Category: "Nonsense", SentimentScore: 99}
	if _, err := New(&mockProvider{}, Options{Fallback: &bad}); !errors.Is(err, ErrFallbackInvalid) {
		t.Errorf("New with invalid fallback: err = %v, want ErrFallbackInvalid", err)
	}

	// A valid override gets AIStatus forced to fallback.
	override := ticket.TriageResult{
		Category:       ticket.CategoryBilling,
		SentimentScore: 5,
		Urgency:        ticket.UrgencyLow,
		DraftResponse:  "Thanks for reaching out, we will reply within one business day.",
		AIStatus:       ticket.AIStatusSuccess,
	}
	c := newClassifier(t, &mockProvider{err: errors.New("down")}, Options{Fallback: &override})
	got, err := c.Triage(context.Background(), "My invoice total looks wrong again this month")
	if err != nil {
		t.Fatalf("Triage: %v", err)
	}
	if got.AIStatus != ticket.AIStatusFallback {
		t.Errorf("AIStatus = %q, want fallback", got.AIStatus)
	}
	if got.Category != ticket.CategoryBilling {
		t.Errorf("Category = %q, want override's Billing", got.Category)
	}
}

func TestTriageSuccess(t *testing.T) {
	t.Parallel()

	p := &mockProvider{out: goodJSON}
	c := newClassifier(t, p, Options{})

	got, err := c.Triage(context.Background(), "I was billed twice for the same order last week")
	if err != nil {
		t.Fatalf("Triage: %v", err)
	}
	if got.AIStatus != ticket.AIStatusSuccess {
		t.Errorf("AIStatus = %q, want success", got.AIStatus)
	}
	if got.Category != ticket.CategoryBilling || got.Urgency != ticket.UrgencyHigh || got.SentimentScore != 3 {
		t.Errorf("result = %+v", got)
	}
	if p.calls != 1 {
		t.Errorf("provider calls = %d, want 1", p.calls)
	}
	if !strings.Contains(p.prompts[0], "I was billed twice") {
		t.Error("prompt does not embed the complaint")
	}
}

func TestTriageFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    *mockProvider
	}{
		{name: "provider error", p: &mockProvider{err: errors.New("api down")}},
		{name: "not json", p: &mockProvider{out: "I think this is a billing problem."}},
		{name: "truncated json", p: &mockProvider{out: `{"category": "Billing", "sent`}},
		{name: "unknown category", p: &mockProvider{out: strings.Replace(goodJSON, "Billing", "Sales", 1)}},
		{name: "sentiment out of range", p: &mockProvider{out: strings.Replace(goodJSON, `"sentiment_score": 3`, `"sentiment_score": 12`, 1)}},
		{name: "unknown urgency", p: &mockProvider{out: strings.Replace(goodJSON, "High", "Critical", 1)}},
		{name: "draft too short", p: &mockProvider{out: `{"category":"Billing","sentiment_score":3,"urgency":"High","draft_response":"ok"}`}},
		{name: "empty output", p: &mockProvider{out: ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newClassifier(t, tt.p, Options{})

			got, err := c.Triage(context.Background(), "Your app deleted my saved report templates")
			if err != nil {
				t.Fatalf("Triage: %v", err)
			}
			if got.AIStatus != ticket.AIStatusFallback {
				t.Errorf("AIStatus = %q, want fallback", got.AIStatus)
			}
			if err := got.Validate(); err != nil {
				t.Errorf("fallback result invalid: %v", err)
			}
			want := DefaultFallback()
			if got.Category != want.Category || got.SentimentScore != want.SentimentScore ||
				got.Urgency != want.Urgency || got.DraftResponse != want.DraftResponse {
				t.Errorf("result = %+v, want default fallback", got)
			}
		})
	}
}

func TestTriageTimeout(t *testing.T) {
	t.Parallel()

	p := &slowProvider{delay: 200 * time.Millisecond, out: goodJSON}
	c := newClassifier(t, p, Options{Timeout: 10 * time.Millisecond})

	got, err := c.Triage(context.Background(), "Reports take minutes to load since the upgrade")
	if err != nil {
		t.Fatalf("Triage: %v", err)
	}
	if got.AIStatus != ticket.AIStatusFallback {
		t.Errorf("AIStatus = %q, want fallback on timeout", got.AIStatus)
	}
}

type slowProvider struct {
	delay time.Duration
	out   string
}

func (s *slowProvider) Complete(ctx context.Context, _ string) (string, error) {
	select {
	case <-time.After(s.delay):
		return s.out, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestParseResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		ok   bool
		want string // expected category when ok
	}{
		{name: "direct json", raw: goodJSON, ok: true, want: "Billing"},
		{name: "json fence", raw: "```json\n" + goodJSON + "\n```", ok: true, want: "Billing"},
		{name: "bare fence", raw: "```\n" + goodJSON + "\n```", ok: true, want: "Billing"},
		{name: "fence with padding", raw: "  ```json\n" + goodJSON + "\n```  ", ok: true, want: "Billing"},
		{name: "prose", raw: "The category is Billing.", ok: false},
		{name: "fenced prose", raw: "```json\nnot actually json\n```", ok: false},
		{name: "empty", raw: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := parseResponse(tt.raw)
			if ok != tt.ok {
				t.Fatalf("parseResponse ok = %v, want %v", ok, tt.ok)
			}
			if ok && got.Category != tt.want {
				t.Errorf("Category = %q, want %q", got.Category, tt.want)
			}
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	t.Parallel()

	p := BuildPrompt("The export button does nothing on Firefox")
	if !strings.Contains(p, "The export button does nothing on Firefox") {
		t.Error("prompt missing complaint text")
	}
	for _, want := range []string{"Billing", "Technical", "Feature Request", "sentiment_score", "draft_response"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
