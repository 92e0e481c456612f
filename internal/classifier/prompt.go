package classifier

import "fmt"

// BuildPrompt constructs the instruction prompt for the provider. The shape
// description is deliberately strict to maximize the odds of parseable JSON:
// a closed category set, integer sentiment, closed urgency set, and response
// length bounds, with no surrounding prose requested.
func BuildPrompt(complaint string) string {
	return fmt.Sprintf(`You are a customer support triage assistant. Analyze this customer complaint and respond with ONLY valid JSON.

Customer Complaint:
%s

Respond with exactly this JSON structure:
{
  "category": "Billing" or "Technical" or "Feature Request",
  "sentiment_score": number between 1 and 10 (1=very angry, 10=very satisfied),
  "urgency": "High" or "Medium" or "Low",
  "draft_response": "polite, professional response addressing their concern"
}

IMPORTANT RULES:
1. Return ONLY the JSON object (no markdown, no code blocks)
2. No explanations or extra text before/after JSON
3. Ensure all field values are valid and within specified ranges
4. draft_response must be 20-2000 characters
5. Use double quotes for JSON strings
6. Categories are case-sensitive: "Billing", "Technical", "Feature Request"
7. Urgency levels are case-sensitive: "High", "Medium", "Low"
`, complaint)
}
