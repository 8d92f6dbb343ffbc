package refine

import (
	"encoding/json"
	"strings"

	chunking "github.com/langgraphsystem/rssnews-sub004"
)

// parseVerdict extracts the verdict JSON from choices[0] and validates it.
// Every failure here is a content problem, not a transport one, so it
// surfaces as *chunking.ErrInvalidResult and the retry layer fails fast.
func parseVerdict(resp chatResponse) (*chunking.RefinementResult, error) {
	if len(resp.Choices) == 0 {
		return nil, &chunking.ErrInvalidResult{Field: "choices", Value: "empty"}
	}
	msg := resp.Choices[0].Message
	if msg == nil {
		return nil, &chunking.ErrInvalidResult{Field: "message", Value: "missing"}
	}
	if msg.Refusal != "" {
		return nil, &chunking.ErrInvalidResult{Field: "refusal", Value: msg.Refusal}
	}

	var result chunking.RefinementResult
	if err := json.Unmarshal([]byte(extractJSON(msg.Content)), &result); err != nil {
		return nil, &chunking.ErrInvalidResult{Field: "content", Value: truncate(msg.Content, 200)}
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return &result, nil
}

// extractJSON finds the first JSON object in a string. Models occasionally
// wrap the verdict in a markdown code fence or lead with prose despite
// instructions to return bare JSON.
func extractJSON(input string) string {
	trimmed := strings.TrimSpace(input)

	if strings.HasPrefix(trimmed, "```json") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	} else if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		return trimmed[start : end+1]
	}

	return trimmed
}

// truncate bounds error payloads so a runaway completion doesn't flood logs.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
