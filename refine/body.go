package refine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	chunking "github.com/langgraphsystem/rssnews-sub004"
)

// --- Request types ---

// chatRequest is the OpenAI chat completions request body.
type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Seed           *int            `json:"seed,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

// message is a single message in the OpenAI chat format.
type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// responseFormat requests structured JSON output matching a schema.
type responseFormat struct {
	Type       string      `json:"type"` // "json_schema"
	JSONSchema *jsonSchema `json:"json_schema,omitempty"`
}

// jsonSchema describes the expected JSON output shape.
type jsonSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
	Strict bool            `json:"strict"`
}

// --- Response types ---

// chatResponse is the OpenAI chat completions response.
type chatResponse struct {
	ID      string   `json:"id"`
	Choices []choice `json:"choices"`
}

// choice is a single completion choice.
type choice struct {
	Index        int            `json:"index"`
	Message      *choiceMessage `json:"message,omitempty"`
	FinishReason string         `json:"finish_reason,omitempty"`
}

// choiceMessage is the message content within a choice.
type choiceMessage struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
	Refusal string `json:"refusal,omitempty"`
}

// --- Body building ---

// systemPrompt steers the model toward a single bare JSON verdict.
const systemPrompt = `You review text chunks produced by a deterministic document splitter and decide how each should be adjusted for retrieval quality. Respond with a single JSON object and nothing else:
{"action": "keep"|"merge_prev"|"merge_next"|"drop", "offset_adjust": <int, -120..120>, "semantic_type": "intro"|"body"|"list"|"quote"|"conclusion"|"code", "confidence": <0..1>, "reason": "<short explanation>"}

action: keep the chunk as-is, merge it into its neighbor, or drop it entirely (boilerplate, navigation debris). offset_adjust: shift the chunk's end boundary by this many characters to land on a cleaner break; 0 to leave it. semantic_type: the chunk's role within the document. confidence: how certain you are of the verdict.`

// verdictSchema constrains structured output on endpoints that support
// json_schema response formats. Endpoints that don't simply ignore it.
var verdictSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"action": {"type": "string", "enum": ["keep", "merge_prev", "merge_next", "drop"]},
		"offset_adjust": {"type": "integer", "minimum": -120, "maximum": 120},
		"semantic_type": {"type": "string", "enum": ["intro", "body", "list", "quote", "conclusion", "code"]},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"reason": {"type": "string"}
	},
	"required": ["action", "confidence"],
	"additionalProperties": false
}`)

// buildBody assembles the chat completions request for one chunk review.
func (c *Client) buildBody(req chunking.RefineRequest) chatRequest {
	temp := c.temperature
	return chatRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(req)},
		},
		Temperature: &temp,
		MaxTokens:   c.maxTokens,
		Seed:        c.seed,
		ResponseFormat: &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchema{
				Name:   "chunk_verdict",
				Schema: verdictSchema,
				Strict: true,
			},
		},
	}
}

// buildPrompt lays out the flagged chunk with its bounded neighbor context.
// Metadata keys are sorted so identical requests serialize identically.
func buildPrompt(req chunking.RefineRequest) string {
	var b strings.Builder

	if len(req.Decision.Reasons) > 0 {
		fmt.Fprintf(&b, "A document chunk was flagged for review: %s.\n", strings.Join(req.Decision.Reasons, ", "))
	} else {
		b.WriteString("A document chunk was flagged for review.\n")
	}
	fmt.Fprintf(&b, "Words: %d. Split strategy: %s.\n", req.Chunk.WordCount, req.Chunk.Strategy)

	if len(req.DocumentMeta) > 0 {
		keys := make([]string, 0, len(req.DocumentMeta))
		for k := range req.DocumentMeta {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("Document metadata:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %s\n", k, req.DocumentMeta[k])
		}
	}

	if req.PrevTail != "" {
		fmt.Fprintf(&b, "\nEnd of preceding chunk:\n...%s\n", req.PrevTail)
	}
	fmt.Fprintf(&b, "\nChunk under review:\n%s\n", req.Chunk.Text)
	if req.NextHead != "" {
		fmt.Fprintf(&b, "\nStart of following chunk:\n%s...\n", req.NextHead)
	}

	return b.String()
}
