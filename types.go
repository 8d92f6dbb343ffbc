package chunking

import (
	"strconv"
	"time"
)

// --- Stored records ---

type Document struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Source    string            `json:"source"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt int64             `json:"created_at"`
}

// ChunkStrategy identifies which splitting path produced a chunk.
type ChunkStrategy string

const (
	StrategyParagraph     ChunkStrategy = "paragraph"      // paragraph accumulation (incl. short-document single chunk)
	StrategySentenceAware ChunkStrategy = "sentence_aware" // oversized paragraph cut at sentence boundaries
	StrategySlidingWindow ChunkStrategy = "sliding_window" // hard mid-sentence split of a single overlong sentence
)

// RawChunk is the chunker's output: a contiguous slice of the document.
// CharStart/CharEnd are byte offsets into the normalized source text,
// CharEnd exclusive and always greater than CharStart. Index runs 0..n-1
// in document order.
type RawChunk struct {
	Index     int               `json:"index"`
	Text      string            `json:"text"`
	CharStart int               `json:"char_start"`
	CharEnd   int               `json:"char_end"`
	WordCount int               `json:"word_count"`
	Strategy  ChunkStrategy     `json:"strategy"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Routing reason codes. A decision may carry several.
const (
	ReasonListStructure  = "list-structure"
	ReasonCodeFence      = "code-fence"
	ReasonTableStructure = "table-structure"
	ReasonBoundaryCut    = "boundary-cut"
	ReasonMidWordStart   = "mid-word-start"
	ReasonUndersized     = "undersized"
	ReasonOversized      = "oversized"
)

// RoutingDecision is the router's verdict for one chunk. Priority orders
// candidates when the batch budget cannot cover all of them; higher wins.
// It is an unnormalized rank — the sum of the per-reason integer weights,
// so only its ordering carries meaning, not its magnitude.
type RoutingDecision struct {
	NeedsRefinement bool     `json:"needs_refinement"`
	Confidence      float64  `json:"confidence"`
	Priority        int      `json:"priority"`
	Reasons         []string `json:"reasons,omitempty"`
	EstimatedTokens int      `json:"estimated_tokens"`
}

// RefineAction is the edit a refiner requests for a chunk.
type RefineAction string

const (
	ActionKeep      RefineAction = "keep"
	ActionMergePrev RefineAction = "merge_prev"
	ActionMergeNext RefineAction = "merge_next"
	ActionDrop      RefineAction = "drop"
)

// SemanticType labels a chunk's role within the document.
type SemanticType string

const (
	SemanticIntro      SemanticType = "intro"
	SemanticBody       SemanticType = "body"
	SemanticList       SemanticType = "list"
	SemanticQuote      SemanticType = "quote"
	SemanticConclusion SemanticType = "conclusion"
	SemanticCode       SemanticType = "code"
)

// MaxOffsetAdjust bounds how far a refiner may nudge a chunk's end boundary,
// in characters, in either direction.
const MaxOffsetAdjust = 120

// RefinementResult is a refiner's verdict for one chunk. A nil result means
// "keep the chunk unrefined" — the universal outcome for every refinement
// failure, skip, or exhausted retry.
type RefinementResult struct {
	Action       RefineAction `json:"action"`
	OffsetAdjust int          `json:"offset_adjust"`
	SemanticType SemanticType `json:"semantic_type"`
	Confidence   float64      `json:"confidence"`
	Reason       string       `json:"reason,omitempty"`
}

// Validate checks enum membership and numeric ranges. The refine client calls
// this at the wire boundary so malformed verdicts never reach the merge step.
func (r *RefinementResult) Validate() error {
	switch r.Action {
	case ActionKeep, ActionMergePrev, ActionMergeNext, ActionDrop:
	default:
		return &ErrInvalidResult{Field: "action", Value: string(r.Action)}
	}
	if r.OffsetAdjust < -MaxOffsetAdjust || r.OffsetAdjust > MaxOffsetAdjust {
		return &ErrInvalidResult{Field: "offset_adjust", Value: strconv.Itoa(r.OffsetAdjust)}
	}
	switch r.SemanticType {
	case SemanticIntro, SemanticBody, SemanticList, SemanticQuote, SemanticConclusion, SemanticCode, "":
	default:
		return &ErrInvalidResult{Field: "semantic_type", Value: string(r.SemanticType)}
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return &ErrInvalidResult{Field: "confidence", Value: strconv.FormatFloat(r.Confidence, 'g', -1, 64)}
	}
	return nil
}

// FinalChunk is what the sink persists: a raw chunk after refinement edits,
// re-indexed gaplessly. Refined reports whether a refiner verdict was applied
// (keep counts; a skipped or failed call does not).
type FinalChunk struct {
	Index        int               `json:"index"`
	Text         string            `json:"text"`
	CharStart    int               `json:"char_start"`
	CharEnd      int               `json:"char_end"`
	WordCount    int               `json:"word_count"`
	Strategy     ChunkStrategy     `json:"strategy"`
	SemanticType SemanticType      `json:"semantic_type,omitempty"`
	Refined      bool              `json:"refined"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// --- Job types (coordinator records) ---

// JobPriority orders jobs in the coordinator queue. Higher runs first; equal
// priorities run in submission order.
type JobPriority int

const (
	PriorityLow JobPriority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

func (p JobPriority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	}
	return "unknown"
}

// JobStatus is a job's lifecycle state. Legal transitions:
// pending→running→{completed,failed} and pending→cancelled.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// ProcessingJob is a coordinator work item: a set of document IDs processed
// as one batch. Timestamps are Unix seconds; zero means "not yet".
type ProcessingJob struct {
	ID           string       `json:"id"`
	DocumentIDs  []string     `json:"document_ids"`
	Priority     JobPriority  `json:"priority"`
	Status       JobStatus    `json:"status"`
	CreatedAt    int64        `json:"created_at"`
	StartedAt    int64        `json:"started_at,omitempty"`
	CompletedAt  int64        `json:"completed_at,omitempty"`
	Result       *BatchResult `json:"result,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
}

// --- Result types ---

// ProcessingMetrics summarizes one pipeline batch. A fresh value is built per
// batch and never mutated after being returned. Errors holds one message per
// recovered per-document failure; FailedDocuments the matching document IDs.
type ProcessingMetrics struct {
	DocumentsProcessed  int           `json:"documents_processed"`
	DocumentsFailed     int           `json:"documents_failed"`
	ChunksCreated       int           `json:"chunks_created"`
	RefinementCalls     int           `json:"refinement_calls"`
	RefinementSuccesses int           `json:"refinement_successes"`
	Duration            time.Duration `json:"duration"`
	Errors              []string      `json:"errors,omitempty"`
	FailedDocuments     []string      `json:"failed_documents,omitempty"`
}

// BatchResult aggregates processor output across sub-batches and retries.
// PermanentFailures lists document IDs that failed every attempt — reported,
// never silently dropped.
type BatchResult struct {
	DocumentsProcessed  int           `json:"documents_processed"`
	DocumentsFailed     int           `json:"documents_failed"`
	ChunksCreated       int           `json:"chunks_created"`
	RefinementCalls     int           `json:"refinement_calls"`
	RefinementSuccesses int           `json:"refinement_successes"`
	Duration            time.Duration `json:"duration"`
	SubBatches          int           `json:"sub_batches"`
	Retries             int           `json:"retries"`
	PermanentFailures   []string      `json:"permanent_failures,omitempty"`
	Errors              []string      `json:"errors,omitempty"`
}

// BatchContext carries batch-scoped inputs into the pipeline. SystemLoad is a
// normalized load signal in [0,1]; the router shrinks its refinement budget
// monotonically as it rises. IsRetry marks sub-batches re-running previously
// failed documents.
type BatchContext struct {
	BatchID     string  `json:"batch_id"`
	SystemLoad  float64 `json:"system_load"`
	TotalChunks int     `json:"total_chunks"`
	IsRetry     bool    `json:"is_retry"`
}

// EstimateTokens approximates LLM token count as len/4 (a token is roughly
// four characters of English text). Used for routing budget math.
func EstimateTokens(text string) int {
	return len(text) / 4
}
