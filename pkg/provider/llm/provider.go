// Package llm defines the Provider interface for the language-model oracle.
//
// Every judgment call in the review pipeline flows through a Provider:
// classifying remarks, splitting mixed segments, rewriting raw speech into
// comment prose, and choosing a placement among location candidates. A
// provider wraps a remote or local model API (OpenAI, Anthropic, a local
// Ollama instance) behind one uniform surface so the pipeline never couples
// to a specific SDK.
//
// Implementations must be safe for concurrent use; the pipeline may have
// several batches in flight at once.
package llm

import "context"

// Usage holds token accounting information returned by the backend.
// Counts are in the model's native token unit and differ between providers
// for the same textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages
	// and system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the model needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is a high-priority instruction injected before the
	// conversation. Providers without a dedicated system slot prepend it as
	// a "system"-role message.
	SystemPrompt string

	// Messages is the ordered conversation. Pipeline stages send a single
	// "user" message carrying the batch payload.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0]. The pipeline
	// runs cool; stages want reproducible structure, not creativity.
	Temperature float64

	// MaxTokens caps completion length. Zero means provider default.
	MaxTokens int

	// ForceJSON asks for a JSON-constrained response where the backend
	// supports it. Advisory only: providers may ignore it, and reply
	// parsing recovers the JSON from surrounding prose either way.
	ForceJSON bool
}

// CompletionResponse is the full, non-streaming reply.
type CompletionResponse struct {
	// Content is the text of the model's reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Capabilities describes static model metadata. The result is assumed
// constant for the lifetime of the Provider instance.
type Capabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens one completion may generate.
	MaxOutputTokens int

	// SupportsJSONOutput indicates native JSON-constrained response support.
	SupportsJSONOutput bool
}

// Provider is the abstraction over any language-model backend.
//
// Each method must propagate context cancellation promptly.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates how many tokens the message list would consume
	// in the model's context window. The pipeline uses it to keep a batch
	// plus its context window inside budget. The result need not be exact
	// but should not undercount.
	CountTokens(messages []Message) (int, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() Capabilities
}
