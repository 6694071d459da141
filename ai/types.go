// Package ai defines the provider-agnostic types exchanged between the
// configuration layer, the request/response core, and the host application.
package ai

// Format identifies the upstream API shape a model speaks.
type Format string

const (
	// FormatChatCompletions is the role-tagged messages format where the
	// answer is read from choices[0].message.
	FormatChatCompletions Format = "chat-completions"

	// FormatResponses is the typed-output-items format used by reasoning
	// models, where output is an array of message/reasoning items.
	FormatResponses Format = "responses"
)

// Effort is the reasoning effort requested from a responses-format model.
type Effort string

const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

// Valid reports whether the effort is one of the accepted levels.
// An empty effort is valid and means "use the default".
func (e Effort) Valid() bool {
	switch e {
	case "", EffortLow, EffortMedium, EffortHigh:
		return true
	}
	return false
}

// Provider describes an upstream API endpoint and its credentials.
// Owned by the configuration layer; read-only to this core.
type Provider struct {
	ID       string
	Name     string
	Endpoint string // user-supplied base URL, normalized per request
	APIKey   string
}

// ModelConfig describes a single model and its sampling parameters.
// Immutable for the duration of a request.
type ModelConfig struct {
	Name            string // wire model id
	DisplayName     string
	Temperature     float64
	TopP            float64
	MaxOutputTokens int // omitted from payloads when <= 0
	APIFormat       Format
	ReasoningEffort Effort // responses format only; defaults to medium
}

// RequestOptions carries the per-call inputs. Created per call, never stored.
type RequestOptions struct {
	Prompt       string
	SystemPrompt string

	// ResponseSchema, when non-nil, requests structured output: a JSON
	// Schema is generated from the value's type and attached to the
	// payload. The model's answer is then expected to be JSON conforming
	// to that schema.
	ResponseSchema any
}

// Usage contains token accounting reported by the upstream API.
type Usage struct {
	InputTokens     int
	OutputTokens    int
	ReasoningTokens int
}

// Result is the normalized outcome of a non-streaming call. For streaming
// calls the equivalent is assembled incrementally and delivered through
// StreamCallbacks plus a final aggregate.
type Result struct {
	Content          string
	ReasoningSummary string
	Usage            *Usage
}

// StreamCallbacks receives incremental output during a streaming call.
// All funcs are optional except OnComplete and OnError; nil funcs are
// skipped. Callbacks are invoked in source order from a single goroutine,
// and OnComplete/OnError are terminal: exactly one of them fires, once.
type StreamCallbacks struct {
	OnStart    func()
	OnChunk    func(text string)
	OnThinking func(text string)
	OnComplete func(aggregate string)
	OnError    func(err error)
}

// ModelInfo is one entry from a provider's model listing.
type ModelInfo struct {
	ID string `json:"id"`
}
