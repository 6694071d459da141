// Package protocol builds outbound request payloads and parses complete
// response bodies for the two upstream API shapes: the role-tagged
// chat-completions format and the typed-output-items responses format.
package protocol

import (
	"encoding/json"

	"github.com/inkdrift/aicore/ai"
	"github.com/inkdrift/aicore/aierr"
)

// ResponseSchema is an optional structured-output request: the model is
// asked to answer with JSON conforming to Schema.
type ResponseSchema struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

// BuildInput is everything needed to build one request payload.
type BuildInput struct {
	Model        ai.ModelConfig
	Prompt       string
	SystemPrompt string
	Schema       *ResponseSchema
	Stream       bool
}

// chat-completions wire shapes.

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchemaFormat struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	TopP           float64         `json:"top_p"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Stream         bool            `json:"stream"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

// responses-API wire shapes.

type inputMessage struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

type reasoningOptions struct {
	Effort string `json:"effort"`
}

type textFormat struct {
	Type   string          `json:"type"`
	Name   string          `json:"name,omitempty"`
	Strict bool            `json:"strict,omitempty"`
	Schema json.RawMessage `json:"schema,omitempty"`
}

type textOptions struct {
	Format *textFormat `json:"format"`
}

type responsesRequest struct {
	Model           string            `json:"model"`
	Input           any               `json:"input"`
	Reasoning       *reasoningOptions `json:"reasoning"`
	MaxOutputTokens int               `json:"max_output_tokens,omitempty"`
	Stream          bool              `json:"stream"`
	Text            *textOptions      `json:"text,omitempty"`
}

// BuildRequest turns the input into a protocol-specific payload, a pure
// data transform with no I/O. The returned value marshals to the exact
// JSON body to send.
func BuildRequest(in BuildInput) (any, error) {
	switch in.Model.APIFormat {
	case ai.FormatChatCompletions:
		return buildChatRequest(in), nil
	case ai.FormatResponses:
		return buildResponsesRequest(in)
	default:
		return nil, aierr.New(aierr.KindUnsupportedAPIFormat,
			"unsupported API format: "+string(in.Model.APIFormat))
	}
}

func buildChatRequest(in BuildInput) *chatRequest {
	req := &chatRequest{
		Model:       in.Model.Name,
		Temperature: in.Model.Temperature,
		TopP:        in.Model.TopP,
		Stream:      in.Stream,
	}
	if in.SystemPrompt != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: in.SystemPrompt})
	}
	req.Messages = append(req.Messages, chatMessage{Role: "user", Content: in.Prompt})
	if in.Model.MaxOutputTokens > 0 {
		req.MaxTokens = in.Model.MaxOutputTokens
	}
	if in.Schema != nil {
		req.ResponseFormat = &responseFormat{
			Type: "json_schema",
			JSONSchema: &jsonSchemaFormat{
				Name:   in.Schema.Name,
				Strict: in.Schema.Strict,
				Schema: in.Schema.Schema,
			},
		}
	}
	return req
}

func buildResponsesRequest(in BuildInput) (*responsesRequest, error) {
	effort := in.Model.ReasoningEffort
	if !effort.Valid() {
		return nil, aierr.New(aierr.KindInvalidReasoningEffort,
			"invalid reasoning effort: "+string(effort))
	}
	if effort == "" {
		effort = ai.EffortMedium
	}

	req := &responsesRequest{
		Model:     in.Model.Name,
		Reasoning: &reasoningOptions{Effort: string(effort)},
		Stream:    in.Stream,
	}

	// A bare prompt goes over the wire as a plain string; a system prompt
	// forces the typed message array.
	if in.SystemPrompt != "" {
		req.Input = []inputMessage{
			{Type: "message", Role: "system", Content: in.SystemPrompt},
			{Type: "message", Role: "user", Content: in.Prompt},
		}
	} else {
		req.Input = in.Prompt
	}

	if in.Model.MaxOutputTokens > 0 {
		req.MaxOutputTokens = in.Model.MaxOutputTokens
	}
	if in.Schema != nil {
		req.Text = &textOptions{Format: &textFormat{
			Type:   "json_schema",
			Name:   in.Schema.Name,
			Strict: in.Schema.Strict,
			Schema: in.Schema.Schema,
		}}
	}
	return req, nil
}
