package protocol

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/inkdrift/aicore/ai"
	"github.com/inkdrift/aicore/aierr"
	"github.com/inkdrift/aicore/thinking"
)

// DetectFormat classifies a complete response body by shape: an output
// array means responses, a choices array means chat-completions. The output
// check runs first, so a body carrying both arrays is responses. ok is
// false when the body matches neither.
func DetectFormat(body []byte) (ai.Format, bool) {
	obj, err := decodeObject(body)
	if err != nil {
		return "", false
	}
	return detectFormat(obj)
}

func detectFormat(obj map[string]any) (ai.Format, bool) {
	if _, ok := obj["output"].([]any); ok {
		return ai.FormatResponses, true
	}
	if _, ok := obj["choices"].([]any); ok {
		return ai.FormatChatCompletions, true
	}
	return "", false
}

// Parse turns a complete (non-streamed) response body into a normalized
// result. The format is detected from the body shape, inline thinking
// markup is separated out, and structural reasoning fields are preferred
// over tag-extracted thinking.
func Parse(body []byte) (*ai.Result, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return nil, err
	}

	if msg := errorMessage(obj); msg != "" {
		return nil, aierr.New(aierr.KindInvalidResponse, msg)
	}

	format, ok := detectFormat(obj)
	if !ok {
		return nil, aierr.New(aierr.KindInvalidResponse, "unrecognized response shape")
	}

	switch format {
	case ai.FormatChatCompletions:
		return parseChat(obj)
	default:
		return parseResponses(obj)
	}
}

// decodeObject unmarshals a JSON object, attempting a repair pass when the
// body is not strictly valid JSON before giving up.
func decodeObject(body []byte) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(string(body))
		if repairErr != nil {
			return nil, aierr.Wrap(aierr.KindInvalidResponse, "response is not valid JSON", err)
		}
		if err := json.Unmarshal([]byte(repaired), &obj); err != nil {
			return nil, aierr.Wrap(aierr.KindInvalidResponse, "response is not valid JSON", err)
		}
	}
	return obj, nil
}

func errorMessage(obj map[string]any) string {
	errObj, ok := obj["error"].(map[string]any)
	if !ok {
		return ""
	}
	msg, _ := errObj["message"].(string)
	return msg
}

func parseChat(obj map[string]any) (*ai.Result, error) {
	choices, _ := obj["choices"].([]any)
	if len(choices) == 0 {
		return nil, aierr.New(aierr.KindInvalidResponse, "response contains no choices")
	}

	choice, _ := choices[0].(map[string]any)
	message, _ := choice["message"].(map[string]any)
	raw, ok := message["content"].(string)
	if !ok {
		return nil, aierr.New(aierr.KindInvalidResponse, "response message has no content")
	}

	content, tagThinking := thinking.Process(raw)

	// Providers with a dedicated reasoning field win over inline tags.
	summary, _ := thinking.ReasoningContent(choice)
	if summary == "" {
		summary = tagThinking
	}

	result := &ai.Result{
		Content:          content,
		ReasoningSummary: summary,
	}
	if usage, ok := obj["usage"].(map[string]any); ok {
		result.Usage = &ai.Usage{
			InputTokens:  intField(usage, "prompt_tokens"),
			OutputTokens: intField(usage, "completion_tokens"),
		}
	}
	return result, nil
}

func parseResponses(obj map[string]any) (*ai.Result, error) {
	output, _ := obj["output"].([]any)
	if len(output) == 0 {
		return nil, aierr.New(aierr.KindInvalidResponse, "response contains no output items")
	}

	var answer strings.Builder
	var summaries []string
	found := false

	for _, rawItem := range output {
		item, _ := rawItem.(map[string]any)
		switch item["type"] {
		case "message":
			parts, _ := item["content"].([]any)
			for _, rawPart := range parts {
				part, _ := rawPart.(map[string]any)
				if part["type"] != "output_text" && part["type"] != "text" {
					continue
				}
				if text, ok := part["text"].(string); ok {
					answer.WriteString(text)
					found = true
				}
			}
		case "reasoning":
			parts, _ := item["summary"].([]any)
			for _, rawPart := range parts {
				part, _ := rawPart.(map[string]any)
				if part["type"] != "summary_text" && part["type"] != "text" {
					continue
				}
				if text, ok := part["text"].(string); ok {
					summaries = append(summaries, text)
				}
			}
		}
	}

	if !found {
		return nil, aierr.New(aierr.KindInvalidResponse, "response contains no message content")
	}

	content, tagThinking := thinking.Process(answer.String())

	// Structural summary first, tag-derived thinking appended.
	if tagThinking != "" {
		summaries = append(summaries, tagThinking)
	}

	result := &ai.Result{
		Content:          content,
		ReasoningSummary: strings.Join(summaries, "\n"),
	}
	if usage, ok := obj["usage"].(map[string]any); ok {
		result.Usage = &ai.Usage{
			InputTokens:     intField(usage, "input_tokens"),
			OutputTokens:    intField(usage, "output_tokens"),
			ReasoningTokens: intField(usage, "reasoning_tokens"),
		}
	}
	return result, nil
}

// ParseModelList parses a provider's model listing ({"data":[{"id":...}]}).
func ParseModelList(body []byte) ([]ai.ModelInfo, error) {
	var listing struct {
		Data []ai.ModelInfo `json:"data"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, aierr.Wrap(aierr.KindInvalidResponse, "model listing is not valid JSON", err)
	}
	if listing.Data == nil {
		return nil, aierr.New(aierr.KindInvalidResponse, "model listing has no data array")
	}
	return listing.Data, nil
}

func intField(obj map[string]any, key string) int {
	if f, ok := obj[key].(float64); ok {
		return int(f)
	}
	return 0
}
