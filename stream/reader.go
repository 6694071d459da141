// Package stream consumes a live response body as a sequence of byte
// chunks, reassembles SSE lines across arbitrary chunk boundaries, extracts
// incremental text deltas per protocol variant, and feeds them through the
// thinking extractor. It is transport-agnostic: anything that yields bytes
// can drive it, the HTTP client just happens to hand it a response body.
package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/inkdrift/aicore/ai"
	"github.com/inkdrift/aicore/aierr"
	"github.com/inkdrift/aicore/thinking"
)

// State tracks the reader's lifecycle.
type State int

const (
	StateIdle State = iota
	StateReading
	StateCompleted
	StateCancelled
	StateErrored
)

const readBufferSize = 4096

// doneMarker terminates an SSE stream explicitly.
const doneMarker = "[DONE]"

// Reader turns SSE chunks into ordered OnChunk/OnThinking callbacks plus a
// single terminal OnComplete or OnError. Not safe for concurrent use; one
// stream at a time, Reset between streams.
type Reader struct {
	format    ai.Format
	callbacks ai.StreamCallbacks
	extractor *thinking.Extractor

	aggregate strings.Builder
	carry     []byte
	state     State
	done      bool
}

// New creates a Reader for the given declared API format. An empty format
// enables structural fallback extraction. The tag table is passed through
// to the thinking extractor.
func New(format ai.Format, tags []thinking.Tag, callbacks ai.StreamCallbacks) *Reader {
	r := &Reader{
		format:    format,
		callbacks: callbacks,
	}
	r.extractor = thinking.New(tags,
		func(s string) {
			r.aggregate.WriteString(s)
			if r.callbacks.OnChunk != nil {
				r.callbacks.OnChunk(s)
			}
		},
		func(s string) {
			if r.callbacks.OnThinking != nil {
				r.callbacks.OnThinking(s)
			}
		},
	)
	return r
}

// Aggregate returns the visible content accumulated so far.
func (r *Reader) Aggregate() string {
	return r.aggregate.String()
}

// CurrentState returns the reader's lifecycle state.
func (r *Reader) CurrentState() State {
	return r.state
}

// Reset returns the reader to idle for reuse, clearing the aggregate, the
// carry-over buffer, and the extractor state.
func (r *Reader) Reset() {
	r.aggregate.Reset()
	r.carry = nil
	r.done = false
	r.state = StateIdle
	r.extractor.Reset()
}

// Consume drives the reader from an io.Reader until end-of-stream,
// cancellation, or a read failure. It reports the outcome through the
// callbacks (exactly one OnComplete or OnError) and also returns the
// terminal error for the caller's convenience.
func (r *Reader) Consume(ctx context.Context, body io.Reader) error {
	r.begin()
	buf := make([]byte, readBufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return r.Fail(err)
		}

		n, err := body.Read(buf)
		if n > 0 {
			r.Feed(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.Finish()
				return nil
			}
			// A read failure right after cancellation is the
			// cancellation, not a transport fault.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return r.Fail(ctxErr)
			}
			return r.Fail(err)
		}
		if r.done {
			r.Finish()
			return nil
		}
	}
}

// Feed processes one raw chunk: complete lines are handled, the trailing
// fragment is carried over to the next chunk.
func (r *Reader) Feed(chunk []byte) {
	r.begin()
	r.carry = append(r.carry, chunk...)
	for {
		idx := bytes.IndexByte(r.carry, '\n')
		if idx < 0 {
			return
		}
		line := string(r.carry[:idx])
		r.carry = r.carry[idx+1:]
		r.processLine(line)
	}
}

// Finish flushes the carry-over buffer and the extractor, then fires
// OnComplete with the final aggregate. No-op once terminal.
func (r *Reader) Finish() {
	if r.terminal() {
		return
	}
	if line := strings.TrimSpace(string(r.carry)); line != "" {
		r.processLine(line)
	}
	r.carry = nil
	r.extractor.Flush()
	r.state = StateCompleted
	if r.callbacks.OnComplete != nil {
		r.callbacks.OnComplete(r.aggregate.String())
	}
}

// Fail classifies err, fires OnError with it, and returns it. An
// already-classified error passes through unchanged; anything else becomes
// StreamInterrupted carrying the partial aggregate. No-op once terminal.
func (r *Reader) Fail(err error) error {
	if r.terminal() {
		return err
	}

	classified := aierr.Classify(err, r.aggregate.String())
	if classified.Kind == aierr.KindNetworkError {
		// Read-loop faults keep the partial output with them.
		classified = aierr.Interrupted(r.aggregate.String(), err)
	}

	if classified.Kind == aierr.KindStreamInterrupted && errors.Is(err, context.Canceled) {
		r.state = StateCancelled
	} else {
		r.state = StateErrored
	}
	if r.callbacks.OnError != nil {
		r.callbacks.OnError(classified)
	}
	return classified
}

func (r *Reader) begin() {
	if r.state != StateIdle {
		return
	}
	r.state = StateReading
	if r.callbacks.OnStart != nil {
		r.callbacks.OnStart()
	}
}

func (r *Reader) terminal() bool {
	switch r.state {
	case StateCompleted, StateCancelled, StateErrored:
		return true
	}
	return false
}

// processLine handles a single reassembled SSE line. Only data: lines are
// interpreted; blank lines, comments, and other SSE fields are skipped.
func (r *Reader) processLine(raw string) {
	if r.done {
		return
	}
	line := strings.TrimSpace(raw)
	if !strings.HasPrefix(line, "data:") {
		return
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == doneMarker {
		r.done = true
		return
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		logrus.WithField("payload", payload).Debug("Dropping undecodable stream event")
		return
	}
	r.handleEvent(obj)
}

func (r *Reader) handleEvent(obj map[string]any) {
	delta, reasoning := extractDelta(obj, r.format)
	if reasoning != "" && r.callbacks.OnThinking != nil {
		r.callbacks.OnThinking(reasoning)
	}
	if delta != "" {
		r.extractor.Feed(delta)
	}
}

// extractDelta pulls the incremental text (and any structural reasoning
// delta) out of one decoded event, keyed by the declared format with a
// generic fallback when the format is unspecified.
func extractDelta(obj map[string]any, format ai.Format) (text, reasoning string) {
	switch format {
	case ai.FormatChatCompletions:
		choices, _ := obj["choices"].([]any)
		if len(choices) == 0 {
			return "", ""
		}
		choice, _ := choices[0].(map[string]any)
		delta, _ := choice["delta"].(map[string]any)
		if s, ok := thinking.ReasoningContent(delta); ok {
			reasoning = s
		}
		text, _ = delta["content"].(string)
		return text, reasoning

	case ai.FormatResponses:
		if s, ok := thinking.ReasoningContent(obj); ok {
			reasoning = s
		}
		switch obj["type"] {
		case "response.output_text.delta":
			text, _ = obj["delta"].(string)
		case "response.content_part.delta":
			if delta, ok := obj["delta"].(map[string]any); ok {
				text, _ = delta["text"].(string)
			}
		}
		return text, reasoning

	default:
		if s, ok := thinking.ReasoningContent(obj); ok {
			reasoning = s
		}
		for _, key := range []string{"delta", "content", "text"} {
			if s, ok := obj[key].(string); ok && s != "" {
				return s, reasoning
			}
		}
		return "", reasoning
	}
}
