// Package thinking separates inline reasoning markup from visible answer
// text. Some providers wrap intermediate reasoning in delimiter pairs such
// as <think>...</think> inside the answer itself; others expose it as a
// dedicated reasoning_content field. This package handles both, for complete
// strings and for live chunk streams where a delimiter may straddle an
// arbitrary chunk boundary.
package thinking

import (
	"strings"
)

// Tag is one recognized delimiter pair. Tags are checked in slice order.
type Tag struct {
	Open     string
	Close    string
	FoldCase bool // case-insensitive matching (ASCII delimiters only)
}

// DefaultTags returns the delimiter pairs known in the wild: the common
// XML-ish think tags plus the bracketed forms emitted by some Chinese
// models. The returned slice is fresh on every call so callers can treat
// it as immutable.
func DefaultTags() []Tag {
	return []Tag{
		{Open: "<think>", Close: "</think>", FoldCase: true},
		{Open: "<thinking>", Close: "</thinking>", FoldCase: true},
		{Open: "【思考】", Close: "【/思考】"},
		{Open: "[思考]", Close: "[/思考]"},
	}
}

// Extractor holds the incremental state: a pending buffer and, when an
// opening delimiter has been seen but its close has not, the index of that
// tag. Construct with New; reuse across calls via Reset.
type Extractor struct {
	tags       []Tag
	onContent  func(string)
	onThinking func(string)

	pending string
	inTag   int // index into tags, -1 when outside a span
}

// New creates an Extractor over the given tags. Either callback may be nil.
// OnContent fires as soon as a run of text is known to be plain answer text;
// OnThinking fires when a complete tag span resolves.
func New(tags []Tag, onContent, onThinking func(string)) *Extractor {
	return &Extractor{
		tags:       tags,
		onContent:  onContent,
		onThinking: onThinking,
		inTag:      -1,
	}
}

// Process separates a complete string in one shot. Each tag pattern is
// scanned independently in priority order over the text left by the
// previous pattern; interiors are joined with newlines. Both results are
// trimmed. Process does not touch the incremental state.
func (e *Extractor) Process(text string) (content, thinking string) {
	var pieces []string
	work := text
	for _, tag := range e.tags {
		work, pieces = extractAll(work, tag, pieces)
	}
	return strings.TrimSpace(work), strings.TrimSpace(strings.Join(pieces, "\n"))
}

// Process separates a complete string using the default tags.
func Process(text string) (content, thinking string) {
	return New(DefaultTags(), nil, nil).Process(text)
}

// extractAll removes every non-overlapping open...close span of one tag,
// appending interiors to pieces.
func extractAll(text string, tag Tag, pieces []string) (string, []string) {
	var out strings.Builder
	for {
		open := indexOf(text, tag.Open, tag.FoldCase)
		if open < 0 {
			break
		}
		afterOpen := open + len(tag.Open)
		closeRel := indexOf(text[afterOpen:], tag.Close, tag.FoldCase)
		if closeRel < 0 {
			break
		}
		out.WriteString(text[:open])
		pieces = append(pieces, strings.TrimSpace(text[afterOpen:afterOpen+closeRel]))
		text = text[afterOpen+closeRel+len(tag.Close):]
	}
	out.WriteString(text)
	return out.String(), pieces
}

// Feed consumes the next chunk of streamed text. Text is released through
// the callbacks as soon as its classification is certain; only the minimal
// suffix that could still be the start of an opening delimiter is held back,
// so visible output stays low-latency.
func (e *Extractor) Feed(chunk string) {
	e.pending += chunk

	for {
		if e.inTag >= 0 {
			if !e.resolveClose() {
				return
			}
			continue
		}
		if !e.scanOpen() {
			return
		}
	}
}

// Flush releases whatever is still buffered. With no more input coming, a
// latched open delimiter is definitively unterminated, so the buffer gets
// the same per-pattern extraction Process applies: complete spans of other
// tag kinds sitting past the dead open are resolved as thinking, and the
// rest (dead open included) is emitted as content. This keeps the final
// output identical to Process on the full concatenation.
func (e *Extractor) Flush() {
	if e.pending != "" {
		rest := e.pending
		var pieces []string
		for _, tag := range e.tags {
			rest, pieces = extractAll(rest, tag, pieces)
		}
		e.emitContent(rest)
		if e.onThinking != nil {
			for _, piece := range pieces {
				if piece != "" {
					e.onThinking(piece)
				}
			}
		}
		e.pending = ""
	}
	e.inTag = -1
}

// Reset returns the extractor to its initial state for reuse.
func (e *Extractor) Reset() {
	e.pending = ""
	e.inTag = -1
}

// scanOpen looks for the earliest opening delimiter in the pending buffer.
// It reports false when no further progress can be made without more input.
func (e *Extractor) scanOpen() bool {
	openAt, tagIdx := -1, -1
	for i, tag := range e.tags {
		at := indexOf(e.pending, tag.Open, tag.FoldCase)
		if at < 0 {
			continue
		}
		// Earliest delimiter wins; on a tie the longer one does, so that
		// <thinking> is not mistaken for an unterminated <think>.
		if openAt < 0 || at < openAt || (at == openAt && len(tag.Open) > len(e.tags[tagIdx].Open)) {
			openAt, tagIdx = at, i
		}
	}

	if openAt < 0 {
		// Emit everything except a trailing fragment that could still
		// grow into an opening delimiter.
		hold := e.holdback()
		if cut := len(e.pending) - hold; cut > 0 {
			e.emitContent(e.pending[:cut])
			e.pending = e.pending[cut:]
		}
		return false
	}

	if openAt > 0 {
		e.emitContent(e.pending[:openAt])
		e.pending = e.pending[openAt:]
	}
	e.inTag = tagIdx
	return true
}

// resolveClose looks for the closing delimiter of the currently open tag.
// The pending buffer starts at the opening delimiter while inside a span.
func (e *Extractor) resolveClose() bool {
	tag := e.tags[e.inTag]
	interiorStart := len(tag.Open)
	closeRel := indexOf(e.pending[interiorStart:], tag.Close, tag.FoldCase)
	if closeRel < 0 {
		return false
	}
	interior := e.pending[interiorStart : interiorStart+closeRel]
	if e.onThinking != nil {
		if piece := strings.TrimSpace(interior); piece != "" {
			e.onThinking(piece)
		}
	}
	e.pending = e.pending[interiorStart+closeRel+len(tag.Close):]
	e.inTag = -1
	return true
}

// holdback returns the length of the longest pending suffix that is a
// proper prefix of some opening delimiter.
func (e *Extractor) holdback() int {
	max := 0
	for _, tag := range e.tags {
		limit := len(tag.Open) - 1
		if limit > len(e.pending) {
			limit = len(e.pending)
		}
		for k := limit; k > max; k-- {
			if equal(e.pending[len(e.pending)-k:], tag.Open[:k], tag.FoldCase) {
				max = k
				break
			}
		}
	}
	return max
}

func (e *Extractor) emitContent(s string) {
	if e.onContent != nil && s != "" {
		e.onContent(s)
	}
}

func indexOf(haystack, needle string, fold bool) int {
	if fold {
		return strings.Index(strings.ToLower(haystack), strings.ToLower(needle))
	}
	return strings.Index(haystack, needle)
}

func equal(a, b string, fold bool) bool {
	if fold {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// ReasoningContent performs the structural (non-textual) extraction for
// providers that return a dedicated reasoning_content field alongside the
// answer. It checks the object itself and its message/delta children.
func ReasoningContent(obj map[string]any) (string, bool) {
	if obj == nil {
		return "", false
	}
	if s, ok := obj["reasoning_content"].(string); ok && s != "" {
		return s, true
	}
	for _, key := range []string{"message", "delta"} {
		if child, ok := obj[key].(map[string]any); ok {
			if s, ok := child["reasoning_content"].(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}
