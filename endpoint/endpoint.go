// Package endpoint repairs user-supplied base URLs into fully qualified API
// paths for a given protocol variant. Users paste anything from a bare host
// to a complete chat-completions URL into settings; Normalize accepts all of
// them and is idempotent, so an already-normalized URL passes through
// unchanged.
package endpoint

import (
	"regexp"
	"strings"

	"github.com/inkdrift/aicore/ai"
	"github.com/inkdrift/aicore/aierr"
)

// knownSuffixes are the API path suffixes recognized (and stripped) when
// recovering a base URL, longest match first.
var knownSuffixes = []string{
	"/v1/chat/completions",
	"/chat/completions",
	"/v1/completions",
	"/v1/responses",
	"/completions",
	"/v1/models",
	"/responses",
	"/models",
	"/v1",
}

var versionSegment = regexp.MustCompile(`^v\d+$`)

// target describes how one protocol variant terminates a URL.
type target struct {
	// terminal is the path that marks the URL as already normalized.
	terminal string
	// containsOK accepts the terminal anywhere in the path, not just at
	// the end (proxy setups put extra segments after it).
	containsOK bool
	// minimal is appended when the URL ends in a bare version segment.
	minimal string
	// canonical is appended to a recovered base URL.
	canonical string
}

var targets = map[ai.Format]target{
	ai.FormatChatCompletions: {
		terminal:   "/chat/completions",
		containsOK: true,
		minimal:    "/chat/completions",
		canonical:  "/v1/chat/completions",
	},
	ai.FormatResponses: {
		terminal:  "/responses",
		minimal:   "/responses",
		canonical: "/v1/responses",
	},
}

var modelsTarget = target{
	terminal:  "/models",
	minimal:   "/models",
	canonical: "/v1/models",
}

// Normalize turns a raw base URL into the full API path for the format.
// It is idempotent: Normalize(Normalize(u, f), f) == Normalize(u, f).
func Normalize(raw string, format ai.Format) (string, error) {
	tgt, ok := targets[format]
	if !ok {
		return "", aierr.New(aierr.KindUnsupportedAPIFormat, "unsupported API format: "+string(format))
	}
	return normalize(raw, tgt)
}

// NormalizeModels turns a raw base URL into the model-listing URL.
func NormalizeModels(raw string) (string, error) {
	return normalize(raw, modelsTarget)
}

func normalize(raw string, tgt target) (string, error) {
	u := strings.TrimSpace(raw)
	if u == "" {
		return "", aierr.New(aierr.KindInvalidEndpoint, "endpoint URL is empty")
	}

	u = ensureScheme(u)
	u = strings.TrimRight(u, "/")

	path := pathOf(u)

	switch {
	case hasTerminal(path, tgt):
		// Already points at the right API.
	case endsWithVersionSegment(path):
		u += tgt.minimal
	default:
		u = stripKnownSuffix(u) + tgt.canonical
	}

	return collapseSlashes(u), nil
}

func ensureScheme(u string) string {
	switch {
	case strings.Contains(u, "://"):
		return u
	case strings.HasPrefix(u, "//"):
		return "https:" + u
	default:
		return "https://" + u
	}
}

// pathOf returns the path portion of the URL, "" when there is none.
func pathOf(u string) string {
	rest := u
	if idx := strings.Index(u, "://"); idx >= 0 {
		rest = u[idx+3:]
	}
	if slash := strings.Index(rest, "/"); slash >= 0 {
		return rest[slash:]
	}
	return ""
}

func hasTerminal(path string, tgt target) bool {
	if tgt.containsOK {
		return strings.Contains(path, tgt.terminal)
	}
	return strings.HasSuffix(path, tgt.terminal)
}

// endsWithVersionSegment reports whether the path ends in a bare API version
// segment ("/v1", "/v2", ...) or "/openai", the shapes where appending the
// minimal suffix is enough.
func endsWithVersionSegment(path string) bool {
	if path == "" {
		return false
	}
	seg := path[strings.LastIndex(path, "/")+1:]
	return versionSegment.MatchString(seg) || seg == "openai"
}

// stripKnownSuffix removes the longest recognized API suffix so the
// canonical suffix for the requested format can be appended to a clean base.
func stripKnownSuffix(u string) string {
	for _, suffix := range knownSuffixes {
		if strings.HasSuffix(u, suffix) {
			return u[:len(u)-len(suffix)]
		}
	}
	return u
}

// collapseSlashes removes doubled slashes outside the scheme separator.
func collapseSlashes(u string) string {
	scheme := ""
	rest := u
	if idx := strings.Index(u, "://"); idx >= 0 {
		scheme = u[:idx+3]
		rest = u[idx+3:]
	}
	for strings.Contains(rest, "//") {
		rest = strings.ReplaceAll(rest, "//", "/")
	}
	return scheme + rest
}
