package remodel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Formatter serializes working documents and repairs the artifacts that
// line-serialized model output tends to carry.
type Formatter struct {
	// Indent is the number of spaces per nesting level for ToJSON. Zero or
	// less emits compact output.
	Indent int
}

// ToJSON re-serializes the document with the configured indentation. The
// transform works on the raw bytes and never reorders object keys.
func (f Formatter) ToJSON(doc []byte) ([]byte, error) {
	if f.Indent <= 0 {
		out, err := Compact(doc)
		if err != nil {
			return nil, fmt.Errorf("remodel: compact document: %w", err)
		}
		return out, nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, doc, "", strings.Repeat(" ", f.Indent)); err != nil {
		return nil, fmt.Errorf("remodel: indent document: %w", err)
	}
	return buf.Bytes(), nil
}

// Compact strips insignificant whitespace from a JSON document. Key order
// and number formatting pass through untouched.
func Compact(doc []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var (
	spaceRunPattern     = regexp.MustCompile(`\s+`)
	quotedObjectPattern = regexp.MustCompile(`"\{(.*?)\}"`)
)

// Repair applies the artifact heuristics to text that failed to parse:
// surrounding code fences and prose are stripped down to the first
// balanced JSON span, stray literal "\n" sequences are removed, escaped
// quotes are unescaped, the common mojibake dash is normalized, whitespace
// runs collapse to single spaces, and string-encoded objects are unquoted.
// The passes are lossy, so callers only reach for them after a direct
// parse fails.
func (f Formatter) Repair(text string) string {
	out := strings.TrimSpace(text)
	out = stripCodeFence(out)
	if candidate, ok := extractJSONCandidate(out); ok {
		out = candidate
	}
	out = strings.ReplaceAll(out, `\n`, "")
	out = strings.ReplaceAll(out, `\"`, `"`)
	out = strings.ReplaceAll(out, "â€”", "–")
	out = spaceRunPattern.ReplaceAllString(out, " ")
	out = quotedObjectPattern.ReplaceAllString(out, "{$1}")
	return strings.TrimSpace(out)
}

// ParseRepaired returns the compact form of text parsed as JSON. Text that
// parses directly passes through untouched, so clean results round-trip
// exactly. Otherwise the repair heuristics run once and the outcome must
// parse, or a MalformedRecoveryError carrying the original text comes
// back.
func (f Formatter) ParseRepaired(text string) ([]byte, error) {
	trimmed := strings.TrimSpace(text)
	if out, err := Compact([]byte(trimmed)); err == nil {
		return out, nil
	}
	repaired := f.Repair(text)
	out, err := Compact([]byte(repaired))
	if err != nil {
		return nil, &MalformedRecoveryError{Raw: text, Err: err}
	}
	return out, nil
}

// stripCodeFence removes a surrounding markdown code fence, with or
// without a language tag on the opening line.
func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	rest := text[3:]
	idx := strings.IndexByte(rest, '\n')
	if idx < 0 {
		return text
	}
	rest = strings.TrimSpace(rest[idx+1:])
	rest = strings.TrimSuffix(rest, "```")
	return strings.TrimSpace(rest)
}

// extractJSONCandidate returns the first balanced object or array span in
// text. The scan is string-aware, so braces inside string literals do not
// count toward nesting.
func extractJSONCandidate(text string) (string, bool) {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", false
	}
	var stack []byte
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, ch)
		case '}', ']':
			if len(stack) == 0 {
				return "", false
			}
			open := stack[len(stack)-1]
			if (ch == '}' && open != '{') || (ch == ']' && open != '[') {
				return "", false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
