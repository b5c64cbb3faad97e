package remodel

import (
	"fmt"
	"strings"
)

// Separator joins key-chain segments in their textual form.
const Separator = "/"

// RootChain is the textual form of the empty chain, which addresses the
// document root.
const RootChain = Separator

// KeyChain is the ordered list of object keys leading from the document
// root to a slot. The empty chain addresses the root itself.
type KeyChain []string

// String renders the chain with segments joined by the separator. The
// empty chain renders as the root sentinel "/".
func (c KeyChain) String() string {
	if len(c) == 0 {
		return RootChain
	}
	return strings.Join(c, Separator)
}

// IsRoot reports whether the chain addresses the document root.
func (c KeyChain) IsRoot() bool { return len(c) == 0 }

// Child returns a new chain extended by one segment. The receiver is not
// modified.
func (c KeyChain) Child(segment string) KeyChain {
	out := make(KeyChain, len(c), len(c)+1)
	copy(out, c)
	return append(out, segment)
}

// ParseKeyChain inverts KeyChain.String. The root sentinel and the empty
// string both parse to the root chain. Empty segments are rejected because
// they cannot round-trip through the textual form.
func ParseKeyChain(s string) (KeyChain, error) {
	if s == "" || s == RootChain {
		return nil, nil
	}
	segments := strings.Split(s, Separator)
	for _, segment := range segments {
		if segment == "" {
			return nil, fmt.Errorf("remodel: empty segment in key chain %q", s)
		}
	}
	return KeyChain(segments), nil
}

// PathBuilder tracks the key chain of the traversal cursor. Push and Pop
// mirror descent into and return from an object member.
type PathBuilder struct {
	segments []string
}

// NewPathBuilder returns an empty builder positioned at the document root.
func NewPathBuilder() *PathBuilder {
	return &PathBuilder{}
}

// Push appends a segment to the chain. Keys containing the separator are
// rejected with ErrSeparatorInKey; empty keys are rejected because the
// textual chain form cannot express them.
func (b *PathBuilder) Push(segment string) error {
	if segment == "" {
		return fmt.Errorf("remodel: empty object key is not addressable")
	}
	if strings.Contains(segment, Separator) {
		return fmt.Errorf("%w: %q", ErrSeparatorInKey, segment)
	}
	b.segments = append(b.segments, segment)
	return nil
}

// Pop removes and returns the most recent segment. Popping an empty
// builder returns ErrPathUnderflow.
func (b *PathBuilder) Pop() (string, error) {
	if len(b.segments) == 0 {
		return "", ErrPathUnderflow
	}
	last := b.segments[len(b.segments)-1]
	b.segments = b.segments[:len(b.segments)-1]
	return last, nil
}

// Current returns a copy of the chain at the cursor position.
func (b *PathBuilder) Current() KeyChain {
	out := make(KeyChain, len(b.segments))
	copy(out, b.segments)
	return out
}

// Depth returns the number of segments on the builder.
func (b *PathBuilder) Depth() int { return len(b.segments) }

// String renders the current chain.
func (b *PathBuilder) String() string { return KeyChain(b.segments).String() }

// gjsonPath renders the chain as a gjson query path. Metacharacters inside
// segments are escaped so keys containing dots or wildcards address the
// literal key.
func gjsonPath(c KeyChain) string {
	parts := make([]string, len(c))
	for i, segment := range c {
		parts[i] = escapeSegment(segment)
	}
	return strings.Join(parts, ".")
}

// sjsonPath renders the chain as an sjson write path. All-digit segments
// carry the ":" prefix so sjson treats them as object keys rather than
// array indexes; chains only ever address through objects.
func sjsonPath(c KeyChain) string {
	parts := make([]string, len(c))
	for i, segment := range c {
		escaped := escapeSegment(segment)
		if isDigits(segment) {
			escaped = ":" + escaped
		}
		parts[i] = escaped
	}
	return strings.Join(parts, ".")
}

// escapeSegment backslash-escapes every character gjson or sjson treats as
// path syntax. Both libraries take the character after a backslash
// literally, so one escape set serves reads and writes.
func escapeSegment(segment string) string {
	var b strings.Builder
	b.Grow(len(segment))
	for _, r := range segment {
		switch r {
		case '.', '*', '?', '|', '#', '@', ':', '{', '[', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
