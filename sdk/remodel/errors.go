package remodel

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPathUnderflow reports a Pop on an empty path builder. It marks a
	// traversal bookkeeping bug, not bad input, and aborts the operation.
	ErrPathUnderflow = errors.New("remodel: path builder underflow")

	// ErrMissingRoot reports a result set that has no entry for the root
	// document unit.
	ErrMissingRoot = errors.New("remodel: result set has no root document entry")

	// ErrSeparatorInKey reports an object key containing the chain
	// separator, which would make its textual chain ambiguous.
	ErrSeparatorInKey = errors.New("remodel: object key contains the chain separator")

	// ErrPlaceholderCollision reports an input document that already
	// contains the placeholder marker or the root wrapper key.
	ErrPlaceholderCollision = errors.New("remodel: input document collides with placeholder markers")
)

// MalformedRecoveryError reports processed text that failed to parse as
// JSON even after artifact repair. Raw preserves the offending text so the
// caller can inspect or log what came back.
type MalformedRecoveryError struct {
	Raw string
	Err error
}

func (e *MalformedRecoveryError) Error() string {
	snippet := e.Raw
	if len(snippet) > 160 {
		snippet = snippet[:160] + "..."
	}
	if e.Err != nil {
		return fmt.Sprintf("remodel: recovered text is not valid JSON: %v (text: %q)", e.Err, snippet)
	}
	return fmt.Sprintf("remodel: recovered text is not valid JSON (text: %q)", snippet)
}

func (e *MalformedRecoveryError) Unwrap() error { return e.Err }

// IncompleteResultsError lists the unit addresses a recovery expected but
// did not find in the result set.
type IncompleteResultsError struct {
	Missing []UnitAddress
}

func (e *IncompleteResultsError) Error() string {
	shown := make([]string, 0, len(e.Missing))
	for i, addr := range e.Missing {
		if i == 5 {
			shown = append(shown, "...")
			break
		}
		shown = append(shown, addr.String())
	}
	return fmt.Sprintf("remodel: result set is missing %d unit(s): %s", len(e.Missing), strings.Join(shown, ", "))
}
