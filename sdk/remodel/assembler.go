package remodel

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Assembler splices processed results back into the base document and
// undoes the transforms indexing applied on the way in.
type Assembler struct {
	Formatter  Formatter
	WrapperKey string
}

// RecoverPlanned checks the result set against the plan and then recovers.
// Any planned address without a result fails with IncompleteResultsError
// before a single splice happens.
func (a *Assembler) RecoverPlanned(plan []WorkUnit, results *ResultSet) ([]byte, error) {
	var missing []UnitAddress
	for _, unit := range plan {
		if _, ok := results.Get(unit.Address); !ok {
			missing = append(missing, unit.Address)
		}
	}
	if len(missing) > 0 {
		return nil, &IncompleteResultsError{Missing: missing}
	}
	return a.Recover(results)
}

// Recover rebuilds the document from a result set alone. The root entry is
// parsed, repairing artifacts when the direct parse fails; every chain's
// elements are then spliced back in index order through the path writer,
// and the finished document is validated and unwrapped. Index gaps within
// a chain fail with IncompleteResultsError; text that defeats repair fails
// with MalformedRecoveryError.
func (a *Assembler) Recover(results *ResultSet) ([]byte, error) {
	rootText, ok := results.Root()
	if !ok {
		return nil, ErrMissingRoot
	}
	base, err := a.Formatter.ParseRepaired(rootText)
	if err != nil {
		return nil, fmt.Errorf("root unit: %w", err)
	}

	chains := results.Chains()
	if len(chains) > 0 && !gjson.ParseBytes(base).IsObject() {
		return nil, &MalformedRecoveryError{
			Raw: rootText,
			Err: fmt.Errorf("root result is not a JSON object but %d chains await splicing", len(chains)),
		}
	}

	for _, chain := range chains {
		raw, missing := a.buildArray(chain, results.IndexTexts(chain))
		if len(missing) > 0 {
			return nil, &IncompleteResultsError{Missing: missing}
		}
		base, err = UpdateValue(base, chain, raw)
		if err != nil {
			return nil, err
		}
	}

	final, err := a.Formatter.ParseRepaired(string(base))
	if err != nil {
		return nil, err
	}
	return a.unwrapRoot(final), nil
}

// buildArray assembles the recovered array for one chain from its indexed
// element texts. Indices must cover 0 through the highest seen; gaps are
// reported as missing addresses.
func (a *Assembler) buildArray(chain KeyChain, texts map[int]string) ([]byte, []UnitAddress) {
	if len(texts) == 0 {
		return []byte("[]"), nil
	}
	highest := -1
	for index := range texts {
		if index > highest {
			highest = index
		}
	}
	var missing []UnitAddress
	elements := make([][]byte, 0, highest+1)
	for index := 0; index <= highest; index++ {
		text, ok := texts[index]
		if !ok {
			missing = append(missing, UnitAddress{Chain: chain, Index: index})
			continue
		}
		elements = append(elements, a.elementRaw(chain, index, text))
	}
	if len(missing) > 0 {
		return nil, missing
	}
	raw := append([]byte("["), bytes.Join(elements, []byte(","))...)
	return append(raw, ']'), nil
}

// elementRaw renders one element for splicing. Texts that parse as JSON,
// directly or after repair, splice structurally; anything else becomes a
// JSON string.
func (a *Assembler) elementRaw(chain KeyChain, index int, text string) []byte {
	trimmed := strings.TrimSpace(text)
	if json.Valid([]byte(trimmed)) {
		return []byte(trimmed)
	}
	repaired := a.Formatter.Repair(text)
	if json.Valid([]byte(repaired)) {
		log.Debugf("repaired element %s/%d before splicing", chain, index)
		return []byte(repaired)
	}
	encoded, _ := json.Marshal(text)
	return encoded
}

// unwrapRoot undoes the array wrapping applied at intake. Collision
// validation at intake guarantees the wrapper key cannot occur in user
// data, so its presence at the top level always means the document was
// wrapped.
func (a *Assembler) unwrapRoot(doc []byte) []byte {
	key := a.WrapperKey
	if key == "" {
		key = DefaultRootWrapperKey
	}
	parsed := gjson.ParseBytes(doc)
	if !parsed.IsObject() {
		return doc
	}
	wrapped := parsed.Get(escapeSegment(key))
	if !wrapped.Exists() {
		return doc
	}
	return []byte(wrapped.Raw)
}
