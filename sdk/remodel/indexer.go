package remodel

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// ExtractionMap records the arrays lifted out of a working document, in
// the order the traversal found them. It is read-only once indexing
// completes.
type ExtractionMap struct {
	order  []KeyChain
	arrays map[string][]byte
}

func newExtractionMap() *ExtractionMap {
	return &ExtractionMap{arrays: make(map[string][]byte)}
}

func (m *ExtractionMap) add(chain KeyChain, raw []byte) {
	key := chain.String()
	if _, exists := m.arrays[key]; !exists {
		m.order = append(m.order, chain)
	}
	m.arrays[key] = raw
}

// Len returns the number of extracted arrays.
func (m *ExtractionMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.order)
}

// Chains returns the extraction chains in traversal order.
func (m *ExtractionMap) Chains() []KeyChain {
	if m == nil {
		return nil
	}
	out := make([]KeyChain, len(m.order))
	copy(out, m.order)
	return out
}

// Get returns the compact serialized array recorded for the chain.
func (m *ExtractionMap) Get(chain KeyChain) ([]byte, bool) {
	if m == nil {
		return nil, false
	}
	raw, ok := m.arrays[chain.String()]
	return raw, ok
}

// Indexer walks an object-rooted document and lifts out every array whose
// compact serialized form exceeds the token budget, writing the
// placeholder string into each vacated slot. Arrays are leaves for sizing:
// the walk never descends into them, so an oversized array nested inside
// an extracted one travels with its parent element. Placeholders are plain
// strings, which makes indexing idempotent.
type Indexer struct {
	Sizer       Sizer
	Model       string
	TokenBudget int
	Placeholder string
}

type extractionSpan struct {
	chain KeyChain
	raw   []byte
}

// Index returns the placeholder-bearing document and the extraction map.
// The input slice is not modified.
func (ix *Indexer) Index(doc []byte) ([]byte, *ExtractionMap, error) {
	if ix.TokenBudget <= 0 {
		return nil, nil, fmt.Errorf("remodel: token budget must be positive, got %d", ix.TokenBudget)
	}
	sizer := ix.Sizer
	if sizer == nil {
		sizer = estimateSizer
	}
	placeholder := ix.Placeholder
	if placeholder == "" {
		placeholder = DefaultPlaceholder
	}
	if !gjson.ValidBytes(doc) {
		return nil, nil, fmt.Errorf("remodel: working document is not valid JSON")
	}

	root := gjson.ParseBytes(doc)
	ext := newExtractionMap()
	if !root.IsObject() {
		if root.IsArray() {
			return nil, nil, fmt.Errorf("remodel: array-rooted document must be wrapped before indexing")
		}
		// Scalar roots have no arrays to lift.
		return append([]byte(nil), doc...), ext, nil
	}

	builder := NewPathBuilder()
	var spans []extractionSpan
	var walkErr error
	var walk func(node gjson.Result) bool
	walk = func(node gjson.Result) bool {
		ok := true
		node.ForEach(func(key, value gjson.Result) bool {
			if err := builder.Push(key.String()); err != nil {
				walkErr = err
				ok = false
				return false
			}
			switch {
			case value.IsObject():
				if !walk(value) {
					ok = false
				}
			case value.IsArray():
				raw, err := Compact([]byte(value.Raw))
				if err != nil {
					walkErr = fmt.Errorf("remodel: serialize array at %s: %w", builder, err)
					ok = false
				} else if sizer.Count(string(raw), ix.Model) > ix.TokenBudget {
					spans = append(spans, extractionSpan{chain: builder.Current(), raw: raw})
				}
			}
			if ok {
				if _, err := builder.Pop(); err != nil {
					walkErr = err
					ok = false
				}
			}
			return ok
		})
		return ok
	}
	walk(root)
	if walkErr != nil {
		return nil, nil, walkErr
	}

	updated := append([]byte(nil), doc...)
	var err error
	for _, span := range spans {
		ext.add(span.chain, span.raw)
		updated, err = UpdateString(updated, span.chain, placeholder)
		if err != nil {
			return nil, nil, fmt.Errorf("remodel: install placeholder at %s: %w", span.chain, err)
		}
		log.Debugf("extracted array at %s (%d bytes serialized)", span.chain, len(span.raw))
	}
	return updated, ext, nil
}
