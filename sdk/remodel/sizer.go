package remodel

// Sizer measures the token footprint of a serialized payload for a given
// model. Counts must grow with text length so extraction decisions stay
// stable.
type Sizer interface {
	Count(text, model string) int
}

// SizerFunc adapts a plain function to the Sizer interface.
type SizerFunc func(text, model string) int

// Count calls f.
func (f SizerFunc) Count(text, model string) int { return f(text, model) }

// estimateSizer approximates tokens as one per four bytes of text, the
// fallback when no model-aware counter is injected.
var estimateSizer = SizerFunc(func(text, _ string) int {
	if text == "" {
		return 0
	}
	tokens := len(text) / 4
	if tokens == 0 {
		tokens = 1
	}
	return tokens
})
