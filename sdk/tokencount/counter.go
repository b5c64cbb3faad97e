// Package tokencount measures the token footprint of text for a given
// model using tiktoken BPE encodings, with a character-based estimate as
// the fallback when an encoding is unavailable.
package tokencount

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// Counter counts tokens with per-model codec caching. The zero value is
// ready to use and safe for concurrent callers.
type Counter struct {
	codecs sync.Map // model -> tokenizer.Codec
}

// New returns a ready Counter.
func New() *Counter {
	return &Counter{}
}

// Count returns the token count of text under the encoding mapped to
// model. When the encoding cannot be resolved or fails, the estimate
// takes over so callers always get a usable count.
func (c *Counter) Count(text, model string) int {
	if text == "" {
		return 0
	}
	enc, err := c.codecFor(model)
	if err != nil {
		return Estimate(text)
	}
	_, tokens, err := enc.Encode(text)
	if err != nil {
		return Estimate(text)
	}
	return len(tokens)
}

// codecFor resolves and caches the codec for a model name. Known prefixes
// map to their matching encodings; everything else falls back to
// O200kBase, the encoding of current-generation models.
func (c *Counter) codecFor(model string) (tokenizer.Codec, error) {
	if cached, ok := c.codecs.Load(model); ok {
		return cached.(tokenizer.Codec), nil
	}

	var enc tokenizer.Codec
	var err error
	sanitized := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(sanitized, "gpt-4o"), strings.HasPrefix(sanitized, "gpt-4.1"):
		enc, err = tokenizer.ForModel(tokenizer.GPT4o)
	case strings.HasPrefix(sanitized, "gpt-4"):
		enc, err = tokenizer.ForModel(tokenizer.GPT4)
	case strings.HasPrefix(sanitized, "gpt-3.5"):
		enc, err = tokenizer.ForModel(tokenizer.GPT35Turbo)
	default:
		enc, err = tokenizer.Get(tokenizer.O200kBase)
	}
	if err != nil {
		return nil, err
	}

	actual, _ := c.codecs.LoadOrStore(model, enc)
	return actual.(tokenizer.Codec), nil
}

// Estimate approximates tokens as one per four bytes of text, floored at
// one for non-empty input. English prose averages about four characters
// per token, so this stays in the right ballpark without an encoding.
func Estimate(text string) int {
	if len(text) == 0 {
		return 0
	}
	tokens := len(text) / 4
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}
