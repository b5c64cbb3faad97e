package remodel

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// UpdateValue writes raw JSON into the slot the chain addresses, creating
// missing intermediate objects along the way. Whatever sits at the slot is
// replaced. Placeholder installation and recovery splicing both go through
// this single write path.
func UpdateValue(doc []byte, chain KeyChain, raw []byte) ([]byte, error) {
	if chain.IsRoot() {
		return nil, errors.New("remodel: key chain addresses the document root")
	}
	out, err := sjson.SetRawBytes(doc, sjsonPath(chain), raw)
	if err != nil {
		return nil, fmt.Errorf("remodel: write at %s: %w", chain, err)
	}
	return out, nil
}

// UpdateString writes a JSON string value into the slot the chain
// addresses.
func UpdateString(doc []byte, chain KeyChain, value string) ([]byte, error) {
	if chain.IsRoot() {
		return nil, errors.New("remodel: key chain addresses the document root")
	}
	out, err := sjson.SetBytes(doc, sjsonPath(chain), value)
	if err != nil {
		return nil, fmt.Errorf("remodel: write at %s: %w", chain, err)
	}
	return out, nil
}

// ValueAt reads the value the chain addresses. The root chain yields the
// whole document.
func ValueAt(doc []byte, chain KeyChain) (gjson.Result, bool) {
	if chain.IsRoot() {
		return gjson.ParseBytes(doc), true
	}
	result := gjson.GetBytes(doc, gjsonPath(chain))
	return result, result.Exists()
}
