package remodel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// UnitAddress identifies a work unit by the chain of the array it came
// from and the element index within that array. The root document unit
// carries the root chain and index zero.
type UnitAddress struct {
	Chain KeyChain
	Index int
}

// RootAddress returns the address of the root document unit.
func RootAddress() UnitAddress { return UnitAddress{} }

// IsRoot reports whether the address names the root document unit.
func (a UnitAddress) IsRoot() bool { return a.Chain.IsRoot() }

// String renders chain and index joined by the separator. The root unit
// renders as the bare root sentinel.
func (a UnitAddress) String() string {
	if a.IsRoot() {
		return RootChain
	}
	return a.Chain.String() + Separator + strconv.Itoa(a.Index)
}

// ParseUnitAddress inverts UnitAddress.String. The segment after the last
// separator is the element index; everything before it is the chain.
func ParseUnitAddress(s string) (UnitAddress, error) {
	if s == RootChain {
		return UnitAddress{}, nil
	}
	cut := strings.LastIndex(s, Separator)
	if cut < 0 {
		return UnitAddress{}, fmt.Errorf("remodel: unit address %q has no index segment", s)
	}
	index, err := strconv.Atoi(s[cut+1:])
	if err != nil || index < 0 {
		return UnitAddress{}, fmt.Errorf("remodel: unit address %q has a malformed index", s)
	}
	chain, err := ParseKeyChain(s[:cut])
	if err != nil {
		return UnitAddress{}, err
	}
	return UnitAddress{Chain: chain, Index: index}, nil
}

// WorkUnit is one addressable payload for external processing, together
// with the response budget the processor may spend on it.
type WorkUnit struct {
	Address    UnitAddress
	Payload    []byte
	SizeBudget int
}

// Planner flattens a placeholder-bearing document and its extraction map
// into work units.
type Planner struct {
	Sizer      Sizer
	Model      string
	Multiplier int
}

// Plan returns the root document unit followed by one unit per extracted
// array element, in extraction order. Each budget is the measured token
// count of the payload scaled by the multiplier.
func (p *Planner) Plan(workingDoc []byte, ext *ExtractionMap) ([]WorkUnit, error) {
	sizer := p.Sizer
	if sizer == nil {
		sizer = estimateSizer
	}
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = ResponseBudgetMultiplier
	}

	rootPayload, err := Compact(workingDoc)
	if err != nil {
		return nil, fmt.Errorf("remodel: serialize working document: %w", err)
	}
	units := []WorkUnit{{
		Address:    RootAddress(),
		Payload:    rootPayload,
		SizeBudget: sizer.Count(string(rootPayload), p.Model) * multiplier,
	}}

	for _, chain := range ext.Chains() {
		raw, ok := ext.Get(chain)
		if !ok {
			continue
		}
		index := 0
		gjson.ParseBytes(raw).ForEach(func(_, element gjson.Result) bool {
			units = append(units, WorkUnit{
				Address:    UnitAddress{Chain: chain, Index: index},
				Payload:    []byte(element.Raw),
				SizeBudget: sizer.Count(element.Raw, p.Model) * multiplier,
			})
			index++
			return true
		})
	}
	return units, nil
}
