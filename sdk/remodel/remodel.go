// Package remodel decomposes JSON documents into budgeted work units,
// hands them to an external processor, and reassembles the results into a
// document that mirrors the original structure.
//
// The pipeline has three stages. The indexer walks the document and lifts
// out arrays whose serialized form exceeds a token budget, leaving a
// placeholder string in each vacated slot and recording the key chain that
// addresses it. The planner turns the placeholder-bearing document plus the
// extracted arrays into addressable work units, one for the document itself
// and one per array element. The assembler splices processed results back
// by address, repairs line-serialization artifacts when a result fails to
// parse, and unwraps documents whose top level was an array on the way in.
//
// Documents are handled as raw JSON bytes throughout, so object key order
// and number formatting survive every stage untouched.
package remodel

const (
	// DefaultPlaceholder is the string written into slots where oversized
	// arrays were lifted out of the working document.
	DefaultPlaceholder = "__jr_extracted_slot__"

	// DefaultRootWrapperKey is the object key used to wrap documents whose
	// top level is an array, so the engine always works on an object root.
	// It must differ from the placeholder; recovery unwraps it again.
	DefaultRootWrapperKey = "__jr_document_root__"

	// ResponseBudgetMultiplier scales a unit's measured token count into
	// its response budget, leaving headroom for the processor to grow the
	// payload.
	ResponseBudgetMultiplier = 3

	// DefaultTokenBudget is the array extraction threshold used when the
	// caller does not supply one.
	DefaultTokenBudget = 2048

	// DefaultModel is the model name handed to the sizer when the caller
	// does not supply one.
	DefaultModel = "gpt-4o"

	// DefaultConcurrency bounds parallel unit processing.
	DefaultConcurrency = 4
)
