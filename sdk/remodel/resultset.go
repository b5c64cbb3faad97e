package remodel

import "sync"

// ResultSet collects processed unit texts keyed by address. Writers may
// arrive in any order and from multiple goroutines; recovery depends only
// on the recorded addresses, never on arrival order.
type ResultSet struct {
	mu    sync.Mutex
	order []KeyChain
	data  map[string]map[int]string
}

// NewResultSet returns an empty result set.
func NewResultSet() *ResultSet {
	return &ResultSet{data: make(map[string]map[int]string)}
}

// Put records the processed text for a unit address, replacing any earlier
// entry at the same address.
func (s *ResultSet) Put(addr UnitAddress, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := addr.Chain.String()
	bucket, ok := s.data[key]
	if !ok {
		bucket = make(map[int]string)
		s.data[key] = bucket
		s.order = append(s.order, addr.Chain)
	}
	bucket[addr.Index] = text
}

// Get returns the text recorded for the address.
func (s *ResultSet) Get(addr UnitAddress) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.data[addr.Chain.String()]
	if !ok {
		return "", false
	}
	text, ok := bucket[addr.Index]
	return text, ok
}

// Root returns the entry for the root document unit.
func (s *ResultSet) Root() (string, bool) {
	return s.Get(RootAddress())
}

// Chains returns the non-root chains present in the set, in first-recorded
// order.
func (s *ResultSet) Chains() []KeyChain {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]KeyChain, 0, len(s.order))
	for _, chain := range s.order {
		if chain.IsRoot() {
			continue
		}
		out = append(out, chain)
	}
	return out
}

// IndexTexts returns a copy of the index-to-text entries recorded for a
// chain.
func (s *ResultSet) IndexTexts(chain KeyChain) map[int]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.data[chain.String()]
	if !ok {
		return nil
	}
	out := make(map[int]string, len(bucket))
	for index, text := range bucket {
		out[index] = text
	}
	return out
}

// Len returns the number of recorded units.
func (s *ResultSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, bucket := range s.data {
		n += len(bucket)
	}
	return n
}
