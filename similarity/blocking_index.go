package similarity

import (
	"sort"
	"strings"
	"sync"
)

// BlockingIndex buckets candidates by the rune prefix of each of their tokens
// so that only candidates sharing a bucket with the lookup key get scored. It is an
// acceleration structure only: it can be dropped and rebuilt from the store at
// any time.
type BlockingIndex struct {
	prefixLength int
	candidates   []Candidate
	buckets      map[string][]int
	mu           sync.RWMutex
}

// NewBlockingIndex creates an empty index. prefixLength <= 0 defaults to 3.
func NewBlockingIndex(prefixLength int) *BlockingIndex {
	if prefixLength <= 0 {
		prefixLength = 3
	}
	return &BlockingIndex{
		prefixLength: prefixLength,
		buckets:      make(map[string][]int),
	}
}

// Add indexes one candidate.
func (bi *BlockingIndex) Add(c Candidate) {
	if c.Key == "" {
		return
	}
	bi.mu.Lock()
	defer bi.mu.Unlock()

	idx := len(bi.candidates)
	bi.candidates = append(bi.candidates, c)
	for _, bucket := range bi.bucketsFor(c.Key) {
		bi.buckets[bucket] = append(bi.buckets[bucket], idx)
	}
}

// AddBatch indexes every candidate in cs.
func (bi *BlockingIndex) AddBatch(cs []Candidate) {
	for _, c := range cs {
		bi.Add(c)
	}
}

// Lookup returns the candidates sharing at least one bucket with key, in
// insertion order.
func (bi *BlockingIndex) Lookup(key string) []Candidate {
	bi.mu.RLock()
	defer bi.mu.RUnlock()

	seen := make(map[int]struct{})
	for _, bucket := range bi.bucketsFor(key) {
		for _, idx := range bi.buckets[bucket] {
			seen[idx] = struct{}{}
		}
	}
	ids := make([]int, 0, len(seen))
	for idx := range seen {
		ids = append(ids, idx)
	}
	sort.Ints(ids)

	out := make([]Candidate, 0, len(ids))
	for _, idx := range ids {
		out = append(out, bi.candidates[idx])
	}
	return out
}

// Len reports how many candidates are indexed.
func (bi *BlockingIndex) Len() int {
	bi.mu.RLock()
	defer bi.mu.RUnlock()
	return len(bi.candidates)
}

func (bi *BlockingIndex) bucketsFor(key string) []string {
	tokens := strings.Fields(key)
	out := make([]string, 0, len(tokens))
	seen := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		r := []rune(tok)
		if len(r) > bi.prefixLength {
			r = r[:bi.prefixLength]
		}
		b := string(r)
		if _, dup := seen[b]; dup {
			continue
		}
		seen[b] = struct{}{}
		out = append(out, b)
	}
	return out
}
