// Package similarity ranks known suppliers against a normalized name key.
//
// A candidate's score is the weighted maximum of three signals: exact key
// equality, token-set Jaccard and the Levenshtein ratio of the full key. Taking
// the maximum keeps one strong signal from being diluted by a weak one.
package similarity

import (
	"sort"
	"strings"
)

// Signal names reported in Match.Method.
const (
	MethodExact    = "exact"
	MethodTokenSet = "token_set"
	MethodEdit     = "edit_distance"
)

// Weights scale each signal before the maximum is taken.
type Weights struct {
	Exact        float64 `yaml:"exact" json:"exact"`
	TokenSet     float64 `yaml:"token_set" json:"token_set"`
	EditDistance float64 `yaml:"edit_distance" json:"edit_distance"`
}

// DefaultWeights leaves every signal at full strength.
func DefaultWeights() Weights {
	return Weights{Exact: 1.0, TokenSet: 1.0, EditDistance: 1.0}
}

// Candidate is one known alias key and the supplier it currently resolves to.
type Candidate struct {
	SupplierID        uint
	Key               string
	AliasCount        int
	SupplierCreatedAt int64
}

// Match is the best score a supplier reached over its candidate keys.
type Match struct {
	SupplierID        uint    `json:"supplier_id"`
	Similarity        float64 `json:"similarity"`
	MatchedKey        string  `json:"matched_key"`
	Method            string  `json:"method"`
	AliasCount        int     `json:"alias_count"`
	SupplierCreatedAt int64   `json:"-"`
}

// Scorer is pure: identical inputs always produce identical rankings.
type Scorer struct {
	weights Weights
}

// NewScorer creates a scorer. Negative weights are treated as zero.
func NewScorer(w Weights) *Scorer {
	return &Scorer{weights: Weights{
		Exact:        clamp(w.Exact),
		TokenSet:     clamp(w.TokenSet),
		EditDistance: clamp(w.EditDistance),
	}}
}

// Similarity compares two normalized keys and names the winning signal.
func (s *Scorer) Similarity(a, b string) (float64, string) {
	if a == "" || b == "" {
		return 0, ""
	}
	if a == b && s.weights.Exact > 0 {
		return clamp(s.weights.Exact), MethodExact
	}

	best, method := 0.0, ""
	if v := s.weights.TokenSet * TokenJaccard(strings.Fields(a), strings.Fields(b)); v > best {
		best, method = v, MethodTokenSet
	}
	if v := s.weights.EditDistance * EditRatio(a, b); v > best {
		best, method = v, MethodEdit
	}
	return clamp(best), method
}

// Score ranks the suppliers behind candidates against key. Scores are grouped
// per supplier (its best alias wins). Ties prefer the supplier with more
// aliases, then the earliest created, then the lowest id.
func (s *Scorer) Score(key string, candidates []Candidate) []Match {
	if key == "" || len(candidates) == 0 {
		return []Match{}
	}

	bySupplier := make(map[uint]*Match)
	for _, c := range candidates {
		if c.Key == "" {
			continue
		}
		sim, method := s.Similarity(key, c.Key)
		m, ok := bySupplier[c.SupplierID]
		if !ok {
			m = &Match{SupplierID: c.SupplierID, AliasCount: c.AliasCount, SupplierCreatedAt: c.SupplierCreatedAt, Similarity: -1}
			bySupplier[c.SupplierID] = m
		}
		if c.AliasCount > m.AliasCount {
			m.AliasCount = c.AliasCount
		}
		if sim > m.Similarity || (sim == m.Similarity && c.Key < m.MatchedKey) {
			m.Similarity, m.Method, m.MatchedKey = sim, method, c.Key
		}
	}

	matches := make([]Match, 0, len(bySupplier))
	for _, m := range bySupplier {
		matches = append(matches, *m)
	}
	SortMatches(matches)
	return matches
}

// SortMatches orders matches best first using the ranking tie-breaks.
func SortMatches(matches []Match) {
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.AliasCount != b.AliasCount {
			return a.AliasCount > b.AliasCount
		}
		if a.SupplierCreatedAt != b.SupplierCreatedAt {
			return a.SupplierCreatedAt < b.SupplierCreatedAt
		}
		return a.SupplierID < b.SupplierID
	})
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
