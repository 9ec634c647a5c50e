package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"acme", "", 4},
		{"", "acme", 4},
		{"acme", "acme", 0},
		{"acme", "acne", 1},
		{"kitten", "sitting", 3},
		{"müller", "muller", 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Levenshtein(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
		assert.Equal(t, tt.want, Levenshtein(tt.b, tt.a), "%q vs %q", tt.b, tt.a)
	}
}

func TestEditRatioAndJaccard(t *testing.T) {
	assert.Equal(t, 1.0, EditRatio("", ""))
	assert.InDelta(t, 0.75, EditRatio("acme", "acne"), 1e-9)

	assert.Equal(t, 1.0, TokenJaccard(nil, nil))
	assert.Equal(t, 0.0, TokenJaccard([]string{"acme"}, nil))
	assert.InDelta(t, 1.0/3.0, TokenJaccard([]string{"acme", "widgets"}, []string{"acme", "parts", "parts"}), 1e-9)
	assert.InDelta(t, 2.0/3.0, TokenJaccard([]string{"acme", "widgets"}, []string{"acme", "widgets", "intl"}), 1e-9)
}

func TestSimilaritySignals(t *testing.T) {
	s := NewScorer(DefaultWeights())

	sim, method := s.Similarity("acme", "acme")
	assert.Equal(t, 1.0, sim)
	assert.Equal(t, MethodExact, method)

	sim, method = s.Similarity("acme widgets", "widgets acme")
	assert.Equal(t, 1.0, sim)
	assert.Equal(t, MethodTokenSet, method)

	sim, method = s.Similarity("acme", "acne")
	assert.InDelta(t, 0.75, sim, 1e-9)
	assert.Equal(t, MethodEdit, method)

	sim, _ = s.Similarity("", "acme")
	assert.Equal(t, 0.0, sim)
}

func TestWeightedMaximumNotAverage(t *testing.T) {
	s := NewScorer(DefaultWeights())
	// token overlap is perfect while edit ratio is poor; the max must win
	sim, method := s.Similarity("north star logistics", "logistics north star")
	assert.Equal(t, 1.0, sim)
	assert.Equal(t, MethodTokenSet, method)

	damped := NewScorer(Weights{Exact: 1, TokenSet: 0.5, EditDistance: 1})
	sim, _ = damped.Similarity("north star logistics", "logistics north star")
	assert.Less(t, sim, 1.0)
}

func TestScoreRanksAndGroupsPerSupplier(t *testing.T) {
	s := NewScorer(DefaultWeights())
	candidates := []Candidate{
		{SupplierID: 1, Key: "acme", AliasCount: 2, SupplierCreatedAt: 100},
		{SupplierID: 1, Key: "acme widgets", AliasCount: 2, SupplierCreatedAt: 100},
		{SupplierID: 2, Key: "globex", AliasCount: 1, SupplierCreatedAt: 200},
		{SupplierID: 3, Key: "", AliasCount: 1, SupplierCreatedAt: 50},
	}

	matches := s.Score("acme widgets", candidates)
	require.Len(t, matches, 2)
	assert.Equal(t, uint(1), matches[0].SupplierID)
	assert.Equal(t, 1.0, matches[0].Similarity)
	assert.Equal(t, "acme widgets", matches[0].MatchedKey)
	assert.Equal(t, uint(2), matches[1].SupplierID)
	assert.Less(t, matches[1].Similarity, 0.5)
}

func TestScoreTieBreaks(t *testing.T) {
	s := NewScorer(DefaultWeights())

	t.Run("alias count wins", func(t *testing.T) {
		matches := s.Score("acme", []Candidate{
			{SupplierID: 1, Key: "acme", AliasCount: 1, SupplierCreatedAt: 10},
			{SupplierID: 2, Key: "acme", AliasCount: 4, SupplierCreatedAt: 20},
		})
		require.Len(t, matches, 2)
		assert.Equal(t, uint(2), matches[0].SupplierID)
	})

	t.Run("earliest creation wins", func(t *testing.T) {
		matches := s.Score("acme", []Candidate{
			{SupplierID: 1, Key: "acme", AliasCount: 3, SupplierCreatedAt: 30},
			{SupplierID: 2, Key: "acme", AliasCount: 3, SupplierCreatedAt: 20},
		})
		require.Len(t, matches, 2)
		assert.Equal(t, uint(2), matches[0].SupplierID)
	})
}

func TestScoreEmptyAndDeterministic(t *testing.T) {
	s := NewScorer(DefaultWeights())
	assert.Empty(t, s.Score("acme", nil))
	assert.Empty(t, s.Score("", []Candidate{{SupplierID: 1, Key: "acme"}}))

	candidates := []Candidate{
		{SupplierID: 3, Key: "acme parts", AliasCount: 1, SupplierCreatedAt: 3},
		{SupplierID: 1, Key: "acme", AliasCount: 1, SupplierCreatedAt: 1},
		{SupplierID: 2, Key: "acne", AliasCount: 1, SupplierCreatedAt: 2},
	}
	first := s.Score("acme part", candidates)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, s.Score("acme part", candidates))
	}
}

func TestBlockingIndex(t *testing.T) {
	bi := NewBlockingIndex(3)
	bi.AddBatch([]Candidate{
		{SupplierID: 1, Key: "acme widgets"},
		{SupplierID: 2, Key: "globex"},
		{SupplierID: 3, Key: "the acme company"},
		{SupplierID: 4, Key: ""},
	})

	assert.Equal(t, 3, bi.Len())

	got := bi.Lookup("acme")
	require.Len(t, got, 2)
	assert.Equal(t, uint(1), got[0].SupplierID)
	assert.Equal(t, uint(3), got[1].SupplierID)

	assert.Empty(t, bi.Lookup("initech"))
}
