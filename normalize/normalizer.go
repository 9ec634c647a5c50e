// Package normalize turns raw supplier names into comparison keys.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultLegalSuffixes are stripped from the end of a name's token sequence.
var DefaultLegalSuffixes = []string{
	"corp", "corporation", "inc", "incorporated", "ltd", "limited", "llc", "llp",
	"plc", "gmbh", "ag", "sa", "sarl", "bv", "nv", "co", "company", "pty", "srl",
	"spa", "oy", "ab", "as", "kg",
}

const defaultBlockingPrefix = 3

// Normalizer is safe for concurrent use; it holds no mutable state after construction.
type Normalizer struct {
	suffixes     map[string]struct{}
	prefixLength int
}

// New builds a Normalizer. An empty suffix list falls back to DefaultLegalSuffixes.
func New(legalSuffixes []string, blockingPrefixLength int) *Normalizer {
	if len(legalSuffixes) == 0 {
		legalSuffixes = DefaultLegalSuffixes
	}
	if blockingPrefixLength <= 0 {
		blockingPrefixLength = defaultBlockingPrefix
	}
	n := &Normalizer{
		suffixes:     make(map[string]struct{}, len(legalSuffixes)),
		prefixLength: blockingPrefixLength,
	}
	for _, s := range legalSuffixes {
		// suffixes go through the same folding so "L.L.C." and "llc" agree
		for _, tok := range joinInitials(strings.Fields(fold(s))) {
			n.suffixes[tok] = struct{}{}
		}
	}
	return n
}

// Default returns a Normalizer with the default suffix set.
func Default() *Normalizer {
	return New(nil, defaultBlockingPrefix)
}

// stripMarks builds the diacritic-removal transformer. A transform.Chain keeps
// per-call state, so every fold gets its own.
func stripMarks() transform.Transformer {
	return transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// fold lower-cases, removes diacritics and turns punctuation into spaces.
func fold(s string) string {
	s = strings.ToLower(s)
	if folded, _, err := transform.String(stripMarks(), s); err == nil {
		// compatibility decomposition can reintroduce upper case (e.g. roman numerals)
		s = strings.ToLower(folded)
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '\'' || r == '’':
			// O'Brien and OBrien should agree
		case r == '&':
			b.WriteString(" and ")
		default:
			b.WriteByte(' ')
		}
	}
	return b.String()
}

// joinInitials collapses runs of single-rune tokens: "l l c" -> "llc".
func joinInitials(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	var run strings.Builder
	runLen := 0
	flush := func() {
		if runLen > 0 {
			out = append(out, run.String())
			run.Reset()
			runLen = 0
		}
	}
	for _, tok := range tokens {
		if len([]rune(tok)) == 1 {
			run.WriteString(tok)
			runLen++
			continue
		}
		flush()
		out = append(out, tok)
	}
	flush()
	return out
}

// Normalize returns the comparison key for raw. It never fails; blank or
// punctuation-only input yields "". Normalize(Normalize(x)) == Normalize(x).
func (n *Normalizer) Normalize(raw string) string {
	tokens := joinInitials(strings.Fields(fold(raw)))
	for len(tokens) > 1 {
		if _, ok := n.suffixes[tokens[len(tokens)-1]]; !ok {
			break
		}
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}

// BlockingKey returns the coarse bucket used to shortlist candidates: the
// first rune-prefix of the key's first token.
func (n *Normalizer) BlockingKey(key string) string {
	return BlockingKey(key, n.prefixLength)
}

// BlockingKey is the free-function form of Normalizer.BlockingKey.
func BlockingKey(key string, prefixLength int) string {
	first, _, _ := strings.Cut(strings.TrimSpace(key), " ")
	r := []rune(first)
	if len(r) > prefixLength {
		r = r[:prefixLength]
	}
	return string(r)
}
