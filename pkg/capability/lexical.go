package capability

import (
	"context"
	"strings"
	"unicode"
)

// LexicalMatcher scores queries with a bounded token-overlap similarity.
// It needs no external services, which keeps discovery cheap enough to run on
// the node's scheduling context without starving connection handling.
//
// The score blends two signals in [0,1]:
//   - coverage: fraction of query tokens present in the capability's
//     name, description, domain, or semantic tags;
//   - shape: character-bigram Dice similarity between the query and the
//     capability name.
//
// Approximate matching is a deliberate trade-off: independently evolving
// services cannot share a rigid schema registry. The threshold and tie-break
// live in the Registry so results stay reproducible.
type LexicalMatcher struct{}

// NewLexicalMatcher creates the default matcher.
func NewLexicalMatcher() *LexicalMatcher {
	return &LexicalMatcher{}
}

// Rank implements Matcher.
func (m *LexicalMatcher) Rank(_ context.Context, query string, candidates []Registration) ([]Score, error) {
	queryTokens := tokenize(query)
	normQuery := normalize(query)

	out := make([]Score, 0, len(candidates))
	for _, reg := range candidates {
		cap := reg.Capability
		corpus := make(map[string]struct{})
		for _, src := range []string{cap.Name, cap.Description, cap.Domain} {
			for _, tok := range tokenize(src) {
				corpus[tok] = struct{}{}
			}
		}
		for _, tag := range cap.Tags {
			for _, tok := range tokenize(tag) {
				corpus[tok] = struct{}{}
			}
		}

		coverage := tokenCoverage(queryTokens, corpus)
		shape := diceBigram(normQuery, normalize(cap.Name))
		out = append(out, Score{
			ID:    cap.ID,
			Score: 0.5*coverage + 0.5*shape,
		})
	}
	return out, nil
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 0 {
			out = append(out, f)
		}
	}
	return out
}

func normalize(s string) string {
	return strings.Join(tokenize(s), " ")
}

func tokenCoverage(queryTokens []string, corpus map[string]struct{}) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	matched := 0
	for _, tok := range queryTokens {
		if _, ok := corpus[tok]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}

// diceBigram computes the Sørensen-Dice coefficient over character bigrams.
func diceBigram(a, b string) float64 {
	if a == b && a != "" {
		return 1
	}
	ba := bigrams(a)
	bb := bigrams(b)
	if len(ba) == 0 || len(bb) == 0 {
		return 0
	}
	overlap := 0
	for gram, count := range ba {
		if other, ok := bb[gram]; ok {
			if other < count {
				overlap += other
			} else {
				overlap += count
			}
		}
	}
	total := 0
	for _, c := range ba {
		total += c
	}
	for _, c := range bb {
		total += c
	}
	return 2 * float64(overlap) / float64(total)
}

func bigrams(s string) map[string]int {
	runes := []rune(s)
	out := make(map[string]int)
	for i := 0; i+1 < len(runes); i++ {
		out[string(runes[i:i+2])]++
	}
	return out
}
