// Package scoring implements BM25 lexical scoring and the semantic/BM25
// hybrid fusion of spec §4.C/§4.D (retrieval). IDF is fixed at 1.0
// rather than computed from corpus statistics, matching the
// predecessor's simplified single-collection scoring (no separate
// document-frequency index is maintained).
package scoring

import (
	"sort"
	"strings"

	"github.com/arcwright/recall/internal/types"
)

const (
	bm25K1  = 1.5
	bm25B   = 0.75
	fixedIDF = 1.0
)

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

func termFrequencies(tokens []string) map[string]int {
	freq := make(map[string]int, len(tokens))
	for _, t := range tokens {
		freq[t]++
	}
	return freq
}

// BM25 scores a single document against a query, given the corpus's
// average document length in tokens.
func BM25(query, document string, avgDocLen float64) float64 {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return 0
	}
	docTokens := tokenize(document)
	docLen := float64(len(docTokens))
	if avgDocLen <= 0 {
		avgDocLen = docLen
		if avgDocLen == 0 {
			avgDocLen = 1
		}
	}
	freq := termFrequencies(docTokens)

	var score float64
	for _, qt := range queryTokens {
		f := float64(freq[qt])
		if f == 0 {
			continue
		}
		numerator := f * (bm25K1 + 1)
		denominator := f + bm25K1*(1-bm25B+bm25B*(docLen/avgDocLen))
		score += fixedIDF * (numerator / denominator)
	}
	return score
}

// Document pairs an identifier with the text BM25 should be scored
// against. Record is optional and, when set, is the full record Hybrid
// should carry through on its result (spec §4.D: the hybrid result
// preserves every input field of the record, not just its id/scores).
type Document struct {
	ID     string
	Text   string
	Record *types.MemoryRecord
}

// Hit is one scored document.
type Hit struct {
	ID    string
	Score float64
}

// RankBM25 scores every document in docs against query and returns hits
// sorted by score descending.
func RankBM25(query string, docs []Document) []Hit {
	if len(docs) == 0 {
		return nil
	}
	var totalLen int
	for _, d := range docs {
		totalLen += len(tokenize(d.Text))
	}
	avgDocLen := float64(totalLen) / float64(len(docs))

	hits := make([]Hit, 0, len(docs))
	for _, d := range docs {
		score := BM25(query, d.Text, avgDocLen)
		if score > 0 {
			hits = append(hits, Hit{ID: d.ID, Score: score})
		}
	}
	sortHitsDesc(hits)
	return hits
}

// sortHitsDesc sorts by score descending, using SliceStable so that
// tied scores preserve their original insertion order rather than an
// arbitrary one.
func sortHitsDesc(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
}
