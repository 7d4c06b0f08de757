package scoring

import (
	"context"
	"errors"
	"sort"

	"go.opentelemetry.io/otel"

	"github.com/arcwright/recall/internal/types"
)

var tracer = otel.Tracer("github.com/arcwright/recall/scoring")

// SemanticSearcher is the minimal capability hybrid search needs from
// the vector index: nearest neighbors with a similarity score in
// [0, 1] (callers using cosine/normalized-inner-product vectors
// satisfy this directly).
type SemanticSearcher interface {
	FindSimilar(ctx context.Context, query []float32, topK int, threshold float32) []types.SimilarityHit
}

// Weights controls the hybrid fusion's mix of semantic and lexical
// signal. Defaults per spec §6: semantic 0.7 / bm25 0.3.
type Weights struct {
	Semantic float64
	BM25     float64
}

// DefaultWeights returns the spec's default fusion weights.
func DefaultWeights() Weights { return Weights{Semantic: 0.7, BM25: 0.3} }

// FusedHit is one hybrid search result. It preserves every field of
// the input record (spec §4.D: "the result shape preserves every input
// field of the record") and adds the three scores the fusion computed.
type FusedHit struct {
	Record        *types.MemoryRecord
	SemanticScore float64
	BM25Score     float64
	FusedScore    float64
}

// Hybrid combines semantic similarity and BM25 lexical scoring for a
// query against docs, weighting each by w, per spec §4.D:
//  1. compute avg_doc_length across candidates (RankBM25/BM25's job),
//  2. score each candidate's bm25 and, if useSemantic and the embedder
//     is available, its semantic similarity; on
//     types.ErrEmbedderUnavailable the effective weights shift to
//     (0, 1) so the result degrades to BM25-only rather than being
//     diluted by the configured semantic weight,
//  3. hybrid = semantic_weight*semantic_score + bm25_weight*bm25_score
//     over the raw (non-normalized) BM25 score,
//  4. sort descending, take topK, drop hits below threshold.
//
// Any other embed error propagates to the caller rather than being
// recovered locally.
func Hybrid(
	ctx context.Context,
	query string,
	embed func(string) ([]float32, error),
	searcher SemanticSearcher,
	docs []Document,
	w Weights,
	topK int,
	threshold float64,
	useSemantic bool,
) ([]FusedHit, error) {
	ctx, span := tracer.Start(ctx, "scoring.hybrid")
	defer span.End()

	bm25Hits := RankBM25(query, docs)
	bm25ByID := make(map[string]float64, len(bm25Hits))
	for _, h := range bm25Hits {
		bm25ByID[h.ID] = h.Score
	}

	// effectiveW starts at the caller's configured weights and only
	// shifts to (0, 1) "on embedder failure" (spec §4.D step 2 /
	// Glossary), not merely because the caller opted out via
	// useSemantic=false — in that case semantic_score is still zero,
	// but the configured weights apply as-is.
	effectiveW := w
	semByID := make(map[string]float64)
	switch {
	case !useSemantic:
		// semantic scoring intentionally disabled; semByID stays empty.
	case embed == nil:
		effectiveW = Weights{Semantic: 0, BM25: 1}
	default:
		vec, err := embed(query)
		switch {
		case err == nil:
			hits := searcher.FindSimilar(ctx, vec, 0, 0)
			for _, h := range hits {
				semByID[h.ContentHash] = float64(h.Similarity)
			}
		case errors.Is(err, types.ErrEmbedderUnavailable):
			effectiveW = Weights{Semantic: 0, BM25: 1}
		default:
			return nil, err
		}
	}

	recordByID := make(map[string]*types.MemoryRecord, len(docs))
	textByID := make(map[string]string, len(docs))
	ids := make(map[string]struct{}, len(docs))
	order := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.Record != nil {
			recordByID[d.ID] = d.Record
		}
		textByID[d.ID] = d.Text
		if _, ok := ids[d.ID]; ok {
			continue
		}
		ids[d.ID] = struct{}{}
		order = append(order, d.ID)
	}

	fused := make([]FusedHit, 0, len(order))
	for _, id := range order {
		if textByID[id] == "" {
			// candidates with missing/empty content are skipped
			// (spec §4.D), independent of the threshold test below.
			continue
		}
		sem := semByID[id]
		bm25 := bm25ByID[id]
		score := effectiveW.Semantic*sem + effectiveW.BM25*bm25
		if score < threshold {
			continue
		}
		fused = append(fused, FusedHit{
			Record:        recordByID[id],
			SemanticScore: sem,
			BM25Score:     bm25,
			FusedScore:    score,
		})
	}

	sort.SliceStable(fused, func(i, j int) bool { return fused[i].FusedScore > fused[j].FusedScore })
	if topK > 0 && len(fused) > topK {
		fused = fused[:topK]
	}
	return fused, nil
}

