package scoring

import (
	"context"
	"errors"
	"testing"

	"github.com/arcwright/recall/internal/types"
)

func TestBM25FavorsTermFrequency(t *testing.T) {
	docs := []Document{
		{ID: "a", Text: "the office desk height is forty three inches"},
		{ID: "b", Text: "desk desk desk standing desk setup guide"},
		{ID: "c", Text: "completely unrelated content about weather"},
	}
	hits := RankBM25("desk", docs)
	if len(hits) != 2 {
		t.Fatalf("expected 2 matching docs, got %d", len(hits))
	}
	if hits[0].ID != "b" {
		t.Fatalf("expected doc with higher term frequency ranked first, got %v", hits)
	}
}

func TestRankBM25EmptyQueryReturnsNothing(t *testing.T) {
	docs := []Document{{ID: "a", Text: "some content"}}
	hits := RankBM25("", docs)
	if len(hits) != 0 {
		t.Fatalf("expected no hits for empty query, got %v", hits)
	}
}

func TestHybridDegradesToBM25OnEmbedderUnavailable(t *testing.T) {
	// Spec scenario 2: single record "office setup guide", query
	// "office", embedder raises -> semantic_score == 0, bm25_score > 0,
	// hybrid_score == bm25_score (effective weights shift to (0, 1),
	// not the configured 0.7/0.3).
	docs := []Document{{ID: "a", Text: "office setup guide"}}
	embed := func(string) ([]float32, error) { return nil, types.ErrEmbedderUnavailable }

	hits, err := Hybrid(context.Background(), "office", embed, nil, docs, DefaultWeights(), 10, 0, true)
	if err != nil {
		t.Fatalf("expected graceful degradation, got error: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected one hit, got %v", hits)
	}
	if hits[0].SemanticScore != 0 {
		t.Fatalf("expected zero semantic score when embedder unavailable")
	}
	if hits[0].BM25Score <= 0 {
		t.Fatalf("expected positive bm25 score, got %v", hits[0].BM25Score)
	}
	if hits[0].FusedScore != hits[0].BM25Score {
		t.Fatalf("expected hybrid_score == bm25_score on embedder degradation, got hybrid=%v bm25=%v",
			hits[0].FusedScore, hits[0].BM25Score)
	}
}

func TestHybridPropagatesOtherEmbedErrors(t *testing.T) {
	docs := []Document{{ID: "a", Text: "desk setup"}}
	boom := errors.New("boom")
	embed := func(string) ([]float32, error) { return nil, boom }

	_, err := Hybrid(context.Background(), "desk", embed, nil, docs, DefaultWeights(), 10, 0, true)
	if !errors.Is(err, boom) {
		t.Fatalf("expected non-embedder-unavailable error to propagate, got %v", err)
	}
}

type stubSearcher struct {
	hits []types.SimilarityHit
}

func (s stubSearcher) FindSimilar(ctx context.Context, query []float32, topK int, threshold float32) []types.SimilarityHit {
	return s.hits
}

func TestHybridCombinesSemanticAndLexical(t *testing.T) {
	docs := []Document{
		{ID: "a", Text: "the standing desk setup"},
		{ID: "b", Text: "unrelated content"},
	}
	embed := func(string) ([]float32, error) { return []float32{1, 0}, nil }
	searcher := stubSearcher{hits: []types.SimilarityHit{
		{ContentHash: "b", Similarity: 0.95},
	}}

	hits, err := Hybrid(context.Background(), "desk", embed, searcher, docs, DefaultWeights(), 10, 0, true)
	if err != nil {
		t.Fatalf("hybrid: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected both docs represented, got %v", hits)
	}
}
