package types

import "time"

// EmbeddingDim is the fixed vector width (all-MiniLM-L6-v2-equivalent),
// per spec §3/§6.
const EmbeddingDim = 384

// Embedding is the persisted row for a content-hashed vector (spec §3).
// Vector is L2-normalized before storage so inner product equals cosine
// similarity.
type Embedding struct {
	ContentHash string
	Vector      []float32
	ModelName   string
	CreatedAt   time.Time
	AccessedAt  time.Time
}

// SimilarityHit is one result of VectorIndex.FindSimilar.
type SimilarityHit struct {
	ContentHash string
	Similarity  float32
	Metadata    map[string]string
}

// Embedder is the polymorphic capability adapter of spec §4.C/§6. It is
// loaded lazily by callers; when unavailable they must receive
// ErrEmbedderUnavailable rather than a generic error so hybrid search can
// degrade gracefully.
type Embedder interface {
	Encode(text string) ([]float32, error)
	EncodeBatch(texts []string) ([][]float32, error)
}
