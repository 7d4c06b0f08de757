// Package embedding implements the embedding cache and FAISS-equivalent
// vector index of spec §4.C, grounded on src/vector_store.py. Go has no
// direct FAISS binding in this stack, so the index is a pure-Go
// IndexFlatIP equivalent: a flat slice of L2-normalized float32 vectors
// searched by full inner-product scan, which is exactly what
// faiss.IndexFlatIP does internally for an un-clustered index of this
// size. Persistence keeps the same two-file layout as the original:
// a "{name}.index" vector blob and a "{name}.meta.json" sidecar mapping
// hash to position.
package embedding

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"

	"github.com/arcwright/recall/internal/types"
)

var tracer = otel.Tracer("github.com/arcwright/recall/embedding")

type meta struct {
	HashToPos map[string]int                       `json:"hash_to_pos"`
	Metadata  map[string]map[string]string `json:"metadata,omitempty"`
}

// Index is a flat, normalized-inner-product vector index over a fixed
// dimension, with rebuild-on-delete semantics matching
// VectorStore._remove_from_index.
type Index struct {
	mu         sync.RWMutex
	dim        int
	persistDir string
	name       string

	vectors   [][]float32
	hashToPos map[string]int
	posToHash map[int]string
	metadata  map[string]map[string]string
}

// NewIndex opens (or creates) an index named name under persistDir,
// loading any existing persisted state. Corruption on load resets to
// an empty index rather than failing (spec's note on the unresolved
// "corrupt vector metadata" question — see DESIGN.md).
func NewIndex(persistDir, name string, dim int) (*Index, error) {
	if dim <= 0 {
		dim = types.EmbeddingDim
	}
	idx := &Index{
		dim:        dim,
		persistDir: persistDir,
		name:       name,
		hashToPos:  make(map[string]int),
		posToHash:  make(map[int]string),
		metadata:   make(map[string]map[string]string),
	}
	if err := os.MkdirAll(persistDir, 0o755); err != nil {
		return nil, types.WrapError("open vector index", types.ErrIO, err)
	}
	idx.load()
	return idx, nil
}

func (idx *Index) indexPath() string { return filepath.Join(idx.persistDir, idx.name+".index") }
func (idx *Index) metaPath() string  { return filepath.Join(idx.persistDir, idx.name+".meta.json") }

func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Store records a normalized embedding for contentHash, replacing any
// existing one for the same hash and persisting to disk.
func (idx *Index) Store(ctx context.Context, contentHash string, vec []float32, md map[string]string) error {
	_, span := tracer.Start(ctx, "embedding.index.store")
	defer span.End()

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, exists := idx.hashToPos[contentHash]; exists {
		idx.removeLocked(contentHash)
	}

	pos := len(idx.vectors)
	idx.vectors = append(idx.vectors, normalize(vec))
	idx.hashToPos[contentHash] = pos
	idx.posToHash[pos] = contentHash
	if md != nil {
		idx.metadata[contentHash] = md
	}
	return idx.saveLocked()
}

// BatchStore stores many embeddings in one pass, saving once at the end.
func (idx *Index) BatchStore(ctx context.Context, items map[string][]float32) error {
	_, span := tracer.Start(ctx, "embedding.index.batch_store")
	defer span.End()

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for hash, vec := range items {
		if _, exists := idx.hashToPos[hash]; exists {
			idx.removeLocked(hash)
		}
		pos := len(idx.vectors)
		idx.vectors = append(idx.vectors, normalize(vec))
		idx.hashToPos[hash] = pos
		idx.posToHash[pos] = hash
	}
	return idx.saveLocked()
}

// ImportAdapter supplies content-hash/vector pairs from an external
// source (the sibling embedding table in a fresh database, or a dump
// from another instance), one batch at a time. Next returns ok=false
// once exhausted.
type ImportAdapter interface {
	Next() (contentHash string, vec []float32, md map[string]string, ok bool, err error)
}

// ImportFrom drains adapter and stores every pair, deferring
// persistence to a single final write — the bulk-load counterpart to
// vector_store.py's import_from_sqlite, used to repopulate an index
// from the embedding table after a corrupt-sidecar reset (spec §9's
// open question on corrupt vector metadata) or to seed a fresh
// instance from another's export.
func (idx *Index) ImportFrom(ctx context.Context, adapter ImportAdapter) (int, error) {
	_, span := tracer.Start(ctx, "embedding.index.import_from")
	defer span.End()

	idx.mu.Lock()
	defer idx.mu.Unlock()

	var n int
	for {
		hash, vec, md, ok, err := adapter.Next()
		if err != nil {
			return n, types.WrapError("import vector index", types.ErrIO, err)
		}
		if !ok {
			break
		}
		if _, exists := idx.hashToPos[hash]; exists {
			idx.removeLocked(hash)
		}
		pos := len(idx.vectors)
		idx.vectors = append(idx.vectors, normalize(vec))
		idx.hashToPos[hash] = pos
		idx.posToHash[pos] = hash
		if md != nil {
			idx.metadata[hash] = md
		}
		n++
	}
	return n, idx.saveLocked()
}

// Get returns the stored (normalized) vector for contentHash.
func (idx *Index) Get(contentHash string) ([]float32, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	pos, ok := idx.hashToPos[contentHash]
	if !ok {
		return nil, false
	}
	return idx.vectors[pos], true
}

// Has reports whether contentHash is present.
func (idx *Index) Has(contentHash string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.hashToPos[contentHash]
	return ok
}

// Count returns the number of stored embeddings.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.hashToPos)
}

// Delete removes contentHash's embedding, rebuilding the index the way
// the Python original does (positions are dense and order-stable).
func (idx *Index) Delete(ctx context.Context, contentHash string) error {
	_, span := tracer.Start(ctx, "embedding.index.delete")
	defer span.End()

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.hashToPos[contentHash]; !ok {
		return nil
	}
	idx.removeLocked(contentHash)
	return idx.saveLocked()
}

func (idx *Index) removeLocked(contentHash string) {
	remaining := make([]struct {
		hash string
		vec  []float32
	}, 0, len(idx.vectors))

	type posHash struct {
		pos  int
		hash string
	}
	ordered := make([]posHash, 0, len(idx.hashToPos))
	for h, p := range idx.hashToPos {
		ordered = append(ordered, posHash{pos: p, hash: h})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].pos < ordered[j].pos })

	for _, ph := range ordered {
		if ph.hash == contentHash {
			continue
		}
		remaining = append(remaining, struct {
			hash string
			vec  []float32
		}{ph.hash, idx.vectors[ph.pos]})
	}

	idx.vectors = idx.vectors[:0]
	idx.hashToPos = make(map[string]int, len(remaining))
	idx.posToHash = make(map[int]string, len(remaining))
	for _, r := range remaining {
		pos := len(idx.vectors)
		idx.vectors = append(idx.vectors, r.vec)
		idx.hashToPos[r.hash] = pos
		idx.posToHash[pos] = r.hash
	}
	delete(idx.metadata, contentHash)
}

// SimilarityHit is a normalized-inner-product search result.
type SimilarityHit = types.SimilarityHit

// FindSimilar returns up to topK matches for query with similarity >=
// threshold, sorted by similarity descending.
func (idx *Index) FindSimilar(ctx context.Context, query []float32, topK int, threshold float32) []SimilarityHit {
	_, span := tracer.Start(ctx, "embedding.index.find_similar")
	defer span.End()

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.vectors) == 0 {
		return nil
	}
	q := normalize(query)

	hits := make([]SimilarityHit, 0, len(idx.vectors))
	for pos, vec := range idx.vectors {
		sim := dot(q, vec)
		if sim < threshold {
			continue
		}
		hits = append(hits, SimilarityHit{
			ContentHash: idx.posToHash[pos],
			Similarity:  sim,
			Metadata:    idx.metadata[idx.posToHash[pos]],
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

func (idx *Index) saveLocked() error {
	f, err := os.Create(idx.indexPath())
	if err != nil {
		return types.WrapError("save vector index", types.ErrIO, err)
	}
	defer f.Close()

	if err := binary.Write(f, binary.LittleEndian, int64(idx.dim)); err != nil {
		return types.WrapError("save vector index", types.ErrIO, err)
	}
	if err := binary.Write(f, binary.LittleEndian, int64(len(idx.vectors))); err != nil {
		return types.WrapError("save vector index", types.ErrIO, err)
	}
	for _, vec := range idx.vectors {
		if err := binary.Write(f, binary.LittleEndian, vec); err != nil {
			return types.WrapError("save vector index", types.ErrIO, err)
		}
	}

	m := meta{HashToPos: idx.hashToPos, Metadata: idx.metadata}
	data, err := json.Marshal(m)
	if err != nil {
		return types.WrapError("save vector index metadata", types.ErrIO, err)
	}
	return types.WrapError("save vector index metadata", types.ErrIO, os.WriteFile(idx.metaPath(), data, 0o644))
}

// load restores persisted state. Any failure — missing file, truncated
// blob, corrupt JSON, dimension mismatch — resets to an empty index
// rather than propagating an error, matching the spec's decision to
// treat on-disk vector corruption as non-fatal.
func (idx *Index) load() {
	indexData, err := os.ReadFile(idx.indexPath())
	if err != nil {
		return
	}
	metaData, err := os.ReadFile(idx.metaPath())
	if err != nil {
		return
	}

	var m meta
	if err := json.Unmarshal(metaData, &m); err != nil {
		return
	}

	buf := bytes.NewReader(indexData)
	var dim, count int64
	if err := binary.Read(buf, binary.LittleEndian, &dim); err != nil {
		return
	}
	if err := binary.Read(buf, binary.LittleEndian, &count); err != nil {
		return
	}
	if int(dim) != idx.dim {
		return
	}

	vectors := make([][]float32, 0, count)
	for i := int64(0); i < count; i++ {
		vec := make([]float32, dim)
		if err := binary.Read(buf, binary.LittleEndian, vec); err != nil {
			return
		}
		vectors = append(vectors, vec)
	}

	posToHash := make(map[int]string, len(m.HashToPos))
	for h, p := range m.HashToPos {
		posToHash[p] = h
	}

	idx.vectors = vectors
	idx.hashToPos = m.HashToPos
	idx.posToHash = posToHash
	if m.Metadata != nil {
		idx.metadata = m.Metadata
	}
}
