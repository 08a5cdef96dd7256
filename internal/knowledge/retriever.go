// Package knowledge is the applicant's semantic memory: facts ingested from
// local notes and retrieved by question.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spigell/auto-applier/internal/ai"
	"github.com/spigell/auto-applier/internal/documents"
	"github.com/spigell/auto-applier/internal/logger"
	"github.com/spigell/auto-applier/internal/storage"
	"go.uber.org/zap"
)

// NoResults is the exact answer given when nothing relevant is stored.
const NoResults = "No relevant information found in the knowledge base."

const (
	DefaultSubject        = "applicant"
	DefaultTopK           = 5
	DefaultSemanticWeight = 0.7
	minKeywordCandidates  = 20
)

// FactStore persists facts.
type FactStore interface {
	InsertFact(ctx context.Context, f *storage.Fact) (bool, error)
	// FillFactEmbedding adds a vector to an identical fact stored without one.
	FillFactEmbedding(ctx context.Context, f *storage.Fact) (bool, error)
	ListFacts(ctx context.Context, subject string) ([]*storage.Fact, error)
}

// SnippetLoader lists knowledge files.
type SnippetLoader interface {
	LoadSnippets(ctx context.Context, dir string) ([]documents.Snippet, error)
}

// Options configures a Retriever. Zero values pick the defaults.
type Options struct {
	Subject string
	TopK    int
	// SemanticWeight is the share of the cosine score in the fused score.
	SemanticWeight float64
	// Embedder enables semantic retrieval. Nil means keyword only.
	Embedder ai.Embedder
	// Extractor splits ingested text into facts. Nil or failing extractors
	// fall back to the chunker.
	Extractor FactExtractor
	Chunker   *Chunker
}

type fact struct {
	id        string
	content   string
	source    string
	embedding []float32
	order     int
}

// Retriever answers questions about the applicant from stored facts.
// Queries may run concurrently; ingestion is serialized.
type Retriever struct {
	store     FactStore
	embedder  ai.Embedder
	extractor FactExtractor
	chunker   *Chunker
	subject   string
	topK      int
	semWeight float64
	logger    *zap.Logger

	mu      sync.RWMutex
	facts   map[string]*fact
	keyword *keywordIndex
}

// Open builds a Retriever and loads the facts already persisted for the
// configured subject.
func Open(ctx context.Context, store FactStore, opts Options, log *zap.Logger) (*Retriever, error) {
	if store == nil {
		return nil, errors.New("fact store is required")
	}

	index, err := newKeywordIndex()
	if err != nil {
		return nil, err
	}

	r := &Retriever{
		store:     store,
		embedder:  opts.Embedder,
		extractor: opts.Extractor,
		chunker:   opts.Chunker,
		subject:   strings.TrimSpace(opts.Subject),
		topK:      opts.TopK,
		semWeight: opts.SemanticWeight,
		logger:    logger.WithComponent(log, "knowledge"),
		facts:     make(map[string]*fact),
		keyword:   index,
	}
	if r.subject == "" {
		r.subject = DefaultSubject
	}
	if r.topK <= 0 {
		r.topK = DefaultTopK
	}
	if r.semWeight <= 0 || r.semWeight > 1 {
		r.semWeight = DefaultSemanticWeight
	}
	if r.chunker == nil {
		r.chunker = NewChunker(0, 0)
	}

	stored, err := store.ListFacts(ctx, r.subject)
	if err != nil {
		_ = index.close()
		return nil, fmt.Errorf("loading facts: %w", err)
	}
	for _, f := range stored {
		if err := r.remember(f); err != nil {
			_ = index.close()
			return nil, err
		}
	}

	r.logger.Debug("knowledge base opened", zap.String("subject", r.subject), zap.Int("facts", len(stored)))

	return r, nil
}

// Close releases the in-memory index.
func (r *Retriever) Close() error {
	return r.keyword.close()
}

// Len returns the number of facts held for the subject.
func (r *Retriever) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.facts)
}

// Ingest splits text into facts and stores each one under the subject with
// source as metadata. It returns the number of new facts.
func (r *Retriever) Ingest(ctx context.Context, text, source string) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, nil
	}

	contents := r.split(ctx, text, source)
	if len(contents) == 0 {
		return 0, nil
	}

	var vectors [][]float32
	if r.embedder != nil {
		var err error
		vectors, err = r.embedder.Embed(ctx, contents...)
		if err != nil {
			r.logger.Warn("embedding facts failed, storing them for keyword search only",
				zap.String("source", source),
				zap.Error(err),
			)
			vectors = nil
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for i, content := range contents {
		f := &storage.Fact{
			ID:      uuid.NewString(),
			Subject: r.subject,
			Source:  source,
			Content: content,
		}
		if vectors != nil {
			f.Embedding = vectors[i]
		}

		inserted, err := r.store.InsertFact(ctx, f)
		if err != nil {
			return added, err
		}
		if !inserted {
			if err := r.fillEmbedding(ctx, f); err != nil {
				return added, err
			}
			continue
		}
		if err := r.remember(f); err != nil {
			return added, err
		}
		added++
	}

	r.logger.Debug("ingested knowledge",
		zap.String("source", source),
		zap.Int("facts", len(contents)),
		zap.Int("new", added),
	)

	return added, nil
}

func (r *Retriever) split(ctx context.Context, text, source string) []string {
	if r.extractor != nil {
		facts, err := r.extractor.Extract(ctx, text, source)
		if err == nil {
			return facts
		}
		r.logger.Warn("fact extraction failed, falling back to chunking",
			zap.String("source", source),
			zap.Error(err),
		)
	}
	return r.chunker.Chunk(text)
}

// fillEmbedding attaches the vector of a re-ingested fact to its stored twin
// when the twin was persisted without one. Callers hold the write lock.
func (r *Retriever) fillEmbedding(ctx context.Context, f *storage.Fact) error {
	if len(f.Embedding) == 0 {
		return nil
	}

	updated, err := r.store.FillFactEmbedding(ctx, f)
	if err != nil {
		return err
	}
	if !updated {
		return nil
	}

	for _, known := range r.facts {
		if known.source == f.Source && known.content == f.Content && len(known.embedding) == 0 {
			known.embedding = f.Embedding
		}
	}

	r.logger.Debug("stored missing embedding", zap.String("source", f.Source))
	return nil
}

// remember adds a persisted fact to the in-memory indexes. Callers hold the
// write lock or own r exclusively.
func (r *Retriever) remember(f *storage.Fact) error {
	if _, ok := r.facts[f.ID]; ok {
		return nil
	}

	if err := r.keyword.add(f.ID, indexedFact{Content: f.Content, Subject: f.Subject, Source: f.Source}); err != nil {
		return fmt.Errorf("indexing fact: %w", err)
	}

	r.facts[f.ID] = &fact{
		id:        f.ID,
		content:   f.Content,
		source:    f.Source,
		embedding: f.Embedding,
		order:     len(r.facts),
	}
	return nil
}

// LoadDirectory ingests every knowledge file in dir. Files that fail are
// logged and skipped.
func (r *Retriever) LoadDirectory(ctx context.Context, loader SnippetLoader, dir string) (int, error) {
	snippets, err := loader.LoadSnippets(ctx, dir)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, snippet := range snippets {
		added, err := r.Ingest(ctx, snippet.Content, snippet.Source)
		total += added
		if err != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			r.logger.Error("failed to load knowledge file", zap.String("file", snippet.Source), zap.Error(err))
			continue
		}
		r.logger.Info("loaded knowledge file", zap.String("file", snippet.Source), zap.Int("new_facts", added))
	}

	return total, nil
}

type scored struct {
	fact  *fact
	score float64
}

// Query returns up to top-k relevant facts, one per line prefixed with
// "- ", or NoResults.
func (r *Retriever) Query(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.facts) == 0 || question == "" {
		return NoResults, nil
	}

	limit := r.topK * 4
	if limit < minKeywordCandidates {
		limit = minKeywordCandidates
	}
	keywordScores, err := r.keyword.search(r.subject, question, limit)
	if err != nil {
		return "", err
	}
	keywordScores = normalizeByMax(keywordScores)

	semanticScores := r.semanticScores(ctx, question)

	var results []scored
	if semanticScores == nil {
		for id, score := range keywordScores {
			results = append(results, scored{fact: r.facts[id], score: score})
		}
	} else {
		for id, f := range r.facts {
			sem, ok := semanticScores[id]
			kw := keywordScores[id]
			if !ok && kw == 0 {
				continue
			}
			results = append(results, scored{fact: f, score: r.semWeight*sem + (1-r.semWeight)*kw})
		}
	}

	results = topK(results, r.topK)
	if len(results) == 0 {
		return NoResults, nil
	}

	lines := make([]string, 0, len(results))
	for _, res := range results {
		lines = append(lines, "- "+res.fact.content)
	}

	r.logger.Debug("knowledge query",
		zap.String("question", question),
		zap.Int("results", len(lines)),
		zap.Bool("semantic", semanticScores != nil),
	)

	return strings.Join(lines, "\n"), nil
}

// semanticScores returns cosine similarity per embedded fact, or nil when
// semantic retrieval is unavailable.
func (r *Retriever) semanticScores(ctx context.Context, question string) map[string]float64 {
	if r.embedder == nil {
		return nil
	}

	vectors, err := r.embedder.Embed(ctx, question)
	if err != nil || len(vectors) != 1 {
		r.logger.Warn("embedding question failed, using keyword search only", zap.Error(err))
		return nil
	}

	scores := make(map[string]float64)
	for id, f := range r.facts {
		if len(f.embedding) == 0 {
			continue
		}
		scores[id] = cosine(vectors[0], f.embedding)
	}
	if len(scores) == 0 {
		return nil
	}
	return scores
}

func topK(results []scored, k int) []scored {
	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].fact.order < results[j].fact.order
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

func normalizeByMax(scores map[string]float64) map[string]float64 {
	maxScore := 0.0
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}
	normalized := make(map[string]float64, len(scores))
	for id, s := range scores {
		if maxScore > 0 {
			normalized[id] = s / maxScore
		}
	}
	return normalized
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
