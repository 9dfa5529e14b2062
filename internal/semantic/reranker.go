package semantic

import (
	"context"

	"golang.org/x/sync/errgroup"

	"switchboard/internal/lane"
	"switchboard/internal/logging"
)

// =============================================================================
// SEMANTIC RERANKER
// =============================================================================
// The reranker runs only when lexical scoring is ambiguous. It is strictly
// one-shot: a batched embedding call, a concurrent per-text fallback if the
// batch fails, and a full abandon (lexical scores stand) if anything in the
// fallback fails. No retries, no partial application.

// ellipsis marks deterministic head/tail truncation of embedded texts.
const ellipsis = " ... "

// gapEpsilon absorbs float64 rounding so a top-two gap sitting exactly on
// the configured ambiguity gap still counts as ambiguous.
const gapEpsilon = 1e-9

// Reranker adjusts ambiguous lexical scores with embedding similarity.
type Reranker struct {
	embedder Embedder
}

// NewReranker creates a reranker over the given embedder. A nil embedder
// disables reranking entirely.
func NewReranker(embedder Embedder) *Reranker {
	return &Reranker{embedder: embedder}
}

// Enabled reports whether the reranker can run at all.
func (r *Reranker) Enabled() bool {
	return r != nil && r.embedder != nil
}

// ShouldRerank decides whether the lexical result is ambiguous enough to be
// worth a network call: at least two candidates, and either the top score
// is at or below the ambiguity ceiling or the top two are within the gap.
func ShouldRerank(scores []lane.Score, cfg lane.SemanticConfig) bool {
	if !cfg.Enabled || len(scores) < 2 {
		return false
	}
	if scores[0].Value <= cfg.AmbiguityCeiling {
		return true
	}
	return scores[0].Value-scores[1].Value <= cfg.AmbiguityGap+gapEpsilon
}

// Clip bounds text to maxChars characters, preserving head and tail around
// an ellipsis marker. Truncation is stable, deterministic, and never splits
// a multibyte rune.
func Clip(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	marker := len([]rune(ellipsis))
	if maxChars <= marker+2 {
		return string(runes[:maxChars])
	}
	keep := maxChars - marker
	head := keep * 2 / 3
	tail := keep - head
	return string(runes[:head]) + ellipsis + string(runes[len(runes)-tail:])
}

// Rerank merges embedding similarity into the lexical scores of the top-K
// candidates and re-sorts deterministically. On any embedding failure the
// input scores are returned unchanged.
//
// Merged score: clamp01(lexical + weight * (cosine+1)/2).
func (r *Reranker) Rerank(ctx context.Context, query string, scores []lane.Score, lanes map[string]*lane.ContextLane, cfg lane.SemanticConfig) []lane.Score {
	if !r.Enabled() || len(scores) == 0 {
		return scores
	}
	timer := logging.StartTimer(logging.CategorySemantic, "Rerank")
	defer timer.Stop()

	topK := cfg.TopK
	if topK > len(scores) {
		topK = len(scores)
	}

	texts := make([]string, 0, topK+1)
	texts = append(texts, Clip(query, cfg.MaxChars))
	for i := 0; i < topK; i++ {
		l, ok := lanes[scores[i].LaneID]
		if !ok {
			// Candidate vanished between load and rerank; abandon rather
			// than embed a partial set.
			logging.Get(logging.CategorySemantic).Warn("Rerank: lane %s missing from candidate map", scores[i].LaneID)
			return scores
		}
		texts = append(texts, Clip(l.RoutingText(), cfg.MaxChars))
	}

	vectors, err := r.embed(ctx, texts)
	if err != nil {
		logging.Get(logging.CategorySemantic).Warn("Rerank abandoned: %v", err)
		return scores
	}

	queryVec := vectors[0]
	merged := make([]lane.Score, len(scores))
	copy(merged, scores)

	for i := 0; i < topK; i++ {
		cos, err := CosineSimilarity(queryVec, vectors[i+1])
		if err != nil {
			logging.Get(logging.CategorySemantic).Warn("Rerank abandoned on dimension mismatch: %v", err)
			return scores
		}
		similarity := (cos + 1) / 2
		merged[i].Value = clamp01(merged[i].Value + cfg.Weight*similarity)
		merged[i].Semantic = true
		logging.SemanticDebug("Lane %s: cosine=%.4f merged=%.4f",
			merged[i].LaneID, cos, merged[i].Value)
	}

	sortMerged(merged)
	return merged
}

// embed requests all vectors in one batched call, falling back to one call
// per text when the batch fails. Any failure in the fallback aborts the
// whole rerank.
func (r *Reranker) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := r.embedder.EmbedBatch(ctx, texts)
	if err == nil && len(vectors) == len(texts) {
		return vectors, nil
	}
	if err != nil {
		logging.SemanticDebug("Batch embed failed, falling back to per-text calls: %v", err)
	}

	vectors = make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	for i, text := range texts {
		g.Go(func() error {
			vec, err := r.embedder.Embed(gctx, text)
			if err != nil {
				return err
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// sortMerged re-sorts with the deterministic tie-break: score desc, then
// title, then id.
func sortMerged(scores []lane.Score) {
	for i := 1; i < len(scores); i++ {
		for j := i; j > 0 && less(scores[j], scores[j-1]); j-- {
			scores[j], scores[j-1] = scores[j-1], scores[j]
		}
	}
}

func less(a, b lane.Score) bool {
	if a.Value != b.Value {
		return a.Value > b.Value
	}
	if a.Title != b.Title {
		return a.Title < b.Title
	}
	return a.LaneID < b.LaneID
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
