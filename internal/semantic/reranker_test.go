package semantic

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"switchboard/internal/lane"
)

// stubEmbedder returns canned vectors keyed by exact text. Batch calls can
// be forced to fail to exercise the per-text fallback. Counters are
// mutex-guarded because the fallback embeds concurrently.
type stubEmbedder struct {
	vectors   map[string][]float32
	batchErr  error
	singleErr error

	mu          sync.Mutex
	batchCalls  int
	singleCalls int
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	s.mu.Lock()
	s.singleCalls++
	s.mu.Unlock()
	if s.singleErr != nil {
		return nil, s.singleErr
	}
	vec, ok := s.vectors[text]
	if !ok {
		return nil, errors.New("no vector for text")
	}
	return vec, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.mu.Lock()
	s.batchCalls++
	s.mu.Unlock()
	if s.batchErr != nil {
		return nil, s.batchErr
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, ok := s.vectors[text]
		if !ok {
			return nil, errors.New("no vector for text")
		}
		out[i] = vec
	}
	return out, nil
}

func (s *stubEmbedder) Dimensions() int { return 3 }
func (s *stubEmbedder) Name() string    { return "stub" }

func semanticTestConfig() lane.SemanticConfig {
	return lane.SemanticConfig{
		Enabled:          true,
		Weight:           0.25,
		AmbiguityCeiling: 0.55,
		AmbiguityGap:     0.08,
		TopK:             5,
		MaxChars:         2000,
	}
}

func TestShouldRerank(t *testing.T) {
	cfg := semanticTestConfig()

	tests := []struct {
		name   string
		scores []lane.Score
		want   bool
	}{
		{"disabled", nil, false},
		{"single candidate", []lane.Score{{Value: 0.40}}, false},
		{"top below ceiling", []lane.Score{{Value: 0.50}, {Value: 0.10}}, true},
		{"top at ceiling", []lane.Score{{Value: 0.55}, {Value: 0.10}}, true},
		{"clear winner", []lane.Score{{Value: 0.80}, {Value: 0.30}}, false},
		{"narrow gap above ceiling", []lane.Score{{Value: 0.80}, {Value: 0.74}}, true},
		{"gap exactly at limit", []lane.Score{{Value: 0.80}, {Value: 0.72}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldRerank(tt.scores, cfg); got != tt.want {
				t.Errorf("ShouldRerank = %v, want %v", got, tt.want)
			}
		})
	}

	disabled := cfg
	disabled.Enabled = false
	if ShouldRerank([]lane.Score{{Value: 0.10}, {Value: 0.05}}, disabled) {
		t.Error("disabled config should never rerank")
	}
}

func TestClip(t *testing.T) {
	if got := Clip("short", 100); got != "short" {
		t.Errorf("short text should pass through, got %q", got)
	}

	long := strings.Repeat("a", 60) + strings.Repeat("z", 60)
	got := Clip(long, 40)
	if len(got) != 40 {
		t.Fatalf("clipped length = %d, want 40", len(got))
	}
	if !strings.Contains(got, ellipsis) {
		t.Errorf("clipped text %q should contain ellipsis marker", got)
	}
	if !strings.HasPrefix(got, "aaa") {
		t.Errorf("clipped text should keep the head, got %q", got)
	}
	if !strings.HasSuffix(got, "zzz") {
		t.Errorf("clipped text should keep the tail, got %q", got)
	}

	// Deterministic: same input, same clip, every time.
	for i := 0; i < 10; i++ {
		if again := Clip(long, 40); again != got {
			t.Fatalf("clip diverged: %q vs %q", again, got)
		}
	}

	if got := Clip("abcdefgh", 3); got != "abc" {
		t.Errorf("tiny budget should hard-truncate, got %q", got)
	}

	// Multibyte text clips on rune boundaries, never mid-sequence.
	wide := strings.Repeat("é", 60)
	got = Clip(wide, 40)
	if !utf8.ValidString(got) {
		t.Fatalf("clipped text is not valid UTF-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != 40 {
		t.Errorf("clipped rune count = %d, want 40", n)
	}
	if !strings.Contains(got, ellipsis) {
		t.Errorf("clipped text %q should contain ellipsis marker", got)
	}
}

func TestRerankDisabled(t *testing.T) {
	var r *Reranker
	if r.Enabled() {
		t.Error("nil reranker should report disabled")
	}
	if NewReranker(nil).Enabled() {
		t.Error("reranker over nil embedder should report disabled")
	}

	scores := []lane.Score{{LaneID: "a", Value: 0.5}}
	got := NewReranker(nil).Rerank(context.Background(), "q", scores, nil, semanticTestConfig())
	if len(got) != 1 || got[0].Value != 0.5 {
		t.Errorf("disabled rerank should return input unchanged, got %v", got)
	}
}

func TestRerankMergesAndReorders(t *testing.T) {
	lanes := map[string]*lane.ContextLane{
		"lane-a": {ID: "lane-a", Title: "A", Summary: "alpha"},
		"lane-b": {ID: "lane-b", Title: "B", Summary: "beta"},
	}
	stub := &stubEmbedder{vectors: map[string][]float32{
		"query":    {1, 0, 0},
		"A\nalpha": {0, 1, 0}, // orthogonal: similarity 0.5 after normalization
		"B\nbeta":  {1, 0, 0}, // identical: similarity 1.0
	}}
	r := NewReranker(stub)

	scores := []lane.Score{
		{LaneID: "lane-a", Title: "A", Value: 0.40},
		{LaneID: "lane-b", Title: "B", Value: 0.36},
	}
	got := r.Rerank(context.Background(), "query", scores, lanes, semanticTestConfig())

	// lane-b: 0.36 + 0.25*1.0 = 0.61; lane-a: 0.40 + 0.25*0.5 = 0.525.
	if got[0].LaneID != "lane-b" {
		t.Fatalf("top after rerank = %s (%.3f), want lane-b", got[0].LaneID, got[0].Value)
	}
	if got[0].Value < 0.609 || got[0].Value > 0.611 {
		t.Errorf("merged score = %f, want 0.61", got[0].Value)
	}
	if !got[0].Semantic || !got[1].Semantic {
		t.Error("reranked scores should be flagged semantic")
	}
	if stub.batchCalls != 1 || stub.singleCalls != 0 {
		t.Errorf("expected one batch call, got batch=%d single=%d", stub.batchCalls, stub.singleCalls)
	}

	// Input scores must not be mutated.
	if scores[0].Value != 0.40 || scores[0].Semantic {
		t.Errorf("input scores mutated: %+v", scores[0])
	}
}

func TestRerankFallsBackPerText(t *testing.T) {
	lanes := map[string]*lane.ContextLane{
		"lane-a": {ID: "lane-a", Title: "A", Summary: "alpha"},
	}
	stub := &stubEmbedder{
		batchErr: errors.New("batch endpoint unavailable"),
		vectors: map[string][]float32{
			"query":    {1, 0, 0},
			"A\nalpha": {1, 0, 0},
		},
	}
	r := NewReranker(stub)

	scores := []lane.Score{
		{LaneID: "lane-a", Title: "A", Value: 0.30},
		{LaneID: "lane-missing", Title: "M", Value: 0.20},
	}
	// Only one lane in the map would abandon; restrict to topK=1.
	cfg := semanticTestConfig()
	cfg.TopK = 1

	got := r.Rerank(context.Background(), "query", scores, lanes, cfg)
	if !got[0].Semantic {
		t.Error("fallback path should still produce semantic scores")
	}
	if stub.batchCalls != 1 || stub.singleCalls != 2 {
		t.Errorf("expected batch then per-text calls, got batch=%d single=%d", stub.batchCalls, stub.singleCalls)
	}
}

func TestRerankAbandonsOnTotalFailure(t *testing.T) {
	lanes := map[string]*lane.ContextLane{
		"lane-a": {ID: "lane-a", Title: "A", Summary: "alpha"},
		"lane-b": {ID: "lane-b", Title: "B", Summary: "beta"},
	}
	stub := &stubEmbedder{
		batchErr:  errors.New("batch down"),
		singleErr: errors.New("single down"),
	}
	r := NewReranker(stub)

	scores := []lane.Score{
		{LaneID: "lane-a", Title: "A", Value: 0.40},
		{LaneID: "lane-b", Title: "B", Value: 0.36},
	}
	got := r.Rerank(context.Background(), "query", scores, lanes, semanticTestConfig())

	// Lexical scores stand, untouched and in order.
	for i := range scores {
		if got[i] != scores[i] {
			t.Errorf("position %d changed: %+v vs %+v", i, got[i], scores[i])
		}
	}
}

func TestRerankAbandonsOnMissingLane(t *testing.T) {
	stub := &stubEmbedder{vectors: map[string][]float32{"query": {1, 0, 0}}}
	r := NewReranker(stub)

	scores := []lane.Score{
		{LaneID: "lane-gone", Title: "G", Value: 0.40},
		{LaneID: "lane-also-gone", Title: "H", Value: 0.30},
	}
	got := r.Rerank(context.Background(), "query", scores, map[string]*lane.ContextLane{}, semanticTestConfig())
	if got[0].Semantic {
		t.Error("rerank should abandon when a candidate lane is missing")
	}
	if stub.batchCalls != 0 {
		t.Errorf("no embed calls expected, got %d", stub.batchCalls)
	}
}

func TestCosineSimilarity(t *testing.T) {
	if _, err := CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}); err == nil {
		t.Error("mismatched dimensions should error")
	}

	got, err := CosineSimilarity([]float32{1, 0, 0}, []float32{1, 0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got < 0.999 || got > 1.001 {
		t.Errorf("cosine of identical vectors = %f, want 1", got)
	}

	got, err = CosineSimilarity([]float32{1, 0, 0}, []float32{0, 0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 0 {
		t.Errorf("cosine with zero vector = %f, want 0", got)
	}
}
