// Package semantic provides the optional embedding-based rerank step of
// lane routing. Supports two provider backends: Ollama (local) and Google
// GenAI (cloud).
package semantic

import (
	"context"
	"fmt"
	"math"

	"switchboard/internal/logging"
)

// =============================================================================
// EMBEDDER INTERFACE
// =============================================================================

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings.
	Dimensions() int

	// Name returns the provider name.
	Name() string
}

// HealthChecker is an optional interface for embedders that support a
// reachability probe before batch operations.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// =============================================================================
// PROVIDER CONFIGURATION
// =============================================================================

// ProviderConfig selects and configures the embedding backend.
type ProviderConfig struct {
	// Provider: "ollama" or "genai"
	Provider string `yaml:"provider" json:"provider"`

	// Ollama configuration
	OllamaEndpoint string `yaml:"ollama_endpoint" json:"ollama_endpoint"` // Default: "http://localhost:11434"
	OllamaModel    string `yaml:"ollama_model" json:"ollama_model"`       // Default: "embeddinggemma"

	// GenAI configuration
	GenAIAPIKey string `yaml:"genai_api_key" json:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model" json:"genai_model"` // Default: "gemini-embedding-001"
}

// DefaultProviderConfig returns sensible defaults (local Ollama).
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Provider:       "ollama",
		OllamaEndpoint: "http://localhost:11434",
		OllamaModel:    "embeddinggemma",
		GenAIModel:     "gemini-embedding-001",
	}
}

// NewEmbedder creates an embedder based on configuration.
func NewEmbedder(cfg ProviderConfig) (Embedder, error) {
	logging.Semantic("Creating embedder with provider=%s", cfg.Provider)

	switch cfg.Provider {
	case "ollama", "":
		return NewOllamaEmbedder(cfg.OllamaEndpoint, cfg.OllamaModel)
	case "genai":
		return NewGenAIEmbedder(cfg.GenAIAPIKey, cfg.GenAIModel)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'ollama' or 'genai')", cfg.Provider)
	}
}

// =============================================================================
// COSINE SIMILARITY
// =============================================================================

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns a value between -1 and 1; zero-magnitude vectors yield 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, magA, magB float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}

	if magA == 0 || magB == 0 {
		logging.Get(logging.CategorySemantic).Warn("CosineSimilarity: zero magnitude vector")
		return 0, nil
	}

	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}
