package lane

// =============================================================================
// Routing Configuration Contract
// =============================================================================
// Every tunable that affects a routing decision lives here so the engine can
// be driven per call without reading ambient state. File/env loading is the
// concern of internal/config; this struct is the semantic contract.

// RoutingConfig carries the thresholds and windows for one routing pass.
type RoutingConfig struct {
	// PrimaryThreshold is the minimum score a lane must reach to be
	// admitted as primary. Below it the orchestrator creates a new lane.
	PrimaryThreshold float64 `yaml:"primary_threshold" json:"primary_threshold"`

	// SecondaryThreshold is the minimum score for secondary admission and
	// for the current primary to benefit from hysteresis.
	SecondaryThreshold float64 `yaml:"secondary_threshold" json:"secondary_threshold"`

	// SwitchMargin is the score deficit a challenger must exceed before
	// displacing the current primary.
	SwitchMargin float64 `yaml:"switch_margin" json:"switch_margin"`

	// MaxActiveLanes bounds how many lanes are loaded as candidates.
	MaxActiveLanes int `yaml:"max_active_lanes" json:"max_active_lanes"`

	// SummaryMaxLen bounds the rolling lane digest, in runes. Truncation
	// keeps the tail.
	SummaryMaxLen int `yaml:"summary_max_len" json:"summary_max_len"`

	// KeepRecentMessages is the recency window: the last N history
	// messages are always retained in the lane-scoped view.
	KeepRecentMessages int `yaml:"keep_recent_messages" json:"keep_recent_messages"`

	// MinHistoryTokenRatio is the token-retention floor: the lane-scoped
	// view must preserve at least this fraction of the full history's
	// estimated tokens. Zero disables the ratio check (the minimum
	// message-count floor still applies).
	MinHistoryTokenRatio float64 `yaml:"min_history_token_ratio" json:"min_history_token_ratio"`

	Semantic SemanticConfig `yaml:"semantic" json:"semantic"`
}

// SemanticConfig gates and weights the embedding-based rerank.
type SemanticConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Weight scales the normalized cosine similarity merged into the
	// lexical score.
	Weight float64 `yaml:"weight" json:"weight"`

	// AmbiguityCeiling: rerank only when the top lexical score is at or
	// below this value...
	AmbiguityCeiling float64 `yaml:"ambiguity_ceiling" json:"ambiguity_ceiling"`

	// AmbiguityGap: ...or when the top two scores are within this gap.
	AmbiguityGap float64 `yaml:"ambiguity_gap" json:"ambiguity_gap"`

	// TopK bounds how many lanes are sent to the embedding provider.
	TopK int `yaml:"top_k" json:"top_k"`

	// MaxChars clips query and lane texts before embedding, preserving
	// head and tail.
	MaxChars int `yaml:"max_chars" json:"max_chars"`
}

// DefaultRoutingConfig returns the tuned defaults.
func DefaultRoutingConfig() RoutingConfig {
	return RoutingConfig{
		PrimaryThreshold:     0.32,
		SecondaryThreshold:   0.18,
		SwitchMargin:         0.05,
		MaxActiveLanes:       12,
		SummaryMaxLen:        700,
		KeepRecentMessages:   10,
		MinHistoryTokenRatio: 0.35,
		Semantic: SemanticConfig{
			Enabled:          false,
			Weight:           0.25,
			AmbiguityCeiling: 0.55,
			AmbiguityGap:     0.08,
			TopK:             5,
			MaxChars:         2000,
		},
	}
}

// Normalize fills zero-valued fields with defaults so a partially
// specified config never produces degenerate routing.
func (c *RoutingConfig) Normalize() {
	def := DefaultRoutingConfig()
	if c.PrimaryThreshold <= 0 {
		c.PrimaryThreshold = def.PrimaryThreshold
	}
	if c.SecondaryThreshold <= 0 {
		c.SecondaryThreshold = def.SecondaryThreshold
	}
	if c.SwitchMargin < 0 {
		c.SwitchMargin = def.SwitchMargin
	}
	if c.MaxActiveLanes <= 0 {
		c.MaxActiveLanes = def.MaxActiveLanes
	}
	if c.SummaryMaxLen <= 0 {
		c.SummaryMaxLen = def.SummaryMaxLen
	}
	if c.KeepRecentMessages <= 0 {
		c.KeepRecentMessages = def.KeepRecentMessages
	}
	if c.MinHistoryTokenRatio < 0 {
		c.MinHistoryTokenRatio = 0
	}
	if c.Semantic.Weight <= 0 {
		c.Semantic.Weight = def.Semantic.Weight
	}
	if c.Semantic.AmbiguityCeiling <= 0 {
		c.Semantic.AmbiguityCeiling = def.Semantic.AmbiguityCeiling
	}
	if c.Semantic.AmbiguityGap <= 0 {
		c.Semantic.AmbiguityGap = def.Semantic.AmbiguityGap
	}
	if c.Semantic.TopK <= 0 {
		c.Semantic.TopK = def.Semantic.TopK
	}
	if c.Semantic.MaxChars <= 0 {
		c.Semantic.MaxChars = def.Semantic.MaxChars
	}
}
