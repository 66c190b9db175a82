// Package llm wraps the generative model used to read slide pages and write
// narration. Models are chosen by tier so callers never name a model directly.
package llm

// ModelTier selects a model by the kind of work it does
type ModelTier string

const (
	// TierVision reads page images: cornerstone and page drafts
	TierVision ModelTier = "vision"
	// TierText writes narration from drafts
	TierText ModelTier = "text"
)

// Provider represents an LLM provider
type Provider string

// ProviderGemini is the Google Gemini provider
const ProviderGemini Provider = "gemini"

// DefaultTemperature matches the sampling used for narration text
const DefaultTemperature float32 = 0.2

// DefaultMaxOutputTokens bounds a single draft or speech
const DefaultMaxOutputTokens int32 = 2048

// Config holds the model configuration
type Config struct {
	Provider        Provider
	Models          map[ModelTier]string
	Temperature     float32
	MaxOutputTokens int32
}

// DefaultConfig returns the Gemini configuration
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierVision: "gemini-2.5-flash",
			TierText:   "gemini-2.5-flash",
		},
		Temperature:     DefaultTemperature,
		MaxOutputTokens: DefaultMaxOutputTokens,
	}
}

// GetModel returns the model name for a tier, falling back to the text model
func (c *Config) GetModel(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok && model != "" {
		return model
	}
	return c.Models[TierText]
}

// WithModel returns a copy of c using model for tier
func (c *Config) WithModel(tier ModelTier, model string) *Config {
	next := *c
	next.Models = make(map[ModelTier]string, len(c.Models)+1)
	for k, v := range c.Models {
		next.Models[k] = v
	}
	next.Models[tier] = model
	return &next
}
