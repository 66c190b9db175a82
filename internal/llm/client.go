package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/jonathan/slide-narrator/internal/retry"
)

// Client generates text from prompts, optionally grounded on an image
type Client interface {
	// GenerateContent generates text from a prompt
	GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error)
	// GenerateFromImage generates text from a prompt and one JPEG image
	GenerateFromImage(ctx context.Context, prompt string, jpeg []byte, tier ModelTier) (string, error)
	// Close releases any resources held by the client
	Close() error
}

// NewClient creates a client for the configured provider. A nil config
// means DefaultConfig.
func NewClient(ctx context.Context, config *Config, apiKey string, opts ...option.ClientOption) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Provider != ProviderGemini && config.Provider != "" {
		return nil, fmt.Errorf("unsupported llm provider %q", config.Provider)
	}
	return NewGeminiClient(ctx, config, apiKey, opts...)
}

// GeminiClient implements Client for Google Gemini. Models are configured
// once per tier and reused across calls.
type GeminiClient struct {
	client *genai.Client
	config *Config

	mu     sync.Mutex
	models map[ModelTier]*genai.GenerativeModel
}

// NewGeminiClient connects to Gemini with apiKey
func NewGeminiClient(ctx context.Context, config *Config, apiKey string, opts ...option.ClientOption) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{
		client: client,
		config: config,
		models: make(map[ModelTier]*genai.GenerativeModel),
	}, nil
}

// GenerateContent generates text content using the specified model tier
func (c *GeminiClient) GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	return c.generate(ctx, tier, genai.Text(prompt))
}

// GenerateFromImage sends the page image first, then the instruction
func (c *GeminiClient) GenerateFromImage(ctx context.Context, prompt string, jpeg []byte, tier ModelTier) (string, error) {
	if len(jpeg) == 0 {
		return "", retry.Permanent(fmt.Errorf("image is empty"))
	}
	return c.generate(ctx, tier, genai.ImageData("jpeg", jpeg), genai.Text(prompt))
}

func (c *GeminiClient) model(tier ModelTier) (*genai.GenerativeModel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.models[tier]; ok {
		return m, nil
	}
	name := c.config.GetModel(tier)
	if name == "" {
		return nil, retry.Permanent(fmt.Errorf("no model configured for tier %s", tier))
	}
	m := c.client.GenerativeModel(name)
	m.SetTemperature(c.config.Temperature)
	if c.config.MaxOutputTokens > 0 {
		m.SetMaxOutputTokens(c.config.MaxOutputTokens)
	}
	c.models[tier] = m
	return m, nil
}

func (c *GeminiClient) generate(ctx context.Context, tier ModelTier, parts ...genai.Part) (string, error) {
	m, err := c.model(tier)
	if err != nil {
		return "", err
	}
	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return "", Classify(fmt.Errorf("failed to generate content with %s: %w", c.config.GetModel(tier), err))
	}
	return extractTextFromResponse(resp)
}

// Close releases resources held by the client
func (c *GeminiClient) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// extractTextFromResponse joins the text parts of the first candidate.
// Candidates stopped for safety or recitation are permanent failures.
func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("model returned no candidates")
	}
	cand := resp.Candidates[0]

	switch cand.FinishReason {
	case genai.FinishReasonSafety, genai.FinishReasonRecitation:
		return "", retry.Permanent(fmt.Errorf("model stopped: %s", cand.FinishReason))
	}

	var sb strings.Builder
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	text := CleanText(sb.String())
	if text == "" {
		return "", fmt.Errorf("model returned no text (finish reason %s)", cand.FinishReason)
	}
	return text, nil
}
