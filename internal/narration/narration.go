// Package narration turns page images into drafts and drafts into spoken
// narration using a generative model.
package narration

import (
	"context"
	"fmt"

	"github.com/jonathan/slide-narrator/internal/capability"
	"github.com/jonathan/slide-narrator/internal/llm"
	"github.com/jonathan/slide-narrator/internal/prompts"
)

// Narrator implements capability.Drafter and capability.SpeechWriter
type Narrator struct {
	client llm.Client
}

var (
	_ capability.Drafter      = (*Narrator)(nil)
	_ capability.SpeechWriter = (*Narrator)(nil)
)

// New creates a Narrator backed by client
func New(client llm.Client) *Narrator {
	return &Narrator{client: client}
}

// DraftCornerstone derives the deck's central idea from its cover page
func (n *Narrator) DraftCornerstone(ctx context.Context, cover []byte) (string, error) {
	prompt, err := prompts.Get(prompts.Narration, prompts.KeyCornerstone)
	if err != nil {
		return "", err
	}
	text, err := n.client.GenerateFromImage(ctx, prompt, cover, llm.TierVision)
	if err != nil {
		return "", fmt.Errorf("failed to draft cornerstone: %w", err)
	}
	return text, nil
}

// DraftPage describes one page in the light of the cornerstone
func (n *Narrator) DraftPage(ctx context.Context, page []byte, cornerstone string) (string, error) {
	prompt, err := prompts.Render(prompts.Narration, prompts.KeyPage, map[string]string{
		"Cornerstone": cornerstone,
	})
	if err != nil {
		return "", err
	}
	text, err := n.client.GenerateFromImage(ctx, prompt, page, llm.TierVision)
	if err != nil {
		return "", fmt.Errorf("failed to draft page: %w", err)
	}
	return text, nil
}

// GenerateSpeechText writes the voice-over for req.Page from its draft, the
// neighbouring drafts and the speech that precedes it.
func (n *Narrator) GenerateSpeechText(ctx context.Context, req capability.SpeechRequest) (string, error) {
	prompt, err := prompts.Render(prompts.Narration, prompts.KeySpeech, req)
	if err != nil {
		return "", err
	}
	text, err := n.client.GenerateContent(ctx, prompt, llm.TierText)
	if err != nil {
		return "", fmt.Errorf("failed to generate speech for page %d: %w", req.Page, err)
	}
	return text, nil
}
