// Package speech synthesizes narration audio with Google Cloud Text-to-Speech.
package speech

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	texttospeech "google.golang.org/api/texttospeech/v1"

	"github.com/jonathan/slide-narrator/internal/capability"
	"github.com/jonathan/slide-narrator/internal/captions"
	"github.com/jonathan/slide-narrator/internal/retry"
)

// DefaultSampleRate is the LINEAR16 sample rate requested from the service
const DefaultSampleRate = 24000

// Input selects how narration text is sent to the service
type Input string

const (
	// InputSSML sends text as SSML built by ToSSML
	InputSSML Input = "ssml"
	// InputText sends text as plain input
	InputText Input = "text"
)

// Synthesizer implements capability.Synthesizer over the REST API
type Synthesizer struct {
	svc        *texttospeech.Service
	sampleRate int64
	input      Input
}

var _ capability.Synthesizer = (*Synthesizer)(nil)

// NewSynthesizer creates a synthesizer authenticated with apiKey. Extra
// options are passed to the API client.
func NewSynthesizer(ctx context.Context, apiKey string, opts ...option.ClientOption) (*Synthesizer, error) {
	if apiKey != "" {
		opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	}
	svc, err := texttospeech.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create text-to-speech client: %w", err)
	}
	return &Synthesizer{svc: svc, sampleRate: DefaultSampleRate, input: InputSSML}, nil
}

// SetInput chooses SSML or plain text input; anything else means SSML
func (s *Synthesizer) SetInput(input Input) {
	if input != InputText {
		input = InputSSML
	}
	s.input = input
}

// Synthesize renders text with voice as a WAV file (LINEAR16 with header)
func (s *Synthesizer) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, retry.Permanent(fmt.Errorf("nothing to synthesize"))
	}

	input := &texttospeech.SynthesisInput{Text: text}
	if s.input == InputSSML {
		input = &texttospeech.SynthesisInput{Ssml: ToSSML(text)}
	}
	req := &texttospeech.SynthesizeSpeechRequest{
		Input: input,
		Voice: &texttospeech.VoiceSelectionParams{
			LanguageCode: languageCode(voice),
			Name:         voice,
		},
		AudioConfig: &texttospeech.AudioConfig{
			AudioEncoding:   "LINEAR16",
			SampleRateHertz: s.sampleRate,
		},
	}
	resp, err := s.svc.Text.Synthesize(req).Context(ctx).Do()
	if err != nil {
		return nil, classify(fmt.Errorf("failed to synthesize speech: %w", err))
	}

	audio, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio content: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("service returned no audio")
	}
	return audio, nil
}

// ToSSML marks up narration with one <p> per paragraph and one <s> per
// sentence. Text that is already an SSML document is passed through.
func ToSSML(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "<speak") {
		return text
	}

	var b strings.Builder
	b.WriteString("<speak>")
	for _, para := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		sentences := captions.Sentences(para)
		if len(sentences) == 0 {
			continue
		}
		b.WriteString("<p>")
		for _, sentence := range sentences {
			b.WriteString("<s>")
			_ = xml.EscapeText(&b, []byte(sentence))
			b.WriteString("</s>")
		}
		b.WriteString("</p>")
	}
	b.WriteString("</speak>")
	return b.String()
}

// languageCode takes the locale prefix of a voice name such as en-US-Neural2-D
func languageCode(voice string) string {
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) < 2 {
		return "en-US"
	}
	return parts[0] + "-" + parts[1]
}

// classify marks client errors permanent, quota exhaustion included, since
// the next attempts would hit the same limit. Server errors stay retryable.
func classify(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	if apiErr.Code >= http.StatusBadRequest && apiErr.Code < http.StatusInternalServerError {
		return retry.Permanent(err)
	}
	return err
}
