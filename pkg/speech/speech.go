// Package speech synthesizes narration audio through Google Cloud Text-to-Speech.
package speech

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"google.golang.org/api/option"
	tts "google.golang.org/api/texttospeech/v1"

	"github.com/menta2k/lensclip/internal/errors"
	"github.com/menta2k/lensclip/pkg/retry"
)

const component = "speech"

// Defaults for the narration voice
const (
	DefaultLanguage = "en-US"
	DefaultVoice    = "en-US-Neural2-J"
	DefaultRate     = 0.9
	audioEncoding   = "MP3"
)

// Synthesizer turns text into encoded audio
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, rate float64) ([]byte, error)
	Voice() string
}

// Config configures the Text-to-Speech client
type Config struct {
	APIKey          string
	CredentialsFile string
	Endpoint        string
	Language        string
	Voice           string
}

// Client calls text:synthesize
type Client struct {
	svc      *tts.Service
	language string
	voice    string
	policy   retry.Policy
	logger   *slog.Logger
}

// New creates a Text-to-Speech client. Without credentials or explicit client
// options it returns a configuration error.
func New(ctx context.Context, cfg Config, policy retry.Policy, logger *slog.Logger, opts ...option.ClientOption) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch {
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	case len(opts) == 0:
		return nil, errors.Newf("speech: no credentials configured").
			Category(errors.CategoryConfiguration).
			Component(component).
			Build()
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := tts.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.New(fmt.Errorf("speech: create service: %w", err)).
			Category(errors.CategoryConfiguration).
			Component(component).
			Build()
	}

	c := &Client{
		svc:      svc,
		language: cfg.Language,
		voice:    cfg.Voice,
		policy:   policy,
		logger:   logger.With("component", component),
	}
	if c.language == "" {
		c.language = DefaultLanguage
	}
	if c.voice == "" {
		c.voice = DefaultVoice
	}
	return c, nil
}

// Voice returns the configured voice name
func (c *Client) Voice() string { return c.voice }

// Synthesize returns MP3 audio for text at the given speaking rate
func (c *Client) Synthesize(ctx context.Context, text string, rate float64) ([]byte, error) {
	if rate <= 0 {
		rate = DefaultRate
	}
	req := &tts.SynthesizeSpeechRequest{
		Input:       &tts.SynthesisInput{Text: text},
		Voice:       &tts.VoiceSelectionParams{LanguageCode: c.language, Name: c.voice},
		AudioConfig: &tts.AudioConfig{AudioEncoding: audioEncoding, SpeakingRate: rate},
	}

	var resp *tts.SynthesizeSpeechResponse
	err := retry.Do(ctx, c.policy, component, func(ctx context.Context) error {
		var err error
		resp, err = c.svc.Text.Synthesize(req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	if resp.AudioContent == "" {
		return nil, errors.Newf("speech: empty audio content").
			Category(errors.CategoryRemote).
			Component(component).
			Build()
	}

	audio, err := base64.StdEncoding.DecodeString(resp.AudioContent)
	if err != nil {
		return nil, errors.New(fmt.Errorf("speech: decode audio: %w", err)).
			Category(errors.CategoryResponseParse).
			Component(component).
			Build()
	}
	c.logger.Debug("synthesized narration", "chars", len(text), "bytes", len(audio), "voice", c.voice)
	return audio, nil
}
