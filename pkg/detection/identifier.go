// Package detection identifies the subject of an observation image through a
// multimodal model and validates the model output into an Identification.
package detection

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/menta2k/lensclip/pkg/client"
	"github.com/menta2k/lensclip/pkg/retry"
	"github.com/menta2k/lensclip/pkg/settings"
	"github.com/menta2k/lensclip/pkg/types"
)

const component = "identification"

// Identifier produces a validated identification for an image
type Identifier interface {
	Identify(ctx context.Context, image []byte, mimeType string) (*types.Identification, error)
}

// ModelSource resolves the active identification model
type ModelSource interface {
	GetString(ctx context.Context, key, fallback string) (string, error)
}

// Options configures a Remote identifier
type Options struct {
	Categories   []types.Category
	DefaultModel string
	Models       ModelSource
	Policy       retry.Policy
	// Limiter throttles outbound calls when set
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

// Remote calls a model backend under the shared retry policy
type Remote struct {
	gen    client.Generator
	opts   Options
	prompt string
	schema []byte
	logger *slog.Logger
}

// NewRemote creates an identifier backed by gen
func NewRemote(gen client.Generator, opts Options) *Remote {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", component, "backend", gen.Name())

	schema, err := ResponseSchema(opts.Categories)
	if err != nil {
		logger.Warn("response schema unavailable, falling back to plain JSON mode", "error", err)
		schema = nil
	}

	return &Remote{
		gen:    gen,
		opts:   opts,
		prompt: BuildPrompt(opts.Categories),
		schema: schema,
		logger: logger,
	}
}

// Model returns the model that the next call will use
func (r *Remote) Model(ctx context.Context) string {
	if r.opts.Models == nil {
		return r.opts.DefaultModel
	}
	model, err := r.opts.Models.GetString(ctx, settings.KeyIdentificationModel, r.opts.DefaultModel)
	if err != nil {
		r.logger.Warn("model setting lookup failed, using default", "error", err, "model", r.opts.DefaultModel)
		return r.opts.DefaultModel
	}
	return model
}

// Identify implements Identifier
func (r *Remote) Identify(ctx context.Context, image []byte, mimeType string) (*types.Identification, error) {
	model := r.Model(ctx)
	req := client.Request{
		Model:    model,
		Prompt:   r.prompt,
		Image:    image,
		MimeType: mimeType,
		Schema:   r.schema,
	}

	var raw string
	err := retry.Do(ctx, r.opts.Policy, component, func(ctx context.Context) error {
		if r.opts.Limiter != nil {
			if err := r.opts.Limiter.Wait(ctx); err != nil {
				return err
			}
		}
		var err error
		raw, err = r.gen.Generate(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	id, err := Parse(raw, r.opts.Categories, model)
	if err != nil {
		r.logger.Warn("unparseable identification response", "model", model, "error", err)
		return nil, err
	}
	r.logger.Debug("identified", "model", model, "title", id.Title, "category", id.Category, "confidence", id.Confidence)
	return id, nil
}

// MockModel is recorded as the model of mock identifications
const MockModel = "mock"

// Mock returns a fixed identification without calling any service
type Mock struct{}

// Identify implements Identifier
func (Mock) Identify(context.Context, []byte, string) (*types.Identification, error) {
	return &types.Identification{
		Title:       "Sample subject",
		AltNames:    []string{},
		Summary:     "This is a sample result returned while no identification service is configured.",
		KidFriendly: "This is a practice card. Try again when the helper is switched on!",
		Category:    types.DefaultCategory,
		Confidence:  0.5,
		Tags:        []string{"sample"},
		SafetyNotes: []string{},
		FunFacts:    []string{"Every photo you take helps you look more closely at the world."},
		Questions:   []string{"What colors can you see?", "Where did you find it?"},
		CandidateCards: []types.CandidateCard{{
			Name:        "Sample subject",
			EnglishName: "Sample subject",
			Confidence:  0.5,
			Summary:     "Placeholder candidate.",
			KidFriendly: "A pretend answer for testing.",
			LookFor:     []string{},
			FunFacts:    []string{},
			SafetyNotes: []string{},
			Questions:   []string{},
			Tags:        []string{"sample"},
		}},
		Model: MockModel,
	}, nil
}
