// Package gemini is the Generative Language API identification backend.
package gemini

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	genai "google.golang.org/api/generativelanguage/v1beta"
	"google.golang.org/api/option"

	"github.com/menta2k/lensclip/internal/errors"
	"github.com/menta2k/lensclip/pkg/client"
)

const component = "gemini"

// Client calls models/{model}:generateContent
type Client struct {
	svc *genai.Service
}

// NewClient creates a Gemini client authenticated with an API key
func NewClient(ctx context.Context, apiKey, endpoint string, opts ...option.ClientOption) (*Client, error) {
	if apiKey == "" && len(opts) == 0 {
		return nil, errors.Newf("gemini: no API key configured").
			Category(errors.CategoryConfiguration).
			Component(component).
			Build()
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	svc, err := genai.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.New(fmt.Errorf("gemini: create service: %w", err)).
			Category(errors.CategoryConfiguration).
			Component(component).
			Build()
	}
	return &Client{svc: svc}, nil
}

// Name implements client.Generator
func (c *Client) Name() string { return component }

// Generate sends the prompt and inline image and asks for a JSON response
func (c *Client) Generate(ctx context.Context, req client.Request) (string, error) {
	parts := []*genai.Part{{Text: req.Prompt}}
	if len(req.Image) > 0 {
		mime := req.MimeType
		if mime == "" {
			mime = "image/webp"
		}
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(req.Image),
		}})
	}

	model := req.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	resp, err := c.svc.Models.GenerateContent(model, &genai.GenerateContentRequest{
		Contents:         []*genai.Content{{Role: "user", Parts: parts}},
		GenerationConfig: &genai.GenerationConfig{ResponseMimeType: "application/json"},
	}).Context(ctx).Do()
	if err != nil {
		return "", err
	}

	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		var sb strings.Builder
		for _, p := range cand.Content.Parts {
			if p != nil {
				sb.WriteString(p.Text)
			}
		}
		if sb.Len() > 0 {
			return sb.String(), nil
		}
	}
	return "", errors.Newf("gemini: response has no text candidates").
		Category(errors.CategoryResponseParse).
		Component(component).
		Build()
}
