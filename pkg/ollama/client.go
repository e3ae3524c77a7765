// Package ollama is the local Ollama identification backend.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/lensclip/internal/errors"
	"github.com/menta2k/lensclip/pkg/client"
	"github.com/menta2k/lensclip/pkg/retry"
)

const component = "ollama"

// Client wraps the Ollama API client
type Client struct {
	client *api.Client
}

// NewClient creates a new Ollama client for the server at ollamaURL
func NewClient(ollamaURL string, httpClient *http.Client) (*Client, error) {
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil || parsedURL.Host == "" {
		return nil, errors.Newf("ollama: invalid URL %q", ollamaURL).
			Category(errors.CategoryConfiguration).
			Component(component).
			Build()
	}

	// Base URL without any path like /api/chat
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{client: api.NewClient(baseURL, httpClient)}, nil
}

// Name implements client.Generator
func (c *Client) Name() string { return component }

// Generate runs a non-streaming chat with the image attached and JSON output enforced
func (c *Client) Generate(ctx context.Context, req client.Request) (string, error) {
	streamFalse := false

	format := json.RawMessage(`"json"`)
	if len(req.Schema) > 0 {
		format = json.RawMessage(req.Schema)
	}

	options := map[string]any{"temperature": 0.2}

	// MiniCPM-V 4.x needs a larger context for image tokens
	modelLower := strings.ToLower(req.Model)
	if strings.Contains(modelLower, "minicpm-v4") ||
		strings.Contains(modelLower, "minicpm-v-4") ||
		strings.Contains(modelLower, "minicpmv4") {
		options["top_p"] = 0.8
		options["num_ctx"] = 4096
	}

	msg := api.Message{Role: "user", Content: req.Prompt}
	if len(req.Image) > 0 {
		msg.Images = []api.ImageData{api.ImageData(req.Image)}
	}

	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: []api.Message{msg},
		Stream:   &streamFalse,
		Format:   format,
		Options:  options,
	}

	var responseContent strings.Builder
	err := c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		responseContent.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", classify(err)
	}

	if responseContent.Len() == 0 {
		return "", errors.Newf("ollama: empty response").
			Category(errors.CategoryResponseParse).
			Component(component).
			Build()
	}
	return responseContent.String(), nil
}

func classify(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		if retry.IsTransientStatus(statusErr.StatusCode) {
			return retry.Transient(component, fmt.Errorf("ollama chat: %w", err))
		}
		return errors.New(fmt.Errorf("ollama chat: %w", err)).
			Category(errors.CategoryRemote).
			Component(component).
			Context("status", statusErr.StatusCode).
			Build()
	}
	return fmt.Errorf("ollama chat: %w", err)
}
