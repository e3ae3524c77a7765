package llamacpp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/lensclip/internal/errors"
	"github.com/menta2k/lensclip/pkg/client"
	"github.com/menta2k/lensclip/pkg/retry"
)

const completionsURL = "http://llama.test:8080/v1/chat/completions"

func newMockClient(apiKey string) (*Client, *httpmock.MockTransport) {
	mt := httpmock.NewMockTransport()
	return NewClient("http://llama.test:8080/", apiKey, &http.Client{Transport: mt}), mt
}

func TestGenerateBuildsDataURL(t *testing.T) {
	t.Parallel()

	c, mt := newMockClient("secret")
	var sent ChatCompletionRequest
	var auth string
	mt.RegisterResponder(http.MethodPost, completionsURL, func(req *http.Request) (*http.Response, error) {
		auth = req.Header.Get("Authorization")
		raw, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &sent))
		return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": `{"title":"Acorn"}`}}},
		})
	})

	out, err := c.Generate(context.Background(), client.Request{Model: "llava", Prompt: "identify", Image: []byte{0xff}, MimeType: "image/webp"})
	require.NoError(t, err)
	assert.Equal(t, `{"title":"Acorn"}`, out)
	assert.Equal(t, "Bearer secret", auth)
	require.NotNil(t, sent.ResponseFormat)
	assert.Equal(t, "json_object", sent.ResponseFormat.Type)

	parts, ok := sent.Messages[0].Content.([]any)
	require.True(t, ok)
	require.Len(t, parts, 2)
	url := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(url, "data:image/webp;base64,"))
}

func TestGenerateArrayContent(t *testing.T) {
	t.Parallel()

	c, mt := newMockClient("")
	mt.RegisterResponder(http.MethodPost, completionsURL, httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": []any{
			map[string]any{"type": "text", "text": `{"title":"Fern"}`},
		}}}},
	}))

	out, err := c.Generate(context.Background(), client.Request{Model: "m", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, `{"title":"Fern"}`, out)
}

func TestGenerateStatusClassification(t *testing.T) {
	t.Parallel()

	c, mt := newMockClient("")
	mt.RegisterResponder(http.MethodPost, completionsURL, httpmock.NewStringResponder(http.StatusBadGateway, "upstream"))
	_, err := c.Generate(context.Background(), client.Request{Model: "m", Prompt: "p"})
	assert.True(t, retry.IsTransient(err))

	c, mt = newMockClient("")
	mt.RegisterResponder(http.MethodPost, completionsURL, httpmock.NewStringResponder(http.StatusUnauthorized, "nope"))
	_, err = c.Generate(context.Background(), client.Request{Model: "m", Prompt: "p"})
	assert.False(t, retry.IsTransient(err))
	assert.True(t, errors.IsCategory(err, errors.CategoryRemote))

	c, mt = newMockClient("")
	mt.RegisterResponder(http.MethodPost, completionsURL, httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{"choices": []any{}}))
	_, err = c.Generate(context.Background(), client.Request{Model: "m", Prompt: "p"})
	assert.True(t, errors.IsCategory(err, errors.CategoryResponseParse))
}
