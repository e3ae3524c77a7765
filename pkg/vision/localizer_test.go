package vision

import (
	"context"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/menta2k/lensclip/internal/errors"
	"github.com/menta2k/lensclip/pkg/retry"
	"github.com/menta2k/lensclip/pkg/types"
)

const annotateURL = "https://vision.test/v1/images:annotate"

func newMockClient(t *testing.T) (*Client, *httpmock.MockTransport) {
	t.Helper()
	mt := httpmock.NewMockTransport()
	c, err := New(context.Background(),
		Config{Endpoint: "https://vision.test/"},
		retry.Default().WithoutSleep(),
		nil,
		option.WithHTTPClient(&http.Client{Transport: mt}),
	)
	require.NoError(t, err)
	return c, mt
}

func annotateResponse(adult, violence string) map[string]any {
	return map[string]any{
		"responses": []any{map[string]any{
			"localizedObjectAnnotations": []any{
				map[string]any{
					"name":  "Butterfly",
					"score": 0.92,
					"boundingPoly": map[string]any{"normalizedVertices": []any{
						map[string]any{"x": 0.1, "y": 0.2},
						map[string]any{"x": 0.6, "y": 0.2},
						map[string]any{"x": 0.6, "y": 0.7},
						map[string]any{"x": 0.1, "y": 0.7},
					}},
				},
			},
			"safeSearchAnnotation": map[string]any{"adult": adult, "violence": violence},
		}},
	}
}

func TestNewWithoutCredentials(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{}, retry.Default(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsConfiguration(err))
}

func TestLocalizeParsesObjects(t *testing.T) {
	t.Parallel()

	c, mt := newMockClient(t)
	mt.RegisterResponder(http.MethodPost, annotateURL,
		httpmock.NewJsonResponderOrPanic(http.StatusOK, annotateResponse("VERY_UNLIKELY", "UNLIKELY")))

	res, err := c.Localize(context.Background(), []byte("img"))
	require.NoError(t, err)
	require.Len(t, res.Objects, 1)
	assert.Equal(t, "Butterfly", res.Objects[0].Name)
	assert.Len(t, res.Objects[0].Vertices, 4)
	assert.Equal(t, types.LikelihoodVeryUnlikely, res.Moderation.Adult)
	assert.Equal(t, types.LikelihoodUnlikely, res.Moderation.Violence)
	assert.Equal(t, 1, mt.GetTotalCallCount())
}

func TestLocalizeRejectsUnsafeContent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		adult, violence string
		rejected        bool
	}{
		{"VERY_LIKELY", "UNLIKELY", true},
		{"LIKELY", "UNLIKELY", true},
		{"UNLIKELY", "LIKELY", true},
		{"POSSIBLE", "POSSIBLE", false},
		{"UNKNOWN", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.adult+"/"+tt.violence, func(t *testing.T) {
			c, mt := newMockClient(t)
			mt.RegisterResponder(http.MethodPost, annotateURL,
				httpmock.NewJsonResponderOrPanic(http.StatusOK, annotateResponse(tt.adult, tt.violence)))

			_, err := c.Localize(context.Background(), []byte("img"))
			if tt.rejected {
				require.Error(t, err)
				assert.True(t, errors.IsCategory(err, errors.CategoryContentRejected))
				assert.Contains(t, err.Error(), "safety")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLocalizeRetriesServerErrors(t *testing.T) {
	t.Parallel()

	c, mt := newMockClient(t)
	mt.RegisterResponder(http.MethodPost, annotateURL,
		httpmock.NewStringResponder(http.StatusServiceUnavailable, `{"error":{"code":503,"message":"unavailable"}}`))

	_, err := c.Localize(context.Background(), []byte("img"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryRetryExhausted))
	assert.Equal(t, 3, mt.GetTotalCallCount())
}

func TestLocalizeDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	c, mt := newMockClient(t)
	mt.RegisterResponder(http.MethodPost, annotateURL,
		httpmock.NewStringResponder(http.StatusBadRequest, `{"error":{"code":400,"message":"bad image"}}`))

	_, err := c.Localize(context.Background(), []byte("img"))
	require.Error(t, err)
	assert.False(t, errors.IsCategory(err, errors.CategoryRetryExhausted))
	assert.Equal(t, 1, mt.GetTotalCallCount())
}

func TestLocalizePerImageError(t *testing.T) {
	t.Parallel()

	c, mt := newMockClient(t)
	mt.RegisterResponder(http.MethodPost, annotateURL,
		httpmock.NewJsonResponderOrPanic(http.StatusOK, map[string]any{
			"responses": []any{map[string]any{"error": map[string]any{"code": 3, "message": "Bad image data."}}},
		}))

	_, err := c.Localize(context.Background(), []byte("img"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryRemote))
}
