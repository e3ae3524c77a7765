// Package vision wraps Google Cloud Vision object localization and SafeSearch moderation.
package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"google.golang.org/api/option"
	visionapi "google.golang.org/api/vision/v1"

	"github.com/menta2k/lensclip/internal/errors"
	"github.com/menta2k/lensclip/pkg/retry"
	"github.com/menta2k/lensclip/pkg/types"
)

const component = "vision"

// DefaultMaxResults is the maximum number of localized objects requested
const DefaultMaxResults = 10

// Localizer returns candidate boxes and a moderation verdict for an image
type Localizer interface {
	Localize(ctx context.Context, image []byte) (*types.LocalizationResult, error)
}

// Config configures the Cloud Vision client
type Config struct {
	APIKey          string
	CredentialsFile string
	Endpoint        string
	MaxResults      int
}

// Client calls the images:annotate endpoint
type Client struct {
	svc        *visionapi.Service
	maxResults int64
	policy     retry.Policy
	logger     *slog.Logger
}

// New creates a Cloud Vision client. Without an API key, a credentials file or
// explicit client options it returns a configuration error.
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
		return nil, errors.Newf("vision: no credentials configured").
			Category(errors.CategoryConfiguration).
			Component(component).
			Build()
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := visionapi.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.New(fmt.Errorf("vision: create service: %w", err)).
			Category(errors.CategoryConfiguration).
			Component(component).
			Build()
	}

	maxResults := int64(cfg.MaxResults)
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &Client{svc: svc, maxResults: maxResults, policy: policy, logger: logger.With("component", component)}, nil
}

// Localize runs object localization and SafeSearch in one request. A moderation
// verdict of LIKELY or above on either axis yields a CategoryContentRejected error
// alongside the parsed result.
func (c *Client) Localize(ctx context.Context, image []byte) (*types.LocalizationResult, error) {
	req := &visionapi.BatchAnnotateImagesRequest{
		Requests: []*visionapi.AnnotateImageRequest{{
			Image: &visionapi.Image{Content: base64.StdEncoding.EncodeToString(image)},
			Features: []*visionapi.Feature{
				{Type: "OBJECT_LOCALIZATION", MaxResults: c.maxResults},
				{Type: "SAFE_SEARCH_DETECTION"},
			},
		}},
	}

	var resp *visionapi.BatchAnnotateImagesResponse
	err := retry.Do(ctx, c.policy, component, func(ctx context.Context) error {
		var err error
		resp, err = c.svc.Images.Annotate(req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Responses) == 0 {
		return nil, errors.Newf("vision: empty response").
			Category(errors.CategoryRemote).
			Component(component).
			Build()
	}

	r := resp.Responses[0]
	if r.Error != nil && r.Error.Code != 0 {
		return nil, errors.Newf("vision: %s", r.Error.Message).
			Category(errors.CategoryRemote).
			Component(component).
			Context("code", r.Error.Code).
			Build()
	}

	result := convert(r)
	if result.Moderation.Rejected() {
		c.logger.Info("image rejected by moderation",
			"adult", result.Moderation.Adult.String(),
			"violence", result.Moderation.Violence.String())
		return result, errors.Newf("image rejected by safety check (adult=%s, violence=%s)",
			result.Moderation.Adult, result.Moderation.Violence).
			Category(errors.CategoryContentRejected).
			Component(component).
			Build()
	}
	return result, nil
}

func convert(r *visionapi.AnnotateImageResponse) *types.LocalizationResult {
	out := &types.LocalizationResult{Objects: make([]types.DetectedObject, 0, len(r.LocalizedObjectAnnotations))}
	for _, a := range r.LocalizedObjectAnnotations {
		if a == nil {
			continue
		}
		obj := types.DetectedObject{Name: a.Name, Score: a.Score}
		if a.BoundingPoly != nil {
			for _, v := range a.BoundingPoly.NormalizedVertices {
				if v == nil {
					continue
				}
				obj.Vertices = append(obj.Vertices, types.Vertex{X: v.X, Y: v.Y})
			}
		}
		out.Objects = append(out.Objects, obj)
	}
	if ss := r.SafeSearchAnnotation; ss != nil {
		out.Moderation = types.Moderation{
			Adult:    types.ParseLikelihood(ss.Adult),
			Violence: types.ParseLikelihood(ss.Violence),
		}
	}
	return out
}
