// Package analyzer drives an observation from processing to ready or failed:
// localize, select a box, crop, identify, persist and reconcile tags.
package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/menta2k/lensclip/internal/errors"
	"github.com/menta2k/lensclip/internal/metrics"
	"github.com/menta2k/lensclip/internal/notify"
	"github.com/menta2k/lensclip/internal/store"
	"github.com/menta2k/lensclip/internal/utils"
	"github.com/menta2k/lensclip/pkg/cropper"
	"github.com/menta2k/lensclip/pkg/detection"
	"github.com/menta2k/lensclip/pkg/processing"
	"github.com/menta2k/lensclip/pkg/tags"
	"github.com/menta2k/lensclip/pkg/types"
	"github.com/menta2k/lensclip/pkg/vision"
)

const component = "analyzer"

// identificationMime is the encoding of every stored image
const identificationMime = "image/webp"

// Repository is the observation persistence the orchestrator needs
type Repository interface {
	GetObservation(ctx context.Context, id string) (*types.Observation, error)
	Complete(ctx context.Context, id string, c store.Completion) (bool, error)
	Fail(ctx context.Context, id, msg string) (bool, error)
}

// Blobs reads originals and writes crops
type Blobs interface {
	Get(ctx context.Context, p string) ([]byte, error)
	Put(ctx context.Context, p string, data []byte) error
}

// TagSyncer applies the suggested tag set
type TagSyncer interface {
	Sync(ctx context.Context, ownerID, observationID string, names []string) error
}

// Options wires an Orchestrator. Localizer, Publisher and Metrics are optional.
type Options struct {
	Repository Repository
	Blobs      Blobs
	Localizer  vision.Localizer
	Identifier detection.Identifier
	Processor  *processing.Processor
	Tags       TagSyncer
	Publisher  notify.Publisher
	Metrics    *metrics.AnalysisMetrics
	Categories []types.Category
	Logger     *slog.Logger
	Now        func() time.Time
}

// Orchestrator runs the analysis pipeline for one observation at a time
type Orchestrator struct {
	repo       Repository
	blobs      Blobs
	localizer  vision.Localizer
	identifier detection.Identifier
	processor  *processing.Processor
	tags       TagSyncer
	publisher  notify.Publisher
	metrics    *metrics.AnalysisMetrics
	categories []types.Category
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an orchestrator
func New(opts Options) (*Orchestrator, error) {
	if opts.Repository == nil || opts.Blobs == nil || opts.Identifier == nil || opts.Tags == nil {
		return nil, errors.Newf("analyzer: repository, blobs, identifier and tags are required").
			Category(errors.CategoryConfiguration).
			Component(component).
			Build()
	}
	o := &Orchestrator{
		repo:       opts.Repository,
		blobs:      opts.Blobs,
		localizer:  opts.Localizer,
		identifier: opts.Identifier,
		processor:  opts.Processor,
		tags:       opts.Tags,
		publisher:  opts.Publisher,
		metrics:    opts.Metrics,
		categories: opts.Categories,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if o.processor == nil {
		o.processor = processing.NewProcessor()
	}
	if o.publisher == nil {
		o.publisher = notify.Noop{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	o.logger = o.logger.With("component", component)
	return o, nil
}

// Analyze runs the pipeline for id. Missing and no-longer-processing
// observations are skipped. Failures of the remote steps mark the observation
// failed and return nil; storage and database failures are returned so the
// caller can redeliver.
func (o *Orchestrator) Analyze(ctx context.Context, id string) error {
	started := o.now()
	log := o.logger.With("observation_id", id)

	obs, err := o.repo.GetObservation(ctx, id)
	if errors.IsNotFound(err) {
		log.Info("observation no longer exists, skipping analysis")
		o.metrics.RecordOutcome(metrics.OutcomeSkipped)
		return nil
	}
	if err != nil {
		return err
	}
	if obs.Status != types.StatusProcessing {
		log.Info("observation is not processing, skipping analysis", "status", obs.Status)
		o.metrics.RecordOutcome(metrics.OutcomeSkipped)
		return nil
	}

	original, err := o.blobs.Get(ctx, obs.OriginalRef)
	if err != nil {
		return fmt.Errorf("read original image: %w", err)
	}

	completion := store.Completion{}
	image := original

	if o.localizer != nil {
		t := o.now()
		loc, err := o.localizer.Localize(ctx, original)
		o.metrics.RecordDuration("localize", o.now().Sub(t).Seconds())
		switch {
		case err == nil:
			completion.LocalizationResult = loc
		case errors.IsConfiguration(err):
			log.Warn("localization unavailable, identifying the full image", "error", err)
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.IsCategory(err, errors.CategoryContentRejected):
			return o.fail(ctx, obs, err.Error(), metrics.OutcomeRejected)
		default:
			return o.fail(ctx, obs, "localization failed: "+err.Error(), metrics.OutcomeFailed)
		}
	}

	if completion.LocalizationResult != nil {
		cropped, bbox, err := o.crop(ctx, log, obs, original, completion.LocalizationResult)
		if err != nil {
			return err
		}
		completion.BoundingBox = bbox
		if cropped != nil {
			image = cropped
			completion.CroppedRef = utils.CroppedPath(obs.OriginalRef)
			o.metrics.IncCropped()
		}
	}

	t := o.now()
	ident, err := o.identifier.Identify(ctx, image, identificationMime)
	o.metrics.RecordDuration("identify", o.now().Sub(t).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return o.fail(ctx, obs, "identification failed: "+err.Error(), metrics.OutcomeFailed)
	}
	ident.Category = detection.CoerceCategory(ident.Category, o.categories)
	completion.Identification = ident

	applied, err := o.repo.Complete(ctx, id, completion)
	if err != nil {
		return err
	}
	if !applied {
		log.Info("observation changed during analysis, result discarded")
		o.metrics.RecordOutcome(metrics.OutcomeSkipped)
		return nil
	}

	if err := o.tags.Sync(ctx, obs.OwnerID, id, tags.Normalize(ident.Tags, tags.AISuggestedLimit)); err != nil {
		// The observation is already ready; a redelivery would hit the status guard
		log.Error("failed to apply suggested tags", "error", err)
	}

	obs.Status = types.StatusReady
	obs.Identification = ident
	obs.Category = ident.Category
	obs.BoundingBox = completion.BoundingBox
	obs.CroppedRef = completion.CroppedRef
	o.publish(ctx, obs)

	o.metrics.RecordOutcome(metrics.OutcomeReady)
	o.metrics.RecordDuration("total", o.now().Sub(started).Seconds())
	log.Info("observation ready",
		"title", ident.Title,
		"category", ident.Category,
		"confidence", ident.Confidence,
		"cropped", completion.CroppedRef != "")
	return nil
}

// crop selects the best box and writes the cropped image. A nil image with a
// nil error means no crop applies, in which case no box is returned either.
func (o *Orchestrator) crop(ctx context.Context, log *slog.Logger, obs *types.Observation, original []byte, loc *types.LocalizationResult) ([]byte, *types.BoundingBox, error) {
	if len(loc.Objects) == 0 {
		return nil, nil, nil
	}
	w, h, err := o.processor.Dimensions(original)
	if err != nil {
		log.Warn("cannot read image dimensions, skipping crop", "error", err)
		return nil, nil, nil
	}
	bbox := cropper.Select(loc.Objects, w, h)
	if bbox == nil {
		return nil, nil, nil
	}

	// A box is only recorded together with its cropped image
	cropped, region, err := o.processor.Crop(original, bbox.Pixel)
	if err != nil {
		log.Warn("crop failed, identifying the full image", "error", err, "label", bbox.Label)
		return nil, nil, nil
	}
	if err := o.blobs.Put(ctx, utils.CroppedPath(obs.OriginalRef), cropped); err != nil {
		return nil, nil, fmt.Errorf("write cropped image: %w", err)
	}
	log.Debug("cropped to selected subject", "label", bbox.Label, "score", bbox.FinalScore, "region", region.String())
	return cropped, bbox, nil
}

func (o *Orchestrator) fail(ctx context.Context, obs *types.Observation, msg, outcome string) error {
	applied, err := o.repo.Fail(ctx, obs.ID, msg)
	if err != nil {
		return err
	}
	log := o.logger.With("observation_id", obs.ID)
	if !applied {
		log.Info("observation changed during analysis, failure discarded")
		o.metrics.RecordOutcome(metrics.OutcomeSkipped)
		return nil
	}
	log.Warn("observation failed", "reason", msg)
	obs.Status = types.StatusFailed
	obs.ErrorMessage = msg
	o.publish(ctx, obs)
	o.metrics.RecordOutcome(outcome)
	return nil
}

// MarkFailed records cause on an observation whose analysis could not finish
// after every redelivery
func (o *Orchestrator) MarkFailed(ctx context.Context, id string, cause error) {
	obs, err := o.repo.GetObservation(ctx, id)
	if err != nil {
		o.logger.Error("cannot load observation to mark it failed", "observation_id", id, "error", err)
		return
	}
	if obs.Status != types.StatusProcessing {
		return
	}
	if err := o.fail(ctx, obs, "analysis failed: "+cause.Error(), metrics.OutcomeError); err != nil {
		o.logger.Error("cannot mark observation failed", "observation_id", id, "error", err)
	}
}

func (o *Orchestrator) publish(ctx context.Context, obs *types.Observation) {
	if err := o.publisher.Publish(ctx, notify.EventFor(obs, o.now())); err != nil {
		o.logger.Warn("failed to publish observation event", "observation_id", obs.ID, "error", err)
	}
}
