// Package lensclip turns photos into kid-friendly observation cards.
//
// A Service owns the whole pipeline: uploads are normalized and stored, an
// observation row is created in the processing state and its id is handed to
// the analysis worker pool. Workers localize the subject, crop to it, identify
// it and reconcile the suggested tags. Narration audio for card texts is
// served from a content-addressed cache.
//
// Basic usage:
//
//	cfg, err := config.Load("")
//	if err != nil {
//		log.Fatal(err)
//	}
//	svc, err := lensclip.New(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer svc.Close()
//	svc.Start(ctx)
//
//	obs, err := svc.CreateObservation(ctx, lensclip.Upload{OwnerID: "kid-1", Data: photo})
//
// Backends without credentials are left out: no localization means the
// full image is identified, no identification key means the mock identifier
// answers, and no speech credentials means narration cache misses fail.
package lensclip

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/menta2k/lensclip/internal/config"
	"github.com/menta2k/lensclip/internal/errors"
	"github.com/menta2k/lensclip/internal/jobqueue"
	"github.com/menta2k/lensclip/internal/metrics"
	"github.com/menta2k/lensclip/internal/notify"
	"github.com/menta2k/lensclip/internal/store"
	"github.com/menta2k/lensclip/internal/utils"
	"github.com/menta2k/lensclip/pkg/analyzer"
	"github.com/menta2k/lensclip/pkg/client"
	"github.com/menta2k/lensclip/pkg/detection"
	"github.com/menta2k/lensclip/pkg/gemini"
	"github.com/menta2k/lensclip/pkg/llamacpp"
	"github.com/menta2k/lensclip/pkg/narration"
	"github.com/menta2k/lensclip/pkg/ollama"
	"github.com/menta2k/lensclip/pkg/processing"
	"github.com/menta2k/lensclip/pkg/retry"
	"github.com/menta2k/lensclip/pkg/settings"
	"github.com/menta2k/lensclip/pkg/speech"
	"github.com/menta2k/lensclip/pkg/storage"
	"github.com/menta2k/lensclip/pkg/tags"
	"github.com/menta2k/lensclip/pkg/types"
	"github.com/menta2k/lensclip/pkg/vision"
)

// Version of the lensclip library
const Version = "0.3.0"

const component = "service"

// Default backend endpoints
const (
	DefaultOllamaURL = "http://localhost:11434"
	DefaultOpenAIURL = "http://localhost:8080"
)

// Upload is a photo submitted by a user
type Upload struct {
	OwnerID string
	Data    []byte
	// Location is the client-reported position, EXIF GPS takes precedence
	Location *types.Location
}

// Service wires storage, the analysis pipeline and the narration cache
type Service struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *store.Store
	blobs      *storage.Store
	processor  *processing.Processor
	analyzer   *analyzer.Orchestrator
	queue      *jobqueue.Queue
	tags       *tags.Reconciler
	settings   *settings.Provider
	narration  *narration.Cache
	publisher  notify.Publisher
	metrics    *metrics.Metrics
	categories []types.Category

	mu      sync.Mutex
	cancel  context.CancelFunc
	cleanup sync.WaitGroup
}

// Option customizes a Service
type Option func(*options)

type options struct {
	logger      *slog.Logger
	blobs       *storage.Store
	localizer   vision.Localizer
	identifier  detection.Identifier
	synthesizer speech.Synthesizer
	publisher   notify.Publisher
	metrics     *metrics.Metrics
	clock       jobqueue.Clock
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithBlobStore replaces the OS-backed blob store
func WithBlobStore(s *storage.Store) Option { return func(o *options) { o.blobs = s } }

// WithLocalizer replaces the Cloud Vision localizer
func WithLocalizer(l vision.Localizer) Option { return func(o *options) { o.localizer = l } }

// WithIdentifier replaces the configured identification backend
func WithIdentifier(i detection.Identifier) Option { return func(o *options) { o.identifier = i } }

// WithSynthesizer replaces the Text-to-Speech client
func WithSynthesizer(s speech.Synthesizer) Option { return func(o *options) { o.synthesizer = s } }

// WithPublisher replaces the configured event publisher
func WithPublisher(p notify.Publisher) Option { return func(o *options) { o.publisher = p } }

// WithMetrics records metrics on m instead of a registry built from config
func WithMetrics(m *metrics.Metrics) Option { return func(o *options) { o.metrics = m } }

// WithClock sets the clock of the job queue
func WithClock(c jobqueue.Clock) Option { return func(o *options) { o.clock = c } }

// New builds a service from cfg. The worker pool is not started.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	m := o.metrics
	if m == nil && cfg.Metrics.Enabled {
		var err error
		if m, err = metrics.New(); err != nil {
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
	}

	db, err := store.Open(cfg.Database.Path, logger)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:        cfg,
		logger:     logger.With("component", component),
		store:      db,
		blobs:      o.blobs,
		processor:  processing.NewProcessor(),
		tags:       tags.NewReconciler(db, logger),
		metrics:    m,
		categories: cfg.Categories,
	}
	if len(s.categories) == 0 {
		s.categories = config.DefaultCategories()
	}
	if err := s.wire(ctx, o, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) wire(ctx context.Context, o *options, logger *slog.Logger) error {
	var err error
	cfg := s.cfg

	if s.blobs == nil {
		if s.blobs, err = storage.NewFS(cfg.Storage.Root); err != nil {
			return err
		}
	}

	s.settings = settings.NewProvider(s.store, cfg.Settings.CacheTTL, map[string]string{
		settings.KeyIdentificationModel: cfg.Identification.Model,
	})

	localizer := o.localizer
	if localizer == nil {
		localizer, err = s.newLocalizer(ctx, logger)
		if err != nil {
			return err
		}
	}

	identifier := o.identifier
	if identifier == nil {
		if identifier, err = s.newIdentifier(ctx, logger); err != nil {
			return err
		}
	}

	synth := o.synthesizer
	if synth == nil {
		if synth, err = s.newSynthesizer(ctx, logger); err != nil {
			return err
		}
	}
	s.narration = narration.New(s.blobs, synth, narration.Options{
		TTL:     cfg.Narration.TTL,
		Rate:    cfg.Narration.Rate,
		Metrics: s.narrationMetrics(),
		Logger:  logger,
	})

	s.publisher = o.publisher
	if s.publisher == nil {
		if s.publisher, err = s.newPublisher(logger); err != nil {
			return err
		}
	}

	s.analyzer, err = analyzer.New(analyzer.Options{
		Repository: s.store,
		Blobs:      s.blobs,
		Localizer:  localizer,
		Identifier: identifier,
		Processor:  s.processor,
		Tags:       s.tags,
		Publisher:  s.publisher,
		Metrics:    s.analysisMetrics(),
		Categories: s.categories,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	queueOpts := []jobqueue.Option{
		jobqueue.WithFailureHandler(s.analyzer.MarkFailed),
		jobqueue.WithLogger(logger),
		jobqueue.WithMetrics(s.queueMetrics()),
	}
	if o.clock != nil {
		queueOpts = append(queueOpts, jobqueue.WithClock(o.clock))
	}
	s.queue, err = jobqueue.New(jobqueue.Config{
		Workers:     cfg.Worker.Workers,
		Capacity:    cfg.Worker.Capacity,
		MaxAttempts: cfg.Worker.MaxAttempts,
		RetryDelay:  cfg.Worker.RetryDelay,
		JobTimeout:  cfg.Worker.JobTimeout,
	}, s.analyzer.Analyze, queueOpts...)
	return err
}

// policy returns the configured retry policy reporting retries for service
func (s *Service) policy(service string) retry.Policy {
	p := retry.Default()
	if s.cfg.Retry.Attempts > 0 {
		p.Attempts = s.cfg.Retry.Attempts
	}
	if s.cfg.Retry.BaseDelay > 0 {
		p.BaseDelay = s.cfg.Retry.BaseDelay
	}
	if s.cfg.Retry.CallTimeout > 0 {
		p.CallTimeout = s.cfg.Retry.CallTimeout
	}
	var remote *metrics.RemoteMetrics
	if s.metrics != nil {
		remote = s.metrics.Remote
	}
	log := s.logger.With("service", service)
	p.Notify = func(attempt int, err error, delay time.Duration) {
		remote.RecordRetry(service)
		log.Debug("retrying remote call", "attempt", attempt, "delay", delay, "error", err)
	}
	return p
}

func (s *Service) newLocalizer(ctx context.Context, logger *slog.Logger) (vision.Localizer, error) {
	v := s.cfg.Vision
	c, err := vision.New(ctx, vision.Config{
		APIKey:          v.APIKey,
		CredentialsFile: v.CredentialsFile,
		Endpoint:        v.Endpoint,
		MaxResults:      v.MaxResults,
	}, s.policy("vision"), logger)
	if errors.IsConfiguration(err) {
		s.logger.Info("localization disabled, full images will be identified", "reason", err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) newIdentifier(ctx context.Context, logger *slog.Logger) (detection.Identifier, error) {
	id := s.cfg.Identification

	var gen client.Generator
	switch id.Backend {
	case config.BackendMock:
		return detection.Mock{}, nil
	case config.BackendGemini:
		if id.APIKey == "" {
			s.logger.Warn("no identification API key configured, using the mock identifier")
			return detection.Mock{}, nil
		}
		c, err := gemini.NewClient(ctx, id.APIKey, id.Endpoint)
		if err != nil {
			return nil, err
		}
		gen = c
	case config.BackendOllama:
		endpoint := id.Endpoint
		if endpoint == "" {
			endpoint = DefaultOllamaURL
		}
		c, err := ollama.NewClient(endpoint, &http.Client{})
		if err != nil {
			return nil, err
		}
		gen = c
	case config.BackendOpenAI:
		endpoint := id.Endpoint
		if endpoint == "" {
			endpoint = DefaultOpenAIURL
		}
		gen = llamacpp.NewClient(endpoint, id.APIKey, &http.Client{})
	default:
		return nil, errors.Newf("unknown identification backend %q", id.Backend).
			Category(errors.CategoryConfiguration).
			Component(component).
			Build()
	}

	var limiter *rate.Limiter
	if id.RatePerSecond > 0 {
		burst := id.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(id.RatePerSecond), burst)
	}
	return detection.NewRemote(gen, detection.Options{
		Categories:   s.categories,
		DefaultModel: id.Model,
		Models:       s.settings,
		Policy:       s.policy("identification"),
		Limiter:      limiter,
		Logger:       logger,
	}), nil
}

func (s *Service) newSynthesizer(ctx context.Context, logger *slog.Logger) (speech.Synthesizer, error) {
	n := s.cfg.Narration
	c, err := speech.New(ctx, speech.Config{
		APIKey:          n.APIKey,
		CredentialsFile: n.CredentialsFile,
		Endpoint:        n.Endpoint,
		Language:        n.Language,
		Voice:           n.Voice,
	}, s.policy("speech"), logger)
	if errors.IsConfiguration(err) {
		s.logger.Info("speech synthesis disabled, only cached narration is served", "reason", err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) newPublisher(logger *slog.Logger) (notify.Publisher, error) {
	m := s.cfg.MQTT
	if !m.Enabled {
		return notify.Noop{}, nil
	}
	p, err := notify.NewMQTT(notify.MQTTConfig{
		Broker:   m.Broker,
		ClientID: m.ClientID,
		Username: m.Username,
		Password: m.Password,
		Topic:    m.Topic,
		QoS:      byte(m.QoS),
		Retain:   m.Retain,
	}, logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) analysisMetrics() *metrics.AnalysisMetrics {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.Analysis
}

func (s *Service) narrationMetrics() *metrics.NarrationMetrics {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.Narration
}

func (s *Service) queueMetrics() *metrics.QueueMetrics {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.Queue
}

// Start launches the analysis workers, re-dispatches observations left in
// processing and starts the periodic narration sweep
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.queue.Start(ctx)

	if n, err := s.RecoverPending(ctx); err != nil {
		s.logger.Error("failed to recover pending observations", "error", err)
	} else if n > 0 {
		s.logger.Info("re-dispatched pending observations", "count", n)
	}

	if interval := s.cfg.Narration.CleanupInterval; interval > 0 {
		s.cleanup.Add(1)
		go func() {
			defer s.cleanup.Done()
			s.narration.RunCleanup(ctx, interval)
		}()
	}
}

// Close stops the workers and releases every resource
func (s *Service) Close() error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	err := s.queue.Stop()
	s.cleanup.Wait()
	s.publisher.Close()
	if cerr := s.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// Metrics returns the metric registry, nil when metrics are disabled
func (s *Service) Metrics() *metrics.Metrics { return s.metrics }

// Categories returns the category allow-list
func (s *Service) Categories() []types.Category { return s.categories }

// QueueStats returns the worker pool counters
func (s *Service) QueueStats() jobqueue.Stats { return s.queue.Stats() }

func validation(format string, args ...any) error {
	return errors.Newf(format, args...).
		Category(errors.CategoryValidation).
		Component(component).
		Build()
}

// CreateObservation normalizes and stores the upload, creates the observation
// in the processing state and dispatches its analysis
func (s *Service) CreateObservation(ctx context.Context, up Upload) (*types.Observation, error) {
	if strings.TrimSpace(up.OwnerID) == "" {
		return nil, validation("owner id is required")
	}
	if len(up.Data) == 0 {
		return nil, validation("image data is empty")
	}

	norm, err := s.processor.Normalize(up.Data, up.Location)
	if err != nil {
		return nil, err
	}
	paths, err := utils.NewImagePaths()
	if err != nil {
		return nil, err
	}
	if err := s.blobs.Put(ctx, paths.Original, norm.Original); err != nil {
		return nil, err
	}
	if err := s.blobs.Put(ctx, paths.Thumb, norm.Thumb); err != nil {
		return nil, err
	}

	obs := &types.Observation{
		ID:          uuid.NewString(),
		OwnerID:     up.OwnerID,
		Status:      types.StatusProcessing,
		OriginalRef: paths.Original,
		ThumbRef:    paths.Thumb,
		Location:    norm.Location,
		Tags:        []string{},
	}
	if err := s.store.CreateObservation(ctx, obs); err != nil {
		s.removeBlobs(ctx, paths.Original, paths.Thumb)
		return nil, err
	}
	s.logger.Info("observation created",
		"observation_id", obs.ID,
		"owner_id", obs.OwnerID,
		"width", norm.Width,
		"height", norm.Height,
		"has_location", obs.Location != nil)

	s.dispatch(obs.ID)
	return obs, nil
}

// dispatch hands id to the worker pool. An observation that cannot be queued
// stays in processing until RecoverPending picks it up.
func (s *Service) dispatch(id string) {
	_, err := s.queue.Enqueue(id)
	switch {
	case err == nil:
	case errors.Is(err, jobqueue.ErrQueueStopped):
		s.logger.Debug("workers not running, observation left pending", "observation_id", id)
	default:
		s.logger.Warn("analysis not dispatched, observation left pending", "observation_id", id, "error", err)
	}
}

// Analyze runs the pipeline for id on the calling goroutine
func (s *Service) Analyze(ctx context.Context, id string) error {
	return s.analyzer.Analyze(ctx, id)
}

// GetObservation returns a non-deleted observation
func (s *Service) GetObservation(ctx context.Context, id string) (*types.Observation, error) {
	return s.store.GetObservation(ctx, id)
}

// DebugOverlay renders the original image of id with its selected box and
// crop region drawn on top, encoded as PNG
func (s *Service) DebugOverlay(ctx context.Context, id string) ([]byte, error) {
	obs, err := s.store.GetObservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if obs.BoundingBox == nil {
		return nil, errors.Newf("observation %s has no selected box", id).
			Category(errors.CategoryState).
			Component(component).
			Context("status", string(obs.Status)).
			Build()
	}
	original, err := s.blobs.Get(ctx, obs.OriginalRef)
	if err != nil {
		return nil, err
	}
	return s.processor.RenderDebugOverlay(original, *obs.BoundingBox)
}

// ListObservations returns the observations matching f, newest first
func (s *Service) ListObservations(ctx context.Context, f store.Filter) ([]*types.Observation, error) {
	return s.store.ListObservations(ctx, f)
}

// Retry resets a failed observation to processing and dispatches it again.
// Any other state yields a state error.
func (s *Service) Retry(ctx context.Context, id string) error {
	applied, err := s.store.ResetForRetry(ctx, id)
	if err != nil {
		return err
	}
	if !applied {
		obs, err := s.store.GetObservation(ctx, id)
		if err != nil {
			return err
		}
		return errors.Newf("observation %s is %s, only failed observations can be retried", id, obs.Status).
			Category(errors.CategoryState).
			Component(component).
			Context("status", string(obs.Status)).
			Build()
	}
	s.logger.Info("observation reset for retry", "observation_id", id)
	s.dispatch(id)
	return nil
}

// RecoverPending re-dispatches every observation still in processing
func (s *Service) RecoverPending(ctx context.Context) (int, error) {
	pending, err := s.store.ListObservations(ctx, store.Filter{Status: types.StatusProcessing})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, o := range pending {
		if _, err := s.queue.Enqueue(o.ID); err != nil {
			return n, fmt.Errorf("re-dispatch %s: %w", o.ID, err)
		}
		n++
	}
	return n, nil
}

// Delete soft-deletes the observation, removes the tags it leaves orphaned
// and deletes its images
func (s *Service) Delete(ctx context.Context, id string) error {
	obs, err := s.store.GetObservation(ctx, id)
	if err != nil {
		return err
	}
	removed, err := s.tags.CleanupOnDelete(ctx, id)
	if err != nil {
		return err
	}
	s.removeBlobs(ctx, obs.OriginalRef, obs.ThumbRef, obs.CroppedRef)
	s.logger.Info("observation deleted", "observation_id", id, "orphan_tags_removed", removed)
	return nil
}

// DeleteAll deletes every observation of owner and returns how many were removed
func (s *Service) DeleteAll(ctx context.Context, ownerID string) (int, error) {
	if strings.TrimSpace(ownerID) == "" {
		return 0, validation("owner id is required")
	}
	all, err := s.store.ListObservations(ctx, store.Filter{OwnerID: ownerID})
	if err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(all))
	for _, o := range all {
		ids = append(ids, o.ID)
	}
	return s.deleteEach(ctx, ids)
}

// deleteEach deletes ids in order. Observations already gone are skipped and
// not counted.
func (s *Service) deleteEach(ctx context.Context, ids []string) (int, error) {
	n := 0
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			if errors.IsNotFound(err) {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *Service) removeBlobs(ctx context.Context, paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := s.blobs.Delete(ctx, p); err != nil && !errors.IsNotFound(err) {
			s.logger.Warn("failed to delete image", "path", p, "error", err)
		}
	}
}

// UpdateTags replaces the tag set of an observation
func (s *Service) UpdateTags(ctx context.Context, id string, names []string) error {
	obs, err := s.store.GetObservation(ctx, id)
	if err != nil {
		return err
	}
	return s.tags.Sync(ctx, obs.OwnerID, id, names)
}

// UpdateCategory sets the category of an observation. The category must be
// on the allow-list.
func (s *Service) UpdateCategory(ctx context.Context, id, category string) error {
	key := strings.ToLower(strings.TrimSpace(category))
	for _, c := range s.categories {
		if c.Key == key {
			return s.store.UpdateCategory(ctx, id, key)
		}
	}
	return errors.Newf("category %q is not allowed", category).
		Category(errors.CategoryValidation).
		Component(component).
		Context("category", category).
		Build()
}

// Narrate returns narration audio for text, synthesizing it on a cache miss
func (s *Service) Narrate(ctx context.Context, text string, rate *float64) (*narration.Result, error) {
	return s.narration.Synthesize(ctx, text, rate)
}

// CleanupNarration removes expired narration audio and returns how many blobs were deleted
func (s *Service) CleanupNarration(ctx context.Context) (int, error) {
	return s.narration.CleanupExpired(ctx)
}

// Model returns the active identification model
func (s *Service) Model(ctx context.Context) (string, error) {
	return s.settings.GetString(ctx, settings.KeyIdentificationModel, s.cfg.Identification.Model)
}

// SetModel switches the identification model used by subsequent analyses
func (s *Service) SetModel(ctx context.Context, model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return validation("model name is required")
	}
	return s.settings.Set(ctx, settings.KeyIdentificationModel, model)
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
