// Package narration caches synthesized narration audio in blob storage, keyed
// by the normalized text, voice and speaking rate.
package narration

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/menta2k/lensclip/internal/errors"
	"github.com/menta2k/lensclip/internal/metrics"
	"github.com/menta2k/lensclip/pkg/speech"
	"github.com/menta2k/lensclip/pkg/storage"
)

const component = "narration"

// Prefix is the blob namespace of cached audio
const Prefix = "tts"

// DefaultTTL is how long a cached blob stays valid
const DefaultTTL = 7 * 24 * time.Hour

// Result is synthesized or cached audio
type Result struct {
	Audio    []byte
	Key      string
	Path     string
	CacheHit bool
}

// Options configures a Cache
type Options struct {
	TTL     time.Duration
	Rate    float64
	Now     func() time.Time
	Metrics *metrics.NarrationMetrics
	Logger  *slog.Logger
}

// Cache serves narration audio from storage and synthesizes on a miss
type Cache struct {
	blobs   *storage.Store
	synth   speech.Synthesizer
	ttl     time.Duration
	rate    float64
	now     func() time.Time
	metrics *metrics.NarrationMetrics
	logger  *slog.Logger
}

// New creates a cache over blobs. synth may be nil, in which case every miss
// fails with a configuration error.
func New(blobs *storage.Store, synth speech.Synthesizer, opts Options) *Cache {
	c := &Cache{
		blobs:   blobs,
		synth:   synth,
		ttl:     opts.TTL,
		rate:    opts.Rate,
		now:     opts.Now,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.rate <= 0 {
		c.rate = speech.DefaultRate
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", component)
	return c
}

// Key returns the cache key for text spoken by voice at rate
func Key(text, voice string, rate float64) string {
	normalized := strings.ToLower(strings.TrimSpace(text))
	sum := md5.Sum([]byte(normalized + "|" + voice + "|" + strconv.FormatFloat(rate, 'f', -1, 64)))
	return hex.EncodeToString(sum[:])
}

// BlobPath returns the storage path of key
func BlobPath(key string) string {
	return path.Join(Prefix, key+".mp3")
}

func (c *Cache) voice() string {
	if c.synth == nil {
		return speech.DefaultVoice
	}
	return c.synth.Voice()
}

// Synthesize returns audio for text. A nil rate uses the configured default.
func (c *Cache) Synthesize(ctx context.Context, text string, rate *float64) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.Newf("narration text is empty").
			Category(errors.CategoryValidation).
			Component(component).
			Build()
	}
	r := c.rate
	if rate != nil && *rate > 0 {
		r = *rate
	}

	key := Key(text, c.voice(), r)
	p := BlobPath(key)

	if audio, ok := c.lookup(ctx, p); ok {
		c.metrics.RecordLookup(true)
		return &Result{Audio: audio, Key: key, Path: p, CacheHit: true}, nil
	}
	c.metrics.RecordLookup(false)

	if c.synth == nil {
		return nil, errors.Newf("narration: no speech synthesizer configured").
			Category(errors.CategoryConfiguration).
			Component(component).
			Build()
	}

	audio, err := c.synth.Synthesize(ctx, text, r)
	if err != nil {
		return nil, err
	}
	if err := c.blobs.Put(ctx, p, audio); err != nil {
		return nil, err
	}
	c.logger.Debug("cached narration", "key", key, "bytes", len(audio))
	return &Result{Audio: audio, Key: key, Path: p, CacheHit: false}, nil
}

// lookup returns the blob at p when it exists and is younger than the TTL
func (c *Cache) lookup(ctx context.Context, p string) ([]byte, bool) {
	info, err := c.blobs.Stat(ctx, p)
	if err != nil {
		if !errors.IsNotFound(err) {
			c.logger.Warn("narration cache stat failed", "path", p, "error", err)
		}
		return nil, false
	}
	if c.expired(info.ModTime) {
		return nil, false
	}
	audio, err := c.blobs.Get(ctx, p)
	if err != nil {
		c.logger.Warn("narration cache read failed", "path", p, "error", err)
		return nil, false
	}
	return audio, true
}

func (c *Cache) expired(modTime time.Time) bool {
	return c.now().Sub(modTime) >= c.ttl
}

// CleanupExpired deletes every cached blob whose age reached the TTL and
// returns how many were removed
func (c *Cache) CleanupExpired(ctx context.Context) (int, error) {
	infos, err := c.blobs.List(ctx, Prefix)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, info := range infos {
		if !c.expired(info.ModTime) {
			continue
		}
		if err := c.blobs.Delete(ctx, info.Path); err != nil {
			c.metrics.AddEvictions(removed)
			return removed, fmt.Errorf("narration cleanup: %w", err)
		}
		removed++
	}
	c.metrics.AddEvictions(removed)
	if removed > 0 {
		c.logger.Info("removed expired narration audio", "count", removed)
	}
	return removed, nil
}

// RunCleanup sweeps expired blobs every interval until ctx is done
func (c *Cache) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.CleanupExpired(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("narration cleanup failed", "error", err)
			}
		}
	}
}
