// Package tags keeps observation tag sets in sync and garbage-collects orphaned tags.
package tags

import (
	"context"
	"log/slog"
	"strings"
)

// AISuggestedLimit caps the number of model-suggested tags applied to an observation
const AISuggestedLimit = 10

// Repository is the persistence surface the reconciler needs
type Repository interface {
	FindOrCreateTags(ctx context.Context, ownerID string, names []string) ([]uint, error)
	ObservationTagIDs(ctx context.Context, observationID string) ([]uint, error)
	ReplaceObservationTags(ctx context.Context, observationID string, tagIDs []uint) error
	SoftDeleteObservation(ctx context.Context, observationID string) error
	ActiveObservationCount(ctx context.Context, tagID uint) (int64, error)
	DeleteTag(ctx context.Context, tagID uint) error
}

// Reconciler applies tag sets and removes tags left without active observations
type Reconciler struct {
	repo   Repository
	logger *slog.Logger
}

// NewReconciler creates a reconciler over repo
func NewReconciler(repo Repository, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{repo: repo, logger: logger.With("component", "tags")}
}

// Normalize trims names, skips empties and duplicates, and keeps at most limit names.
// A limit of zero or less keeps every name.
func Normalize(names []string, limit int) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Sync replaces the observation's tag set with names. Tags dropped by the
// replacement are removed when nothing else references them.
func (r *Reconciler) Sync(ctx context.Context, ownerID, observationID string, names []string) error {
	names = Normalize(names, 0)

	previous, err := r.repo.ObservationTagIDs(ctx, observationID)
	if err != nil {
		return err
	}
	ids, err := r.repo.FindOrCreateTags(ctx, ownerID, names)
	if err != nil {
		return err
	}
	if err := r.repo.ReplaceObservationTags(ctx, observationID, ids); err != nil {
		return err
	}

	keep := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}
	var dropped []uint
	for _, id := range previous {
		if _, ok := keep[id]; !ok {
			dropped = append(dropped, id)
		}
	}
	_, err = r.collectOrphans(ctx, dropped)
	return err
}

// CleanupOnDelete soft-deletes the observation and removes every tag it leaves orphaned.
// It returns the number of tags removed.
func (r *Reconciler) CleanupOnDelete(ctx context.Context, observationID string) (int, error) {
	ids, err := r.repo.ObservationTagIDs(ctx, observationID)
	if err != nil {
		return 0, err
	}
	if err := r.repo.SoftDeleteObservation(ctx, observationID); err != nil {
		return 0, err
	}
	return r.collectOrphans(ctx, ids)
}

func (r *Reconciler) collectOrphans(ctx context.Context, tagIDs []uint) (int, error) {
	removed := 0
	for _, id := range tagIDs {
		n, err := r.repo.ActiveObservationCount(ctx, id)
		if err != nil {
			return removed, err
		}
		if n > 0 {
			continue
		}
		if err := r.repo.DeleteTag(ctx, id); err != nil {
			return removed, err
		}
		removed++
		r.logger.Debug("removed orphan tag", "tag_id", id)
	}
	return removed, nil
}
