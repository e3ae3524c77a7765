// Package store persists observations, tags and settings with gorm on sqlite.
package store

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/menta2k/lensclip/internal/errors"
	"github.com/menta2k/lensclip/pkg/types"
)

// Store wraps the gorm database handle
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the sqlite database at path and migrates the schema
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, dbError("create database directory", err)
		}
	}

	gl := gormlogger.New(
		slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		gormlogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	dsn := path
	if path != ":memory:" {
		dsn += "?_foreign_keys=on&_busy_timeout=5000"
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gl})
	if err != nil {
		return nil, dbError("open database", err)
	}
	if err := db.AutoMigrate(&Observation{}, &Tag{}, &Setting{}); err != nil {
		return nil, dbError("migrate", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the gorm handle
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close closes the underlying connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func dbError(op string, err error) error {
	return errors.New(fmt.Errorf("%s: %w", op, err)).
		Category(errors.CategoryDatabase).
		Component("store").
		Build()
}

func notFound(id string) error {
	return errors.Newf("observation %s not found", id).
		Category(errors.CategoryNotFound).
		Component("store").
		Context("observation_id", id).
		Build()
}

// CreateObservation inserts a new observation row
func (s *Store) CreateObservation(ctx context.Context, o *types.Observation) error {
	row, err := fromDomain(o)
	if err != nil {
		return dbError("encode observation", err)
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return dbError("create observation", err)
	}
	o.CreatedAt, o.UpdatedAt = row.CreatedAt, row.UpdatedAt
	return nil
}

// GetObservation loads a non-deleted observation with its tags
func (s *Store) GetObservation(ctx context.Context, id string) (*types.Observation, error) {
	var row Observation
	err := s.db.WithContext(ctx).Preload("Tags", func(db *gorm.DB) *gorm.DB {
		return db.Order("tags.name")
	}).First(&row, "id = ?", id).Error
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, dbError("get observation", err)
	}
	o, err := row.toDomain()
	if err != nil {
		return nil, dbError("decode observation", err)
	}
	return o, nil
}

// Filter narrows ListObservations
type Filter struct {
	OwnerID  string
	Status   types.Status
	Category string
	Tag      string
	Limit    int
}

// ListObservations returns non-deleted observations, newest first
func (s *Store) ListObservations(ctx context.Context, f Filter) ([]*types.Observation, error) {
	q := s.db.WithContext(ctx).Model(&Observation{}).Preload("Tags")
	if f.OwnerID != "" {
		q = q.Where("observations.owner_id = ?", f.OwnerID)
	}
	if f.Status != "" {
		q = q.Where("observations.status = ?", string(f.Status))
	}
	if f.Category != "" {
		q = q.Where("observations.category = ?", f.Category)
	}
	if f.Tag != "" {
		q = q.Joins("JOIN observation_tags ON observation_tags.observation_id = observations.id").
			Joins("JOIN tags ON tags.id = observation_tags.tag_id").
			Where("tags.name = ?", f.Tag)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []Observation
	if err := q.Order("observations.created_at DESC").Find(&rows).Error; err != nil {
		return nil, dbError("list observations", err)
	}
	out := make([]*types.Observation, 0, len(rows))
	for i := range rows {
		o, err := rows[i].toDomain()
		if err != nil {
			return nil, dbError("decode observation", err)
		}
		out = append(out, o)
	}
	return out, nil
}

// Completion is the result written when analysis succeeds
type Completion struct {
	Identification     *types.Identification
	BoundingBox        *types.BoundingBox
	CroppedRef         string
	LocalizationResult *types.LocalizationResult
}

// Complete transitions a processing observation to ready. applied is false when
// the observation is gone or no longer processing.
func (s *Store) Complete(ctx context.Context, id string, c Completion) (applied bool, err error) {
	if c.Identification == nil {
		return false, errors.Newf("completion without identification").
			Category(errors.CategoryValidation).
			Component("store").
			Build()
	}
	ident, err := marshalJSON(c.Identification)
	if err != nil {
		return false, dbError("encode identification", err)
	}
	updates := map[string]any{
		"status":         string(types.StatusReady),
		"identification": ident,
		"title":          c.Identification.Title,
		"model":          c.Identification.Model,
		"category":       c.Identification.Category,
		"cropped_ref":    c.CroppedRef,
		"error_message":  "",
	}
	if c.BoundingBox != nil {
		if updates["bounding_box"], err = marshalJSON(c.BoundingBox); err != nil {
			return false, dbError("encode bounding box", err)
		}
	} else {
		updates["bounding_box"] = nil
	}
	if c.LocalizationResult != nil {
		if updates["localization_result"], err = marshalJSON(c.LocalizationResult); err != nil {
			return false, dbError("encode localization", err)
		}
	} else {
		updates["localization_result"] = nil
	}
	return s.transition(ctx, id, types.StatusProcessing, updates)
}

// Fail transitions a processing observation to failed with msg
func (s *Store) Fail(ctx context.Context, id, msg string) (applied bool, err error) {
	return s.transition(ctx, id, types.StatusProcessing, map[string]any{
		"status":        string(types.StatusFailed),
		"error_message": msg,
	})
}

// ResetForRetry moves a failed observation back to processing
func (s *Store) ResetForRetry(ctx context.Context, id string) (applied bool, err error) {
	return s.transition(ctx, id, types.StatusFailed, map[string]any{
		"status":        string(types.StatusProcessing),
		"error_message": "",
	})
}

func (s *Store) transition(ctx context.Context, id string, from types.Status, updates map[string]any) (bool, error) {
	res := s.db.WithContext(ctx).Model(&Observation{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(updates)
	if res.Error != nil {
		return false, dbError("update observation", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// UpdateCategory overwrites the denormalized category
func (s *Store) UpdateCategory(ctx context.Context, id, category string) error {
	res := s.db.WithContext(ctx).Model(&Observation{}).Where("id = ?", id).Update("category", category)
	if res.Error != nil {
		return dbError("update category", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound(id)
	}
	return nil
}

// FindOrCreateTags resolves names to tag ids for owner, creating missing tags
func (s *Store) FindOrCreateTags(ctx context.Context, ownerID string, names []string) ([]uint, error) {
	ids := make([]uint, 0, len(names))
	for _, name := range names {
		tag := Tag{OwnerID: ownerID, Name: name}
		if err := s.db.WithContext(ctx).Where(Tag{OwnerID: ownerID, Name: name}).FirstOrCreate(&tag).Error; err != nil {
			return nil, dbError("find or create tag", err)
		}
		ids = append(ids, tag.ID)
	}
	return ids, nil
}

// ObservationTagIDs returns the tag ids attached to an observation, including soft-deleted ones
func (s *Store) ObservationTagIDs(ctx context.Context, observationID string) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Table("observation_tags").
		Where("observation_id = ?", observationID).
		Order("tag_id").
		Pluck("tag_id", &ids).Error
	if err != nil {
		return nil, dbError("list observation tags", err)
	}
	return ids, nil
}

// ReplaceObservationTags sets the exact tag set of an observation
func (s *Store) ReplaceObservationTags(ctx context.Context, observationID string, tagIDs []uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM observation_tags WHERE observation_id = ?", observationID).Error; err != nil {
			return dbError("clear observation tags", err)
		}
		if len(tagIDs) == 0 {
			return nil
		}
		rows := make([]map[string]any, 0, len(tagIDs))
		for _, id := range tagIDs {
			rows = append(rows, map[string]any{"observation_id": observationID, "tag_id": id})
		}
		err := tx.Table("observation_tags").
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(rows).Error
		if err != nil {
			return dbError("attach observation tags", err)
		}
		return nil
	})
}

// SoftDeleteObservation marks an observation deleted. Join rows are kept.
func (s *Store) SoftDeleteObservation(ctx context.Context, observationID string) error {
	res := s.db.WithContext(ctx).Where("id = ?", observationID).Delete(&Observation{})
	if res.Error != nil {
		return dbError("delete observation", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound(observationID)
	}
	return nil
}

// ActiveObservationCount counts non-deleted observations referencing a tag
func (s *Store) ActiveObservationCount(ctx context.Context, tagID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Table("observation_tags").
		Joins("JOIN observations ON observations.id = observation_tags.observation_id").
		Where("observation_tags.tag_id = ? AND observations.deleted_at IS NULL", tagID).
		Count(&n).Error
	if err != nil {
		return 0, dbError("count tag observations", err)
	}
	return n, nil
}

// DeleteTag removes a tag and its join rows
func (s *Store) DeleteTag(ctx context.Context, tagID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM observation_tags WHERE tag_id = ?", tagID).Error; err != nil {
			return dbError("detach tag", err)
		}
		if err := tx.Delete(&Tag{}, tagID).Error; err != nil {
			return dbError("delete tag", err)
		}
		return nil
	})
}

// TagExists reports whether a tag with name exists for owner
func (s *Store) TagExists(ctx context.Context, ownerID, name string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Tag{}).Where("owner_id = ? AND name = ?", ownerID, name).Count(&n).Error
	if err != nil {
		return false, dbError("count tags", err)
	}
	return n > 0, nil
}

// GetSetting returns the stored value for key
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var row Setting
	err := s.db.WithContext(ctx).First(&row, "setting_key = ?", key).Error
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, dbError("get setting", err)
	}
	return row.Value, true, nil
}

// SetSetting upserts key
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	row := Setting{Key: key, Value: value}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return dbError("set setting", err)
	}
	return nil
}
