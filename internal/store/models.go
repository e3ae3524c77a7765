package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/menta2k/lensclip/pkg/types"
)

// Observation is the persisted observation row
type Observation struct {
	ID                 string         `gorm:"column:id;type:text;primaryKey"`
	OwnerID            string         `gorm:"column:owner_id;type:text;not null;index"`
	Status             string         `gorm:"column:status;type:text;not null;index"`
	OriginalRef        string         `gorm:"column:original_ref;type:text;not null"`
	CroppedRef         string         `gorm:"column:cropped_ref;type:text"`
	ThumbRef           string         `gorm:"column:thumb_ref;type:text"`
	BoundingBox        datatypes.JSON `gorm:"column:bounding_box"`
	LocalizationResult datatypes.JSON `gorm:"column:localization_result"`
	Identification     datatypes.JSON `gorm:"column:identification"`
	Category           string         `gorm:"column:category;type:text;index"`
	Title              string         `gorm:"column:title;type:text"`
	Model              string         `gorm:"column:model;type:text"`
	ErrorMessage       string         `gorm:"column:error_message;type:text"`
	Latitude           *float64       `gorm:"column:latitude"`
	Longitude          *float64       `gorm:"column:longitude"`
	Tags               []Tag          `gorm:"many2many:observation_tags;"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
	DeletedAt          gorm.DeletedAt `gorm:"index"`
}

func (Observation) TableName() string { return "observations" }

// Tag is a label unique per owner
type Tag struct {
	ID        uint      `gorm:"primaryKey"`
	OwnerID   string    `gorm:"column:owner_id;type:text;not null;uniqueIndex:idx_tags_owner_name"`
	Name      string    `gorm:"column:name;type:text;not null;uniqueIndex:idx_tags_owner_name"`
	CreatedAt time.Time `gorm:"index"`
}

func (Tag) TableName() string { return "tags" }

// Setting is a persisted key value pair
type Setting struct {
	Key       string `gorm:"column:setting_key;type:text;primaryKey"`
	Value     string `gorm:"column:value;type:text"`
	UpdatedAt time.Time
}

func (Setting) TableName() string { return "settings" }

func marshalJSON(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func unmarshalJSON[T any](raw datatypes.JSON) (*T, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func fromDomain(o *types.Observation) (*Observation, error) {
	row := &Observation{
		ID:           o.ID,
		OwnerID:      o.OwnerID,
		Status:       string(o.Status),
		OriginalRef:  o.OriginalRef,
		CroppedRef:   o.CroppedRef,
		ThumbRef:     o.ThumbRef,
		Category:     o.Category,
		ErrorMessage: o.ErrorMessage,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
	var err error
	if o.BoundingBox != nil {
		if row.BoundingBox, err = marshalJSON(o.BoundingBox); err != nil {
			return nil, err
		}
	}
	if o.LocalizationResult != nil {
		if row.LocalizationResult, err = marshalJSON(o.LocalizationResult); err != nil {
			return nil, err
		}
	}
	if o.Identification != nil {
		if row.Identification, err = marshalJSON(o.Identification); err != nil {
			return nil, err
		}
		row.Title = o.Identification.Title
		row.Model = o.Identification.Model
	}
	if o.Location != nil {
		lat, lon := o.Location.Latitude, o.Location.Longitude
		row.Latitude, row.Longitude = &lat, &lon
	}
	return row, nil
}

func (row *Observation) toDomain() (*types.Observation, error) {
	o := &types.Observation{
		ID:           row.ID,
		OwnerID:      row.OwnerID,
		Status:       types.Status(row.Status),
		OriginalRef:  row.OriginalRef,
		CroppedRef:   row.CroppedRef,
		ThumbRef:     row.ThumbRef,
		Category:     row.Category,
		ErrorMessage: row.ErrorMessage,
		Tags:         make([]string, 0, len(row.Tags)),
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
	var err error
	if o.BoundingBox, err = unmarshalJSON[types.BoundingBox](row.BoundingBox); err != nil {
		return nil, err
	}
	if o.LocalizationResult, err = unmarshalJSON[types.LocalizationResult](row.LocalizationResult); err != nil {
		return nil, err
	}
	if o.Identification, err = unmarshalJSON[types.Identification](row.Identification); err != nil {
		return nil, err
	}
	if row.Latitude != nil && row.Longitude != nil {
		o.Location = &types.Location{Latitude: *row.Latitude, Longitude: *row.Longitude}
	}
	for _, t := range row.Tags {
		o.Tags = append(o.Tags, t.Name)
	}
	return o, nil
}
