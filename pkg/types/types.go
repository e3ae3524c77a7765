// Package types holds the domain records shared by the analysis pipeline.
package types

import (
	"strings"
	"time"
)

// Status is the lifecycle state of an observation
type Status string

const (
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusReady, StatusFailed:
		return true
	}
	return false
}

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"width"`
	H float64 `json:"height"`
}

// PixelBox is a box in pixel units of the source image
type PixelBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"width"`
	H int `json:"height"`
}

// Vertex is a normalized polygon vertex
type Vertex struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// DetectedObject is one candidate returned by object localization
type DetectedObject struct {
	Name     string   `json:"name"`
	Score    float64  `json:"score"`
	Vertices []Vertex `json:"normalized_vertices"`
}

// Likelihood is the ordinal moderation scale
type Likelihood int

const (
	LikelihoodUnknown Likelihood = iota
	LikelihoodVeryUnlikely
	LikelihoodUnlikely
	LikelihoodPossible
	LikelihoodLikely
	LikelihoodVeryLikely
)

var likelihoodNames = []string{"UNKNOWN", "VERY_UNLIKELY", "UNLIKELY", "POSSIBLE", "LIKELY", "VERY_LIKELY"}

// String returns the wire name of the likelihood
func (l Likelihood) String() string {
	if l < 0 || int(l) >= len(likelihoodNames) {
		return "UNKNOWN"
	}
	return likelihoodNames[l]
}

// ParseLikelihood maps a wire name to the ordinal, unknown names map to LikelihoodUnknown
func ParseLikelihood(s string) Likelihood {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i, name := range likelihoodNames {
		if name == s {
			return Likelihood(i)
		}
	}
	return LikelihoodUnknown
}

// Moderation is the content safety verdict
type Moderation struct {
	Adult    Likelihood `json:"adult"`
	Violence Likelihood `json:"violence"`
}

// Rejected reports whether either axis is at one of the two highest levels
func (m Moderation) Rejected() bool {
	return m.Adult >= LikelihoodLikely || m.Violence >= LikelihoodLikely
}

// LocalizationResult is the raw response of the localization service
type LocalizationResult struct {
	Objects    []DetectedObject `json:"objects"`
	Moderation Moderation       `json:"moderation"`
}

// BoundingBox is the selected crop subject
type BoundingBox struct {
	Normalized Box      `json:"normalized"`
	Pixel      PixelBox `json:"pixel"`
	Score      float64  `json:"score"`
	Label      string   `json:"label"`
	FinalScore float64  `json:"final_score"`
}

// CandidateCard is one plausible identification
type CandidateCard struct {
	Name        string   `json:"name"`
	EnglishName string   `json:"english_name"`
	Confidence  float64  `json:"confidence"`
	Summary     string   `json:"summary"`
	KidFriendly string   `json:"kid_friendly"`
	LookFor     []string `json:"look_for"`
	FunFacts    []string `json:"fun_facts"`
	SafetyNotes []string `json:"safety_notes"`
	Questions   []string `json:"questions"`
	Tags        []string `json:"tags"`
}

// Identification is the validated AI result
type Identification struct {
	Title          string          `json:"title"`
	AltNames       []string        `json:"alt_names"`
	Summary        string          `json:"summary"`
	KidFriendly    string          `json:"kid_friendly"`
	Category       string          `json:"category"`
	Confidence     float64         `json:"confidence"`
	Tags           []string        `json:"tags"`
	SafetyNotes    []string        `json:"safety_notes"`
	FunFacts       []string        `json:"fun_facts"`
	Questions      []string        `json:"questions"`
	CandidateCards []CandidateCard `json:"candidate_cards"`
	Model          string          `json:"model"`
}

// Location is a decimal coordinate pair
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Observation is one photographed subject
type Observation struct {
	ID                 string              `json:"id"`
	OwnerID            string              `json:"owner_id"`
	Status             Status              `json:"status"`
	OriginalRef        string              `json:"original_ref"`
	CroppedRef         string              `json:"cropped_ref,omitempty"`
	ThumbRef           string              `json:"thumb_ref"`
	BoundingBox        *BoundingBox        `json:"bounding_box,omitempty"`
	LocalizationResult *LocalizationResult `json:"localization_result,omitempty"`
	Identification     *Identification     `json:"identification,omitempty"`
	Category           string              `json:"category,omitempty"`
	ErrorMessage       string              `json:"error_message,omitempty"`
	Location           *Location           `json:"location,omitempty"`
	Tags               []string            `json:"tags"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// Category is an allow-listed identification category
type Category struct {
	Key         string `json:"key" yaml:"key"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Color       string `json:"color" yaml:"color"`
}

// DefaultCategory is used when the model returns a category outside the allow-list
const DefaultCategory = "other"
