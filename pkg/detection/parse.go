package detection

import (
	"encoding/json"
	"math"
	"regexp"
	"strings"

	"github.com/menta2k/lensclip/internal/errors"
	"github.com/menta2k/lensclip/pkg/tags"
	"github.com/menta2k/lensclip/pkg/types"
)

var (
	reBlockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment  = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailing     = regexp.MustCompile(`,(\s*[}\]])`)
)

// wireCard and wireResponse accept the legacy keys some models still emit
type wireCard struct {
	Name           string   `json:"name"`
	EnglishName    string   `json:"english_name"`
	EnglishNameAlt string   `json:"englishName"`
	Confidence     *float64 `json:"confidence"`
	Summary        string   `json:"summary"`
	KidFriendly    string   `json:"kid_friendly"`
	LookFor        []string `json:"look_for"`
	FunFacts       []string `json:"fun_facts"`
	SafetyNotes    []string `json:"safety_notes"`
	Questions      []string `json:"questions"`
	Tags           []string `json:"tags"`
}

type wireResponse struct {
	Title          string     `json:"title"`
	AltNames       []string   `json:"alt_names"`
	Summary        string     `json:"summary"`
	KidFriendly    string     `json:"kid_friendly"`
	Category       string     `json:"category"`
	Confidence     *float64   `json:"confidence"`
	Tags           []string   `json:"tags"`
	SafetyNotes    []string   `json:"safety_notes"`
	FunFacts       []string   `json:"fun_facts"`
	Questions      []string   `json:"questions"`
	CandidateCards []wireCard `json:"candidate_cards"`
	Candidates     []wireCard `json:"candidates"`
}

// sanitizeModelJSON removes code fences, comments, and trailing commas from JSON response
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

func parseError(msg string, cause error, raw string) error {
	b := errors.Newf("%s", msg).Category(errors.CategoryResponseParse).Component(component)
	if cause != nil {
		b = errors.New(cause).Category(errors.CategoryResponseParse).Component(component)
	}
	preview := raw
	if len(preview) > 200 {
		preview = preview[:200]
	}
	return b.Context("preview", preview).Build()
}

// Parse decodes an untrusted model response and validates it against the
// allow-list. Text that is not a JSON object yields a CategoryResponseParse error.
func Parse(raw string, allowed []types.Category, model string) (*types.Identification, error) {
	clean := sanitizeModelJSON(raw)
	if !strings.HasPrefix(clean, "{") {
		return nil, parseError("identification response is not a JSON object", nil, raw)
	}

	var w wireResponse
	if err := json.Unmarshal([]byte(clean), &w); err != nil {
		return nil, parseError("", err, raw)
	}
	return validate(&w, allowed, model), nil
}

func validate(w *wireResponse, allowed []types.Category, model string) *types.Identification {
	id := &types.Identification{
		Title:       strings.TrimSpace(w.Title),
		AltNames:    nonNil(w.AltNames),
		Summary:     strings.TrimSpace(w.Summary),
		KidFriendly: strings.TrimSpace(w.KidFriendly),
		Category:    CoerceCategory(w.Category, allowed),
		Confidence:  clampConfidence(w.Confidence),
		Tags:        tags.Normalize(w.Tags, 0),
		SafetyNotes: nonNil(w.SafetyNotes),
		FunFacts:    nonNil(w.FunFacts),
		Questions:   nonNil(w.Questions),
		Model:       model,
	}

	cards := w.CandidateCards
	if len(cards) == 0 {
		cards = w.Candidates
	}
	id.CandidateCards = make([]types.CandidateCard, 0, len(cards))
	for _, c := range cards {
		name := strings.TrimSpace(c.Name)
		english := strings.TrimSpace(c.EnglishName)
		if english == "" {
			english = strings.TrimSpace(c.EnglishNameAlt)
		}
		if english == "" {
			english = name
		}
		if name == "" {
			name = english
		}
		if name == "" {
			continue
		}
		id.CandidateCards = append(id.CandidateCards, types.CandidateCard{
			Name:        name,
			EnglishName: english,
			Confidence:  clampConfidence(c.Confidence),
			Summary:     strings.TrimSpace(c.Summary),
			KidFriendly: strings.TrimSpace(c.KidFriendly),
			LookFor:     nonNil(c.LookFor),
			FunFacts:    nonNil(c.FunFacts),
			SafetyNotes: nonNil(c.SafetyNotes),
			Questions:   nonNil(c.Questions),
			Tags:        tags.Normalize(c.Tags, 0),
		})
	}

	if id.Title == "" && len(id.CandidateCards) > 0 {
		id.Title = id.CandidateCards[0].Name
	}
	return id
}

// CoerceCategory matches the trimmed category against the allow-listed keys
// case-insensitively and returns the matching key as listed. Anything else
// becomes "other".
func CoerceCategory(category string, allowed []types.Category) string {
	c := strings.TrimSpace(category)
	for _, a := range allowed {
		if strings.EqualFold(a.Key, c) {
			return a.Key
		}
	}
	return types.DefaultCategory
}

func clampConfidence(v *float64) float64 {
	if v == nil || math.IsNaN(*v) {
		return 0
	}
	return math.Max(0, math.Min(1, *v))
}

func nonNil(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
