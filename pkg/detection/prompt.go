package detection

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/menta2k/lensclip/pkg/types"
)

// DefaultPrompt is the identification prompt. %s receives the category list.
const DefaultPrompt = `You are a friendly nature and everyday-object guide for children.
Look at the photo and identify the main subject.

Return JSON only, with these keys:
- "title": common name of the subject
- "alt_names": other names, may be empty
- "summary": two or three factual sentences
- "kid_friendly": one or two sentences a 7 year old understands
- "category": exactly one of: %s
- "confidence": number between 0.0 and 1.0
- "tags": up to 10 short lowercase keywords
- "safety_notes": warnings such as "do not touch" or "may sting", empty if none
- "fun_facts": two or three short fun facts
- "questions": two questions to spark curiosity
- "candidate_cards": up to 3 plausible identifications, most likely first, each with
  "name", "english_name", "confidence", "summary", "kid_friendly", "look_for",
  "fun_facts", "safety_notes", "questions", "tags"

HARD RULES
- If unsure, lower the confidence instead of guessing wildly.
- Do not identify real people.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// BuildPrompt renders the prompt for the allow-listed categories
func BuildPrompt(categories []types.Category) string {
	keys := make([]string, 0, len(categories))
	for _, c := range categories {
		keys = append(keys, c.Key)
	}
	if len(keys) == 0 {
		keys = append(keys, types.DefaultCategory)
	}
	return fmt.Sprintf(DefaultPrompt, strings.Join(keys, ", "))
}

// cardSchema and responseSchema describe the requested output shape
type cardSchema struct {
	Name        string   `json:"name"`
	EnglishName string   `json:"english_name"`
	Confidence  float64  `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	Summary     string   `json:"summary"`
	KidFriendly string   `json:"kid_friendly"`
	LookFor     []string `json:"look_for"`
	FunFacts    []string `json:"fun_facts"`
	SafetyNotes []string `json:"safety_notes"`
	Questions   []string `json:"questions"`
	Tags        []string `json:"tags"`
}

type responseSchema struct {
	Title          string       `json:"title"`
	AltNames       []string     `json:"alt_names"`
	Summary        string       `json:"summary"`
	KidFriendly    string       `json:"kid_friendly"`
	Category       string       `json:"category"`
	Confidence     float64      `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	Tags           []string     `json:"tags"`
	SafetyNotes    []string     `json:"safety_notes"`
	FunFacts       []string     `json:"fun_facts"`
	Questions      []string     `json:"questions"`
	CandidateCards []cardSchema `json:"candidate_cards"`
}

// ResponseSchema returns the JSON schema of the identification response with
// the category restricted to the allow-list
func ResponseSchema(categories []types.Category) ([]byte, error) {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	s := r.Reflect(&responseSchema{})
	s.Version = ""

	if prop, ok := s.Properties.Get("category"); ok && prop != nil {
		enum := make([]any, 0, len(categories))
		for _, c := range categories {
			enum = append(enum, c.Key)
		}
		if len(enum) > 0 {
			prop.Enum = enum
		}
	}
	return json.Marshal(s)
}
