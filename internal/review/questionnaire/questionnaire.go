// Package questionnaire validates that a draft answers every required
// question before it can be submitted for review. The question schema is
// configured externally (JSON document keyed by category); answers live under
// the body's "qa" key.
package questionnaire

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"folio/internal/profile/models"
)

// idList is bookkeeping inside the schema document, not a question category.
const idListCategory = "idList"

// answersKey is the body field holding questionnaire answers.
const answersKey = "qa"

// Question is one configured questionnaire entry.
type Question struct {
	Text     string `json:"question"`
	Required bool   `json:"required"`
}

// Schema maps category -> question key -> question.
type Schema map[string]map[string]Question

// LoadSchema reads a schema document from a JSON file.
func LoadSchema(path string) (Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read questionnaire schema: %w", err)
	}
	var s Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse questionnaire schema: %w", err)
	}
	return s, nil
}

// MissingItem identifies one unanswered required question.
type MissingItem struct {
	Category string `json:"category"`
	Key      string `json:"key"`
	Question string `json:"question"`
}

// Validator checks required answers against the configured schema.
// It is a pure function of the body; a nil or empty schema accepts anything.
type Validator struct {
	schema Schema
}

func New(schema Schema) *Validator {
	return &Validator{schema: schema}
}

// Validate returns every required question the body leaves unanswered,
// sorted by category then key so results are deterministic.
func (v *Validator) Validate(body models.Body) []MissingItem {
	if len(v.schema) == 0 {
		return nil
	}

	answers := answersByCategory(body)

	var missing []MissingItem
	for category, questions := range v.schema {
		if category == idListCategory {
			continue
		}
		categoryAnswers := answers[category]
		for key, q := range questions {
			if !q.Required {
				continue
			}
			if answerText(categoryAnswers[key]) == "" {
				text := q.Text
				if text == "" {
					text = key
				}
				missing = append(missing, MissingItem{Category: category, Key: key, Question: text})
			}
		}
	}

	sort.Slice(missing, func(i, j int) bool {
		if missing[i].Category != missing[j].Category {
			return missing[i].Category < missing[j].Category
		}
		return missing[i].Key < missing[j].Key
	})
	return missing
}

// GroupByCategory shapes missing items for the error payload so the owner
// sees what to fix without guessing.
func GroupByCategory(items []MissingItem) map[string][]string {
	if len(items) == 0 {
		return nil
	}
	grouped := make(map[string][]string)
	for _, item := range items {
		grouped[item.Category] = append(grouped[item.Category], item.Question)
	}
	return grouped
}

func answersByCategory(body models.Body) map[string]map[string]any {
	raw, ok := body[answersKey]
	if !ok {
		return nil
	}
	out := make(map[string]map[string]any)
	byCategory, ok := asMap(raw)
	if !ok {
		return nil
	}
	for category, entries := range byCategory {
		if m, ok := asMap(entries); ok {
			out[category] = m
		}
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case models.Body:
		return map[string]any(m), true
	}
	return nil, false
}

// answerText extracts the answer string, accepting both the current object
// shape {"answer": "..."} and the legacy plain-string shape.
func answerText(raw any) string {
	if raw == nil {
		return ""
	}
	if m, ok := asMap(raw); ok {
		if inner, exists := m["answer"]; exists {
			raw = inner
		}
	}
	s, ok := raw.(string)
	if !ok {
		if raw == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(raw))
	}
	return strings.TrimSpace(s)
}
