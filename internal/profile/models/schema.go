package models

import "encoding/json"

// Schema declares the body fields this deployment knows about. It exists so
// the body stays forward compatible: fields not listed here still round-trip
// through drafts, review, and promotion untouched.
type Schema struct {
	// Version of the field schema, bumped when field declarations change.
	Version int
	// SerializedTextFields are stored as structured values on versions but
	// as serialized JSON text on the live profile. Promotion must serialize
	// them before the copy.
	SerializedTextFields []string
}

// DefaultSchema mirrors the live profile's storage layout.
func DefaultSchema() Schema {
	return Schema{
		Version: 1,
		SerializedTextFields: []string{
			"jlpt",
			"jdu_japanese_certification",
			"japanese_speech_contest",
			"it_contest",
			"ielts",
			"language_skills",
		},
	}
}

// SerializeForLive returns a copy of body with the configured structured
// fields flattened to JSON strings, matching the live profile's layout.
// Fields already stored as text are left as-is.
func (s Schema) SerializeForLive(body Body) Body {
	out := body.Clone()
	for _, field := range s.SerializedTextFields {
		v, ok := out[field]
		if !ok {
			continue
		}
		switch v.(type) {
		case map[string]any, Body, []any:
			if raw, err := json.Marshal(normalize(v)); err == nil {
				out[field] = string(raw)
			}
		}
	}
	return out
}
