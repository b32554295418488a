// Package contract defines the structured-output contract between the
// engine and the generation backend: the JSON schema sent with each
// request, and decoding plus validation of what comes back.
package contract

import "encoding/json"

// SchemaName identifies the response schema to backends that require a
// named json_schema response format.
const SchemaName = "chat_response"

// SchemaMap is a raw JSON-schema fragment. It satisfies json.Marshaler
// so it can be handed directly to client libraries that accept one, and
// it can express type unions like ["string", "null"] that typed schema
// builders cannot.
type SchemaMap map[string]any

func (s SchemaMap) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any(s))
}

// ResponseSchema returns the JSON schema every structured generation
// must satisfy. Strict mode requires additionalProperties: false and
// every property listed as required; optionality is expressed with
// null-bearing type unions instead.
func ResponseSchema() SchemaMap {
	return SchemaMap{
		"type": "object",
		"properties": map[string]any{
			"text_output": map[string]any{
				"type":        "array",
				"description": "Ordered narrative and dialogue items, 8 to 12 of them.",
				"minItems":    minTextOutput,
				"maxItems":    maxTextOutput,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"type": map[string]any{
							"type": "string",
							"enum": []string{"narrative", "character_message"},
						},
						"text": map[string]any{
							"type": "string",
						},
						"speaker": map[string]any{
							"type":        []string{"string", "null"},
							"description": "Character name for character_message items, null for narrative items.",
						},
					},
					"required":             []string{"type", "text", "speaker"},
					"additionalProperties": false,
				},
			},
			"next_node_id": map[string]any{
				"type":        "string",
				"description": "Id of the story node to continue from.",
			},
			"image_prompt": map[string]any{
				"type":        "string",
				"description": "Concise English prompt describing the current scene.",
			},
			"next_choice_description": map[string]any{
				"type":        "array",
				"description": "2 to 4 short choices from the user's point of view.",
				"minItems":    2,
				"maxItems":    4,
				"items": map[string]any{
					"type": "string",
				},
			},
		},
		"required":             []string{"text_output", "next_node_id", "image_prompt", "next_choice_description"},
		"additionalProperties": false,
	}
}
