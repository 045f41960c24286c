// Package pipeline wires the job queue to the domain services: template
// parsing, classification, and the five-stage document generation run. Each
// handler is registered with the worker under its job type.
package pipeline

import (
	"fmt"

	"git.home.luguber.info/inful/docforge/internal/store"
)

// Generation pipeline stages, in execution order. Failed GENERATE jobs carry
// the stage that failed as a prefix on the job error and in the result, so
// failure attribution survives in the job row.
const (
	StageInputPreparation  = "INPUT_PREPARATION"
	StageSectionGeneration = "SECTION_GENERATION"
	StageDocumentAssembly  = "DOCUMENT_ASSEMBLY"
	StageDocumentRendering = "DOCUMENT_RENDERING"
	StageVersioning        = "VERSIONING"
)

// stageError attributes a failure to the stage it happened in and records
// the attribution in the partial result.
func stageError(state store.JSONMap, stage string, err error) error {
	state["failed_stage"] = stage
	return fmt.Errorf("%s: %w", stage, err)
}

// payloadString extracts a required string field from a job payload.
func payloadString(payload store.JSONMap, key string) (string, error) {
	v, ok := payload[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("job payload is missing %q", key)
	}
	return v, nil
}

// payloadOptionalString returns "" when the field is absent.
func payloadOptionalString(payload store.JSONMap, key string) string {
	v, _ := payload[key].(string)
	return v
}

// payloadOptionalInt returns 0 when the field is absent. JSON round-tripping
// turns numbers into float64.
func payloadOptionalInt(payload store.JSONMap, key string) int {
	switch n := payload[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	default:
		return 0
	}
}

// payloadOptionalMap returns nil when the field is absent.
func payloadOptionalMap(payload store.JSONMap, key string) store.JSONMap {
	if m, ok := payload[key].(map[string]any); ok {
		return store.JSONMap(m)
	}
	return nil
}

// payloadOptionalBool returns false when the field is absent.
func payloadOptionalBool(payload store.JSONMap, key string) bool {
	v, _ := payload[key].(bool)
	return v
}

// payloadInt64Slice extracts a list of numeric ids from a job payload.
// JSON round-tripping turns them into float64.
func payloadInt64Slice(payload store.JSONMap, key string) ([]int64, error) {
	raw, ok := payload[key].([]any)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("job payload is missing %q", key)
	}
	out := make([]int64, 0, len(raw))
	for _, e := range raw {
		switch n := e.(type) {
		case float64:
			out = append(out, int64(n))
		case int64:
			out = append(out, n)
		case int:
			out = append(out, int64(n))
		default:
			return nil, fmt.Errorf("job payload %q contains non-numeric entry %v", key, e)
		}
	}
	return out, nil
}

// payloadOptionalInt64Slice is payloadInt64Slice for fields that may be
// absent or empty.
func payloadOptionalInt64Slice(payload store.JSONMap, key string) ([]int64, error) {
	if _, ok := payload[key]; !ok {
		return nil, nil
	}
	raw, ok := payload[key].([]any)
	if !ok {
		return nil, fmt.Errorf("job payload %q is not a list", key)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return payloadInt64Slice(payload, key)
}
