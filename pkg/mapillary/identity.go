package mapillary

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// recordKey derives the dedup key for a raw record: the canonical form of
// its "id" member, or a hash of its geometry when no id is present. An
// empty key means the record carries no usable identity and is never
// dropped as a duplicate.
func recordKey(rec json.RawMessage) (string, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(rec, &obj); err != nil {
		return "", fmt.Errorf("record is not a JSON object: %w", err)
	}

	if idRaw, ok := obj["id"]; ok && len(idRaw) > 0 {
		key, err := canonicalIDKey(idRaw)
		if err != nil {
			return "", err
		}
		if key != "" {
			return key, nil
		}
	}

	if geomRaw, ok := obj["geometry"]; ok && len(geomRaw) > 0 {
		return fmt.Sprintf("g:%016x", xxhash.Sum64(geomRaw)), nil
	}
	return "", nil
}

// canonicalIDKey folds string and numeric ids into one key space, so
// `"123"` and `123` collide as the same image.
func canonicalIDKey(idRaw json.RawMessage) (string, error) {
	trim := strings.TrimSpace(string(idRaw))
	if trim == "" {
		return "", nil
	}

	dec := json.NewDecoder(strings.NewReader(trim))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("parse id: %w", err)
	}
	switch t := v.(type) {
	case string:
		return "i:" + t, nil
	case json.Number:
		return "i:" + t.String(), nil
	default:
		return "", fmt.Errorf("id must be string or number (got %T)", v)
	}
}
