package models

import (
	"bytes"
	"encoding/json"

	"gorm.io/datatypes"
)

// EncodeJSON marshals v into a JSON column value. A marshal failure yields JSON null.
func EncodeJSON(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(b)
}

func DecodeStrings(raw datatypes.JSON) []string {
	var out []string
	if len(raw) == 0 {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}

// DecodeObject returns an empty map for empty or non-object columns. Numbers
// stay json.Number so stored values round-trip without float rounding.
func DecodeObject(raw datatypes.JSON) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}
