// Package fieldmap translates records between an external platform's field
// layout and the canonical layout.
package fieldmap

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gorm.io/datatypes"
)

// ErrUnsupportedDirection is returned when an outbound mapping would have to
// build a nested external structure.
var ErrUnsupportedDirection = errors.New("fieldmap: outbound mapping into nested paths is not supported")

// Map is external field path -> canonical field name. External paths may be
// dotted (person.legalName.givenName) for inbound use.
type Map map[string]string

// MapFields applies m to data. Inbound (reverse=false) reads each external
// path from data and writes the value under its canonical name; absent
// paths are skipped. Outbound (reverse=true) reads canonical names and writes
// them under the external key.
func MapFields(data map[string]any, m Map, reverse bool) (map[string]any, error) {
	out := make(map[string]any, len(m))
	if reverse {
		if err := CheckOutbound(m); err != nil {
			return nil, err
		}
		for external, canonical := range m {
			if v, ok := data[canonical]; ok {
				out[external] = v
			}
		}
		return out, nil
	}
	for external, canonical := range m {
		if v, ok := lookup(data, external); ok {
			out[canonical] = v
		}
	}
	return out, nil
}

// CheckOutbound reports whether m can be used for outbound mapping.
func CheckOutbound(m Map) error {
	for external := range m {
		if strings.Contains(external, ".") {
			return fmt.Errorf("%w: %s", ErrUnsupportedDirection, external)
		}
	}
	return nil
}

// lookup walks a dotted path through nested objects. A missing key or a
// non-object intermediate ends the walk.
func lookup(data map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = data
	for _, p := range parts {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Overrides is the shape of integrations.field_mappings: entity type -> Map.
// An override whose canonical name is empty removes the default entry.
type Overrides map[string]Map

func ParseOverrides(raw datatypes.JSON) (Overrides, error) {
	out := Overrides{}
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode field mappings: %w", err)
	}
	return out, nil
}

// Resolve returns the effective map for platform and entityType with the
// integration's overrides applied. ok is false when neither defaults nor
// overrides exist for the pair.
func Resolve(platform, entityType string, overrides Overrides) (Map, bool) {
	base, hasDefault := Defaults[platform][entityType]
	extra, hasOverride := overrides[entityType]
	if !hasDefault && !hasOverride {
		return nil, false
	}
	out := make(Map, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		if v == "" {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out, true
}

// EntityTypes lists the entity types platform has a default map for.
func EntityTypes(platform string) []string {
	out := make([]string, 0, len(Defaults[platform]))
	for e := range Defaults[platform] {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}
