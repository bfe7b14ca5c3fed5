// Package conflict decides how an incoming external record is merged into the
// canonical record it maps to.
package conflict

import (
	"bytes"
	"encoding/json"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/integration_platform/utils"
	"github.com/shopspring/decimal"
)

const (
	StrategyCanonicalWins = "canonical_wins"
	StrategyExternalWins  = "external_wins"
	StrategyNewestWins    = "newest_wins"
	StrategyManual        = "manual"

	// StrategyNoConflict is reported, never requested.
	StrategyNoConflict = "no_conflict"
)

var Strategies = []string{StrategyCanonicalWins, StrategyExternalWins, StrategyNewestWins, StrategyManual}

func IsKnownStrategy(s string) bool { return utils.ContainsString(Strategies, s) }

type FieldConflict struct {
	Field          string `json:"field"`
	CanonicalValue any    `json:"canonical_value"`
	ExternalValue  any    `json:"external_value"`
}

type Resolution struct {
	Resolved  bool            `json:"resolved"`
	Strategy  string          `json:"strategy"`
	Merged    map[string]any  `json:"merged,omitempty"`
	Conflicts []FieldConflict `json:"conflicts"`
	// Winner is "canonical" or "external" when an overlay was applied.
	Winner string `json:"winner,omitempty"`
}

// Detect lists fields present on both sides whose JSON encodings differ,
// sorted by field name. Fields missing from either side never conflict.
func Detect(canonical, external map[string]any) []FieldConflict {
	var out []FieldConflict
	for field, cv := range canonical {
		ev, ok := external[field]
		if !ok {
			continue
		}
		if !sameJSON(cv, ev) {
			out = append(out, FieldConflict{Field: field, CanonicalValue: cv, ExternalValue: ev})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

// sameJSON compares values by their JSON meaning. Numbers compare by value,
// so 1.50, 1.5 and 15e-1 are equal whether they came in as json.Number or
// float64.
func sameJSON(a, b any) bool {
	na, errA := normalize(a)
	nb, errB := normalize(b)
	if errA != nil || errB != nil {
		return false
	}
	return equalNormalized(na, nb)
}

func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func equalNormalized(a, b any) bool {
	switch av := a.(type) {
	case json.Number:
		bv, ok := b.(json.Number)
		if !ok {
			return false
		}
		da, errA := decimal.NewFromString(av.String())
		db, errB := decimal.NewFromString(bv.String())
		if errA != nil || errB != nil {
			return av == bv
		}
		return da.Equal(db)
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, x := range av {
			y, ok := bv[k]
			if !ok || !equalNormalized(x, y) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equalNormalized(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// Resolve applies strategy to the pair. With no differing fields the result
// is resolved with strategy no_conflict and merged is a copy of canonical.
// newest_wins hands ties to the canonical side.
func Resolve(canonical, external map[string]any, canonicalUpdatedAt, externalUpdatedAt time.Time, strategy string) (*Resolution, error) {
	if !IsKnownStrategy(strategy) {
		return nil, utils.NewValidationError("unknown conflict strategy %q", strategy)
	}
	conflicts := Detect(canonical, external)
	if len(conflicts) == 0 {
		return &Resolution{
			Resolved:  true,
			Strategy:  StrategyNoConflict,
			Merged:    Merge(canonical, nil),
			Conflicts: []FieldConflict{},
		}, nil
	}

	res := &Resolution{Strategy: strategy, Conflicts: conflicts}
	switch strategy {
	case StrategyManual:
		return res, nil
	case StrategyCanonicalWins:
		res.Winner = "canonical"
	case StrategyExternalWins:
		res.Winner = "external"
	case StrategyNewestWins:
		if canonicalUpdatedAt.Before(externalUpdatedAt) {
			res.Winner = "external"
		} else {
			res.Winner = "canonical"
		}
	}
	if res.Winner == "canonical" {
		res.Merged = Merge(external, canonical)
	} else {
		res.Merged = Merge(canonical, external)
	}
	res.Resolved = true
	return res, nil
}

// Additions returns the fields only the external side carries.
func Additions(canonical, external map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range external {
		if _, ok := canonical[k]; !ok {
			out[k] = v
		}
	}
	return out
}

// Merge returns base overlaid by top. Neither input is modified.
func Merge(base, top map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(top))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range top {
		out[k] = v
	}
	return out
}

// Choice selects the side to keep for one field during manual resolution.
type Choice string

const (
	ChoiceCanonical Choice = "canonical"
	ChoiceExternal  Choice = "external"
)

// ApplyChoices merges a manually reviewed conflict. Every conflicting field
// needs a choice; fields only the external side has are added.
func ApplyChoices(canonical, external map[string]any, conflicts []FieldConflict, choices map[string]Choice) (map[string]any, error) {
	merged := Merge(external, canonical)
	for _, c := range conflicts {
		choice, ok := choices[c.Field]
		if !ok {
			return nil, utils.NewValidationError("no choice given for field %s", c.Field)
		}
		switch choice {
		case ChoiceCanonical:
			merged[c.Field] = canonical[c.Field]
		case ChoiceExternal:
			merged[c.Field] = external[c.Field]
		default:
			return nil, utils.NewValidationError("invalid choice %q for field %s", choice, c.Field)
		}
	}
	return merged, nil
}
