package platforms

import (
	"encoding/json"
	"strings"

	"bitbucket.org/mmdatafocus/integration_platform/utils"
	"github.com/shopspring/decimal"
)

// decimalFromValue reads a JSON number, float or numeric string.
func decimalFromValue(v any) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(n), true
	case int64:
		return decimal.NewFromInt(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		return d, err == nil
	}
	return decimal.Zero, false
}

// parent returns the object holding the last segment of a dotted path.
func parent(data map[string]any, path string) (map[string]any, string) {
	parts := strings.Split(path, ".")
	cur := data
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			return nil, ""
		}
		cur = next
	}
	return cur, parts[len(parts)-1]
}

// minorUnitsToAmount rewrites an integer amount in cents at path into a
// two-decimal string.
func minorUnitsToAmount(path string) func(map[string]any) {
	return func(data map[string]any) {
		obj, key := parent(data, path)
		if obj == nil {
			return
		}
		d, ok := decimalFromValue(obj[key])
		if !ok {
			return
		}
		obj[key] = d.Shift(-2).StringFixed(2)
	}
}

// roundAmount rewrites a major-unit amount at path into a two-decimal string.
func roundAmount(path string) func(map[string]any) {
	return func(data map[string]any) {
		obj, key := parent(data, path)
		if obj == nil {
			return
		}
		d, ok := decimalFromValue(obj[key])
		if !ok {
			return
		}
		obj[key] = d.StringFixed(2)
	}
}

// e164Phone normalizes the phone number at path. Numbers that do not parse
// are left as they are.
func e164Phone(path, region string) func(map[string]any) {
	return func(data map[string]any) {
		obj, key := parent(data, path)
		if obj == nil {
			return
		}
		raw, ok := obj[key].(string)
		if !ok || strings.TrimSpace(raw) == "" {
			return
		}
		if normalized, err := utils.NormalizePhoneNumber(raw, region); err == nil {
			obj[key] = normalized
		}
	}
}
