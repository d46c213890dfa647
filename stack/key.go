// Package stack derives the canonical grouping key used to decide whether
// two item rows are the same stack, in the party stash and in a character's
// own inventory alike.
package stack

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Unknown is the display name for a payload that carries no usable name.
const Unknown = "Unknown Item"

// Separator joins the normalized name and the description in a key.
const Separator = "::"

// Key returns normalize(name) + "::" + description.
func Key(name, description string) string {
	return Normalize(name) + Separator + description
}

// Normalize lower-cases and trims a display name.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// KeyOf is Key for a raw, possibly malformed, name payload.
func KeyOf(name any, description string) string {
	return Key(Coerce(name), description)
}

type variant int

const (
	variantUnknown variant = iota
	variantText
	variantNumber
	variantBool
	variantObject
)

// fallbackFields are tried in order on object-shaped names.
var fallbackFields = []string{"name", "label", "title"}

func classify(v any) variant {
	switch v.(type) {
	case string:
		return variantText
	case float64, float32, int, int32, int64, uint, uint32, uint64, json.Number:
		return variantNumber
	case bool:
		return variantBool
	case map[string]any:
		return variantObject
	default:
		return variantUnknown
	}
}

// Coerce turns a raw name payload into a display string. Numbers and
// booleans are formatted, objects fall back to their name, label or title
// field, and anything else becomes Unknown. It never fails.
func Coerce(v any) string {
	return coerce(v, true)
}

func coerce(v any, descend bool) string {
	switch classify(v) {
	case variantText:
		return v.(string)
	case variantNumber:
		return formatNumber(v)
	case variantBool:
		return strconv.FormatBool(v.(bool))
	case variantObject:
		if !descend {
			return Unknown
		}
		obj := v.(map[string]any)
		for _, f := range fallbackFields {
			inner, ok := obj[f]
			if !ok {
				continue
			}
			if k := classify(inner); k == variantText || k == variantNumber || k == variantBool {
				return coerce(inner, false)
			}
		}
		return Unknown
	default:
		return Unknown
	}
}

func formatNumber(v any) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	case int:
		return strconv.Itoa(n)
	case int32:
		return strconv.FormatInt(int64(n), 10)
	case int64:
		return strconv.FormatInt(n, 10)
	case uint:
		return strconv.FormatUint(uint64(n), 10)
	case uint32:
		return strconv.FormatUint(uint64(n), 10)
	case uint64:
		return strconv.FormatUint(n, 10)
	case json.Number:
		return n.String()
	}
	return Unknown
}

// Name is an item name that tolerates non-string JSON payloads.
type Name string

// UnmarshalJSON accepts any JSON value and coerces it.
func (n *Name) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		*n = Unknown
		return nil
	}
	*n = Name(Coerce(raw))
	return nil
}

func (n Name) String() string { return string(n) }
