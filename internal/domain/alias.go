package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// AliasEntry is the display metadata attached to a group or container key.
// An entry with all three fields empty is pruned by the stores on write.
type AliasEntry struct {
	Alias string `json:"alias,omitempty"`
	Icon  string `json:"icon,omitempty"`
	Order *int   `json:"order,omitempty"`
}

// Empty reports whether the entry carries no information at all.
func (e AliasEntry) Empty() bool {
	return e.Alias == "" && e.Icon == "" && e.Order == nil
}

// Normalize trims the text fields and returns the canonical entry.
func (e AliasEntry) Normalize() AliasEntry {
	e.Alias = strings.TrimSpace(e.Alias)
	e.Icon = strings.TrimSpace(e.Icon)
	return e
}

// UnmarshalJSON accepts the three payload shapes older clients send: a JSON
// object, a string-encoded JSON object, or a bare string used as the alias
// text. All decode to the one canonical shape.
func (e *AliasEntry) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		text = strings.TrimSpace(text)
		if strings.HasPrefix(text, "{") {
			var nested aliasPayload
			if err := json.Unmarshal([]byte(text), &nested); err == nil {
				*e = nested.entry()
				return nil
			}
		}
		*e = AliasEntry{Alias: text}
		return nil
	}
	var payload aliasPayload
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return err
	}
	*e = payload.entry()
	return nil
}

type aliasPayload struct {
	Alias string          `json:"alias"`
	Icon  string          `json:"icon"`
	Order json.RawMessage `json:"order"`
}

func (p aliasPayload) entry() AliasEntry {
	return AliasEntry{
		Alias: strings.TrimSpace(p.Alias),
		Icon:  strings.TrimSpace(p.Icon),
		Order: parseOrder(p.Order),
	}
}

// parseOrder coerces a numeric or string-numeric order value to an int.
// Booleans, blanks, and anything unparseable mean no order at all.
func parseOrder(raw json.RawMessage) *int {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" || string(trimmed) == "true" || string(trimmed) == "false" {
		return nil
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return nil
		}
		parsed, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil
		}
		order := int(parsed)
		return &order
	}
	var number float64
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return nil
	}
	if math.IsNaN(number) || math.IsInf(number, 0) {
		return nil
	}
	order := int(number)
	return &order
}
