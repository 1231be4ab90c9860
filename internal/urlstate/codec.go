// Package urlstate mirrors map state into URL query parameters: the active
// layer list with its per-layer overrides, and the compare selection.
package urlstate

import (
	"bytes"
	"encoding/json"
	"math"
	"sort"
	"strconv"
)

// Query parameter names.
const (
	ParamLayers  = "layers"
	ParamCompare = "compare"
)

// Entry is the URL-serializable subset of a layer's state. Everything else
// is read from the catalog on load.
type Entry struct {
	ID         string   `json:"id"`
	Opacity    *float64 `json:"opacity,omitempty"`
	Order      *int     `json:"order,omitempty"`
	Date       *string  `json:"date,omitempty"`
	ChartLimit *int     `json:"chartLimit,omitempty"`
}

// EncodeLayers renders entries, in active order, as a JSON array. An empty
// list encodes to "" so callers can drop the parameter.
func EncodeLayers(entries []Entry) string {
	if len(entries) == 0 {
		return ""
	}
	out := make([]Entry, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.ID == "" || seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		out = append(out, e)
	}
	b, err := json.Marshal(out)
	if err != nil {
		return ""
	}
	return string(b)
}

// DecodeLayers parses a layers parameter. Both the array form written by
// EncodeLayers and an object keyed by layer id are accepted; the latter is
// ordered by "order", then id. Malformed input yields nil. Entries without
// an id and repeated ids are dropped; fields of the wrong type are ignored.
func DecodeLayers(raw string) []Entry {
	data := bytes.TrimSpace([]byte(raw))
	if len(data) == 0 {
		return nil
	}

	switch data[0] {
	case '[':
		var items []map[string]json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return nil
		}
		out := make([]Entry, 0, len(items))
		seen := make(map[string]bool, len(items))
		for _, fields := range items {
			e := entryFrom("", fields)
			if e.ID == "" || seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			out = append(out, e)
		}
		return out

	case '{':
		var byID map[string]map[string]json.RawMessage
		if err := json.Unmarshal(data, &byID); err != nil {
			return nil
		}
		out := make([]Entry, 0, len(byID))
		for id, fields := range byID {
			if id == "" {
				continue
			}
			out = append(out, entryFrom(id, fields))
		}
		sort.Slice(out, func(i, j int) bool {
			oi, oj := out[i].Order, out[j].Order
			switch {
			case oi != nil && oj != nil && *oi != *oj:
				return *oi < *oj
			case oi != nil && oj == nil:
				return true
			case oi == nil && oj != nil:
				return false
			}
			return out[i].ID < out[j].ID
		})
		return out
	}
	return nil
}

func entryFrom(id string, fields map[string]json.RawMessage) Entry {
	e := Entry{ID: id}
	if e.ID == "" {
		e.ID = idFrom(fields["id"])
	}
	var f float64
	if present(fields["opacity"]) && json.Unmarshal(fields["opacity"], &f) == nil {
		e.Opacity = &f
	}
	if n, ok := intFrom(fields["order"]); ok {
		e.Order = &n
	}
	var s string
	if present(fields["date"]) && json.Unmarshal(fields["date"], &s) == nil {
		e.Date = &s
	}
	if n, ok := intFrom(fields["chartLimit"]); ok {
		e.ChartLimit = &n
	}
	return e
}

// idFrom accepts ids written as strings or numbers.
func idFrom(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// intFrom reads a whole number written as a JSON number or a numeric
// string. Fractions and values outside the int range are rejected.
func intFrom(raw json.RawMessage) (int, bool) {
	if !present(raw) {
		return 0, false
	}
	var f float64
	if json.Unmarshal(raw, &f) != nil {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return 0, false
		}
		n, err := strconv.Atoi(s)
		return n, err == nil
	}
	if f != math.Trunc(f) || f >= math.MaxInt || f < math.MinInt {
		return 0, false
	}
	return int(f), true
}

// Compare is the URL form of the compare selection.
type Compare struct {
	Enabled bool    `json:"enabled"`
	Left    string  `json:"left"`
	Right   string  `json:"right"`
	Pos     float64 `json:"pos"`
}

// Ready reports whether both sides are chosen and distinct.
func (c Compare) Ready() bool {
	return c.Enabled && c.Left != "" && c.Right != "" && c.Left != c.Right
}

// EncodeCompare renders c, or "" when the comparison is not ready.
func EncodeCompare(c Compare) string {
	if !c.Ready() {
		return ""
	}
	b, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return string(b)
}

// DecodeCompare parses a compare parameter. The boolean is false for
// absent, malformed or not-ready values.
func DecodeCompare(raw string) (Compare, bool) {
	if raw == "" {
		return Compare{}, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return Compare{}, false
	}
	var c Compare
	_ = json.Unmarshal(fields["enabled"], &c.Enabled)
	c.Left = idFrom(fields["left"])
	c.Right = idFrom(fields["right"])
	if !present(fields["pos"]) || json.Unmarshal(fields["pos"], &c.Pos) != nil {
		c.Pos = 50
	}
	c.Pos = max(0, min(100, c.Pos))
	return c, c.Ready()
}
