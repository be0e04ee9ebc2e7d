package ruleengine

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/guregu/null/v5"
)

// undefined marks a path that did not resolve. It is distinct from JSON null.
type undefined struct{}

// Undefined is the value of a missing path.
var Undefined any = undefined{}

func isUndefined(v any) bool {
	_, ok := v.(undefined)
	return ok
}

const requestAlias = "request."

// Context is the immutable runtime context a condition is evaluated against.
// Values are JSON-shaped: float64, string, bool, nil, []any and map[string]any.
type Context struct {
	root map[string]any
}

// NewContext builds a context from an arbitrary document. Values are normalized
// to their JSON shape.
func NewContext(root map[string]any) Context {
	m, _ := normalize(root).(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	return Context{root: m}
}

// NewBookingContext builds the context for booking-scope rules.
// "booking" and "request" refer to the same object.
func NewBookingContext(b Booking) Context {
	booking := bookingFacts(b)
	return Context{root: map[string]any{
		"booking": booking,
		"request": booking,
	}}
}

// NewResourceContext builds the context for resource and pair scope rules:
// the booking, one resource and the role assigned to it.
func NewResourceContext(b Booking, r Resource, role null.String) Context {
	booking := bookingFacts(b)

	var roleValue any
	if role.Valid {
		roleValue = role.String
	}

	return Context{root: map[string]any{
		"booking":  booking,
		"request":  booking,
		"resource": resourceFacts(r),
		"pair": map[string]any{
			"resource_id": float64(r.ID),
			"role":        roleValue,
		},
	}}
}

func bookingFacts(b Booking) map[string]any {
	facts := make(map[string]any, len(b.Attributes)+4)
	for k, v := range b.Attributes {
		facts[k] = normalize(v)
	}
	facts["date"] = b.Date
	facts["start_time"] = b.StartTime
	facts["end_time"] = b.EndTime
	facts["user_id"] = float64(b.UserID)
	return facts
}

func resourceFacts(r Resource) map[string]any {
	metadata, _ := normalize(r.Metadata).(map[string]any)
	if metadata == nil {
		metadata = map[string]any{}
	}
	return map[string]any{
		"id":               float64(r.ID),
		"name":             r.Name,
		"resource_type_id": float64(r.TypeID),
		"resource_type":    r.TypeName,
		"active":           r.Active,
		"metadata":         metadata,
	}
}

// RewritePath translates the "request." alias to "booking.".
func RewritePath(path string) string {
	if rest, ok := strings.CutPrefix(path, requestAlias); ok {
		return "booking." + rest
	}
	return path
}

// Lookup resolves a dot path against the context. Any missing segment yields
// Undefined. Array elements are addressed by index and arrays and strings
// expose "length".
func (c Context) Lookup(path string) any {
	path = RewritePath(path)
	if path == "" {
		return Undefined
	}

	var cur any = c.root
	for _, seg := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return Undefined
			}
			cur = next
		case []any:
			if seg == "length" {
				cur = float64(len(v))
				continue
			}
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(v) {
				return Undefined
			}
			cur = v[i]
		case string:
			if seg != "length" {
				return Undefined
			}
			cur = float64(len([]rune(v)))
		default:
			return Undefined
		}
	}
	return cur
}

// normalize converts Go values into their JSON shape so the operators only
// deal with float64, string, bool, nil, []any and map[string]any.
func normalize(v any) any {
	switch t := v.(type) {
	case nil, bool, string, float64, undefined:
		return t
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	}

	// Anything else goes through a JSON round trip.
	raw, err := json.Marshal(v)
	if err != nil {
		return Undefined
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return Undefined
	}
	return out
}
