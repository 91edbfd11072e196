// Package headers validates inbound message headers.
package headers

import (
	"fmt"
	"slices"
	"strings"
)

// RequestID is the correlation header every inbound message must carry.
const RequestID = "requestId"

// RequiredFields lists the headers an inbound message must carry.
var RequiredFields = []string{RequestID}

// ValidationFailure describes why a header set was rejected.
type ValidationFailure struct {
	Missing []string
	Field   string
	Reason  string
}

func (f *ValidationFailure) Error() string {
	var b strings.Builder
	b.WriteString("invalid headers")
	if f.Reason != "" {
		b.WriteString(": ")
		b.WriteString(f.Reason)
	}
	if len(f.Missing) > 0 {
		fmt.Fprintf(&b, ", missing: [%s]", strings.Join(f.Missing, ", "))
	}
	if f.Field != "" {
		fmt.Fprintf(&b, " (field %s)", f.Field)
	}
	return b.String()
}

// Validate checks that h carries every required header. Non-strict mode only
// checks presence; strict mode also requires string-typed values. On success it
// returns the headers normalized to strings. Validate never panics.
func Validate(h map[string]any, strict bool) (map[string]string, *ValidationFailure) {
	if len(h) == 0 {
		return nil, &ValidationFailure{Missing: slices.Clone(RequiredFields), Reason: "empty headers"}
	}

	if missing := MissingFields(h); len(missing) > 0 {
		return nil, &ValidationFailure{Missing: missing}
	}

	normalized := make(map[string]string, len(h))
	for k, v := range h {
		if v == nil {
			continue
		}
		s, ok := asString(v)
		if !ok {
			if strict && slices.Contains(RequiredFields, k) {
				return nil, &ValidationFailure{Field: k, Reason: fmt.Sprintf("expected string, got %T", v)}
			}
			s = fmt.Sprint(v)
		}
		normalized[k] = s
	}
	return normalized, nil
}

// MissingFields returns the required headers absent from h, sorted. A
// required header holding an empty string counts as absent.
func MissingFields(h map[string]any) []string {
	var missing []string
	for _, field := range RequiredFields {
		v, ok := h[field]
		if !ok || v == nil {
			missing = append(missing, field)
			continue
		}
		if s, isStr := asString(v); isStr && s == "" {
			missing = append(missing, field)
		}
	}
	slices.Sort(missing)
	return missing
}

// FromStrings lifts string headers into the map Validate accepts.
func FromStrings(h map[string]string) map[string]any {
	out := make(map[string]any, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// FromPairs parses raw key/value header tuples, decoding byte values and
// skipping nil ones.
func FromPairs(pairs [][2][]byte) map[string]any {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		if p[1] == nil {
			continue
		}
		out[string(p[0])] = string(p[1])
	}
	return out
}

// Create builds outbound headers for requestID plus any extra entries.
func Create(requestID string, extra map[string]string) map[string]string {
	out := make(map[string]string, len(extra)+1)
	for k, v := range extra {
		out[k] = v
	}
	out[RequestID] = requestID
	return out
}

func asString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	default:
		return "", false
	}
}
