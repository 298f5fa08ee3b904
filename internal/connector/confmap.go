package connector

import (
	"strconv"
	"strings"
)

// Source configs arrive as untyped maps from the scheduler. Every lookup
// accepts both the snake_case key and its camelCase spelling. Unknown or
// invalid values fall back to documented defaults; only genuinely required
// fields fail the parse.

func camelKey(snake string) string {
	parts := strings.Split(snake, "_")
	if len(parts) == 1 {
		return snake
	}
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

func cfgValue(m map[string]any, key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	if v, ok := m[key]; ok {
		return v, true
	}
	if v, ok := m[camelKey(key)]; ok {
		return v, true
	}
	return nil, false
}

// GetString reads a string knob, falling back to def.
func GetString(m map[string]any, key, def string) string {
	v, ok := cfgValue(m, key)
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return def
	}
	return strings.TrimSpace(s)
}

// RequireString reads a required string knob; absence is a setup error.
func RequireString(m map[string]any, key, sourceType string) (string, error) {
	s := GetString(m, key, "")
	if s == "" {
		return "", Setupf("%s: config field %q is required", sourceType, key)
	}
	return s, nil
}

// GetInt reads an integer knob. JSON and YAML decoders hand numbers over as
// float64, int, or int64; strings holding digits are tolerated too.
func GetInt(m map[string]any, key string, def int) int {
	v, ok := cfgValue(m, key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return parsed
		}
	}
	return def
}

// ClampInt reads an integer knob and clamps it to [min, max].
func ClampInt(m map[string]any, key string, def, min, max int) int {
	n := GetInt(m, key, def)
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// GetFloat reads a float knob.
func GetFloat(m map[string]any, key string, def float64) float64 {
	v, ok := cfgValue(m, key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return parsed
		}
	}
	return def
}

// ClampFloat reads a float knob and clamps it to [min, max].
func ClampFloat(m map[string]any, key string, def, min, max float64) float64 {
	f := GetFloat(m, key, def)
	if f < min {
		return min
	}
	if f > max {
		return max
	}
	return f
}

// GetBool reads a boolean knob.
func GetBool(m map[string]any, key string, def bool) bool {
	v, ok := cfgValue(m, key)
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
			return parsed
		}
	}
	return def
}

// GetStringSlice reads a list knob. Accepts []string, []any of strings, or
// a comma-separated string. Empty entries are dropped.
func GetStringSlice(m map[string]any, key string) []string {
	v, ok := cfgValue(m, key)
	if !ok {
		return nil
	}
	var out []string
	appendTrimmed := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	switch list := v.(type) {
	case []string:
		for _, s := range list {
			appendTrimmed(s)
		}
	case []any:
		for _, e := range list {
			if s, ok := e.(string); ok {
				appendTrimmed(s)
			}
		}
	case string:
		for _, s := range strings.Split(list, ",") {
			appendTrimmed(s)
		}
	}
	return out
}

// GetEnum reads a string knob restricted to allowed values; anything else
// falls back to def rather than failing the whole fetch.
func GetEnum(m map[string]any, key, def string, allowed ...string) string {
	s := GetString(m, key, def)
	for _, a := range allowed {
		if s == a {
			return s
		}
	}
	return def
}
