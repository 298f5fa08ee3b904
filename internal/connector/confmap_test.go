package connector

import (
	"reflect"
	"testing"
)

func TestCfgValue_SnakeAndCamel(t *testing.T) {
	m := map[string]any{
		"max_items": 10,
		"feedUrl":   "https://example.com/feed.xml",
	}

	if got := GetInt(m, "max_items", 0); got != 10 {
		t.Errorf("snake key: got %d, want 10", got)
	}
	if got := GetString(m, "feed_url", ""); got != "https://example.com/feed.xml" {
		t.Errorf("camel fallback: got %q", got)
	}
}

func TestGetInt_NumericShapes(t *testing.T) {
	tests := []struct {
		name string
		val  any
		want int
	}{
		{"int", 7, 7},
		{"int64", int64(8), 8},
		{"float64", float64(9), 9},
		{"string digits", " 11 ", 11},
		{"garbage string", "many", 5},
		{"bool", true, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := map[string]any{"n": tt.val}
			if got := GetInt(m, "n", 5); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestClampInt(t *testing.T) {
	tests := []struct {
		name string
		val  any
		want int
	}{
		{"above max", 500, 200},
		{"below min", 0, 1},
		{"negative", -3, 1},
		{"in range", 50, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := map[string]any{"max_items": tt.val}
			if got := ClampInt(m, "max_items", 25, 1, 200); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}

	if got := ClampInt(nil, "max_items", 25, 1, 200); got != 25 {
		t.Errorf("missing key: got %d, want default 25", got)
	}
}

func TestClampFloat(t *testing.T) {
	m := map[string]any{"delta": 0.9}
	if got := ClampFloat(m, "delta", 0.1, 0.01, 0.5); got != 0.5 {
		t.Errorf("got %v, want 0.5", got)
	}
	if got := ClampFloat(nil, "delta", 0.1, 0.01, 0.5); got != 0.1 {
		t.Errorf("missing key: got %v, want 0.1", got)
	}
}

func TestRequireString(t *testing.T) {
	if _, err := RequireString(nil, "feed_url", "podcast"); !IsSetup(err) {
		t.Fatalf("expected setup error, got %v", err)
	}

	got, err := RequireString(map[string]any{"feed_url": "x"}, "feed_url", "podcast")
	if err != nil || got != "x" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestGetStringSlice(t *testing.T) {
	tests := []struct {
		name string
		val  any
		want []string
	}{
		{"string slice", []string{"a", " b ", ""}, []string{"a", "b"}},
		{"any slice", []any{"a", 3, "c"}, []string{"a", "c"}},
		{"comma string", "a, b,,c", []string{"a", "b", "c"}},
		{"wrong type", 42, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := map[string]any{"list": tt.val}
			if got := GetStringSlice(m, "list"); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnum(t *testing.T) {
	m := map[string]any{"listing": "hot"}
	if got := GetEnum(m, "listing", "new", "new", "hot", "top"); got != "hot" {
		t.Errorf("got %q, want hot", got)
	}

	m["listing"] = "controversial"
	if got := GetEnum(m, "listing", "new", "new", "hot", "top"); got != "new" {
		t.Errorf("unknown value: got %q, want default new", got)
	}
}

func TestGetBool(t *testing.T) {
	m := map[string]any{"a": true, "b": "false", "c": "nope"}
	if !GetBool(m, "a", false) {
		t.Error("a: want true")
	}
	if GetBool(m, "b", true) {
		t.Error("b: want false")
	}
	if !GetBool(m, "c", true) {
		t.Error("c: invalid string should fall back to default")
	}
}
