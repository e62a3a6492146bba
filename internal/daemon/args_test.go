package daemon

import "testing"

func TestArgsString(t *testing.T) {
	args := Args{"name": "value", "count": float64(3)}

	s, err := args.String("name")
	if err != nil || s != "value" {
		t.Fatalf("expected value, got %q err=%v", s, err)
	}
	if _, err := args.String("missing"); err == nil || err.Error() != "missing is required" {
		t.Fatalf("expected missing is required, got %v", err)
	}
	if _, err := args.String("count"); err == nil || err.Error() != "count is not a string" {
		t.Fatalf("expected count is not a string, got %v", err)
	}

	s, err = args.OptionalString("missing")
	if err != nil || s != "" {
		t.Fatalf("optional missing string must be empty, got %q err=%v", s, err)
	}
	if _, err := args.OptionalString("count"); err == nil {
		t.Fatalf("optional present string still validates its type")
	}
}

func TestArgsBool(t *testing.T) {
	args := Args{"flag": true, "name": "x"}

	b, err := args.Bool("flag")
	if err != nil || !b {
		t.Fatalf("expected true, got %v err=%v", b, err)
	}
	if _, err := args.Bool("name"); err == nil {
		t.Fatalf("expected type error for non-bool")
	}
	b, err = args.OptionalBool("missing")
	if err != nil || b {
		t.Fatalf("optional missing bool must be false, got %v err=%v", b, err)
	}
}

func TestArgsIntCoercion(t *testing.T) {
	args := Args{
		"json":     float64(8080),
		"native":   42,
		"wide":     int64(7),
		"fraction": float64(1.5),
	}

	for key, want := range map[string]int{"json": 8080, "native": 42, "wide": 7} {
		n, err := args.Int(key)
		if err != nil || n != want {
			t.Fatalf("%s: expected %d, got %d err=%v", key, want, n, err)
		}
	}
	if _, err := args.Int("fraction"); err == nil {
		t.Fatalf("fractional float must not silently truncate")
	}
	if _, err := args.Int("missing"); err == nil {
		t.Fatalf("expected missing is required")
	}

	n, ok, err := args.OptionalInt("missing")
	if err != nil || ok || n != 0 {
		t.Fatalf("optional missing int must report absence, got %d %v %v", n, ok, err)
	}
	n, ok, err = args.OptionalInt("json")
	if err != nil || !ok || n != 8080 {
		t.Fatalf("optional present int must report presence, got %d %v %v", n, ok, err)
	}
}

func TestArgsListAndMap(t *testing.T) {
	args := Args{
		"items":  []any{"a", "b"},
		"nested": map[string]any{"k": "v"},
		"scalar": "x",
	}

	items, err := args.List("items")
	if err != nil || len(items) != 2 {
		t.Fatalf("expected 2 items, got %v err=%v", items, err)
	}
	items, err = args.List("missing")
	if err != nil || items != nil {
		t.Fatalf("missing list must be nil, got %v err=%v", items, err)
	}
	if _, err := args.List("scalar"); err == nil {
		t.Fatalf("expected type error for non-list")
	}

	nested, err := args.Map("nested")
	if err != nil {
		t.Fatalf("map failed: %v", err)
	}
	v, err := nested.String("k")
	if err != nil || v != "v" {
		t.Fatalf("nested lookup failed: %q err=%v", v, err)
	}
	if _, err := args.Map("scalar"); err == nil {
		t.Fatalf("expected type error for non-map")
	}
}
