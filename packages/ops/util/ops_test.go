package util

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/snapconvert/snapconvert/core/registry"
)

func run(t *testing.T, id string, params map[string]any) *registry.OutputSet {
	t.Helper()
	r := registry.New()
	if err := Register(r); err != nil {
		t.Fatalf("register: %v", err)
	}
	spec, err := r.Lookup(id)
	if err != nil {
		t.Fatalf("lookup %s: %v", id, err)
	}
	out, err := spec.Handler(context.Background(), &registry.Request{Params: params})
	if err != nil {
		t.Fatalf("run %s: %v", id, err)
	}
	return out
}

func TestPasswordGeneratorDefaults(t *testing.T) {
	out := run(t, "util.passwordGenerator", nil)
	pw, _ := out.Stats["password"].(string)
	if len(pw) != 16 {
		t.Fatalf("default length: got %d", len(pw))
	}
	if strings.ContainsAny(pw, symbolChars) {
		t.Fatalf("symbols off by default, got %q", pw)
	}
}

func TestPasswordGeneratorAlphabet(t *testing.T) {
	out := run(t, "util.passwordGenerator", map[string]any{
		"length":         float64(64),
		"includeUpper":   false,
		"includeDigits":  false,
		"includeSymbols": false,
	})
	pw, _ := out.Stats["password"].(string)
	if len(pw) != 64 {
		t.Fatalf("length: got %d", len(pw))
	}
	for _, c := range pw {
		if !strings.ContainsRune(lowerChars, c) {
			t.Fatalf("unexpected character %q in lowercase-only password", c)
		}
	}
}

func TestUUIDGenerator(t *testing.T) {
	out := run(t, "util.uuidGenerator", map[string]any{"count": float64(5)})
	ids, _ := out.Stats["uuids"].([]string)
	if len(ids) != 5 {
		t.Fatalf("count: got %d", len(ids))
	}
	seen := make(map[string]bool)
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			t.Fatalf("invalid uuid %q: %v", id, err)
		}
		if seen[id] {
			t.Fatalf("duplicate uuid %q", id)
		}
		seen[id] = true
	}
}
