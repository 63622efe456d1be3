package text

import (
	"context"
	"os"
	"testing"

	"github.com/snapconvert/snapconvert/core/registry"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	if err := Register(r); err != nil {
		t.Fatalf("register: %v", err)
	}
	return r
}

func run(t *testing.T, r *registry.Registry, id, text string, params map[string]any) *registry.OutputSet {
	t.Helper()
	spec, err := r.Lookup(id)
	if err != nil {
		t.Fatalf("lookup %s: %v", id, err)
	}
	out, err := spec.Handler(context.Background(), &registry.Request{
		Text:    text,
		Params:  params,
		WorkDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("run %s: %v", id, err)
	}
	return out
}

func TestWordCounter(t *testing.T) {
	out := run(t, testRegistry(t), "text.wordCounter", "Hello world. This is fine!\n\nNew paragraph here.", nil)
	if out.Stats["words"] != 8 {
		t.Fatalf("unexpected word count: %v", out.Stats["words"])
	}
	if out.Stats["sentences"] != 3 {
		t.Fatalf("unexpected sentence count: %v", out.Stats["sentences"])
	}
	if out.Stats["paragraphs"] != 2 {
		t.Fatalf("unexpected paragraph count: %v", out.Stats["paragraphs"])
	}
	if len(out.Outputs) != 0 {
		t.Fatalf("word counter should not produce outputs")
	}
}

func TestCaseConverter(t *testing.T) {
	cases := map[string]string{
		"upper":    "HELLO WORLD. SECOND BIT.",
		"lower":    "hello world. second bit.",
		"title":    "Hello World. Second Bit.",
		"sentence": "Hello world. Second bit.",
	}
	r := testRegistry(t)
	for mode, want := range cases {
		out := run(t, r, "text.caseConverter", "heLLo wOrld. sEcond bIt.", map[string]any{"mode": mode})
		if len(out.Outputs) != 1 {
			t.Fatalf("mode %s: expected one output", mode)
		}
		data, err := os.ReadFile(out.Outputs[0].Path)
		if err != nil {
			t.Fatalf("read output: %v", err)
		}
		if string(data) != want {
			t.Fatalf("mode %s: got %q, want %q", mode, data, want)
		}
	}
}

func TestHashGenerator(t *testing.T) {
	out := run(t, testRegistry(t), "text.hashGenerator", "abc", map[string]any{"algorithm": "sha256"})
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if out.Stats["hash"] != want {
		t.Fatalf("unexpected sha256: %v", out.Stats["hash"])
	}
}

func TestHashGeneratorRejectsUnknownAlgorithm(t *testing.T) {
	r := testRegistry(t)
	spec, _ := r.Lookup("text.hashGenerator")
	// The schema whitelist rejects before the handler would.
	if err := spec.ValidateParams(map[string]any{"algorithm": "crc32"}); err == nil {
		t.Fatalf("expected whitelist rejection")
	}
}

func TestBase64RoundTrip(t *testing.T) {
	r := testRegistry(t)
	encoded := run(t, r, "text.base64", "snap convert", map[string]any{"direction": "encode"})
	decoded := run(t, r, "text.base64", encoded.Stats["result"].(string), map[string]any{"direction": "decode"})
	if decoded.Stats["result"] != "snap convert" {
		t.Fatalf("round trip failed: %v", decoded.Stats["result"])
	}
}

func TestBase64DecodeInvalid(t *testing.T) {
	r := testRegistry(t)
	spec, _ := r.Lookup("text.base64")
	_, err := spec.Handler(context.Background(), &registry.Request{
		Text:   "!!! not base64 !!!",
		Params: map[string]any{"direction": "decode"},
	})
	if err == nil {
		t.Fatalf("expected decode failure")
	}
}
