// Package text registers the text tools: counters, case conversion,
// hashing, and base64. Most are pure computations that return statistics
// without producing a deliverable.
package text

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/snapconvert/snapconvert/core/assets"
	"github.com/snapconvert/snapconvert/core/registry"
)

// Register adds all text operations to the registry.
func Register(r *registry.Registry) error {
	specs := []*registry.OperationSpec{
		{
			ID:      "text.wordCounter",
			Arity:   registry.ArityText,
			Kind:    registry.Compute,
			Handler: wordCounter,
		},
		{
			ID:           "text.caseConverter",
			Arity:        registry.ArityText,
			Kind:         registry.Transform,
			ResultPrefix: "converted-",
			ParamSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"mode": map[string]any{
						"type": "string",
						"enum": []any{"upper", "lower", "title", "sentence"},
					},
				},
				"required": []any{"mode"},
			},
			Handler: caseConverter,
		},
		{
			ID:    "text.hashGenerator",
			Arity: registry.ArityText,
			Kind:  registry.Compute,
			ParamSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"algorithm": map[string]any{
						"type": "string",
						"enum": []any{"md5", "sha1", "sha256", "sha512"},
					},
				},
				"required": []any{"algorithm"},
			},
			Handler: hashGenerator,
		},
		{
			ID:    "text.base64",
			Arity: registry.ArityText,
			Kind:  registry.Compute,
			ParamSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"direction": map[string]any{
						"type": "string",
						"enum": []any{"encode", "decode"},
					},
				},
			},
			Handler: base64Codec,
		},
	}
	for _, spec := range specs {
		if err := r.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

func wordCounter(ctx context.Context, req *registry.Request) (*registry.OutputSet, error) {
	words := strings.Fields(req.Text)
	lines := strings.Count(req.Text, "\n") + 1
	sentences := 0
	for _, r := range req.Text {
		if r == '.' || r == '!' || r == '?' {
			sentences++
		}
	}
	charsNoSpace := 0
	for _, r := range req.Text {
		if !unicode.IsSpace(r) {
			charsNoSpace++
		}
	}
	paragraphs := 0
	for _, block := range strings.Split(req.Text, "\n\n") {
		if strings.TrimSpace(block) != "" {
			paragraphs++
		}
	}
	return &registry.OutputSet{Stats: map[string]any{
		"words":                   len(words),
		"characters":              len([]rune(req.Text)),
		"charactersWithoutSpaces": charsNoSpace,
		"lines":                   lines,
		"sentences":               sentences,
		"paragraphs":              paragraphs,
	}}, nil
}

func caseConverter(ctx context.Context, req *registry.Request) (*registry.OutputSet, error) {
	mode, _ := req.Params["mode"].(string)
	var converted string
	switch mode {
	case "upper":
		converted = strings.ToUpper(req.Text)
	case "lower":
		converted = strings.ToLower(req.Text)
	case "title":
		converted = toTitle(req.Text)
	case "sentence":
		converted = toSentence(req.Text)
	default:
		return nil, fmt.Errorf("unknown case mode %q", mode)
	}

	path := filepath.Join(req.WorkDir, "text.txt")
	if err := os.WriteFile(path, []byte(converted), 0o644); err != nil {
		return nil, fmt.Errorf("write result: %w", err)
	}
	return &registry.OutputSet{
		Outputs: []assets.Output{{Path: path, SuggestedName: "text.txt"}},
		Stats:   map[string]any{"mode": mode},
	}, nil
}

func hashGenerator(ctx context.Context, req *registry.Request) (*registry.OutputSet, error) {
	algorithm, _ := req.Params["algorithm"].(string)
	var h hash.Hash
	switch algorithm {
	case "md5":
		h = md5.New()
	case "sha1":
		h = sha1.New()
	case "sha256":
		h = sha256.New()
	case "sha512":
		h = sha512.New()
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", algorithm)
	}
	h.Write([]byte(req.Text))
	return &registry.OutputSet{Stats: map[string]any{
		"algorithm": algorithm,
		"hash":      hex.EncodeToString(h.Sum(nil)),
	}}, nil
}

func base64Codec(ctx context.Context, req *registry.Request) (*registry.OutputSet, error) {
	direction, _ := req.Params["direction"].(string)
	if direction == "" {
		direction = "encode"
	}
	switch direction {
	case "encode":
		return &registry.OutputSet{Stats: map[string]any{
			"direction": direction,
			"result":    base64.StdEncoding.EncodeToString([]byte(req.Text)),
		}}, nil
	case "decode":
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(req.Text))
		if err != nil {
			return nil, fmt.Errorf("invalid base64 input: %w", err)
		}
		return &registry.OutputSet{Stats: map[string]any{
			"direction": direction,
			"result":    string(decoded),
		}}, nil
	default:
		return nil, fmt.Errorf("unknown direction %q", direction)
	}
}

func toTitle(s string) string {
	var b strings.Builder
	startOfWord := true
	for _, r := range s {
		if unicode.IsSpace(r) {
			startOfWord = true
			b.WriteRune(r)
			continue
		}
		if startOfWord {
			b.WriteRune(unicode.ToUpper(r))
			startOfWord = false
		} else {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

func toSentence(s string) string {
	var b strings.Builder
	startOfSentence := true
	for _, r := range s {
		switch {
		case startOfSentence && unicode.IsLetter(r):
			b.WriteRune(unicode.ToUpper(r))
			startOfSentence = false
		case r == '.' || r == '!' || r == '?':
			b.WriteRune(r)
			startOfSentence = true
		default:
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}
