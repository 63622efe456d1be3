// Package util registers small generator utilities. All are pure
// computations; none produce downloadable artifacts.
package util

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"github.com/snapconvert/snapconvert/core/registry"
)

const (
	lowerChars  = "abcdefghijklmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digitChars  = "0123456789"
	symbolChars = "!@#$%^&*()-_=+[]{};:,.<>?"
)

// Register adds all utility operations to the registry.
func Register(r *registry.Registry) error {
	specs := []*registry.OperationSpec{
		{
			ID:    "util.passwordGenerator",
			Arity: registry.ArityNone,
			Kind:  registry.Compute,
			ParamSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"length":         map[string]any{"type": "integer", "minimum": 4, "maximum": 128},
					"includeUpper":   map[string]any{"type": "boolean"},
					"includeDigits":  map[string]any{"type": "boolean"},
					"includeSymbols": map[string]any{"type": "boolean"},
				},
			},
			Handler: passwordGenerator,
		},
		{
			ID:    "util.uuidGenerator",
			Arity: registry.ArityNone,
			Kind:  registry.Compute,
			ParamSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"count": map[string]any{"type": "integer", "minimum": 1, "maximum": 100},
				},
			},
			Handler: uuidGenerator,
		},
	}
	for _, spec := range specs {
		if err := r.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

func passwordGenerator(ctx context.Context, req *registry.Request) (*registry.OutputSet, error) {
	length := intParam(req.Params, "length", 16)
	alphabet := lowerChars
	if boolParam(req.Params, "includeUpper", true) {
		alphabet += upperChars
	}
	if boolParam(req.Params, "includeDigits", true) {
		alphabet += digitChars
	}
	if boolParam(req.Params, "includeSymbols", false) {
		alphabet += symbolChars
	}

	out := make([]byte, length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return nil, fmt.Errorf("random source: %w", err)
		}
		out[i] = alphabet[n.Int64()]
	}
	return &registry.OutputSet{Stats: map[string]any{
		"password": string(out),
		"length":   length,
	}}, nil
}

func uuidGenerator(ctx context.Context, req *registry.Request) (*registry.OutputSet, error) {
	count := intParam(req.Params, "count", 1)
	ids := make([]string, count)
	for i := range ids {
		ids[i] = uuid.NewString()
	}
	return &registry.OutputSet{Stats: map[string]any{
		"uuids": ids,
		"count": count,
	}}, nil
}

func intParam(params map[string]any, key string, fallback int) int {
	if f, ok := params[key].(float64); ok {
		return int(f)
	}
	return fallback
}

func boolParam(params map[string]any, key string, fallback bool) bool {
	if b, ok := params[key].(bool); ok {
		return b
	}
	return fallback
}
