// Package pdf registers the PDF tools on top of pdfcpu: merge, split,
// compress, rotate, protect, unlock, and page extraction.
package pdf

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/snapconvert/snapconvert/core/assets"
	"github.com/snapconvert/snapconvert/core/registry"
)

var (
	pdfExts  = []string{".pdf"}
	pdfMIMEs = []string{"application/pdf"}
)

// Register adds all PDF operations to the registry.
func Register(r *registry.Registry) error {
	specs := []*registry.OperationSpec{
		{
			ID:            "pdf.merge",
			Arity:         registry.ArityMultiple,
			MinInputs:     2,
			ArityMessage:  "At least 2 PDF files required for merging",
			Kind:          registry.Transform,
			AcceptedExts:  pdfExts,
			AcceptedMIMEs: pdfMIMEs,
			Handler:       merge,
		},
		{
			ID:            "pdf.split",
			Arity:         registry.AritySingle,
			Kind:          registry.Transform,
			AcceptedExts:  pdfExts,
			AcceptedMIMEs: pdfMIMEs,
			ParamSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"pagesPerFile": map[string]any{"type": "integer", "minimum": 1},
				},
			},
			Handler: split,
		},
		{
			ID:            "pdf.compress",
			Arity:         registry.AritySingle,
			Kind:          registry.Transform,
			AcceptedExts:  pdfExts,
			AcceptedMIMEs: pdfMIMEs,
			ResultPrefix:  "compressed-",
			Handler:       compress,
		},
		{
			ID:            "pdf.rotate",
			Arity:         registry.AritySingle,
			Kind:          registry.Transform,
			AcceptedExts:  pdfExts,
			AcceptedMIMEs: pdfMIMEs,
			ResultPrefix:  "rotated-",
			ParamSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"rotation": map[string]any{
						"type": "integer",
						"enum": []any{90, 180, 270},
					},
					"pages": map[string]any{"type": "string"},
				},
				"required": []any{"rotation"},
			},
			Handler: rotate,
		},
		{
			ID:            "pdf.protect",
			Arity:         registry.AritySingle,
			Kind:          registry.Transform,
			AcceptedExts:  pdfExts,
			AcceptedMIMEs: pdfMIMEs,
			ResultPrefix:  "protected-",
			ParamSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"password": map[string]any{
						"type":      "string",
						"minLength": 4,
						"maxLength": 64,
					},
				},
				"required": []any{"password"},
			},
			Handler: protect,
		},
		{
			ID:            "pdf.unlock",
			Arity:         registry.AritySingle,
			Kind:          registry.Transform,
			AcceptedExts:  pdfExts,
			AcceptedMIMEs: pdfMIMEs,
			ResultPrefix:  "unlocked-",
			ParamSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"password": map[string]any{"type": "string", "minLength": 1},
				},
				"required": []any{"password"},
			},
			Handler: unlock,
		},
		{
			ID:            "pdf.extractPages",
			Arity:         registry.AritySingle,
			Kind:          registry.Transform,
			AcceptedExts:  pdfExts,
			AcceptedMIMEs: pdfMIMEs,
			ResultPrefix:  "extracted-",
			ParamSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"pages": map[string]any{"type": "string", "minLength": 1},
				},
				"required": []any{"pages"},
			},
			Handler: extractPages,
		},
	}
	for _, spec := range specs {
		if err := r.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

func merge(ctx context.Context, req *registry.Request) (*registry.OutputSet, error) {
	paths := make([]string, len(req.Inputs))
	for i, in := range req.Inputs {
		paths[i] = in.Path
	}
	out := filepath.Join(req.WorkDir, "merged.pdf")
	if err := api.MergeCreateFile(paths, out, false, conf()); err != nil {
		return nil, fmt.Errorf("merge %d documents: %w", len(paths), err)
	}
	pages, err := api.PageCountFile(out)
	if err != nil {
		return nil, fmt.Errorf("count merged pages: %w", err)
	}
	return &registry.OutputSet{
		Outputs: []assets.Output{{Path: out, SuggestedName: "merged.pdf"}},
		Stats:   map[string]any{"pages": pages},
	}, nil
}

func split(ctx context.Context, req *registry.Request) (*registry.OutputSet, error) {
	in := req.Inputs[0]
	span := intParam(req.Params, "pagesPerFile", 1)
	dir := filepath.Join(req.WorkDir, "split")
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("split workspace: %w", err)
	}
	if err := api.SplitFile(in.Path, dir, span, conf()); err != nil {
		return nil, fmt.Errorf("split %s: %w", in.OriginalName, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list split parts: %w", err)
	}
	var outputs []assets.Output
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		outputs = append(outputs, assets.Output{
			Path:          filepath.Join(dir, e.Name()),
			SuggestedName: e.Name(),
		})
	}
	// pdfcpu names parts with a page ordinal suffix; sort on the number so
	// part 10 follows part 9 instead of part 1.
	sort.Slice(outputs, func(i, j int) bool {
		oi, oj := splitOrdinal(outputs[i].SuggestedName), splitOrdinal(outputs[j].SuggestedName)
		if oi != oj {
			return oi < oj
		}
		return outputs[i].SuggestedName < outputs[j].SuggestedName
	})
	return &registry.OutputSet{Outputs: outputs}, nil
}

// splitOrdinal extracts the starting page number pdfcpu appends to a split
// part's name (doc_2.pdf, doc_11-20.pdf). Names without one sort first.
func splitOrdinal(name string) int {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	i := strings.LastIndexByte(stem, '_')
	if i < 0 {
		return 0
	}
	digits := stem[i+1:]
	if j := strings.IndexByte(digits, '-'); j >= 0 {
		digits = digits[:j]
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}

func compress(ctx context.Context, req *registry.Request) (*registry.OutputSet, error) {
	in := req.Inputs[0]
	out := filepath.Join(req.WorkDir, baseName(in))
	if err := api.OptimizeFile(in.Path, out, conf()); err != nil {
		return nil, fmt.Errorf("optimize %s: %w", in.OriginalName, err)
	}
	return singleOutput(out, in), nil
}

func rotate(ctx context.Context, req *registry.Request) (*registry.OutputSet, error) {
	in := req.Inputs[0]
	rotation := intParam(req.Params, "rotation", 90)
	out := filepath.Join(req.WorkDir, baseName(in))
	if err := api.RotateFile(in.Path, out, rotation, pageSelection(req.Params), conf()); err != nil {
		return nil, fmt.Errorf("rotate %s by %d: %w", in.OriginalName, rotation, err)
	}
	return singleOutput(out, in), nil
}

func protect(ctx context.Context, req *registry.Request) (*registry.OutputSet, error) {
	in := req.Inputs[0]
	password, _ := req.Params["password"].(string)
	c := conf()
	c.UserPW = password
	c.OwnerPW = password
	out := filepath.Join(req.WorkDir, baseName(in))
	if err := api.EncryptFile(in.Path, out, c); err != nil {
		return nil, fmt.Errorf("encrypt %s: %w", in.OriginalName, err)
	}
	return singleOutput(out, in), nil
}

func unlock(ctx context.Context, req *registry.Request) (*registry.OutputSet, error) {
	in := req.Inputs[0]
	password, _ := req.Params["password"].(string)
	c := conf()
	c.UserPW = password
	c.OwnerPW = password
	out := filepath.Join(req.WorkDir, baseName(in))
	if err := api.DecryptFile(in.Path, out, c); err != nil {
		return nil, fmt.Errorf("decrypt %s: %w", in.OriginalName, err)
	}
	return singleOutput(out, in), nil
}

func extractPages(ctx context.Context, req *registry.Request) (*registry.OutputSet, error) {
	in := req.Inputs[0]
	pages := pageSelection(req.Params)
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages selected")
	}
	out := filepath.Join(req.WorkDir, baseName(in))
	if err := api.TrimFile(in.Path, out, pages, conf()); err != nil {
		return nil, fmt.Errorf("extract pages from %s: %w", in.OriginalName, err)
	}
	return singleOutput(out, in), nil
}

func conf() *model.Configuration {
	c := model.NewDefaultConfiguration()
	c.ValidationMode = model.ValidationRelaxed
	return c
}

func singleOutput(path string, in assets.Uploaded) *registry.OutputSet {
	return &registry.OutputSet{Outputs: []assets.Output{{
		Path:          path,
		SuggestedName: assets.SanitizeName(in.OriginalName),
	}}}
}

func baseName(in assets.Uploaded) string {
	return assets.SanitizeName(in.OriginalName)
}

// pageSelection turns a "1-3,5" style parameter into the range list the
// underlying library expects. Empty means every page.
func pageSelection(params map[string]any) []string {
	raw, _ := params["pages"].(string)
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func intParam(params map[string]any, key string, fallback int) int {
	if f, ok := params[key].(float64); ok {
		return int(f)
	}
	return fallback
}
