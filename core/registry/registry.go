package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/snapconvert/snapconvert/core/assets"
	"github.com/snapconvert/snapconvert/core/infra/schema"
)

var (
	// ErrUnknownOperation indicates a lookup for an id nothing registered.
	ErrUnknownOperation = errors.New("unknown_operation")
	// ErrDuplicateOperation indicates two specs registered the same id.
	ErrDuplicateOperation = errors.New("duplicate_operation")
)

// Arity declares how many inputs an operation consumes.
type Arity int

const (
	// AritySingle takes exactly one uploaded file.
	AritySingle Arity = iota
	// ArityMultiple takes MinInputs or more uploaded files.
	ArityMultiple
	// ArityText takes an inline text payload instead of files.
	ArityText
	// ArityNone takes parameters only, e.g. generators.
	ArityNone
)

func (a Arity) String() string {
	switch a {
	case AritySingle:
		return "single"
	case ArityMultiple:
		return "multiple"
	case ArityText:
		return "text"
	case ArityNone:
		return "none"
	default:
		return "unknown"
	}
}

// Kind separates operations that produce a deliverable from pure
// computations that only return statistics.
type Kind int

const (
	// Transform produces one or more output assets.
	Transform Kind = iota
	// Compute returns statistics only; no deliverable, no grant.
	Compute
)

// Request carries everything a handler needs for one invocation.
type Request struct {
	Inputs  []assets.Uploaded
	Text    string
	Params  map[string]any
	WorkDir string
}

// OutputSet is what a handler returns. Transform handlers fill Outputs;
// Compute handlers fill Stats. Stats on a Transform handler become
// operation-specific fields of the success response.
type OutputSet struct {
	Outputs []assets.Output
	Stats   map[string]any
}

// Handler executes one operation. It must honor ctx cancellation for
// long-running work and write output files only under req.WorkDir.
type Handler func(ctx context.Context, req *Request) (*OutputSet, error)

// OperationSpec is the immutable contract of one operation.
type OperationSpec struct {
	ID        string
	Family    string
	Arity     Arity
	MinInputs int
	// ArityMessage overrides the generic too-few-files rejection text.
	ArityMessage  string
	Kind          Kind
	AcceptedExts  []string
	AcceptedMIMEs []string
	// ResultPrefix is prepended to single-output file names ("merged-").
	ResultPrefix string
	// ParamSchema is an inline JSON schema for operation parameters.
	ParamSchema map[string]any
	Handler     Handler

	compiled *jsonschema.Schema
}

// AcceptsExt reports whether the spec accepts a lowercase file extension
// (including the leading dot).
func (s *OperationSpec) AcceptsExt(ext string) bool {
	for _, e := range s.AcceptedExts {
		if e == ext {
			return true
		}
	}
	return false
}

// AcceptsMIME reports whether a sniffed or declared media type is in the
// accepted set. Matching ignores parameters ("; charset=...").
func (s *OperationSpec) AcceptsMIME(mediaType string) bool {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	for _, m := range s.AcceptedMIMEs {
		if m == mt {
			return true
		}
	}
	return false
}

// ParamType returns the declared JSON-schema type of a parameter key, or
// the empty string when the schema says nothing about it.
func (s *OperationSpec) ParamType(key string) string {
	props, ok := s.ParamSchema["properties"].(map[string]any)
	if !ok {
		return ""
	}
	prop, ok := props[key].(map[string]any)
	if !ok {
		return ""
	}
	typ, _ := prop["type"].(string)
	return typ
}

// ValidateParams checks params against the spec's schema. Params must be
// JSON-shaped values; form-coerced values are normalized first.
func (s *OperationSpec) ValidateParams(params map[string]any) error {
	if s.compiled == nil {
		return nil
	}
	normalized, err := normalizeParams(params)
	if err != nil {
		return err
	}
	return s.compiled.Validate(normalized)
}

// Registry is the static operation table, read-only after startup.
type Registry struct {
	specs map[string]*OperationSpec
}

func New() *Registry {
	return &Registry{specs: make(map[string]*OperationSpec)}
}

// Register adds a spec. Duplicate ids and malformed specs are startup
// errors; nothing is registered at runtime.
func (r *Registry) Register(spec *OperationSpec) error {
	if spec == nil || spec.ID == "" {
		return fmt.Errorf("operation spec missing id")
	}
	if spec.Handler == nil {
		return fmt.Errorf("operation %s missing handler", spec.ID)
	}
	if _, exists := r.specs[spec.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateOperation, spec.ID)
	}
	if spec.Family == "" {
		if i := strings.Index(spec.ID, "."); i > 0 {
			spec.Family = spec.ID[:i]
		}
	}
	if spec.Arity == ArityMultiple && spec.MinInputs < 1 {
		spec.MinInputs = 1
	}
	if len(spec.ParamSchema) > 0 {
		compiled, err := schema.Compile(spec.ID, spec.ParamSchema)
		if err != nil {
			return fmt.Errorf("operation %s: %w", spec.ID, err)
		}
		spec.compiled = compiled
	}
	for i, ext := range spec.AcceptedExts {
		spec.AcceptedExts[i] = strings.ToLower(ext)
	}
	for i, m := range spec.AcceptedMIMEs {
		spec.AcceptedMIMEs[i] = strings.ToLower(m)
	}
	r.specs[spec.ID] = spec
	return nil
}

// MustRegister panics on registration failure. Operation tables are wired
// at startup where a bad spec is a programming error.
func (r *Registry) MustRegister(spec *OperationSpec) {
	if err := r.Register(spec); err != nil {
		panic(err)
	}
}

// Lookup resolves an operation id.
func (r *Registry) Lookup(id string) (*OperationSpec, error) {
	spec, ok := r.specs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperation, id)
	}
	return spec, nil
}

// List returns all specs sorted by id.
func (r *Registry) List() []*OperationSpec {
	out := make([]*OperationSpec, 0, len(r.specs))
	for _, spec := range r.specs {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Families returns the distinct families with registered operations.
func (r *Registry) Families() []string {
	seen := make(map[string]struct{})
	for _, spec := range r.specs {
		seen[spec.Family] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for fam := range seen {
		out = append(out, fam)
	}
	sort.Strings(out)
	return out
}

// normalizeParams round-trips params through JSON so the schema validator
// sees float64/string/bool shapes regardless of how values were coerced.
func normalizeParams(params map[string]any) (any, error) {
	if params == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}
	return out, nil
}
