package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/snapconvert/snapconvert/core/assets"
	"github.com/snapconvert/snapconvert/core/infra/config"
	"github.com/snapconvert/snapconvert/core/infra/logging"
	"github.com/snapconvert/snapconvert/core/registry"
)

const multipartMemoryLimit = 32 << 20

// Intake is the validated input of one request: materialized uploads or an
// inline text payload, plus decoded parameters.
type Intake struct {
	RequestID string
	Inputs    []assets.Uploaded
	Text      string
	Params    map[string]any
	// Skipped lists original names of files rejected individually for
	// media-type mismatch. Non-empty Skipped with surviving inputs is a
	// partial success, not a failure.
	Skipped []string
}

// Receive validates the request against the operation contract and writes
// accepted files into request-scoped storage. Validation short-circuits on
// the first hard failure; nothing is written after one occurs.
func Receive(r *http.Request, spec *registry.OperationSpec, store assets.Store, limits *config.LimitsConfig) (*Intake, error) {
	in := &Intake{
		RequestID: uuid.NewString(),
		Params:    make(map[string]any),
	}
	lim := limits.ForFamily(spec.Family)

	switch spec.Arity {
	case registry.ArityText:
		if err := receiveText(r, lim, in); err != nil {
			return nil, err
		}
	case registry.ArityNone:
		if err := receiveParams(r, lim, in); err != nil {
			return nil, err
		}
	default:
		if err := receiveFiles(r, spec, store, lim, in); err != nil {
			store.RemoveRequest(in.RequestID)
			return nil, err
		}
	}

	if err := spec.ValidateParams(in.Params); err != nil {
		store.RemoveRequest(in.RequestID)
		return nil, validationf("Invalid parameters: %s", paramErrorReason(err))
	}
	return in, nil
}

// receiveParams decodes an optional JSON body of parameters for
// operations that take no input at all.
func receiveParams(r *http.Request, lim config.FamilyLimits, in *Intake) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, lim.MaxInputBytes))
	if err != nil {
		return validationf("Could not read request body")
	}
	if len(body) == 0 {
		return nil
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return validationf("Request body must be a JSON object")
	}
	for k, v := range payload {
		in.Params[k] = v
	}
	return nil
}

func receiveText(r *http.Request, lim config.FamilyLimits, in *Intake) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, lim.MaxInputBytes+1))
	if err != nil {
		return validationf("Could not read request body")
	}
	if int64(len(body)) > lim.MaxInputBytes {
		return validationf("Text payload exceeds %d bytes", lim.MaxInputBytes)
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return validationf("Request body must be JSON with a \"text\" field")
	}
	text, _ := payload["text"].(string)
	if strings.TrimSpace(text) == "" {
		return validationf("Text is required")
	}
	in.Text = text
	for k, v := range payload {
		if k != "text" {
			in.Params[k] = v
		}
	}
	return nil
}

func receiveFiles(r *http.Request, spec *registry.OperationSpec, store assets.Store, lim config.FamilyLimits, in *Intake) error {
	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		return validationf("Expected multipart form upload")
	}
	headers := fileHeaders(r)
	if len(headers) == 0 {
		return validationf("No file uploaded")
	}
	if spec.Arity == registry.AritySingle && len(headers) > 1 {
		return validationf("Operation accepts a single file, got %d", len(headers))
	}
	if spec.Arity == registry.ArityMultiple && len(headers) < spec.MinInputs {
		return arityError(spec)
	}

	for _, hdr := range headers {
		up, ok, err := saveIfAccepted(hdr, spec, store, lim, in.RequestID)
		if err != nil {
			return err
		}
		if !ok {
			in.Skipped = append(in.Skipped, hdr.Filename)
			continue
		}
		in.Inputs = append(in.Inputs, up)
	}

	if len(in.Inputs) == 0 {
		return validationf("No valid %s files in upload", strings.ToUpper(spec.Family))
	}
	if spec.Arity == registry.ArityMultiple && len(in.Inputs) < spec.MinInputs {
		return arityError(spec)
	}
	if len(in.Skipped) > 0 {
		logging.Info("intake", "skipped invalid files", "operation", spec.ID, "skipped", len(in.Skipped))
	}

	for key, vals := range r.MultipartForm.Value {
		if len(vals) == 0 {
			continue
		}
		in.Params[key] = coerceParam(spec, key, vals[0])
	}
	return nil
}

// saveIfAccepted materializes one upload when it passes the media-type
// checks. A false return means the file was individually rejected. The size
// ceiling applies to accepted files only.
func saveIfAccepted(hdr *multipart.FileHeader, spec *registry.OperationSpec, store assets.Store, lim config.FamilyLimits, requestID string) (assets.Uploaded, bool, error) {
	ext := strings.ToLower(filepath.Ext(hdr.Filename))
	if !spec.AcceptsExt(ext) {
		return assets.Uploaded{}, false, nil
	}
	declared := hdr.Header.Get("Content-Type")
	if declared != "" && declared != "application/octet-stream" && !spec.AcceptsMIME(declared) {
		return assets.Uploaded{}, false, nil
	}

	f, err := hdr.Open()
	if err != nil {
		return assets.Uploaded{}, false, validationf("Could not read uploaded file %s", assets.SanitizeName(hdr.Filename))
	}
	defer f.Close()

	up, err := store.SaveUpload(requestID, hdr.Filename, f, lim.MaxInputBytes)
	if err == assets.ErrTooLarge {
		return assets.Uploaded{}, false, validationf("File %s exceeds the %s limit", assets.SanitizeName(hdr.Filename), sizeLabel(lim.MaxInputBytes))
	}
	if err != nil {
		return assets.Uploaded{}, false, fmt.Errorf("%w: save upload: %v", ErrExecution, err)
	}

	// Browsers misreport content types, so the extension check above is
	// backed by content sniffing on what actually arrived.
	sniffed, err := sniffMediaType(up.Path)
	if err != nil {
		os.Remove(up.Path)
		return assets.Uploaded{}, false, fmt.Errorf("%w: sniff upload: %v", ErrExecution, err)
	}
	if sniffed != "application/octet-stream" && !spec.AcceptsMIME(sniffed) {
		os.Remove(up.Path)
		return assets.Uploaded{}, false, nil
	}
	up.MediaType = sniffed
	return up, true, nil
}

// sizeLabel renders a byte ceiling in the largest unit that divides it
// evenly, so sub-megabyte limits never truncate to "0 MB".
func sizeLabel(n int64) string {
	switch {
	case n >= 1<<20 && n%(1<<20) == 0:
		return fmt.Sprintf("%d MB", n>>20)
	case n >= 1<<10 && n%(1<<10) == 0:
		return fmt.Sprintf("%d KB", n>>10)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

func sniffMediaType(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return "", err
	}
	return http.DetectContentType(buf[:n]), nil
}

func fileHeaders(r *http.Request) []*multipart.FileHeader {
	if r.MultipartForm == nil {
		return nil
	}
	var out []*multipart.FileHeader
	for _, field := range []string{"files", "file"} {
		out = append(out, r.MultipartForm.File[field]...)
	}
	return out
}

func arityError(spec *registry.OperationSpec) error {
	if spec.ArityMessage != "" {
		return &ValidationError{Reason: spec.ArityMessage}
	}
	return validationf("At least %d files required", spec.MinInputs)
}

// coerceParam converts a form string into the JSON shape the operation's
// parameter schema declares for that key. Unknown keys stay strings.
func coerceParam(spec *registry.OperationSpec, key, raw string) any {
	switch spec.ParamType(key) {
	case "integer", "number":
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	case "boolean":
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
	}
	return raw
}

// paramErrorReason trims the verbose jsonschema error down to its first
// line so responses stay short.
func paramErrorReason(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i > 0 {
		msg = msg[:i]
	}
	return msg
}
