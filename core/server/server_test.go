package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/pdfcpu/pdfcpu/pkg/api"

	stdimage "image"
	"image/color"
	"image/png"

	"github.com/snapconvert/snapconvert/core/assets"
	"github.com/snapconvert/snapconvert/core/cleanup"
	"github.com/snapconvert/snapconvert/core/grants"
	"github.com/snapconvert/snapconvert/core/infra/config"
	"github.com/snapconvert/snapconvert/core/infra/metrics"
	"github.com/snapconvert/snapconvert/core/pipeline"
	"github.com/snapconvert/snapconvert/core/registry"
	imageops "github.com/snapconvert/snapconvert/packages/ops/image"
	pdfops "github.com/snapconvert/snapconvert/packages/ops/pdf"
	textops "github.com/snapconvert/snapconvert/packages/ops/text"
	utilops "github.com/snapconvert/snapconvert/packages/ops/util"
)

type testEnv struct {
	srv   *httptest.Server
	clock *cleanup.ManualClock
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := assets.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	reg := registry.New()
	for _, register := range []func(*registry.Registry) error{
		pdfops.Register, imageops.Register, textops.Register, utilops.Register,
	} {
		if err := register(reg); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	clock := cleanup.NewManualClock(time.Now())
	index := grants.NewMemoryIndex()
	index.SetClock(clock.Now)
	mgr := grants.NewManager(index, store, 4*time.Minute)
	mgr.SetClock(clock.Now)
	sched := cleanup.NewScheduler(store, index, clock, metrics.Noop{}, 5*time.Minute, 30*time.Minute)
	mgr.OnIssue(sched.ScheduleGrant)
	t.Cleanup(sched.Close)

	p := pipeline.New(reg, store, config.DefaultLimits(), mgr, metrics.Noop{})
	env := &testEnv{
		srv:   httptest.NewServer(New(p, metrics.Noop{}).Routes()),
		clock: clock,
	}
	t.Cleanup(env.srv.Close)
	return env
}

func pdfFixture(pages int) []byte {
	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", 3+i)
	}
	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pages),
	}
	for i := 0; i < pages; i++ {
		objs = append(objs, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>")
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, body := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objs)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

func pngFixture() []byte {
	img := stdimage.NewNRGBA(stdimage.Rect(0, 0, 32, 24))
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 8), G: uint8(y * 10), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

type upload struct {
	name        string
	contentType string
	data        []byte
}

func multipartBody(t *testing.T, uploads []upload, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, up := range uploads {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, up.name))
		hdr.Set("Content-Type", up.contentType)
		part, err := w.CreatePart(hdr)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := part.Write(up.data); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func postMultipart(t *testing.T, env *testEnv, path string, uploads []upload, fields map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	body, contentType := multipartBody(t, uploads, fields)
	resp, err := http.Post(env.srv.URL+path, contentType, body)
	if err != nil {
		t.Fatalf("post %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, decoded
}

func fetch(t *testing.T, env *testEnv, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(env.srv.URL + path)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func TestMergeEndToEnd(t *testing.T) {
	env := newEnv(t)
	resp, body := postMultipart(t, env, "/api/pdf/merge", []upload{
		{"a.pdf", "application/pdf", pdfFixture(2)},
		{"b.pdf", "application/pdf", pdfFixture(3)},
		{"c.pdf", "application/pdf", pdfFixture(1)},
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, body %v", resp.StatusCode, body)
	}
	downloadURL, _ := body["downloadUrl"].(string)
	if downloadURL == "" {
		t.Fatalf("missing downloadUrl in %v", body)
	}
	if body["pages"] != float64(6) {
		t.Fatalf("pages stat: %v", body["pages"])
	}

	dlResp, data := fetch(t, env, downloadURL)
	if dlResp.StatusCode != http.StatusOK {
		t.Fatalf("download status %d", dlResp.StatusCode)
	}
	merged := filepath.Join(t.TempDir(), "merged.pdf")
	if err := os.WriteFile(merged, data, 0o644); err != nil {
		t.Fatalf("write merged: %v", err)
	}
	pages, err := api.PageCountFile(merged)
	if err != nil {
		t.Fatalf("page count: %v", err)
	}
	if pages != 6 {
		t.Fatalf("merged page count: got %d, want 6", pages)
	}
}

func TestMergeRejectsSingleFile(t *testing.T) {
	env := newEnv(t)
	resp, body := postMultipart(t, env, "/api/pdf/merge", []upload{
		{"only.pdf", "application/pdf", pdfFixture(1)},
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.StatusCode)
	}
	if body["error"] != "At least 2 PDF files required for merging" {
		t.Fatalf("error message: %v", body["error"])
	}
}

func TestDisguisedTextFileRejected(t *testing.T) {
	env := newEnv(t)
	resp, body := postMultipart(t, env, "/api/image/resize", []upload{
		{"fake.jpg", "image/jpeg", []byte("this is plain text, not an image")},
	}, map[string]string{"width": "100"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.StatusCode)
	}
	if _, ok := body["downloadUrl"]; ok {
		t.Fatal("no grant should be issued for a rejected upload")
	}
	if body["error"] == nil {
		t.Fatalf("expected error message, got %v", body)
	}
}

func TestConvertBatchReturnsArchive(t *testing.T) {
	env := newEnv(t)
	var uploads []upload
	for _, name := range []string{"a.png", "b.png", "c.png", "d.png", "e.png"} {
		uploads = append(uploads, upload{name, "image/png", pngFixture()})
	}
	resp, body := postMultipart(t, env, "/api/image/convert", uploads, map[string]string{"outputFormat": "webp"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, body %v", resp.StatusCode, body)
	}
	downloadURL, _ := body["downloadUrl"].(string)
	if !strings.HasSuffix(downloadURL, ".zip") {
		t.Fatalf("expected archive delivery, got %q", downloadURL)
	}

	_, data := fetch(t, env, downloadURL)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	want := map[string]bool{"a.webp": true, "b.webp": true, "c.webp": true, "d.webp": true, "e.webp": true}
	if len(zr.File) != 5 {
		t.Fatalf("archive has %d entries, want 5", len(zr.File))
	}
	for _, f := range zr.File {
		if !want[f.Name] {
			t.Fatalf("unexpected archive entry %q", f.Name)
		}
	}
}

func TestGrantExpiresAfterRetention(t *testing.T) {
	env := newEnv(t)
	resp, body := postMultipart(t, env, "/api/pdf/compress", []upload{
		{"doc.pdf", "application/pdf", pdfFixture(1)},
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, body %v", resp.StatusCode, body)
	}
	downloadURL := body["downloadUrl"].(string)

	if dlResp, _ := fetch(t, env, downloadURL); dlResp.StatusCode != http.StatusOK {
		t.Fatalf("fresh grant status %d", dlResp.StatusCode)
	}

	env.clock.Advance(4*time.Minute + time.Second)

	dlResp, data := fetch(t, env, downloadURL)
	if dlResp.StatusCode != http.StatusNotFound {
		t.Fatalf("expired grant status %d, want 404", dlResp.StatusCode)
	}
	var errBody map[string]any
	if err := json.Unmarshal(data, &errBody); err != nil {
		t.Fatalf("decode 404 body: %v", err)
	}
	if errBody["error"] != "File not found or expired" {
		t.Fatalf("expired message: %v", errBody["error"])
	}
}

func TestWordCounterReturnsStatisticsOnly(t *testing.T) {
	env := newEnv(t)
	payload, _ := json.Marshal(map[string]any{"text": "one two three"})
	resp, err := http.Post(env.srv.URL+"/api/text/wordCounter", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, body %v", resp.StatusCode, body)
	}
	stats, ok := body["statistics"].(map[string]any)
	if !ok {
		t.Fatalf("missing statistics in %v", body)
	}
	if stats["words"] != float64(3) {
		t.Fatalf("word count: %v", stats["words"])
	}
	if _, ok := body["downloadUrl"]; ok {
		t.Fatal("computation-only operation must not issue a grant")
	}
}

func TestPasswordGeneratorWithoutBody(t *testing.T) {
	env := newEnv(t)
	resp, err := http.Post(env.srv.URL+"/api/util/passwordGenerator", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, body %v", resp.StatusCode, body)
	}
	stats, _ := body["statistics"].(map[string]any)
	if pw, _ := stats["password"].(string); len(pw) != 16 {
		t.Fatalf("default password length: %v", stats["password"])
	}
}

func TestUnknownOperationRejected(t *testing.T) {
	env := newEnv(t)
	resp, body := postMultipart(t, env, "/api/pdf/explode", []upload{
		{"doc.pdf", "application/pdf", pdfFixture(1)},
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", resp.StatusCode)
	}
	if body["error"] != "Unsupported operation" {
		t.Fatalf("error message: %v", body["error"])
	}
}

func TestListOperations(t *testing.T) {
	env := newEnv(t)
	resp, data := fetch(t, env, "/api/v1/operations")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var body struct {
		Operations []struct {
			ID      string `json:"id"`
			Family  string `json:"family"`
			Arity   string `json:"arity"`
			Compute bool   `json:"compute"`
		} `json:"operations"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	byID := make(map[string]string)
	for _, op := range body.Operations {
		byID[op.ID] = op.Arity
	}
	if byID["pdf.merge"] != "multiple" {
		t.Fatalf("pdf.merge arity: %q", byID["pdf.merge"])
	}
	if byID["text.wordCounter"] != "text" {
		t.Fatalf("text.wordCounter arity: %q", byID["text.wordCounter"])
	}
}

func TestHealth(t *testing.T) {
	env := newEnv(t)
	resp, data := fetch(t, env, "/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body["status"] != "healthy" {
		t.Fatalf("health body: %v", body)
	}
}
