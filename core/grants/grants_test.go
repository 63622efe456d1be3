package grants

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/snapconvert/snapconvert/core/assets"
)

func testManager(t *testing.T, retention time.Duration) (*Manager, *MemoryIndex, *assets.LocalStore) {
	t.Helper()
	store, err := assets.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	index := NewMemoryIndex()
	return NewManager(index, store, retention), index, store
}

func testDeliverable(t *testing.T, content string) *assets.Deliverable {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.pdf")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write deliverable: %v", err)
	}
	return &assets.Deliverable{Path: path, FileName: "merged-out.pdf", SizeBytes: int64(len(content))}
}

func TestIssueAndResolve(t *testing.T) {
	mgr, _, _ := testManager(t, time.Minute)
	g, err := mgr.Issue(context.Background(), testDeliverable(t, "pdf bytes"))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if g.ID == "" || g.FileName != "merged-out.pdf" {
		t.Fatalf("unexpected grant: %+v", g)
	}

	path, got, err := mgr.Resolve(context.Background(), g.ID, g.FileName)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.SizeBytes != int64(len("pdf bytes")) {
		t.Fatalf("unexpected size: %d", got.SizeBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "pdf bytes" {
		t.Fatalf("unexpected delivery content: %q err=%v", data, err)
	}
}

func TestIssueCopiesInsteadOfMoving(t *testing.T) {
	mgr, _, _ := testManager(t, time.Minute)
	d := testDeliverable(t, "still here")
	if _, err := mgr.Issue(context.Background(), d); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := os.Stat(d.Path); err != nil {
		t.Fatalf("origin deliverable should survive issuance: %v", err)
	}
}

func TestResolveWrongFileName(t *testing.T) {
	mgr, _, _ := testManager(t, time.Minute)
	g, err := mgr.Issue(context.Background(), testDeliverable(t, "x"))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, _, err := mgr.Resolve(context.Background(), g.ID, "other.pdf"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for wrong name, got %v", err)
	}
}

func TestResolveUnknownGrant(t *testing.T) {
	mgr, _, _ := testManager(t, time.Minute)
	if _, _, err := mgr.Resolve(context.Background(), "nope", "f.pdf"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLogicalExpiryBeforePhysicalDeletion(t *testing.T) {
	mgr, index, _ := testManager(t, time.Minute)
	now := time.Now()
	mgr.SetClock(func() time.Time { return now })
	index.SetClock(func() time.Time { return now })

	g, err := mgr.Issue(context.Background(), testDeliverable(t, "x"))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, _, err := mgr.Resolve(context.Background(), g.ID, g.FileName); err != nil {
		t.Fatalf("resolve before expiry: %v", err)
	}

	// Advance past expiry without deleting anything on disk.
	now = now.Add(2 * time.Minute)
	if _, _, err := mgr.Resolve(context.Background(), g.ID, g.FileName); err != ErrNotFound {
		t.Fatalf("expected logical expiry, got %v", err)
	}
}

func TestDeliveryIsolation(t *testing.T) {
	mgr, _, _ := testManager(t, time.Minute)
	a, err := mgr.Issue(context.Background(), testDeliverable(t, "a"))
	if err != nil {
		t.Fatalf("issue a: %v", err)
	}
	b, err := mgr.Issue(context.Background(), testDeliverable(t, "b"))
	if err != nil {
		t.Fatalf("issue b: %v", err)
	}
	pa, _, _ := mgr.Resolve(context.Background(), a.ID, a.FileName)
	pb, _, _ := mgr.Resolve(context.Background(), b.ID, b.FileName)
	if filepath.Dir(pa) == filepath.Dir(pb) {
		t.Fatalf("grants share a delivery directory: %s", filepath.Dir(pa))
	}
}

func TestOnIssueCallback(t *testing.T) {
	mgr, _, _ := testManager(t, time.Minute)
	var seen []Grant
	mgr.OnIssue(func(g Grant) { seen = append(seen, g) })
	if _, err := mgr.Issue(context.Background(), testDeliverable(t, "x")); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(seen) != 1 {
		t.Fatalf("expected one callback, got %d", len(seen))
	}
}
