package grants

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/snapconvert/snapconvert/core/assets"
	"github.com/snapconvert/snapconvert/core/infra/logging"
)

// ErrNotFound covers every unresolvable-grant case: never issued, expired,
// reclaimed, or wrong file name. Callers must not distinguish them.
var ErrNotFound = errors.New("grant_not_found")

// Grant is a time-limited, unguessable reference to a delivery location.
// It is single-location, not single-use: it resolves any number of times
// until expiry.
type Grant struct {
	ID        string    `json:"id"`
	FileName  string    `json:"file_name"`
	SizeBytes int64     `json:"size_bytes"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Index records live grants. Get must enforce logical expiry: a grant past
// its ExpiresAt is reported as ErrNotFound even if its files still exist.
type Index interface {
	Put(ctx context.Context, g Grant) error
	Get(ctx context.Context, id string) (Grant, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Manager issues grants and resolves them to delivery paths.
type Manager struct {
	index     Index
	store     assets.Store
	retention time.Duration
	now       func() time.Time
	// onIssue lets the cleanup scheduler register an expiry timer without
	// the two packages importing each other.
	onIssue func(Grant)
}

// NewManager wires a grant manager. retention is platform-wide policy and
// applies identically to every operation.
func NewManager(index Index, store assets.Store, retention time.Duration) *Manager {
	return &Manager{
		index:     index,
		store:     store,
		retention: retention,
		now:       time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// OnIssue registers a callback invoked for every issued grant.
func (m *Manager) OnIssue(fn func(Grant)) { m.onIssue = fn }

// Retention returns the fixed retention window.
func (m *Manager) Retention() time.Duration { return m.retention }

// Issue copies the deliverable into an isolated delivery directory and
// records the grant. The copy leaves the deliverable's origin intact so
// request cleanup stays independent of delivery cleanup.
func (m *Manager) Issue(ctx context.Context, d *assets.Deliverable) (Grant, error) {
	id := uuid.NewString()
	if _, err := m.store.DeliveryDir(id); err != nil {
		return Grant{}, fmt.Errorf("create delivery dir: %w", err)
	}
	dst := m.store.DeliveryPath(id, d.FileName)
	n, err := m.store.Copy(d.Path, dst)
	if err != nil {
		m.store.RemoveDelivery(id)
		return Grant{}, fmt.Errorf("copy deliverable: %w", err)
	}

	g := Grant{
		ID:        id,
		FileName:  assets.SanitizeName(d.FileName),
		SizeBytes: n,
		ExpiresAt: m.now().Add(m.retention),
	}
	if err := m.index.Put(ctx, g); err != nil {
		m.store.RemoveDelivery(id)
		return Grant{}, fmt.Errorf("record grant: %w", err)
	}
	if m.onIssue != nil {
		m.onIssue(g)
	}
	logging.Info("grants", "grant issued", "grant", id, "file", g.FileName, "expires_at", g.ExpiresAt.Format(time.RFC3339))
	return g, nil
}

// Resolve maps a grant id and file name to the delivery path. The logical
// expiry check runs before any filesystem access, and every failure mode
// collapses into ErrNotFound.
func (m *Manager) Resolve(ctx context.Context, id, fileName string) (string, Grant, error) {
	g, err := m.index.Get(ctx, id)
	if err != nil {
		return "", Grant{}, ErrNotFound
	}
	if !m.now().Before(g.ExpiresAt) {
		return "", Grant{}, ErrNotFound
	}
	if g.FileName != assets.SanitizeName(fileName) {
		return "", Grant{}, ErrNotFound
	}
	path := m.store.DeliveryPath(id, g.FileName)
	if _, err := os.Stat(path); err != nil {
		return "", Grant{}, ErrNotFound
	}
	return path, g, nil
}
