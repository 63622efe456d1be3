package assets

import (
	"errors"
	"io"
)

// ErrTooLarge indicates an upload exceeded its declared ceiling while being
// written to disk.
var ErrTooLarge = errors.New("asset_too_large")

// Uploaded is one received file for the duration of a request. It is owned
// by the request that created it and removed when the request finishes.
type Uploaded struct {
	Path         string
	OriginalName string
	MediaType    string
	SizeBytes    int64
}

// Output is one file produced by an operation handler.
type Output struct {
	Path          string
	SuggestedName string
	SizeBytes     int64
}

// Deliverable is the single artifact handed to the grant manager: either a
// lone output or an archive of several.
type Deliverable struct {
	Path      string
	FileName  string
	SizeBytes int64
}

// Store abstracts the ephemeral directory tree so pipeline logic never
// touches the filesystem layout directly. Naming and collision rules live
// behind this interface.
type Store interface {
	// UploadDir returns the request-scoped upload directory, creating it
	// if needed.
	UploadDir(requestID string) (string, error)
	// WorkDir returns the request-scoped processing directory for handler
	// outputs, creating it if needed.
	WorkDir(requestID string) (string, error)
	// DeliveryDir creates the isolated delivery directory for a grant.
	// The directory must not already exist.
	DeliveryDir(grantID string) (string, error)
	// SaveUpload streams content into the request's upload directory under
	// a collision-resistant name. Returns ErrTooLarge when the stream
	// exceeds limit bytes.
	SaveUpload(requestID, originalName string, r io.Reader, limit int64) (Uploaded, error)
	// Copy duplicates src's bytes to dst, creating parent directories.
	Copy(src, dst string) (int64, error)
	// RemoveRequest deletes the upload and work directories of a request.
	// Best effort; returns the number of paths that could not be removed.
	RemoveRequest(requestID string) int
	// RemoveDelivery deletes a grant's delivery directory recursively.
	RemoveDelivery(grantID string) error
	// DeliveryPath computes where a grant's file would live without
	// touching the filesystem.
	DeliveryPath(grantID, fileName string) string
}
