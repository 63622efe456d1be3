package assets

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	uploadsDir   = "uploads"
	processedDir = "processed"
	downloadsDir = "downloads"
)

// LocalStore implements Store on a root directory with the layout
// uploads/<requestID>/, processed/<requestID>/, downloads/<grantID>/.
type LocalStore struct {
	root string
}

// NewLocalStore creates the three working roots under dir.
func NewLocalStore(dir string) (*LocalStore, error) {
	for _, sub := range []string{uploadsDir, processedDir, downloadsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create %s root: %w", sub, err)
		}
	}
	return &LocalStore{root: dir}, nil
}

// UploadsRoot returns the uploads root, used by the backstop sweep.
func (s *LocalStore) UploadsRoot() string { return filepath.Join(s.root, uploadsDir) }

// ProcessedRoot returns the processed root, used by the backstop sweep.
func (s *LocalStore) ProcessedRoot() string { return filepath.Join(s.root, processedDir) }

// DownloadsRoot returns the downloads root, used by the backstop sweep.
func (s *LocalStore) DownloadsRoot() string { return filepath.Join(s.root, downloadsDir) }

func (s *LocalStore) UploadDir(requestID string) (string, error) {
	dir := filepath.Join(s.root, uploadsDir, requestID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	return dir, nil
}

func (s *LocalStore) WorkDir(requestID string) (string, error) {
	dir := filepath.Join(s.root, processedDir, requestID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	return dir, nil
}

func (s *LocalStore) DeliveryDir(grantID string) (string, error) {
	dir := filepath.Join(s.root, downloadsDir, grantID)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("create delivery dir: %w", err)
	}
	return dir, nil
}

func (s *LocalStore) SaveUpload(requestID, originalName string, r io.Reader, limit int64) (Uploaded, error) {
	dir, err := s.UploadDir(requestID)
	if err != nil {
		return Uploaded{}, err
	}
	name := uuid.NewString()[:8] + "-" + SanitizeName(originalName)
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return Uploaded{}, fmt.Errorf("create upload file: %w", err)
	}
	// Read one byte past the limit so an exactly-at-limit file passes.
	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	cerr := f.Close()
	if err != nil {
		os.Remove(path)
		return Uploaded{}, fmt.Errorf("write upload: %w", err)
	}
	if cerr != nil {
		os.Remove(path)
		return Uploaded{}, fmt.Errorf("close upload: %w", cerr)
	}
	if n > limit {
		os.Remove(path)
		return Uploaded{}, ErrTooLarge
	}
	return Uploaded{Path: path, OriginalName: originalName, SizeBytes: n}, nil
}

func (s *LocalStore) Copy(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("create destination dir: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("create destination: %w", err)
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return 0, fmt.Errorf("copy bytes: %w", err)
	}
	return n, nil
}

func (s *LocalStore) RemoveRequest(requestID string) int {
	failures := 0
	for _, dir := range []string{
		filepath.Join(s.root, uploadsDir, requestID),
		filepath.Join(s.root, processedDir, requestID),
	} {
		if err := os.RemoveAll(dir); err != nil {
			failures++
		}
	}
	return failures
}

func (s *LocalStore) RemoveDelivery(grantID string) error {
	return os.RemoveAll(filepath.Join(s.root, downloadsDir, grantID))
}

func (s *LocalStore) DeliveryPath(grantID, fileName string) string {
	return filepath.Join(s.root, downloadsDir, grantID, SanitizeName(fileName))
}

// SanitizeName reduces a client-supplied file name to a safe base name:
// path separators stripped, control and shell-hostile characters replaced.
func SanitizeName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == ".." || base == "" || base == string(filepath.Separator) {
		return "file"
	}
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_', r == ' ':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" || strings.Trim(out, ".") == "" {
		return "file"
	}
	return out
}
