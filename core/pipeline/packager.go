package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/snapconvert/snapconvert/core/assets"
	"github.com/snapconvert/snapconvert/core/infra/logging"
	"github.com/snapconvert/snapconvert/core/registry"
)

// Package turns an output set into the single deliverable for the request.
// One output passes through untouched under a presentation-friendly name;
// several are bundled into a flat zip archive. Original outputs are left in
// place so a failed archive attempt can be retried once without rerunning
// the transformation.
func Package(spec *registry.OperationSpec, outputs []assets.Output, workDir string) (*assets.Deliverable, error) {
	if len(outputs) == 0 {
		return nil, fmt.Errorf("%w: nothing to package", ErrPackaging)
	}
	if len(outputs) == 1 {
		out := outputs[0]
		name := assets.SanitizeName(out.SuggestedName)
		if spec.ResultPrefix != "" && !strings.HasPrefix(name, spec.ResultPrefix) {
			name = spec.ResultPrefix + name
		}
		return &assets.Deliverable{Path: out.Path, FileName: name, SizeBytes: out.SizeBytes}, nil
	}

	archiveName := strings.ReplaceAll(spec.ID, ".", "-") + "-results.zip"
	archivePath := filepath.Join(workDir, archiveName)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if lastErr != nil {
			logging.Warn("packager", "archive retry", "operation", spec.ID, "error", lastErr)
			os.Remove(archivePath)
		}
		if lastErr = buildArchive(archivePath, outputs); lastErr == nil {
			info, err := os.Stat(archivePath)
			if err != nil {
				lastErr = err
				continue
			}
			return &assets.Deliverable{Path: archivePath, FileName: archiveName, SizeBytes: info.Size()}, nil
		}
	}
	os.Remove(archivePath)
	return nil, fmt.Errorf("%w: %v", ErrPackaging, lastErr)
}

// buildArchive writes all outputs at the archive root. The archive is fully
// flushed and closed before the function returns success; a partially
// written archive is never promoted.
func buildArchive(path string, outputs []assets.Output) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	zw := zip.NewWriter(f)

	seen := make(map[string]int)
	for _, out := range outputs {
		name := assets.SanitizeName(out.SuggestedName)
		if n := seen[name]; n > 0 {
			ext := filepath.Ext(name)
			name = fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n, ext)
		}
		seen[assets.SanitizeName(out.SuggestedName)]++

		w, err := zw.Create(name)
		if err != nil {
			zw.Close()
			f.Close()
			return fmt.Errorf("create entry %s: %w", name, err)
		}
		src, err := os.Open(out.Path)
		if err != nil {
			zw.Close()
			f.Close()
			return fmt.Errorf("open output %s: %w", out.Path, err)
		}
		_, err = io.Copy(w, src)
		src.Close()
		if err != nil {
			zw.Close()
			f.Close()
			return fmt.Errorf("write entry %s: %w", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalize archive: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("flush archive: %w", err)
	}
	return f.Close()
}
