package persist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"assetforge/internal/genclient"
)

// FileStore persists approved asset bytes under a local directory.
// Used by the CLI and as the default when no object store is
// configured.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Persist writes the approved bytes and returns the file path.
func (f *FileStore) Persist(_ context.Context, assetID string, res *genclient.Result) (string, error) {
	if f == nil {
		return "", fmt.Errorf("store is nil")
	}
	assetID = strings.TrimSpace(assetID)
	if assetID == "" {
		return "", fmt.Errorf("asset id is required")
	}
	if res == nil || len(res.Data) == 0 {
		return "", fmt.Errorf("result has no payload")
	}
	path := filepath.Join(f.dir, assetID+extensionFor(res.MIMEType))
	if err := os.WriteFile(path, res.Data, 0o644); err != nil {
		return "", fmt.Errorf("write asset: %w", err)
	}
	return path, nil
}
