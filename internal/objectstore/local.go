package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"labpipe/internal/data"
)

// LocalGateway implements Gateway against the local filesystem. It exists
// for tests and single-machine development where a GCS bucket isn't
// available; production wiring uses GCSGateway instead.
type LocalGateway struct {
	dir     string
	baseURL string // e.g. "http://localhost:8080/files"
}

// NewLocalGateway creates dir if it does not exist.
func NewLocalGateway(dir, baseURL string) (*LocalGateway, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("objectstore: create upload dir: %w", err)
	}
	return &LocalGateway{dir: dir, baseURL: baseURL}, nil
}

func (l *LocalGateway) Put(ctx context.Context, bytes []byte, filename, mimeType string) (string, string, error) {
	key := fmt.Sprintf("%s-%s", data.NewID().String(), filepath.Base(filename))
	path := filepath.Join(l.dir, key)

	if err := os.WriteFile(path, bytes, 0o644); err != nil {
		return "", "", fmt.Errorf("objectstore: write file: %w", err)
	}

	fetchURL := l.baseURL + "/" + url.PathEscape(key)
	return key, fetchURL, nil
}

func (l *LocalGateway) Delete(ctx context.Context, storageRef string) error {
	err := os.Remove(filepath.Join(l.dir, storageRef))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("objectstore: delete file: %w", err)
	}
	return nil
}
