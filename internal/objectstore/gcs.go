package objectstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"labpipe/internal/data"
)

// GCSGateway implements Gateway against a Google Cloud Storage bucket. It is
// the default production backend — see SPEC_FULL.md's DOMAIN STACK table.
type GCSGateway struct {
	client *storage.Client
	bucket string
	ttl    time.Duration
	logger *slog.Logger

	// signAs/signKey configure V4 signed URLs, set by NewGCSGateway when both
	// a signing identity and key file are supplied. When empty, Put falls
	// back to the bucket's public object URL and logs a warning — acceptable
	// for a bucket configured with uniform bucket-level access and a
	// short-lived dev/test setup, but production deployments should supply a
	// service account capable of signing.
	signAs  string
	signKey []byte
}

// NewGCSGateway builds a GCSGateway. credentialsFile may be empty to use
// Application Default Credentials. signAs/signKeyFile configure V4 signed
// fetch URLs; leave both empty to fall back to unsigned public object URLs.
func NewGCSGateway(ctx context.Context, bucket, credentialsFile string, fetchTTL time.Duration, signAs, signKeyFile string, logger *slog.Logger) (*GCSGateway, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: new GCS client: %w", err)
	}

	if fetchTTL <= 0 {
		fetchTTL = time.Hour
	}

	gw := &GCSGateway{client: client, bucket: bucket, ttl: fetchTTL, logger: logger}

	if signAs != "" && signKeyFile != "" {
		key, err := os.ReadFile(signKeyFile)
		if err != nil {
			return nil, fmt.Errorf("objectstore: read gcs sign key file: %w", err)
		}
		gw.signAs = signAs
		gw.signKey = key
	}

	return gw, nil
}

// Put uploads bytes under a fresh, collision-resistant object key derived
// from filename, and returns that key plus a fetch URL.
func (g *GCSGateway) Put(ctx context.Context, bytes []byte, filename, mimeType string) (string, string, error) {
	key := fmt.Sprintf("%s-%s", data.NewID().String(), filename)

	obj := g.client.Bucket(g.bucket).Object(key)
	w := obj.NewWriter(ctx)
	w.ContentType = mimeType

	if _, err := w.Write(bytes); err != nil {
		w.Close()
		return "", "", fmt.Errorf("objectstore: write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", "", fmt.Errorf("objectstore: finalize object: %w", err)
	}

	fetchURL, err := g.fetchURL(ctx, key)
	if err != nil {
		return "", "", fmt.Errorf("objectstore: build fetch url: %w", err)
	}

	return key, fetchURL, nil
}

func (g *GCSGateway) fetchURL(ctx context.Context, key string) (string, error) {
	if g.signAs == "" {
		g.logger.Warn("objectstore: no signing identity configured, returning unsigned object URL", "object", key)
		return fmt.Sprintf("https://storage.googleapis.com/%s/%s", g.bucket, key), nil
	}

	opts := &storage.SignedURLOptions{
		GoogleAccessID: g.signAs,
		PrivateKey:     g.signKey,
		Method:         "GET",
		Expires:        time.Now().Add(g.ttl),
		Scheme:         storage.SigningSchemeV4,
	}
	return g.client.Bucket(g.bucket).SignedURL(key, opts)
}

// Delete removes the object; NotFound from the backend is swallowed so
// callers can treat delete as idempotent per spec.md §4.1.
func (g *GCSGateway) Delete(ctx context.Context, storageRef string) error {
	err := g.client.Bucket(g.bucket).Object(storageRef).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("objectstore: delete object %s: %w", storageRef, err)
	}
	return nil
}
