package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalGatewayPutWritesFileAndReturnsFetchURL(t *testing.T) {
	dir := t.TempDir()
	gw, err := NewLocalGateway(dir, "http://localhost:8080/files")
	if err != nil {
		t.Fatalf("NewLocalGateway: %v", err)
	}

	key, fetchURL, err := gw.Put(context.Background(), []byte("hello"), "report.png", "image/png")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if fetchURL == "" {
		t.Fatal("expected non-empty fetch URL")
	}

	data, err := os.ReadFile(filepath.Join(dir, key))
	if err != nil {
		t.Fatalf("reading stored file: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("stored content = %q", data)
	}
}

func TestLocalGatewayDeleteIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	gw, err := NewLocalGateway(dir, "http://localhost:8080/files")
	if err != nil {
		t.Fatalf("NewLocalGateway: %v", err)
	}

	key, _, err := gw.Put(context.Background(), []byte("data"), "doc.png", "image/png")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := gw.Delete(context.Background(), key); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := gw.Delete(context.Background(), key); err != nil {
		t.Errorf("second delete on missing file should be a no-op, got: %v", err)
	}
}

func TestValidatePDFRejectsGarbageBytes(t *testing.T) {
	if err := ValidatePDF([]byte("not a pdf at all")); err == nil {
		t.Fatal("expected error for non-PDF bytes")
	}
}
