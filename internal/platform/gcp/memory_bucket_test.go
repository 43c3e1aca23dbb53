package gcp

import (
	"context"
	"io"
	"slices"
	"strings"
	"testing"

	"github.com/moises-m-limon/mangalytics/internal/platform/apierr"
)

func newTestMemoryBuckets() *MemoryBucketService {
	return NewMemoryBucketService(BucketNames{
		Documents: "documents",
		Figures:   "reducto-images",
		Panels:    "panels",
	}, "")
}

func TestMemoryBucketCreateOnlyConflict(t *testing.T) {
	ctx := context.Background()
	m := newTestMemoryBuckets()

	if err := m.UploadFile(ctx, BucketCategoryDocuments, "u/t/d/a.pdf", strings.NewReader("one"), UploadOptions{CreateOnly: true}); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	err := m.UploadFile(ctx, BucketCategoryDocuments, "u/t/d/a.pdf", strings.NewReader("two"), UploadOptions{CreateOnly: true})
	if !apierr.IsConflict(err) {
		t.Fatalf("second upload: want conflict, got %v", err)
	}

	// Overwrites are allowed without CreateOnly.
	if err := m.UploadFile(ctx, BucketCategoryDocuments, "u/t/d/a.pdf", strings.NewReader("three"), UploadOptions{}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	rc, err := m.DownloadFile(ctx, BucketCategoryDocuments, "u/t/d/a.pdf")
	if err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	defer rc.Close()
	b, _ := io.ReadAll(rc)
	if string(b) != "three" {
		t.Fatalf("body: want=%q got=%q", "three", string(b))
	}
}

func TestMemoryBucketListKeysIsShallow(t *testing.T) {
	ctx := context.Background()
	m := newTestMemoryBuckets()
	for _, k := range []string{"u/t/d/a.pdf", "u/t/d/b.png", "u/t/d/sub/c.pdf", "u/t/other/d.pdf"} {
		if err := m.UploadFile(ctx, BucketCategoryDocuments, k, strings.NewReader("x"), UploadOptions{}); err != nil {
			t.Fatalf("UploadFile(%s): %v", k, err)
		}
	}

	keys, err := m.ListKeys(ctx, BucketCategoryDocuments, "u/t/d/")
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	want := []string{"u/t/d/a.pdf", "u/t/d/b.png"}
	if !slices.Equal(keys, want) {
		t.Fatalf("ListKeys: want=%v got=%v", want, keys)
	}
}

func TestMemoryBucketMissingObject(t *testing.T) {
	ctx := context.Background()
	m := newTestMemoryBuckets()

	if _, err := m.DownloadFile(ctx, BucketCategoryFigures, "missing.png"); !apierr.IsNotFound(err) {
		t.Fatalf("DownloadFile: want not found, got %v", err)
	}
	if err := m.DeleteFile(ctx, BucketCategoryFigures, "missing.png"); !apierr.IsNotFound(err) {
		t.Fatalf("DeleteFile: want not found, got %v", err)
	}
	if err := m.UploadFile(ctx, BucketCategory("videos"), "k", strings.NewReader("x"), UploadOptions{}); err == nil {
		t.Fatalf("UploadFile unknown category: expected error")
	}
}

func TestMemoryBucketPublicURL(t *testing.T) {
	m := NewMemoryBucketService(BucketNames{Documents: "documents", Figures: "figs", Panels: "panels"}, "http://localhost:8000/objects/")
	got := m.GetPublicURL(BucketCategoryPanels, "u/t/d/panel_1.png")
	want := "http://localhost:8000/objects/panels/u/t/d/panel_1.png"
	if got != want {
		t.Fatalf("GetPublicURL: want=%q got=%q", want, got)
	}
}
