package gcp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/moises-m-limon/mangalytics/internal/platform/apierr"
)

// MemoryBucketService is an in-process BucketService with the same
// create-only and listing semantics as the GCS implementation.
type MemoryBucketService struct {
	mu            sync.RWMutex
	objects       map[BucketCategory]map[string][]byte
	buckets       map[BucketCategory]bucketConfig
	publicBaseURL string
}

func NewMemoryBucketService(names BucketNames, publicBaseURL string) *MemoryBucketService {
	return &MemoryBucketService{
		objects: map[BucketCategory]map[string][]byte{},
		buckets: map[BucketCategory]bucketConfig{
			BucketCategoryDocuments: {name: names.Documents, cdnDomain: names.DocumentsCDN},
			BucketCategoryFigures:   {name: names.Figures, cdnDomain: names.FiguresCDN},
			BucketCategoryPanels:    {name: names.Panels, cdnDomain: names.PanelsCDN},
		},
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

func (m *MemoryBucketService) bucket(category BucketCategory) (bucketConfig, error) {
	cfg, ok := m.buckets[category]
	if !ok {
		return bucketConfig{}, fmt.Errorf("unknown bucket category: %s", category)
	}
	return cfg, nil
}

func (m *MemoryBucketService) UploadFile(ctx context.Context, category BucketCategory, key string, file io.Reader, opts UploadOptions) error {
	cfg, err := m.bucket(category)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return fmt.Errorf("read upload body: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	objs := m.objects[category]
	if objs == nil {
		objs = map[string][]byte{}
		m.objects[category] = objs
	}
	if _, exists := objs[key]; exists && opts.CreateOnly {
		return apierr.Conflict(fmt.Errorf("object %s/%s already exists", cfg.name, key))
	}
	objs[key] = data
	return nil
}

func (m *MemoryBucketService) DownloadFile(ctx context.Context, category BucketCategory, key string) (io.ReadCloser, error) {
	cfg, err := m.bucket(category)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[category][key]
	if !ok {
		return nil, apierr.NotFound("object %s/%s not found", cfg.name, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryBucketService) DeleteFile(ctx context.Context, category BucketCategory, key string) error {
	cfg, err := m.bucket(category)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[category][key]; !ok {
		return apierr.NotFound("object %s/%s not found", cfg.name, key)
	}
	delete(m.objects[category], key)
	return nil
}

func (m *MemoryBucketService) ListKeys(ctx context.Context, category BucketCategory, prefix string) ([]string, error) {
	if _, err := m.bucket(category); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []string{}
	for key := range m.objects[category] {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if strings.Contains(strings.TrimPrefix(key, prefix), "/") {
			continue
		}
		out = append(out, key)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryBucketService) GetPublicURL(category BucketCategory, key string) string {
	cfg, err := m.bucket(category)
	if err != nil {
		return key
	}
	return publicURL(cfg, ObjectStorageModeMemory, m.publicBaseURL, "", key)
}

func (m *MemoryBucketService) Close() error { return nil }

// Keys returns every stored key for category, sorted.
func (m *MemoryBucketService) Keys(category BucketCategory) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.objects[category]))
	for k := range m.objects[category] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
