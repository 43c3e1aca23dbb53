package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/moises-m-limon/mangalytics/internal/data/repos"
	"github.com/moises-m-limon/mangalytics/internal/domain"
	"github.com/moises-m-limon/mangalytics/internal/observability"
	"github.com/moises-m-limon/mangalytics/internal/platform/apierr"
	"github.com/moises-m-limon/mangalytics/internal/platform/dbctx"
	"github.com/moises-m-limon/mangalytics/internal/platform/gcp"
	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
)

// StorageGateway covers object storage and the recommendation records.
type StorageGateway interface {
	// Upload writes data create-only. On a collision it returns path together
	// with an error for which apierr.IsConflict holds.
	Upload(ctx context.Context, bucket gcp.BucketCategory, path string, data []byte, contentType string) (string, error)
	// UploadOrReuse treats a collision as success. reused reports whether the
	// object was already there.
	UploadOrReuse(ctx context.Context, bucket gcp.BucketCategory, path string, data []byte, contentType string) (reused bool, err error)
	Download(ctx context.Context, bucket gcp.BucketCategory, path string) ([]byte, error)
	// ListFiles returns full paths directly under prefix whose name ends in ext,
	// in listing order.
	ListFiles(ctx context.Context, bucket gcp.BucketCategory, prefix, ext string) ([]string, error)
	PublicURL(bucket gcp.BucketCategory, path string) string

	CheckAlreadyProcessed(ctx context.Context, email, topic, fileName string) (bool, error)
	DeleteExisting(ctx context.Context, email, topic, fileName string) error
	StoreRecommendation(ctx context.Context, req *domain.RecommendationRequest, pairings []*domain.RecommendationPairing) (*domain.RecommendationRequest, error)
	// PairingsForPath loads the stored figures of up to limit documents under
	// {email}/{topic}/{date}, with image bytes fetched from the figures bucket.
	PairingsForPath(ctx context.Context, email, topic, date string, limit int) (*PathFigures, error)
}

// PathFigures is the stored material for one date folder.
type PathFigures struct {
	Requests []*domain.RecommendationRequest
	Figures  []domain.FigurePairing
}

// FirstTitle is the first non-empty stored document title.
func (p *PathFigures) FirstTitle() string {
	if p == nil {
		return ""
	}
	for _, r := range p.Requests {
		if r != nil && r.Title != nil && strings.TrimSpace(*r.Title) != "" {
			return strings.TrimSpace(*r.Title)
		}
	}
	return ""
}

type storageGateway struct {
	log         *logger.Logger
	buckets     gcp.BucketService
	requestRepo repos.RecommendationRequestRepo
}

func NewStorageGateway(
	baseLog *logger.Logger,
	buckets gcp.BucketService,
	requestRepo repos.RecommendationRequestRepo,
) StorageGateway {
	return &storageGateway{
		log:         baseLog.With("service", "StorageGateway"),
		buckets:     buckets,
		requestRepo: requestRepo,
	}
}

func (s *storageGateway) Upload(ctx context.Context, bucket gcp.BucketCategory, path string, data []byte, contentType string) (string, error) {
	err := s.buckets.UploadFile(ctx, bucket, path, bytes.NewReader(data), gcp.UploadOptions{
		ContentType: contentType,
		CreateOnly:  true,
	})
	if err == nil {
		return path, nil
	}
	if apierr.IsConflict(err) {
		observability.Current().IncStorageConflict(string(bucket))
		return path, apierr.Conflict(fmt.Errorf("%s already exists: %w", path, err))
	}
	return "", fmt.Errorf("upload %s: %w", path, err)
}

func (s *storageGateway) UploadOrReuse(ctx context.Context, bucket gcp.BucketCategory, path string, data []byte, contentType string) (bool, error) {
	_, err := s.Upload(ctx, bucket, path, data, contentType)
	if err == nil {
		return false, nil
	}
	if apierr.IsConflict(err) {
		s.log.Debug("Object already uploaded, reusing", "bucket", bucket, "path", path)
		return true, nil
	}
	return false, err
}

func (s *storageGateway) Download(ctx context.Context, bucket gcp.BucketCategory, path string) ([]byte, error) {
	rc, err := s.buckets.DownloadFile(ctx, bucket, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func (s *storageGateway) ListFiles(ctx context.Context, bucket gcp.BucketCategory, prefix, ext string) ([]string, error) {
	dir := strings.TrimSuffix(prefix, "/") + "/"
	keys, err := s.buckets.ListKeys(ctx, bucket, dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if ext != "" && !strings.HasSuffix(k, ext) {
			continue
		}
		out = append(out, k)
	}
	return out, nil
}

func (s *storageGateway) PublicURL(bucket gcp.BucketCategory, path string) string {
	return s.buckets.GetPublicURL(bucket, path)
}

func (s *storageGateway) CheckAlreadyProcessed(ctx context.Context, email, topic, fileName string) (bool, error) {
	return s.requestRepo.ExistsByKey(dbctx.New(ctx), email, topic, fileName)
}

func (s *storageGateway) DeleteExisting(ctx context.Context, email, topic, fileName string) error {
	n, err := s.requestRepo.DeleteByKey(dbctx.New(ctx), email, topic, fileName)
	if err != nil {
		return fmt.Errorf("delete existing %s: %w", fileName, err)
	}
	s.log.Info("Deleted previous recommendation records", "file", fileName, "count", n)
	return nil
}

func (s *storageGateway) StoreRecommendation(ctx context.Context, req *domain.RecommendationRequest, pairings []*domain.RecommendationPairing) (*domain.RecommendationRequest, error) {
	if req == nil {
		return nil, fmt.Errorf("StoreRecommendation: nil request")
	}
	out, err := s.requestRepo.CreateWithPairings(dbctx.New(ctx), req, pairings)
	if err != nil {
		return nil, fmt.Errorf("store recommendation %s: %w", req.FileName, err)
	}
	return out, nil
}

func (s *storageGateway) PairingsForPath(ctx context.Context, email, topic, date string, limit int) (*PathFigures, error) {
	prefix := DateFolder(email, topic, date) + "/"
	reqs, err := s.requestRepo.ListByPathPrefix(dbctx.New(ctx), email, topic, prefix, limit)
	if err != nil {
		return nil, fmt.Errorf("list recommendations for %s: %w", prefix, err)
	}
	out := &PathFigures{Requests: reqs}
	for _, r := range reqs {
		for _, p := range r.Pairings {
			data, err := s.Download(ctx, gcp.BucketCategoryFigures, p.ImagePath)
			if err != nil {
				s.log.Warn("Figure image unavailable, skipping", "path", p.ImagePath, "error", err)
				continue
			}
			out.Figures = append(out.Figures, domain.FigurePairing{
				FigureContent: p.FigureContent,
				ImageData:     data,
				SourceBlock:   []byte(p.ReductoData),
			})
		}
	}
	return out, nil
}

// DateFolder is the {email}/{topic}/{date} storage prefix shared by every stage.
func DateFolder(email, topic, date string) string {
	return email + "/" + topic + "/" + date
}
