package handlers

import (
	"context"
	"fmt"
	"net/url"
	"path"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"

	"loan-portfolio-engine/internal/services/portfolio"
	s3service "loan-portfolio-engine/internal/services/s3"
	"loan-portfolio-engine/internal/utils"
)

// UploadStore reads and clears browser uploads.
type UploadStore interface {
	DownloadFile(ctx context.Context, key string) ([]byte, error)
	DeleteFile(ctx context.Context, key string) error
}

// Ingester replaces the portfolio with an uploaded extract.
type Ingester interface {
	IngestFile(ctx context.Context, filename string, data []byte) (*portfolio.IngestResult, error)
}

// ExtractProcessorHandler ingests extracts uploaded through presigned URLs.
type ExtractProcessorHandler struct {
	uploads  UploadStore
	ingester Ingester
	logger   *zap.Logger
}

// NewExtractProcessorHandler creates a new extract processor handler.
func NewExtractProcessorHandler(uploads UploadStore, ingester Ingester) *ExtractProcessorHandler {
	return &ExtractProcessorHandler{
		uploads:  uploads,
		ingester: ingester,
		logger:   utils.GetLogger(),
	}
}

// ExtractProcessResult is the result of processing an S3 event.
type ExtractProcessResult struct {
	Message string                    `json:"message"`
	Batches []*portfolio.IngestResult `json:"batches,omitempty"`
	Skipped []string                  `json:"skipped,omitempty"`
}

// Handle processes S3 put events for uploaded extracts. Each upload replaces
// the portfolio in turn and is removed once ingested; the archived copy remains.
func (h *ExtractProcessorHandler) Handle(ctx context.Context, s3Event events.S3Event) (ExtractProcessResult, error) {
	result := ExtractProcessResult{}
	if len(s3Event.Records) == 0 {
		result.Message = "No records to process"
		return result, nil
	}

	for _, record := range s3Event.Records {
		key, err := url.QueryUnescape(record.S3.Object.Key)
		if err != nil {
			return result, fmt.Errorf("failed to decode S3 key: %w", err)
		}

		if !s3service.IsUploadKey(key) {
			h.logger.Info("Ignoring object outside the upload prefix", zap.String("key", key))
			result.Skipped = append(result.Skipped, key)
			continue
		}

		logger := h.logger.With(
			zap.String("bucket", record.S3.Bucket.Name),
			zap.String("key", key),
		)
		logger.Info("Processing uploaded extract")

		data, err := h.uploads.DownloadFile(ctx, key)
		if err != nil {
			return result, err
		}

		batch, err := h.ingester.IngestFile(ctx, path.Base(key), data)
		if err != nil {
			logger.Error("Failed to ingest extract", zap.Error(err))
			return result, fmt.Errorf("failed to ingest %s: %w", key, err)
		}
		result.Batches = append(result.Batches, batch)

		if err := h.uploads.DeleteFile(ctx, key); err != nil {
			logger.Warn("Failed to remove processed upload", zap.Error(err))
		}
	}

	result.Message = fmt.Sprintf("Processed %d extracts", len(result.Batches))
	return result, nil
}
