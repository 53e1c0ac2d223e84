// Package s3service stores raw portfolio extracts in S3
package s3service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	appConfig "loan-portfolio-engine/internal/config"
	"loan-portfolio-engine/internal/utils"
)

// Key prefixes. Presigned uploads land under UploadPrefix and trigger the
// extract processor; ingested extracts are archived under ArchivePrefix.
const (
	UploadPrefix  = "uploads/"
	ArchivePrefix = "extracts/"
)

// Service handles S3 operations
type Service struct {
	client     *s3.Client
	presigner  *s3.PresignClient
	bucketName string
	logger     *zap.Logger
}

// PresignedURLResult contains the presigned URL details
type PresignedURLResult struct {
	URL       string    `json:"url"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ArchivedExtract describes one stored extract.
type ArchivedExtract struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// NewService creates a new S3 service
func NewService(ctx context.Context, appCfg *appConfig.Config) (*Service, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(appCfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	presigner := s3.NewPresignClient(client)

	return &Service{
		client:     client,
		presigner:  presigner,
		bucketName: appCfg.S3Bucket,
		logger:     utils.GetLogger(),
	}, nil
}

// Bucket returns the extract bucket name.
func (s *Service) Bucket() string {
	return s.bucketName
}

// sanitizeFilename keeps the base name of an upload and makes it key-safe.
func sanitizeFilename(filename string) string {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "extract.csv"
	}
	return strings.ReplaceAll(name, " ", "_")
}

// ArchiveKey builds the archive key of an ingested extract:
// extracts/YYYY/MM/DD/<batch>_<filename>.
func ArchiveKey(batchID, filename string, at time.Time) string {
	return fmt.Sprintf("%s%s/%s_%s", ArchivePrefix, at.Format("2006/01/02"), batchID, sanitizeFilename(filename))
}

// UploadKey builds a unique key for a browser upload of filename.
func UploadKey(filename string, at time.Time) string {
	return fmt.Sprintf("%s%s/%s_%s", UploadPrefix, at.Format("2006/01/02"), uuid.NewString(), sanitizeFilename(filename))
}

// IsUploadKey reports whether key was produced by UploadKey.
func IsUploadKey(key string) bool {
	return strings.HasPrefix(key, UploadPrefix)
}

// GeneratePresignedUploadURL creates a presigned URL for uploading an extract
func (s *Service) GeneratePresignedUploadURL(ctx context.Context, filename string, contentType string, expiryMinutes int) (*PresignedURLResult, error) {
	if expiryMinutes <= 0 {
		expiryMinutes = 15 // Default 15 minutes
	}
	if contentType == "" {
		contentType = "text/csv"
	}

	expiry := time.Duration(expiryMinutes) * time.Minute
	key := UploadKey(filename, time.Now().UTC())

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}

	presignedReq, err := s.presigner.PresignPutObject(ctx, input, func(opts *s3.PresignOptions) {
		opts.Expires = expiry
	})
	if err != nil {
		s.logger.Error("Failed to generate presigned URL",
			zap.String("bucket", s.bucketName),
			zap.String("key", key),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	s.logger.Info("Generated presigned upload URL",
		zap.String("bucket", s.bucketName),
		zap.String("key", key),
		zap.Int("expiry_minutes", expiryMinutes),
	)

	return &PresignedURLResult{
		URL:       presignedReq.URL,
		Key:       key,
		ExpiresAt: time.Now().Add(expiry),
	}, nil
}

// Archive stores the raw bytes of an ingested extract and returns its key.
func (s *Service) Archive(ctx context.Context, batchID, filename string, data []byte) (string, error) {
	key := ArchiveKey(batchID, filename, time.Now().UTC())
	if err := s.UploadFile(ctx, key, data, contentTypeFor(filename)); err != nil {
		return "", err
	}
	return key, nil
}

func contentTypeFor(filename string) string {
	if strings.HasSuffix(strings.ToLower(filename), ".xlsx") {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// DownloadFile downloads a file from S3
func (s *Service) DownloadFile(ctx context.Context, key string) ([]byte, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	}

	result, err := s.client.GetObject(ctx, input)
	if err != nil {
		s.logger.Error("Failed to download file from S3",
			zap.String("bucket", s.bucketName),
			zap.String("key", key),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file content: %w", err)
	}

	s.logger.Info("Downloaded file from S3",
		zap.String("bucket", s.bucketName),
		zap.String("key", key),
		zap.Int("size", len(data)),
	)

	return data, nil
}

// UploadFile uploads a file to S3
func (s *Service) UploadFile(ctx context.Context, key string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketName),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}

	_, err := s.client.PutObject(ctx, input)
	if err != nil {
		s.logger.Error("Failed to upload file to S3",
			zap.String("bucket", s.bucketName),
			zap.String("key", key),
			zap.Error(err),
		)
		return fmt.Errorf("failed to upload file: %w", err)
	}

	s.logger.Info("Uploaded file to S3",
		zap.String("bucket", s.bucketName),
		zap.String("key", key),
		zap.Int("size", len(data)),
	)

	return nil
}

// DeleteFile deletes a file from S3
func (s *Service) DeleteFile(ctx context.Context, key string) error {
	input := &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	}

	_, err := s.client.DeleteObject(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	s.logger.Info("Deleted file from S3",
		zap.String("bucket", s.bucketName),
		zap.String("key", key),
	)

	return nil
}

// ListArchive lists archived extracts, newest keys last as S3 returns them.
func (s *Service) ListArchive(ctx context.Context, maxKeys int32) ([]ArchivedExtract, error) {
	if maxKeys <= 0 {
		maxKeys = 100
	}

	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucketName),
		Prefix:  aws.String(ArchivePrefix),
		MaxKeys: aws.Int32(maxKeys),
	}

	result, err := s.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to list extracts: %w", err)
	}

	out := make([]ArchivedExtract, 0, len(result.Contents))
	for _, obj := range result.Contents {
		out = append(out, ArchivedExtract{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}
	return out, nil
}
