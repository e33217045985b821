package storage

import (
	"context"
	"fmt"
	"log"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	aws_config "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"rentfold/rf/internal/config"
)

// Folder prefixes for the kinds of objects the application stores.
const (
	FolderPropertyPhotos = "property-photos"
	FolderLeaseDocuments = "lease-documents"
	FolderSignatures     = "signatures"
)

// IS3Storage defines the interface for S3 operations.
type IS3Storage interface {
	GeneratePresignedPutURL(ctx context.Context, folder, ownerID, filename, contentType string) (string, string, error)
	GeneratePresignedGetURL(ctx context.Context, key string) (string, error)
	DeleteObject(ctx context.Context, key string) error
}

// s3Storage implements IS3Storage.
type s3Storage struct {
	cfg           *config.Config
	s3Client      *s3.Client
	presignClient *s3.PresignClient
}

// NewS3Storage creates a new S3 storage service.
func NewS3Storage(cfg *config.Config) (IS3Storage, error) {
	awsCfg, err := aws_config.LoadDefaultConfig(context.TODO(),
		aws_config.WithRegion(cfg.AwsRegion),
		// Static credentials from config; production deployments use IAM roles.
		aws_config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AwsAccessKeyID,
			cfg.AwsSecretAccessKey,
			"", // session token
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg)
	presignClient := s3.NewPresignClient(s3Client)

	return &s3Storage{
		cfg:           cfg,
		s3Client:      s3Client,
		presignClient: presignClient,
	}, nil
}

// sanitizeFilename keeps only the base name so a client-supplied filename
// cannot traverse into another prefix.
func sanitizeFilename(filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		return "file"
	}
	return base
}

// GeneratePresignedPutURL creates a pre-signed URL for uploading an object
// under <folder>/<ownerID>/<timestamp>_<uuid>_<filename>.
// It returns the URL and the generated S3 object key.
func (s *s3Storage) GeneratePresignedPutURL(ctx context.Context, folder, ownerID, filename, contentType string) (string, string, error) {
	objectKey := fmt.Sprintf("%s/%s/%d_%s_%s",
		folder, ownerID, time.Now().UTC().Unix(), uuid.NewString(), sanitizeFilename(filename))

	expiration := 15 * time.Minute

	presignParams := &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.AwsS3Bucket),
		Key:         aws.String(objectKey),
		ContentType: aws.String(contentType),
	}

	presignedReq, err := s.presignClient.PresignPutObject(ctx, presignParams, s3.WithPresignExpires(expiration))
	if err != nil {
		return "", "", fmt.Errorf("failed to generate presigned PUT URL for key %s: %w", objectKey, err)
	}

	log.Printf("Generated presigned upload URL for key: %s", objectKey)
	return presignedReq.URL, objectKey, nil
}

// GeneratePresignedGetURL creates a pre-signed download URL for an object.
// Lease documents and signature images are private; reads always go through
// a short-lived URL.
func (s *s3Storage) GeneratePresignedGetURL(ctx context.Context, key string) (string, error) {
	presignParams := &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.AwsS3Bucket),
		Key:    aws.String(key),
	}
	presignedReq, err := s.presignClient.PresignGetObject(ctx, presignParams, s3.WithPresignExpires(15*time.Minute))
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned GET URL for key %s: %w", key, err)
	}
	return presignedReq.URL, nil
}

// DeleteObject removes an object from the bucket. Callers treat failures as
// best-effort; the database record is the source of truth.
func (s *s3Storage) DeleteObject(ctx context.Context, key string) error {
	_, err := s.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.AwsS3Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete S3 object %s: %w", key, err)
	}
	return nil
}
