// Package storage archives generated images to S3-compatible object storage,
// since the AI provider's image URLs expire after a short while.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/digkill/TGAssistantBot/internal/config"
)

var ErrEmptyImage = errors.New("no image data to archive")

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type Archive struct {
	bucket  string
	baseURL string
	prefix  string
	client  objectPutter
	now     func() time.Time
}

// NewArchive builds an archive from the S3_* settings. It returns nil, nil
// when archiving is not configured.
func NewArchive(cfg config.Config) (*Archive, error) {
	if !cfg.S3Enabled() {
		if cfg.S3Bucket != "" {
			return nil, fmt.Errorf("s3 archive needs S3_REGION, S3_ACCESS_KEY, S3_SECRET_KEY and S3_PUBLIC_BASE_URL")
		}
		return nil, nil
	}

	options := s3.Options{
		Region:       cfg.S3Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		UsePathStyle: cfg.S3UsePathStyle,
	}
	if cfg.S3Endpoint != "" {
		options.BaseEndpoint = aws.String(cfg.S3Endpoint)
	}

	return newArchive(s3.New(options), cfg.S3Bucket, cfg.S3PublicBaseURL, cfg.S3Prefix), nil
}

func newArchive(client objectPutter, bucket, baseURL, prefix string) *Archive {
	if prefix == "" {
		prefix = "images"
	}
	return &Archive{
		bucket:  bucket,
		baseURL: strings.TrimRight(baseURL, "/"),
		prefix:  strings.Trim(prefix, "/"),
		client:  client,
		now:     time.Now,
	}
}

// Store uploads one image for userID and returns its public URL.
func (a *Archive) Store(ctx context.Context, userID int64, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyImage
	}
	if contentType == "" {
		contentType = "image/png"
	}

	key := a.objectKey(userID, contentType)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}
	return a.baseURL + "/" + key, nil
}

func (a *Archive) objectKey(userID int64, contentType string) string {
	now := a.now().UTC()
	return path.Join(
		a.prefix,
		strconv.FormatInt(userID, 10),
		fmt.Sprintf("%04d/%02d/%02d", now.Year(), now.Month(), now.Day()),
		uuid.NewString()+extensionFromContentType(contentType),
	)
}

func extensionFromContentType(contentType string) string {
	mediaType, _, _ := strings.Cut(strings.ToLower(contentType), ";")
	switch strings.TrimSpace(mediaType) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}
