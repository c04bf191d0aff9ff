// Package storage relocates mail attachments into S3 so forwarded payloads
// carry download URLs instead of raw bytes.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	appconfig "github.com/ignite/mailbox-monitor/internal/config"
	"github.com/ignite/mailbox-monitor/internal/domain"
	"github.com/ignite/mailbox-monitor/internal/pkg/logger"
)

// s3API is the slice of the S3 client the uploader needs.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader stores attachment bytes in S3 and hands back download URLs.
type Uploader struct {
	client        s3API
	bucket        string
	region        string
	publicBaseURL string
}

// NewUploader creates an S3-backed uploader from config.
func NewUploader(ctx context.Context, cfg appconfig.StorageConfig) (*Uploader, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("storage: no S3 bucket configured")
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	} else if profile := cfg.GetAWSProfile(); profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &Uploader{
		client:        s3.NewFromConfig(awsCfg),
		bucket:        cfg.S3Bucket,
		region:        cfg.AWSRegion,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

// Upload stores one attachment and returns its download URL. Keys are
// date-partitioned and carry a random segment so identically named
// attachments never collide.
func (u *Uploader) Upload(ctx context.Context, mailbox string, att domain.Attachment) (string, error) {
	key := fmt.Sprintf("attachments/%s/%s/%s",
		time.Now().UTC().Format("2006/01/02"),
		uuid.New().String(),
		sanitizeName(att.Name))

	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(att.Content),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("putting attachment to S3: %w", err)
	}

	return u.downloadURL(key), nil
}

// UploadAll relocates every attachment of a message and returns the download
// URLs of the ones that made it. A single failed upload is logged and skipped
// so one bad attachment never blocks the forward.
func (u *Uploader) UploadAll(ctx context.Context, mailbox string, atts []domain.Attachment) []string {
	var urls []string
	for _, att := range atts {
		url, err := u.Upload(ctx, mailbox, att)
		if err != nil {
			logger.Warn("attachment upload failed",
				"mailbox", mailbox,
				"attachment", att.Name,
				"error", err.Error())
			continue
		}
		urls = append(urls, url)
	}
	return urls
}

func (u *Uploader) downloadURL(key string) string {
	if u.publicBaseURL != "" {
		return u.publicBaseURL + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", u.bucket, u.region, key)
}

// sanitizeName keeps object keys to a safe character set.
func sanitizeName(name string) string {
	if name == "" {
		return "attachment"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
