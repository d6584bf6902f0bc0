package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// COSConfig describes a Tencent COS bucket reached through its
// S3-compatible endpoint.
type COSConfig struct {
	Endpoint      string
	Region        string
	SecretID      string
	SecretKey     string
	Bucket        string
	PublicBaseURL string
	Prefix        string
	UsePathStyle  bool
}

type COSStore struct {
	cfg    COSConfig
	client *s3.Client
	now    func() time.Time
}

func NewCOSStore(cfg COSConfig) (*COSStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("cos bucket is required")
	}
	if cfg.Region == "" {
		return nil, errors.New("cos region is required")
	}
	if cfg.SecretID == "" || cfg.SecretKey == "" {
		return nil, errors.New("cos credentials are required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = fmt.Sprintf("https://cos.%s.myqcloud.com", cfg.Region)
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = fmt.Sprintf("https://%s.cos.%s.myqcloud.com", cfg.Bucket, cfg.Region)
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "images"
	}

	client := s3.New(s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.SecretID, cfg.SecretKey, ""),
		UsePathStyle: cfg.UsePathStyle,
		BaseEndpoint: aws.String(cfg.Endpoint),
	})

	return &COSStore{cfg: cfg, client: client, now: time.Now}, nil
}

func (s *COSStore) Upload(ctx context.Context, data []byte, contentType string, kind Kind) (string, error) {
	if len(data) == 0 {
		return "", &Error{Provider: "cos", Op: "upload", Err: errors.New("no data to upload")}
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}

	key := s.objectKey(kind, contentType)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		ACL:         types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return "", &Error{Provider: "cos", Op: "upload", Err: err}
	}
	return s.publicURL(key), nil
}

func (s *COSStore) objectKey(kind Kind, contentType string) string {
	now := s.now().UTC()
	prefix := strings.Trim(s.cfg.Prefix, "/")
	return path.Join(prefix, string(kind), now.Format("2006/01/02"), uuid.NewString()+extensionFromContentType(contentType))
}

func (s *COSStore) publicURL(key string) string {
	return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + key
}
