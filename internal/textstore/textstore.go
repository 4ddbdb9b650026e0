// Package textstore publishes the recognized text of each page.
package textstore

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/thoscut/tiffpress/internal/awsconf"
	"github.com/thoscut/tiffpress/internal/config"
)

// Sink stores plain page text under a key.
type Sink interface {
	Put(ctx context.Context, key, text string) error
}

// Key builds the object key for a page: <prefix><docID>/<page name>.txt.
func Key(prefix, docID, pagePath string) string {
	base := filepath.Base(pagePath)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return prefix + path.Join(docID, base+".txt")
}

// New returns the sink selected by cfg.Sink.
func New(ctx context.Context, cfg config.TextConfig, awsCfg config.AWSConfig) (Sink, error) {
	switch cfg.Sink {
	case "", "none":
		return Nop{}, nil
	case "filesystem":
		if cfg.Directory == "" {
			return nil, fmt.Errorf("text sink filesystem requires a directory")
		}
		return &DirSink{Dir: cfg.Directory}, nil
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("text sink s3 requires a bucket")
		}
		sdkCfg, err := awsconf.Load(ctx, awsCfg)
		if err != nil {
			return nil, err
		}
		return NewS3Sink(awsconf.NewS3Client(sdkCfg, awsCfg), cfg.Bucket), nil
	default:
		return nil, fmt.Errorf("unknown text sink %q", cfg.Sink)
	}
}

// Nop discards text.
type Nop struct{}

func (Nop) Put(context.Context, string, string) error { return nil }

// DirSink writes text files below Dir, creating directories as needed.
type DirSink struct {
	Dir string
}

func (d *DirSink) Put(_ context.Context, key, text string) error {
	dest := filepath.Join(d.Dir, filepath.FromSlash(key))
	if !strings.HasPrefix(dest, filepath.Clean(d.Dir)+string(filepath.Separator)) {
		return fmt.Errorf("key %q escapes text directory", key)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create text directory: %w", err)
	}
	if err := os.WriteFile(dest, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write text: %w", err)
	}
	return nil
}

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink uploads text as text/plain objects.
type S3Sink struct {
	client putObjectAPI
	bucket string
}

func NewS3Sink(client putObjectAPI, bucket string) *S3Sink {
	return &S3Sink{client: client, bucket: bucket}
}

func (s *S3Sink) Put(ctx context.Context, key, text string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        strings.NewReader(text),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("upload text to s3://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}
