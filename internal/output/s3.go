package output

import (
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/thoscut/tiffpress/internal/config"
	"github.com/thoscut/tiffpress/internal/jobs"
)

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Handler uploads documents to a bucket under <prefix><document id>/.
type S3Handler struct {
	client putObjectAPI
	bucket string
	prefix string
}

func NewS3Handler(client putObjectAPI, cfg config.S3Config) *S3Handler {
	return &S3Handler{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}
}

func (h *S3Handler) Name() string { return "s3" }

func (h *S3Handler) Available() bool { return h.bucket != "" }

func (h *S3Handler) Send(ctx context.Context, doc *jobs.Document) error {
	key := h.prefix + path.Join(doc.ID, doc.Filename)
	_, err := h.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(h.bucket),
		Key:           aws.String(key),
		Body:          doc.Reader,
		ContentLength: aws.Int64(doc.Size),
		ContentType:   aws.String("application/pdf"),
	})
	if err != nil {
		return fmt.Errorf("upload to s3://%s/%s: %w", h.bucket, key, err)
	}
	return nil
}
