package events

import (
	"bytes"
	"context"
	"encoding/json"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/ignite/mailqueue/internal/pkg/logger"
)

// s3API is the slice of the S3 client the archiver uses.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes a JSON record of every permanently failed job to
// s3://bucket/<prefix>/YYYY/MM/DD/<job id>.json for later inspection.
type S3Archiver struct {
	client  s3API
	bucket  string
	prefix  string
	timeout time.Duration
	log     *logger.Component
}

// NewS3ArchiverWithClient archives through client, which the health
// checker also uses to probe the bucket.
func NewS3ArchiverWithClient(client *s3.Client, bucket, prefix string) *S3Archiver {
	return newS3Archiver(client, bucket, prefix)
}

func newS3Archiver(client s3API, bucket, prefix string) *S3Archiver {
	return &S3Archiver{
		client:  client,
		bucket:  bucket,
		prefix:  prefix,
		timeout: 10 * time.Second,
		log:     logger.For("events.s3"),
	}
}

func (a *S3Archiver) key(e Event) string {
	return path.Join(a.prefix, e.At.UTC().Format("2006/01/02"), e.JobID+".json")
}

func (a *S3Archiver) Observe(ctx context.Context, e Event) {
	if e.Kind != KindFailed || e.JobID == "" {
		return
	}
	body, err := json.Marshal(e)
	if err != nil {
		a.log.Error("marshal failed job", "job_id", e.JobID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	key := a.key(e)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		a.log.Warn("archive failed job", "bucket", a.bucket, "key", key, "error", err)
	}
}
