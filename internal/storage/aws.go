package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/report-etl/internal/report"
)

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archive copies raw reports to S3 under <prefix>/<YYYYMM>/<DD>/<file>.
type S3Archive struct {
	client s3API
	bucket string
	prefix string
}

// NewS3Archive creates an archive for bucket. An empty profile uses the
// default credential chain.
func NewS3Archive(ctx context.Context, bucket, prefix, region, profile string) (*S3Archive, error) {
	var cfg aws.Config
	var err error

	if profile != "" {
		cfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(region),
			config.WithSharedConfigProfile(profile),
		)
	} else {
		cfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &S3Archive{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		prefix: prefix,
	}, nil
}

// Key returns the object key for a report downloaded for day.
func (a *S3Archive) Key(day time.Time, file string) string {
	return path.Join(a.prefix, day.Format("200601"), day.Format("02"), filepath.Base(file))
}

// Archive uploads raw to the bucket.
func (a *S3Archive) Archive(ctx context.Context, day time.Time, raw *report.RawReport) error {
	f, err := os.Open(raw.Path)
	if err != nil {
		return fmt.Errorf("open %s: %w", raw.Path, err)
	}
	defer f.Close()

	key := a.Key(day, raw.Path)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("text/csv"),
		Metadata: map[string]string{
			"location": string(raw.Location),
			"campaign": string(raw.Campaign),
		},
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", a.bucket, key, err)
	}
	return nil
}
