package datastore

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Options configures an S3-backed cache layer.
type S3Options struct {
	Bucket string
	Prefix string
	Region string
	// Endpoint overrides the S3 endpoint, for S3-compatible stores.
	Endpoint string
	// ReadOnly prevents the layer from being populated after origin
	// fetches. Shared team caches are typically read-only for most
	// users and populated by one writer.
	ReadOnly bool
}

// S3Cache is a cache layer backed by an S3 bucket, sharing fetched archives
// across machines so each resource is downloaded from the origin service
// once per team rather than once per workstation.
type S3Cache struct {
	bucket   string
	prefix   string
	readOnly bool
	svc      *s3.S3
	uploader *s3manager.Uploader
}

// NewS3Cache builds the layer from ambient AWS credentials.
func NewS3Cache(opts S3Options) (*S3Cache, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("s3 cache bucket must not be empty")
	}
	cfg := aws.NewConfig()
	if opts.Region != "" {
		cfg = cfg.WithRegion(opts.Region)
	}
	if opts.Endpoint != "" {
		cfg = cfg.WithEndpoint(opts.Endpoint).WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}
	return &S3Cache{
		bucket:   opts.Bucket,
		prefix:   strings.Trim(opts.Prefix, "/"),
		readOnly: opts.ReadOnly,
		svc:      s3.New(sess),
		uploader: s3manager.NewUploaderWithClient(s3.New(sess)),
	}, nil
}

// objectKey mirrors the local cache layout with forward slashes.
func (c *S3Cache) objectKey(key ResourceKey) string {
	doi := strings.ReplaceAll(key.DOI, "/", "-")
	if c.prefix == "" {
		return path.Join(key.Source, doi, key.Name)
	}
	return path.Join(c.prefix, key.Source, doi, key.Name)
}

func (c *S3Cache) Get(ctx context.Context, key ResourceKey) (io.ReadCloser, error) {
	out, err := c.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.objectKey(key)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get s3://%s/%s: %w", c.bucket, c.objectKey(key), err)
	}
	return out.Body, nil
}

func (c *S3Cache) Put(ctx context.Context, key ResourceKey, r io.Reader) error {
	if c.readOnly {
		return fmt.Errorf("s3 cache layer is read-only")
	}
	_, err := c.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.objectKey(key)),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("failed to upload s3://%s/%s: %w", c.bucket, c.objectKey(key), err)
	}
	return nil
}

func (c *S3Cache) Contains(ctx context.Context, key ResourceKey) bool {
	_, err := c.svc.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.objectKey(key)),
	})
	return err == nil
}

func (c *S3Cache) Delete(ctx context.Context, key ResourceKey) error {
	if c.readOnly {
		return nil
	}
	_, err := c.svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete s3://%s/%s: %w", c.bucket, c.objectKey(key), err)
	}
	return nil
}

func (c *S3Cache) ReadOnly() bool { return c.readOnly }
