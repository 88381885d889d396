// Package s3 implements the storage adapter on an S3-compatible bucket
// (AWS S3 or MinIO). Each location maps onto an object key prefix.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"simplepersist/internal/storage/core"
)

var (
	_ core.Opener  = (*Opener)(nil)
	_ core.Adapter = (*Store)(nil)
)

// Config holds explicit construction parameters.
type Config struct {
	Region    string
	Bucket    string
	Endpoint  string // optional; if set enables custom endpoint (e.g. MinIO)
	Prefix    string // optional object key prefix shared by every location
	PathStyle bool
}

// Opener shares one S3 client across locations.
type Opener struct {
	client *s3.Client
	bucket string
	prefix string
}

// New creates an S3 opener from Config using the default credentials chain.
func New(ctx context.Context, cfg Config) (*Opener, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient wraps an already configured client.
func NewWithClient(client *s3.Client, bucket, prefix string) *Opener {
	return &Opener{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (o *Opener) Driver() core.Driver { return core.DriverS3 }

// Open returns an adapter for loc. Buckets have no directories, so nothing is
// created until the first Set.
func (o *Opener) Open(_ context.Context, loc core.Location) (core.Adapter, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	base := loc.Path() + "/"
	if o.prefix != "" {
		base = o.prefix + "/" + base
	}
	return &Store{client: o.client, bucket: o.bucket, base: base}, nil
}

// Store implements core.Adapter over one key prefix of the bucket.
type Store struct {
	client *s3.Client
	bucket string
	base   string
}

func (s *Store) Driver() core.Driver { return core.DriverS3 }

func (s *Store) objectKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty key")
	}
	return s.base + url.PathEscape(key), nil
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: &s.bucket, Prefix: aws.String(s.base), ContinuationToken: token})
		if err != nil {
			return nil, err
		}
		for _, obj := range out.Contents {
			rest := strings.TrimPrefix(aws.ToString(obj.Key), s.base)
			if rest == "" || strings.Contains(rest, "/") {
				continue
			}
			k, err := url.PathUnescape(rest)
			if err != nil {
				continue
			}
			keys = append(keys, k)
		}
		if out.IsTruncated != nil && *out.IsTruncated && out.NextContinuationToken != nil {
			token = out.NextContinuationToken
			continue
		}
		break
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	obj, err := s.objectKey(key)
	if err != nil {
		return nil, false, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &s.bucket, Key: &obj})
	if isNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = out.Body.Close() }()
	b, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	obj, err := s.objectKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &obj,
		Body:        bytes.NewReader(value),
		ContentType: aws.String("application/json"),
	})
	return err
}

func (s *Store) Remove(ctx context.Context, key string) error {
	obj, err := s.objectKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &s.bucket, Key: &obj})
	if isNotFound(err) {
		return nil
	}
	return err
}

// Close is a no-op; the client belongs to the Opener.
func (s *Store) Close() error { return nil }

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var re *awshttp.ResponseError
	return errors.As(err, &re) && re.HTTPStatusCode() == http.StatusNotFound
}
