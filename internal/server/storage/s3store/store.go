// Package s3store implements storage.Store on an S3 compatible bucket.
// Every value is one object at <prefix><namespace>/<key>; a namespace exists
// once its marker object <prefix><namespace>/.namespace has been written.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/dmitrijs2005/levelstore/internal/server/storage"
)

const markerName = ".namespace"

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// API is the subset of *s3.Client the store needs.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Options configure Open.
type Options struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

type Store struct {
	client API
	bucket string
	prefix string

	mu      sync.RWMutex
	ensured map[string]struct{}
}

// New builds a store over an existing client. prefix may be empty; otherwise
// it should end with "/".
func New(client API, bucket, prefix string) *Store {
	return &Store{
		client:  client,
		bucket:  bucket,
		prefix:  prefix,
		ensured: make(map[string]struct{}),
	}
}

// Open loads the AWS configuration and connects to the bucket.
func Open(ctx context.Context, o Options) (*Store, error) {
	if o.Bucket == "" {
		return nil, errors.New("s3store: bucket is required")
	}

	opts := []func(*config.LoadOptions) error{}
	if o.Region != "" {
		opts = append(opts, config.WithRegion(o.Region))
	}
	if o.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(o.AccessKey, o.SecretKey, "")))
	}

	cfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(so *s3.Options) {
		if o.Endpoint != "" {
			so.BaseEndpoint = aws.String(o.Endpoint)
		}
		so.UsePathStyle = o.UsePathStyle
	})

	return New(client, o.Bucket, o.Prefix), nil
}

func (s *Store) objectKey(ns, key string) string {
	return s.prefix + ns + "/" + key
}

func (s *Store) EnsureNamespace(ctx context.Context, ns string) error {
	if err := storage.ValidateName(ns); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(ns, markerName)),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return fmt.Errorf("s3 error: %w", err)
	}

	s.mu.Lock()
	s.ensured[ns] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *Store) namespaceExists(ctx context.Context, ns string) (bool, error) {
	s.mu.RLock()
	_, ok := s.ensured[ns]
	s.mu.RUnlock()
	if ok {
		return true, nil
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(ns, markerName)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("s3 error: %w", err)
	}

	s.mu.Lock()
	s.ensured[ns] = struct{}{}
	s.mu.Unlock()
	return true, nil
}

func (s *Store) Put(ctx context.Context, ns, key string, value []byte) error {
	if err := storage.ValidatePair(ns, key); err != nil {
		return err
	}
	ok, err := s.namespaceExists(ctx, ns)
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrNoNamespace
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.objectKey(ns, key)),
		Body:          bytes.NewReader(value),
		ContentLength: aws.Int64(int64(len(value))),
	})
	if err != nil {
		return fmt.Errorf("s3 error: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, ns, key string) ([]byte, error) {
	if err := storage.ValidatePair(ns, key); err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(ns, key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("s3 error: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read: %w", err)
	}
	return data, nil
}

func (s *Store) Delete(ctx context.Context, ns, key string) error {
	if err := storage.ValidatePair(ns, key); err != nil {
		return err
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(ns, key)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("s3 error: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, ns string) ([]string, error) {
	if err := storage.ValidateName(ns); err != nil {
		return nil, err
	}

	dir := s.prefix + ns + "/"
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(dir),
	})

	var keys []string
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 error: %w", err)
		}
		for _, obj := range page.Contents {
			k := strings.TrimPrefix(aws.ToString(obj.Key), dir)
			if k == "" || strings.Contains(k, "/") || storage.ValidateName(k) != nil {
				continue
			}
			keys = append(keys, k)
		}
	}

	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *Store) Close() error { return nil }

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
