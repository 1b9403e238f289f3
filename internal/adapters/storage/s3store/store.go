// Package s3store implements ports.Storage on Amazon S3 and S3 compatible object stores.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.trai.ch/cratesync/internal/core/domain"
	"go.trai.ch/cratesync/internal/core/ports"
	"go.trai.ch/zerr"
)

var _ ports.Storage = (*Store)(nil)

// API is the subset of *s3.Client used by the Store.
type API interface {
	s3.ListObjectsV2APIClient
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Options configures the client built by Open.
type Options struct {
	Bucket string
	Prefix string
	// Region overrides the region resolved from the environment.
	Region string
	// Endpoint points the client at an S3 compatible service and enables path style addressing.
	Endpoint string
}

// Store keeps one object per key below Prefix in Bucket.
type Store struct {
	client API
	bucket string
	prefix string
}

// New wraps an existing client.
func New(client API, bucket, prefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: normalizePrefix(prefix),
	}
}

// Open builds a client from the standard AWS credential chain. Credentials are
// resolved up front so a missing or broken chain is a configuration error.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, domain.WithKind(domain.ErrConfig, zerr.New("s3 storage url has no bucket"))
	}

	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, domain.WithKind(domain.ErrConfig, zerr.Wrap(err, "failed to load aws configuration"))
	}
	if cfg.Credentials == nil {
		return nil, domain.WithKind(domain.ErrConfig, zerr.New("no aws credentials configured"))
	}
	if _, err := cfg.Credentials.Retrieve(ctx); err != nil {
		return nil, domain.WithKind(domain.ErrConfig, zerr.Wrap(err, "failed to resolve aws credentials"))
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return New(client, opts.Bucket, opts.Prefix), nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

func (s *Store) objectKey(key string) string {
	return s.prefix + key
}

// List returns every key starting with prefix, relative to the store prefix.
func (s *Store) List(ctx context.Context, prefix string) (domain.RemoteManifest, error) {
	out := make(domain.RemoteManifest)

	pager := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.objectKey(prefix)),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, transport(ctx, err, "failed to list objects", "prefix", prefix)
		}
		for _, obj := range page.Contents {
			key := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if key != "" {
				out[key] = struct{}{}
			}
		}
	}

	return out, nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, transport(ctx, err, "failed to stat object", "key", key)
	}
	return true, nil
}

// Get opens the object stored under key.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if isNotFound(err) {
		return nil, domain.WithKind(domain.ErrObjectNotFound, zerr.With(zerr.New("no such object"), "key", key))
	}
	if err != nil {
		return nil, transport(ctx, err, "failed to get object", "key", key)
	}
	return &body{ctx: ctx, rc: out.Body, key: key}, nil
}

// Put stores body under key. Bodies that cannot seek are buffered so the request
// payload can be signed.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64) error {
	if _, ok := body.(io.ReadSeeker); !ok {
		data, err := io.ReadAll(body)
		if err != nil {
			return zerr.With(zerr.Wrap(err, "failed to buffer object"), "key", key)
		}
		body = bytes.NewReader(data)
		size = int64(len(data))
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        body,
		ContentType: aws.String("application/zstd"),
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return transport(ctx, err, "failed to put object", "key", key)
	}
	return nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

func transport(ctx context.Context, err error, msg, field, value string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return domain.WithKind(domain.ErrTransport, zerr.With(zerr.Wrap(err, msg), field, value))
}

// body tags read failures of an object stream as transport errors.
type body struct {
	ctx context.Context //nolint:containedctx // scoped to one Get
	rc  io.ReadCloser
	key string
}

func (b *body) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = transport(b.ctx, err, "failed to read object", "key", b.key)
	}
	return n, err
}

func (b *body) Close() error {
	return b.rc.Close()
}
