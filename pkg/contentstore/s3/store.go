package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/treeaudit/pkg/contentstore"
)

// API is the subset of the S3 client used by the store.
type API interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Store is an S3-backed content store.
type Store struct {
	cfg    Config
	client API

	// withKeys builds a client for explicit session credentials. Nil when
	// the store was given a fixed client.
	withKeys func(accessKeyID, secret string) API
}

// Ensure Store implements contentstore.Store.
var _ contentstore.Store = (*Store)(nil)

// New creates a store using the AWS SDK v2 configuration chain.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &contentstore.StoreError{Op: "New", Backend: contentstore.BackendS3, Err: err}
	}

	var s3Opts []func(*s3.Options)
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(cfg.Endpoint) })
	}

	return &Store{
		cfg:    cfg,
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		withKeys: func(accessKeyID, secret string) API {
			opts := append(slices.Clone(s3Opts), func(o *s3.Options) {
				o.Credentials = credentials.NewStaticCredentialsProvider(accessKeyID, secret, "")
			})
			return s3.NewFromConfig(awsCfg, opts...)
		},
	}, nil
}

// NewWithClient creates a store over an existing client. Session
// credentials are not used to build per-session clients.
func NewWithClient(client API, cfg Config) (*Store, error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{cfg: cfg.withDefaults(), client: client}, nil
}

func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	awsCfg.Region = resolveRegion(cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

// Close releases any resources held by the store.
// The S3 client doesn't require explicit cleanup.
func (s *Store) Close() error {
	return nil
}

// OpenSession verifies bucket access with the session's client.
func (s *Store) OpenSession(ctx context.Context, creds contentstore.Credentials) (contentstore.Session, error) {
	client := s.client
	if s.withKeys != nil && creds.Password != "" {
		creds = creds.WithDefaults()
		client = s.withKeys(creds.Username, creds.Password)
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.cfg.Bucket)}); err != nil {
		return nil, s.wrapError("OpenSession", "", err)
	}

	return &session{
		store:  s,
		client: client,
		docs:   make(map[string]*document),
		dirty:  make(map[string]*document),
	}, nil
}

// Seed uploads root under the configured prefix. Nodes whose type is a
// folder type become key prefixes; every other node is written as a
// document holding its whole subtree. Existing objects are not removed.
func (s *Store) Seed(ctx context.Context, root *contentstore.Node) error {
	if root == nil {
		return errors.New("seed tree is nil")
	}
	if err := root.Validate(); err != nil {
		return err
	}

	var put func(n *contentstore.Node, p string) error
	put = func(n *contentstore.Node, p string) error {
		if !slices.Contains(s.cfg.FolderTypes, n.Type) {
			return s.putDocument(ctx, s.client, &document{key: s.documentKey(p), path: p, root: n})
		}
		if len(n.Children) == 0 && p != "/" {
			_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
				Bucket: aws.String(s.cfg.Bucket),
				Key:    aws.String(s.folderPrefix(p)),
				Body:   bytes.NewReader(nil),
			})
			if err != nil {
				return s.wrapError("Seed", p, err)
			}
			return nil
		}
		for _, c := range n.Children {
			if err := put(c, contentstore.JoinPath(p, c.Name)); err != nil {
				return err
			}
		}
		return nil
	}
	return put(root, "/")
}

func (s *Store) objectKey(p string) string {
	return s.cfg.Prefix + strings.TrimPrefix(contentstore.CleanPath(p), "/")
}

func (s *Store) documentKey(p string) string {
	return s.objectKey(p) + DocumentSuffix
}

func (s *Store) folderPrefix(p string) string {
	if contentstore.CleanPath(p) == "/" {
		return s.cfg.Prefix
	}
	return s.objectKey(p) + "/"
}

func (s *Store) putDocument(ctx context.Context, client API, doc *document) error {
	body, err := json.MarshalIndent(doc.root, "", "  ")
	if err != nil {
		return &contentstore.StoreError{Op: "PutDocument", Backend: contentstore.BackendS3, Path: doc.path, Err: err}
	}
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(doc.key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return s.wrapError("PutDocument", doc.path, err)
	}
	return nil
}

// wrapError converts S3 errors to store errors with the matching sentinel.
func (s *Store) wrapError(op, p string, err error) error {
	wrapped := &contentstore.StoreError{
		Op:      op,
		Backend: contentstore.BackendS3,
		Path:    p,
		Err:     err,
	}

	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket

	switch {
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		wrapped.Err = contentstore.ErrNotFound
		return wrapped
	case errors.As(err, &noSuchBucket):
		wrapped.Err = fmt.Errorf("bucket %s: %w", s.cfg.Bucket, contentstore.ErrUnavailable)
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			wrapped.Err = contentstore.ErrNotFound
		case "NoSuchBucket":
			wrapped.Err = fmt.Errorf("bucket %s: %w", s.cfg.Bucket, contentstore.ErrUnavailable)
		case "AccessDenied", "Forbidden":
			wrapped.Err = contentstore.ErrAccessDenied
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			wrapped.Err = contentstore.ErrInvalidCredentials
		case "SlowDown", "Throttling", "RequestLimitExceeded", "ServiceUnavailable", "InternalError":
			wrapped.Err = fmt.Errorf("%s: %w", apiErr.ErrorCode(), contentstore.ErrUnavailable)
		}
		return wrapped
	}

	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "NoSuchKey") || strings.Contains(errMsg, "NotFound") || strings.Contains(errMsg, "404"):
		wrapped.Err = contentstore.ErrNotFound
	case strings.Contains(errMsg, "AccessDenied") || strings.Contains(errMsg, "Forbidden") || strings.Contains(errMsg, "403"):
		wrapped.Err = contentstore.ErrAccessDenied
	case strings.Contains(errMsg, "InvalidAccessKeyId") || strings.Contains(errMsg, "SignatureDoesNotMatch"):
		wrapped.Err = contentstore.ErrInvalidCredentials
	case strings.Contains(errMsg, "ServiceUnavailable") || strings.Contains(errMsg, "503"):
		wrapped.Err = fmt.Errorf("%s: %w", errMsg, contentstore.ErrUnavailable)
	}
	return wrapped
}
