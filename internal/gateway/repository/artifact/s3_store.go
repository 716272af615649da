package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// URLExpiry is the lifetime of presigned download links.
	URLExpiry time.Duration
}

// S3Store keeps archives in an S3 compatible bucket (MinIO in development).
// The bucket is created on first use.
type S3Store struct {
	client *minio.Client
	bucket string
	region string
	expiry time.Duration

	mu    sync.Mutex
	ready bool
}

func NewS3Store(cfg S3Config) (*S3Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	bucket := strings.TrimSpace(cfg.Bucket)
	access, secret := strings.TrimSpace(cfg.AccessKey), strings.TrimSpace(cfg.SecretKey)
	switch {
	case endpoint == "":
		return nil, fmt.Errorf("s3 endpoint is required")
	case access == "" || secret == "":
		return nil, fmt.Errorf("s3 access key and secret key are required")
	case bucket == "":
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = time.Hour
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3Store{client: client, bucket: bucket, region: region, expiry: expiry}, nil
}

// ensureBucket creates the bucket once. A failed attempt is retried on the
// next call.
func (s *S3Store) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("ensure bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.bucket, err)
		}
	}
	s.ready = true
	return nil
}

func (s *S3Store) Put(ctx context.Context, project, name string, content []byte) error {
	project, name, err := validate(project, name)
	if err != nil {
		return err
	}
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, s.bucket, objectKey(project, name), bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType:        contentType(name),
		ContentDisposition: attachment(name),
		UserMetadata:       map[string]string{"project": project},
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", objectKey(project, name), err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, project, name string) ([]byte, error) {
	project, name, err := validate(project, name)
	if err != nil {
		return nil, err
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(project, name), minio.GetObjectOptions{})
	if err != nil {
		return nil, notFound(err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, notFound(err)
	}
	return data, nil
}

func (s *S3Store) List(ctx context.Context, project string) ([]string, error) {
	if strings.TrimSpace(project) == "" {
		return nil, ErrNotFound
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	prefix := projectPrefix(project)
	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if name := strings.TrimPrefix(obj.Key, prefix); name != "" && !strings.HasSuffix(name, "/") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// GetURL presigns a download link that saves the archive under its own name.
func (s *S3Store) GetURL(ctx context.Context, project, name string) (string, error) {
	project, name, err := validate(project, name)
	if err != nil {
		return "", err
	}
	params := url.Values{}
	params.Set("response-content-disposition", attachment(name))
	u, err := s.client.PresignedGetObject(ctx, s.bucket, objectKey(project, name), s.expiry, params)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func attachment(name string) string {
	return fmt.Sprintf("attachment; filename=%q", name)
}

func notFound(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return ErrNotFound
	}
	return err
}
