package storage

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"
)

type Store struct {
	client     *minio.Client
	bucketName string
	region     string
}

// New buat koneksi MinIO
func New(ctx context.Context, endpoint, region, bucket, accessKey, secretKey string, useSSL bool) (*Store, error) {
	cli, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, eris.Wrap(err, "minio client")
	}

	// pastikan bucket ada
	exists, err := cli.BucketExists(ctx, bucket)
	if err != nil {
		return nil, eris.Wrapf(err, "check bucket %s", bucket)
	}
	if !exists {
		if err := cli.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
			return nil, eris.Wrapf(err, "create bucket %s", bucket)
		}
	}

	return &Store{client: cli, bucketName: bucket, region: region}, nil
}

// Fetch reads a whole object into memory.
func (s *Store) Fetch(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, eris.Wrapf(err, "get object %s", key)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, eris.Wrapf(err, "read object %s", key)
	}
	return data, nil
}

// Store overwrites the object at key.
func (s *Store) Store(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return eris.Wrapf(err, "put object %s", key)
	}
	return nil
}

// KeyFromURL strips the bucket from a path-style object URL.
func (s *Store) KeyFromURL(rawURL string) (string, error) {
	return KeyFromURL(rawURL, s.bucketName)
}

// Ping is used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return err
	}
	if !ok {
		return eris.Errorf("bucket %s missing", s.bucketName)
	}
	return nil
}

// KeyFromURL derives an object key from a document URL. Path-style URLs
// (http://host/bucket/key) and s3://bucket/key are accepted; a bare key is
// returned unchanged.
func KeyFromURL(rawURL, bucket string) (string, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return "", eris.New("empty document url")
	}
	if !strings.Contains(raw, "://") {
		return strings.TrimPrefix(raw, "/"), nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", eris.Wrapf(err, "parse document url %q", raw)
	}

	var path string
	switch u.Scheme {
	case "s3":
		if u.Host != bucket {
			return "", eris.Errorf("url bucket %q does not match %q", u.Host, bucket)
		}
		path = strings.TrimPrefix(u.EscapedPath(), "/")
	case "http", "https":
		path = strings.TrimPrefix(u.EscapedPath(), "/")
		prefix := bucket + "/"
		if !strings.HasPrefix(path, prefix) {
			// virtual-hosted style: bucket.host/key
			if !strings.HasPrefix(u.Host, bucket+".") {
				return "", eris.Errorf("url %q is not in bucket %q", raw, bucket)
			}
		} else {
			path = strings.TrimPrefix(path, prefix)
		}
	default:
		return "", eris.Errorf("unsupported url scheme %q", u.Scheme)
	}

	key, err := url.PathUnescape(path)
	if err != nil {
		return "", eris.Wrapf(err, "unescape key %q", path)
	}
	if key == "" {
		return "", eris.Errorf("url %q has no object key", raw)
	}
	return key, nil
}
