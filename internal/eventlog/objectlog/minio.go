package objectlog

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/opsledger/opsledger/internal/eventlog"
)

// Config locates the backing bucket.
type Config struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	Region    string
	AccessKey string
	SecretKey string
	UseTLS    bool
}

// Open connects to an S3-compatible endpoint and returns an ObjectLog over
// the configured bucket and prefix.
func Open(cfg Config) (*ObjectLog, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseTLS,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, eventlog.NewBackend(eventlog.ReasonNetwork, err,
			"connect object store %s", cfg.Endpoint)
	}
	return newLog(&minioAPI{client: client, bucket: cfg.Bucket}, cfg.Prefix), nil
}

// minioAPI adapts the minio client to the narrow objectAPI surface,
// classifying transport errors into the backend taxonomy so they propagate
// with their discriminator intact.
type minioAPI struct {
	client *minio.Client
	bucket string
}

func (m *minioAPI) Put(ctx context.Context, key string, data []byte, ifNoneMatch bool) error {
	opts := minio.PutObjectOptions{ContentType: "application/json"}
	if ifNoneMatch {
		// Conditional create: succeed only if the key does not exist.
		opts.SetMatchETagExcept("*")
	}
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(data), int64(len(data)), opts)
	if err != nil {
		return classify(err, "put %s", key)
	}
	return nil
}

func (m *minioAPI) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, classify(err, "get %s", key)
	}
	defer obj.Close()
	body, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, errNotFound
		}
		return nil, classify(err, "read %s", key)
	}
	return body, nil
}

func (m *minioAPI) List(ctx context.Context, prefix, startAfter string, max int) ([]string, error) {
	var keys []string
	ch := m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{
		Prefix:     prefix,
		StartAfter: startAfter,
		MaxKeys:    max,
	})
	for obj := range ch {
		if obj.Err != nil {
			return nil, classify(obj.Err, "list %s", prefix)
		}
		keys = append(keys, obj.Key)
		if len(keys) >= max {
			break
		}
	}
	return keys, nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey"
}

// classify maps an object-store error onto the taxonomy. The discriminator
// drives different operator responses: credentials drift, capacity, or
// transient network.
func classify(err error, format string, args ...any) error {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey":
		return errNotFound
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return eventlog.NewBackend(eventlog.ReasonAccessDenied, err, format, args...)
	case "NoSuchBucket":
		return eventlog.NewBackend(eventlog.ReasonNoSuchBucket, err, format, args...)
	case "PreconditionFailed":
		return eventlog.NewBackend(eventlog.ReasonPreconditionFailed, err, format, args...)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return eventlog.NewBackend(eventlog.ReasonNetwork, err, format, args...)
	}
	return eventlog.NewBackend(eventlog.ReasonNetwork, err, format, args...)
}
