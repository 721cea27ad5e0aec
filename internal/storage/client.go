// Package storage holds uploaded pet photos and rendered canvases in one
// S3-compatible bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strconv"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	ErrObjectTooLarge = errors.New("object exceeds size limit")
	ErrSourceNotFound = errors.New("source object not found")
	ErrNotImage       = errors.New("source object is not an image")
)

// Rendered canvases are addressed by request id and never rewritten.
const canvasCacheControl = "public, max-age=31536000, immutable"

type Config struct {
	Endpoint string
	Access   string
	Secret   string
	Bucket   string
	UseSSL   bool
	// MaxObjectBytes caps ReadSource. Zero disables the cap.
	MaxObjectBytes int64
}

type Client struct {
	minio    *minio.Client
	bucket   string
	maxBytes int64
}

func NewClient(cfg Config) (*Client, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &Client{minio: mc, bucket: bucket, maxBytes: cfg.MaxObjectBytes}, nil
}

func (c *Client) Bucket() string {
	return c.bucket
}

// EnsureBucket creates the bucket on first upload. Losing a creation race to
// another process is not an error.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.minio.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", c.bucket, err)
	}
	if exists {
		return nil
	}

	if err := c.minio.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		if exists, checkErr := c.minio.BucketExists(ctx, c.bucket); checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", c.bucket, err)
	}
	return nil
}

// ReadSource downloads an uploaded source photo. The object is checked for
// size and content type before its body is read.
func (c *Client) ReadSource(ctx context.Context, key string) ([]byte, error) {
	info, err := c.minio.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, key)
		}
		return nil, fmt.Errorf("stat source %s: %w", key, err)
	}
	if err := c.checkSource(key, info); err != nil {
		return nil, err
	}

	obj, err := c.minio.GetObject(ctx, c.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get source %s: %w", key, err)
	}
	defer obj.Close()

	var body io.Reader = obj
	if c.maxBytes > 0 {
		body = io.LimitReader(obj, c.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read source %s: %w", key, err)
	}
	if c.maxBytes > 0 && int64(len(data)) > c.maxBytes {
		return nil, fmt.Errorf("%w: %s grew past %d bytes", ErrObjectTooLarge, key, c.maxBytes)
	}
	return data, nil
}

func (c *Client) checkSource(key string, info minio.ObjectInfo) error {
	if c.maxBytes > 0 && info.Size > c.maxBytes {
		return fmt.Errorf("%w: %s is %d bytes", ErrObjectTooLarge, key, info.Size)
	}
	if !imageContentType(info.ContentType) {
		return fmt.Errorf("%w: %s has content type %q", ErrNotImage, key, info.ContentType)
	}
	return nil
}

// imageContentType accepts image/* and the untyped defaults browsers and SDKs
// fall back to; the decoder has the final word.
func imageContentType(contentType string) bool {
	if strings.TrimSpace(contentType) == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/") ||
		mediaType == "application/octet-stream" ||
		mediaType == "binary/octet-stream"
}

// Canvas is a rendered canvas on its way to the bucket.
type Canvas struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
	RequestID   string
}

// PutCanvas uploads a rendered canvas with its dimensions and request id as
// object metadata.
func (c *Client) PutCanvas(ctx context.Context, key string, canvas Canvas) error {
	_, err := c.minio.PutObject(ctx, c.bucket, key,
		bytes.NewReader(canvas.Data), int64(len(canvas.Data)),
		minio.PutObjectOptions{
			ContentType:  canvas.ContentType,
			CacheControl: canvasCacheControl,
			UserMetadata: canvasMetadata(canvas),
		},
	)
	if err != nil {
		return fmt.Errorf("put canvas %s: %w", key, err)
	}
	return nil
}

func canvasMetadata(canvas Canvas) map[string]string {
	meta := map[string]string{
		"canvas-width":  strconv.Itoa(canvas.Width),
		"canvas-height": strconv.Itoa(canvas.Height),
	}
	if id := strings.TrimSpace(canvas.RequestID); id != "" {
		meta["request-id"] = id
	}
	return meta
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject", "NoSuchBucket":
		return true
	}
	return false
}
