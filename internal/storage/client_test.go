package storage

import (
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
)

func TestNewClientRequiresBucket(t *testing.T) {
	_, err := NewClient(Config{Endpoint: "localhost:9000", Access: "a", Secret: "b", Bucket: "  "})
	if err == nil {
		t.Fatal("expected error for empty bucket")
	}
}

func TestNewClient(t *testing.T) {
	c, err := NewClient(Config{Endpoint: "localhost:9000", Access: "a", Secret: "b", Bucket: " canvases "})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if c.Bucket() != "canvases" {
		t.Fatalf("expected bucket canvases, got %s", c.Bucket())
	}
}

func TestIsNotFound(t *testing.T) {
	for _, code := range []string{"NoSuchKey", "NoSuchObject", "NoSuchBucket"} {
		if !isNotFound(minio.ErrorResponse{Code: code}) {
			t.Fatalf("expected %s to be not found", code)
		}
	}
	if isNotFound(minio.ErrorResponse{Code: "AccessDenied"}) {
		t.Fatal("expected AccessDenied to be a real error")
	}
	if isNotFound(errors.New("boom")) {
		t.Fatal("expected plain error to be a real error")
	}
}

func TestImageContentType(t *testing.T) {
	cases := map[string]bool{
		"":                          true,
		"image/png":                 true,
		"image/jpeg; charset=utf-8": true,
		"application/octet-stream":  true,
		"binary/octet-stream":       true,
		"text/html":                 false,
		"application/pdf":           false,
		"not a media type;;":        false,
	}
	for in, want := range cases {
		if got := imageContentType(in); got != want {
			t.Fatalf("imageContentType(%q): expected %v, got %v", in, want, got)
		}
	}
}

func TestCheckSource(t *testing.T) {
	c := &Client{maxBytes: 100}

	if err := c.checkSource("dog.png", minio.ObjectInfo{Size: 100, ContentType: "image/png"}); err != nil {
		t.Fatalf("expected source to pass, got %v", err)
	}
	if err := c.checkSource("dog.png", minio.ObjectInfo{Size: 101, ContentType: "image/png"}); !errors.Is(err, ErrObjectTooLarge) {
		t.Fatalf("expected ErrObjectTooLarge, got %v", err)
	}
	if err := c.checkSource("dog.html", minio.ObjectInfo{Size: 10, ContentType: "text/html"}); !errors.Is(err, ErrNotImage) {
		t.Fatalf("expected ErrNotImage, got %v", err)
	}
	if err := (&Client{}).checkSource("big.png", minio.ObjectInfo{Size: 1 << 40}); err != nil {
		t.Fatalf("expected no cap without a limit, got %v", err)
	}
}

func TestCanvasMetadata(t *testing.T) {
	meta := canvasMetadata(Canvas{Width: 900, Height: 1200, RequestID: "order-42"})
	if meta["canvas-width"] != "900" || meta["canvas-height"] != "1200" || meta["request-id"] != "order-42" {
		t.Fatalf("unexpected metadata %v", meta)
	}
	if _, ok := canvasMetadata(Canvas{RequestID: " "})["request-id"]; ok {
		t.Fatal("expected blank request id to be omitted")
	}
}
