package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/dunamismax/pixelforge/internal/domain"
)

type fakeUploader struct {
	keys         []string
	cacheControl string
	err          error
}

func (f *fakeUploader) UploadFile(_ context.Context, objectKey, _, _, cacheControl string) error {
	if f.err != nil {
		return f.err
	}
	f.keys = append(f.keys, objectKey)
	f.cacheControl = cacheControl
	return nil
}

func (f *fakeUploader) RemovePrefix(_ context.Context, prefix string) (int, error) {
	return len(prefix), nil
}

func TestS3PublisherPublish(t *testing.T) {
	up := &fakeUploader{}
	p := newS3Publisher(up, S3Options{Handle: "aws", Prefix: "/transforms/", PublicURL: "https://media.example.com/"})

	url, err := p.Publish(context.Background(), "/tmp/a.jpg", "/abc/a_123.jpg", "image/jpeg")
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if url != "https://media.example.com/transforms/abc/a_123.jpg" {
		t.Fatalf("unexpected url %s", url)
	}
	if len(up.keys) != 1 || up.keys[0] != "transforms/abc/a_123.jpg" {
		t.Fatalf("unexpected object keys %v", up.keys)
	}
	if up.cacheControl != "public, max-age=31536000" {
		t.Fatalf("expected default cache control, got %q", up.cacheControl)
	}
}

func TestS3PublisherFailureIsStorageError(t *testing.T) {
	p := newS3Publisher(&fakeUploader{err: errors.New("connection refused")}, S3Options{Handle: "gcs", PublicURL: "https://x"})

	_, err := p.Publish(context.Background(), "/tmp/a.jpg", "a.jpg", "image/jpeg")
	if !errors.Is(err, domain.ErrStorage) {
		t.Fatalf("expected storage error, got %v", err)
	}
	var classified *domain.Error
	if !errors.As(err, &classified) || classified.Handle != "gcs" {
		t.Fatalf("expected handle gcs in error, got %v", err)
	}
}
