package storage

import (
	"context"
	"path"
	"strings"

	"github.com/dunamismax/pixelforge/internal/domain"
)

// Publisher copies a finished artifact to external storage and returns its
// public URL.
type Publisher interface {
	Handle() string
	Publish(ctx context.Context, localPath, objectKey, contentType string) (string, error)
}

// Remover is implemented by publishers that can drop published artifacts.
type Remover interface {
	RemovePrefix(ctx context.Context, prefix string) (int, error)
}

type uploader interface {
	UploadFile(ctx context.Context, objectKey, path, contentType, cacheControl string) error
	RemovePrefix(ctx context.Context, prefix string) (int, error)
}

type S3Options struct {
	Handle       string
	Prefix       string
	PublicURL    string
	CacheControl string
}

type S3Publisher struct {
	opts   S3Options
	client uploader
}

func NewS3Publisher(client *Client, opts S3Options) *S3Publisher {
	if opts.PublicURL == "" {
		opts.PublicURL = client.BucketURL()
	}
	return newS3Publisher(client, opts)
}

func newS3Publisher(client uploader, opts S3Options) *S3Publisher {
	if opts.Handle == "" {
		opts.Handle = "s3"
	}
	if opts.CacheControl == "" {
		opts.CacheControl = "public, max-age=31536000"
	}
	opts.Prefix = strings.Trim(opts.Prefix, "/")
	opts.PublicURL = strings.TrimRight(opts.PublicURL, "/")
	return &S3Publisher{opts: opts, client: client}
}

func (p *S3Publisher) Handle() string {
	return p.opts.Handle
}

func (p *S3Publisher) objectKey(key string) string {
	key = strings.TrimLeft(key, "/")
	if p.opts.Prefix == "" {
		return key
	}
	return path.Join(p.opts.Prefix, key)
}

func (p *S3Publisher) Publish(ctx context.Context, localPath, key, contentType string) (string, error) {
	objectKey := p.objectKey(key)
	if err := p.client.UploadFile(ctx, objectKey, localPath, contentType, p.opts.CacheControl); err != nil {
		return "", domain.Wrap(domain.KindStorage, "publish", err).WithHandle(p.opts.Handle)
	}
	return p.opts.PublicURL + "/" + objectKey, nil
}

func (p *S3Publisher) RemovePrefix(ctx context.Context, prefix string) (int, error) {
	n, err := p.client.RemovePrefix(ctx, p.objectKey(prefix))
	if err != nil {
		return n, domain.Wrap(domain.KindStorage, "remove", err).WithHandle(p.opts.Handle)
	}
	return n, nil
}
