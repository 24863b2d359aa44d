package backend

import (
	"context"

	"github.com/dunamismax/pixelforge/internal/domain"
	"github.com/dunamismax/pixelforge/internal/transform"
)

// Request is one transform of Source. Format is already resolved to a
// concrete output format for local backends; Output is the staging file a
// local backend writes to and is empty for delegated backends.
type Request struct {
	Source     domain.Source
	Descriptor transform.Descriptor
	Format     transform.Format
	Output     string
}

type Result struct {
	Path     string
	URL      string
	Width    int
	Height   int
	Size     int64
	Format   transform.Format
	MimeType string
	Params   map[string]string
	Origin   string
}

type Transformer interface {
	Handle() string
	// Revision changes whenever the backend would render the same
	// descriptor differently, invalidating cached artifacts.
	Revision() string
	// Delegated backends compute a URL on a remote service and never
	// produce a local artifact.
	Delegated() bool
	Transform(ctx context.Context, req Request) (Result, error)
}

type PaletteOptions struct {
	Format string
	Colors int
	Prefix string
}

// DerivativeProvider is implemented by backends that can derive palettes and
// blurhashes from an already transformed image.
type DerivativeProvider interface {
	Palette(ctx context.Context, img domain.TransformedImage, opts PaletteOptions) ([]byte, error)
	Blurhash(ctx context.Context, img domain.TransformedImage) (string, error)
}

// Purger is implemented by backends whose remote service caches renditions.
type Purger interface {
	Purge(ctx context.Context, src domain.Source) error
}
