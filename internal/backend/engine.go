package backend

import (
	"image"
	"io"

	"github.com/dunamismax/pixelforge/internal/transform"
)

// rasterEngine decodes sources and encodes results for the local backend.
// Geometry and effects run on image.Image so every engine renders the same
// pixels; engines differ only in codec coverage.
type rasterEngine interface {
	Name() string
	Decode(path string) (image.Image, error)
	CanEncode(format transform.Format) bool
	Encode(w io.Writer, img image.Image, format transform.Format, quality int, interlace bool) error
}
