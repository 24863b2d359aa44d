package cache

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/dunamismax/pixelforge/internal/transform"
)

// Key identifies one artifact: the same source, canonical descriptor and
// backend revision always produce the same key.
func Key(sourceID string, d transform.Descriptor, revision string) string {
	h := xxhash.New()
	_, _ = h.WriteString(sourceID)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(d.Canonical())
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(revision)
	return fmt.Sprintf("%016x", h.Sum64())
}

func sourceDir(sourceID string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(sourceID))
}

// artifactName keeps the source's base name readable in the cache tree.
func artifactName(sourceID, key string, format transform.Format) string {
	base := filepath.Base(filepath.ToSlash(sourceID))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return fmt.Sprintf("%s_%s.%s", sanitizePathToken(base), key, format.Extension())
}

func sanitizePathToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" || in == "." || in == "/" {
		return "image"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// SourcePrefix is the directory, relative to the cache root, holding every
// artifact of sourceID.
func SourcePrefix(sourceID string) string {
	return sourceDir(sourceID) + "/"
}
