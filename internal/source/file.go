package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// File is a source image on the local filesystem below a volume root.
type File struct {
	root     string
	rel      string
	volume   string
	modified time.Time

	once  sync.Once
	info  Info
	probe error
}

func NewFile(root, rel, volume string) (*File, error) {
	rel = filepath.ToSlash(filepath.Clean("/" + rel))[1:]
	if rel == "" {
		return nil, fmt.Errorf("image path is required")
	}

	full := filepath.Join(root, filepath.FromSlash(rel))
	st, err := os.Stat(full)
	if err != nil {
		return nil, fmt.Errorf("stat source %s: %w", rel, err)
	}
	if st.IsDir() {
		return nil, fmt.Errorf("source %s is a directory", rel)
	}

	return &File{root: root, rel: rel, volume: volume, modified: st.ModTime()}, nil
}

func (f *File) path() string {
	return filepath.Join(f.root, filepath.FromSlash(f.rel))
}

func (f *File) probed() Info {
	f.once.Do(func() {
		f.info, f.probe = Probe(f.path())
	})
	return f.info
}

func (f *File) Identity() string {
	if f.volume == "" {
		return f.rel
	}
	return f.volume + ":" + f.rel
}

func (f *File) Width() int              { return f.probed().Width }
func (f *File) Height() int             { return f.probed().Height }
func (f *File) LastModified() time.Time { return f.modified }
func (f *File) Volume() string          { return f.volume }
func (f *File) RemotePath() string      { return f.rel }

func (f *File) Extension() string {
	if ext := f.probed().Extension; ext != "" {
		return ext
	}
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(f.rel)), ".")
}

func (f *File) LocalCopy(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return f.path(), nil
}
