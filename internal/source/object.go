package source

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dunamismax/pixelforge/internal/storage"
)

type objectStore interface {
	StatObject(ctx context.Context, objectKey string) (storage.ObjectInfo, bool, error)
	DownloadObject(ctx context.Context, objectKey, path string) error
}

// Object is a source image in a bucket, copied to a runtime directory the
// first time pixels are needed.
type Object struct {
	store    objectStore
	key      string
	remote   string
	volume   string
	cacheDir string
	info     storage.ObjectInfo

	mu    sync.Mutex
	local string
	probe Info
}

func NewObject(ctx context.Context, store objectStore, key, remote, volume, cacheDir string) (*Object, error) {
	info, ok, err := store.StatObject(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("source object %s not found", key)
	}
	return &Object{store: store, key: key, remote: remote, volume: volume, cacheDir: cacheDir, info: info}, nil
}

func (o *Object) Identity() string {
	if o.volume == "" {
		return o.key
	}
	return o.volume + ":" + o.remote
}

func (o *Object) Width() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.probe.Width
}

func (o *Object) Height() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.probe.Height
}

func (o *Object) LastModified() time.Time { return o.info.LastModified }
func (o *Object) Volume() string          { return o.volume }
func (o *Object) RemotePath() string      { return o.remote }

func (o *Object) Extension() string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(o.key)), ".")
}

func (o *Object) LocalCopy(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.local != "" {
		return o.local, nil
	}

	dir := filepath.Join(o.cacheDir, fmt.Sprintf("%016x", xxhash.Sum64String(o.key)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create source cache dir: %w", err)
	}
	local := filepath.Join(dir, path.Base(o.key))

	st, err := os.Stat(local)
	stale := err != nil || st.Size() != o.info.Size || st.ModTime().Before(o.info.LastModified)
	if stale {
		if err := o.store.DownloadObject(ctx, o.key, local); err != nil {
			return "", err
		}
	}

	o.local = local
	if info, err := Probe(local); err == nil {
		o.probe = info
	}
	return local, nil
}
