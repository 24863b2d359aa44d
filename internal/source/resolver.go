package source

import (
	"context"
	"path"
	"strings"

	"github.com/dunamismax/pixelforge/internal/domain"
)

const (
	VolumeLocal  = "local"
	VolumeObject = "object"
)

type Volume struct {
	Handle string `yaml:"-"`
	Kind   string `yaml:"kind"`
	Root   string `yaml:"root"`
	Prefix string `yaml:"prefix"`
}

// Resolver turns (volume, path) pairs into sources.
type Resolver struct {
	volumes  map[string]Volume
	objects  objectStore
	cacheDir string
}

func NewResolver(volumes map[string]Volume, objects objectStore, cacheDir string) *Resolver {
	out := make(map[string]Volume, len(volumes))
	for handle, v := range volumes {
		v.Handle = handle
		if v.Kind == "" {
			v.Kind = VolumeLocal
		}
		out[handle] = v
	}
	return &Resolver{volumes: out, objects: objects, cacheDir: cacheDir}
}

func (r *Resolver) Resolve(ctx context.Context, volume, imagePath string) (domain.Source, error) {
	v, ok := r.volumes[volume]
	if !ok {
		return nil, domain.Errorf(domain.KindValidation, "resolve", "unknown volume %q", volume)
	}

	switch v.Kind {
	case VolumeLocal:
		f, err := NewFile(v.Root, imagePath, v.Handle)
		if err != nil {
			return nil, domain.Wrap(domain.KindValidation, "resolve", err)
		}
		return f, nil
	case VolumeObject:
		if r.objects == nil {
			return nil, domain.Errorf(domain.KindValidation, "resolve", "volume %q needs object storage", volume)
		}
		remote := strings.TrimPrefix(path.Clean("/"+imagePath), "/")
		key := remote
		if p := strings.Trim(v.Prefix, "/"); p != "" {
			key = p + "/" + remote
		}
		o, err := NewObject(ctx, r.objects, key, remote, v.Handle, r.cacheDir)
		if err != nil {
			return nil, domain.Wrap(domain.KindValidation, "resolve", err)
		}
		return o, nil
	default:
		return nil, domain.Errorf(domain.KindValidation, "resolve", "volume %q has unknown kind %q", volume, v.Kind)
	}
}
