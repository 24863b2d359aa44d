package domain

import (
	"context"
	"time"
)

// Source is an origin image owned by the host platform. Width and Height may
// be zero until the image has been probed.
type Source interface {
	Identity() string
	Width() int
	Height() int
	LastModified() time.Time
	Extension() string
	LocalCopy(ctx context.Context) (string, error)
}

type VolumeScoped interface {
	Volume() string
}

// RemotePathed sources know their path on a delegated transform service.
type RemotePathed interface {
	RemotePath() string
}

func VolumeOf(src Source) string {
	if v, ok := src.(VolumeScoped); ok {
		return v.Volume()
	}
	return ""
}

func RemotePathOf(src Source) string {
	if p, ok := src.(RemotePathed); ok {
		return p.RemotePath()
	}
	return src.Identity()
}
