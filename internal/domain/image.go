package domain

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"
)

type TransformedImage struct {
	URL      string            `json:"url"`
	Path     string            `json:"path,omitempty"`
	Width    int               `json:"width"`
	Height   int               `json:"height"`
	Size     int64             `json:"size"`
	MimeType string            `json:"mime_type"`
	Format   string            `json:"format"`
	IsNew    bool              `json:"is_new"`
	Backend  string            `json:"backend"`
	CacheKey string            `json:"cache_key,omitempty"`
	Origin   string            `json:"origin,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
}

func (img TransformedImage) Delegated() bool {
	return img.Path == "" && img.Origin != ""
}

func (img TransformedImage) Base64() (string, error) {
	if img.Path == "" {
		return "", nil
	}
	data, err := os.ReadFile(img.Path)
	if err != nil {
		return "", fmt.Errorf("read transformed image %s: %w", img.Path, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func (img TransformedImage) DataURI() (string, error) {
	encoded, err := img.Base64()
	if err != nil || encoded == "" {
		return "", err
	}
	return "data:" + img.MimeType + ";base64," + encoded, nil
}

type CacheEntry struct {
	Key        string
	SourceID   string
	Revision   string
	Backend    string
	Path       string
	URL        string
	Width      int
	Height     int
	Size       int64
	MimeType   string
	Format     string
	CreatedAt  time.Time
	ModifiedAt time.Time
}

func (e CacheEntry) Image(isNew bool) TransformedImage {
	return TransformedImage{
		URL:      e.URL,
		Path:     e.Path,
		Width:    e.Width,
		Height:   e.Height,
		Size:     e.Size,
		MimeType: e.MimeType,
		Format:   e.Format,
		IsNew:    isNew,
		Backend:  e.Backend,
		CacheKey: e.Key,
	}
}
