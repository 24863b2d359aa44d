package backend

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dunamismax/pixelforge/internal/cache"
	"github.com/dunamismax/pixelforge/internal/domain"
	"github.com/dunamismax/pixelforge/internal/transform"
)

type remoteSource struct {
	fileSource
	remote string
}

func (s remoteSource) RemotePath() string { return s.remote }

func TestCDNTransformBuildsSignedURL(t *testing.T) {
	cdn, err := NewCDN(CDNConfig{Domain: "demo.imgix.net", SignKey: "secret"}, nil, nil)
	if err != nil {
		t.Fatalf("new cdn: %v", err)
	}

	src := remoteSource{fileSource: fileSource{width: 1600, height: 900}, remote: "photos/my cat.jpg"}
	d := transform.Descriptor{Width: 800, Height: 800, Fit: transform.FitMax, Position: transform.Center, Format: transform.FormatJPG, Quality: 75, Interlace: true}

	res, err := cdn.Transform(context.Background(), Request{Source: src, Descriptor: d, Format: transform.FormatJPG})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}

	query := "fit=max&fm=pjpg&h=800&q=75&w=800"
	sum := md5.Sum([]byte("secret/photos/my%20cat.jpg?" + query))
	want := "https://demo.imgix.net/photos/my%20cat.jpg?" + query + "&s=" + hex.EncodeToString(sum[:])
	if res.URL != want {
		t.Fatalf("unexpected url\n got %s\nwant %s", res.URL, want)
	}
	if res.Width != 1422 || res.Height != 800 {
		t.Fatalf("expected reported size 1422x800, got %dx%d", res.Width, res.Height)
	}
	if res.Path != "" || res.Origin != "demo.imgix.net" {
		t.Fatalf("expected delegated result, got %+v", res)
	}
}

func TestCDNParamsTranslation(t *testing.T) {
	cdn, _ := NewCDN(CDNConfig{Domain: "demo.imgix.net"}, nil, nil)

	params, err := cdn.Params(transform.Descriptor{
		Width:      300,
		Height:     200,
		Fit:        transform.FitCrop,
		Position:   transform.Position{X: 0.25, Y: 0.75},
		Format:     transform.FormatAuto,
		Background: "#00ff00",
		Effects:    []transform.EffectSpec{{Name: "grayscale"}, {Name: "blur", Params: map[string]string{"value": "40"}}},
		Extra:      map[string]string{"dpr": "2"},
	})
	if err != nil {
		t.Fatalf("params: %v", err)
	}

	want := map[string]string{
		"w": "300", "h": "200", "fit": "crop", "crop": "focalpoint", "fp-x": "0.25", "fp-y": "0.75",
		"auto": "format", "bg": "00ff00", "sat": "-100", "blur": "40", "dpr": "2",
	}
	for k, v := range want {
		if params[k] != v {
			t.Fatalf("param %s: expected %q, got %q (all %v)", k, v, params[k], params)
		}
	}
	if len(params) != len(want) {
		t.Fatalf("unexpected extra params %v", params)
	}

	_, err = cdn.Params(transform.Descriptor{Effects: []transform.EffectSpec{{Name: "oilpaint"}}})
	if !errors.Is(err, domain.ErrEffect) {
		t.Fatalf("expected effect error for unsupported effect, got %v", err)
	}
}

func TestCDNPaletteIsCached(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Query().Get("palette") != "json" || r.URL.Query().Get("colors") != "4" {
			t.Errorf("unexpected palette query %s", r.URL.RawQuery)
		}
		if r.URL.Query().Get("w") != "100" {
			t.Errorf("expected transform params to be kept, got %s", r.URL.RawQuery)
		}
		_, _ = io.WriteString(w, `{"colors":[{"hex":"#ffffff"}]}`)
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	responses, err := cache.NewLRUResponseCache(16)
	if err != nil {
		t.Fatalf("lru: %v", err)
	}
	cdn, err := NewCDN(CDNConfig{Domain: host, Insecure: true, ResponseTTL: time.Minute}, srv.Client(), responses)
	if err != nil {
		t.Fatalf("new cdn: %v", err)
	}

	src := remoteSource{fileSource: fileSource{width: 400, height: 200}, remote: "a.jpg"}
	res, err := cdn.Transform(context.Background(), Request{Source: src, Descriptor: transform.Descriptor{Width: 100, Fit: transform.FitCrop, Position: transform.Center}})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	img := domain.TransformedImage{URL: res.URL, Origin: res.Origin, Params: res.Params}

	for i := 0; i < 2; i++ {
		data, err := cdn.Palette(context.Background(), img, PaletteOptions{Colors: 4})
		if err != nil {
			t.Fatalf("palette: %v", err)
		}
		if !strings.Contains(string(data), "#ffffff") {
			t.Fatalf("unexpected palette %s", data)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one upstream request, got %d", hits.Load())
	}

	if _, err := cdn.Palette(context.Background(), domain.TransformedImage{Path: "/tmp/x.jpg"}, PaletteOptions{}); err == nil {
		t.Fatal("expected error for an image from another backend")
	}
}

func TestCDNPurge(t *testing.T) {
	var got purgeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer purge-key" {
			t.Errorf("unexpected authorization %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode purge body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cdn, _ := NewCDN(CDNConfig{Domain: "demo.imgix.net", PurgeKey: "purge-key", PurgeEndpoint: srv.URL}, srv.Client(), nil)
	src := remoteSource{remote: "folder/a.jpg"}
	if err := cdn.Purge(context.Background(), src); err != nil {
		t.Fatalf("purge: %v", err)
	}

	if got.Data.Type != "purges" {
		t.Fatalf("unexpected purge type %q", got.Data.Type)
	}
	u, err := url.Parse(got.Data.Attributes.URL)
	if err != nil || u.Host != "demo.imgix.net" || u.Path != "/folder/a.jpg" || u.RawQuery != "" {
		t.Fatalf("unexpected purge url %q", got.Data.Attributes.URL)
	}
}
