package bootstrap

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/dunamismax/pixelforge/internal/config"
	"github.com/dunamismax/pixelforge/internal/source"
	"github.com/dunamismax/pixelforge/internal/transform"
)

func buildTestPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: 180, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func testConfig(t *testing.T) (config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	images := filepath.Join(dir, "images")
	if err := os.MkdirAll(images, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	return config.Config{
		Cache: config.CacheConfig{
			Dir:               filepath.Join(dir, "cache"),
			PublicURL:         "/transforms",
			Revision:          "1",
			RuntimeDir:        filepath.Join(dir, "runtime"),
			ResponseCacheSize: 16,
		},
		Transform: config.TransformConfig{Backend: "local", Tier: "advanced", Fit: "crop"},
		Catalog: config.Catalog{
			Presets:  map[string]map[string]any{"thumb": {"width": 40, "height": 40}},
			Volumes:  map[string]source.Volume{"uploads": {Kind: source.VolumeLocal, Root: images}},
			Generate: map[string][]string{"uploads": {"thumb"}},
		},
	}, images
}

func TestBuildTransformsLocalImages(t *testing.T) {
	cfg, images := testConfig(t)
	if err := os.WriteFile(filepath.Join(images, "hero.png"), buildTestPNG(t, 160, 90), 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	app, err := Build(context.Background(), cfg, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer app.Close()

	src, err := app.Sources.Resolve(context.Background(), "uploads", "hero.png")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	img, err := app.Pipeline.Transform(context.Background(), src, transform.Preset("thumb", nil))
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if img.Width != 40 || img.Height != 40 || !img.IsNew || img.Format != "png" {
		t.Fatalf("unexpected result %+v", img)
	}
	if _, err := os.Stat(img.Path); err != nil {
		t.Fatalf("expected artifact on disk: %v", err)
	}

	again, err := app.Pipeline.Transform(context.Background(), src, transform.Params(map[string]any{"w": 40, "h": "40"}))
	if err != nil {
		t.Fatalf("second transform: %v", err)
	}
	if again.IsNew || again.Path != img.Path {
		t.Fatalf("expected cache hit for equivalent params, got %+v", again)
	}

	if got := app.Registry.GenerateFor("uploads"); len(got) != 1 || got[0] != "thumb" {
		t.Fatalf("unexpected generate presets %v", got)
	}
}

func TestBuildRejectsUnknownBackend(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.Transform.Backend = "imgix"

	if _, err := Build(context.Background(), cfg, log.New(io.Discard, "", 0)); err == nil {
		t.Fatal("expected error when the default backend is not configured")
	}
}

func TestBuildRejectsUnknownChainEntry(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.Catalog.Chain = []string{"crusher"}

	if _, err := Build(context.Background(), cfg, log.New(io.Discard, "", 0)); err == nil {
		t.Fatal("expected error for unknown optimizer")
	}
}
