package pipeline

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dunamismax/pixelforge/internal/backend"
	"github.com/dunamismax/pixelforge/internal/cache"
	"github.com/dunamismax/pixelforge/internal/domain"
	"github.com/dunamismax/pixelforge/internal/registry"
	"github.com/dunamismax/pixelforge/internal/store"
	"github.com/dunamismax/pixelforge/internal/transform"
)

type testSource struct {
	id string

	mu       sync.Mutex
	modified time.Time
}

func newTestSource(id string) *testSource {
	return &testSource{id: id, modified: time.Now().Add(-time.Hour)}
}

func (s *testSource) Identity() string { return s.id }
func (s *testSource) Width() int       { return 1600 }
func (s *testSource) Height() int      { return 900 }
func (s *testSource) Extension() string {
	return "jpg"
}
func (s *testSource) LocalCopy(context.Context) (string, error) { return "", nil }

func (s *testSource) LastModified() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modified
}

func (s *testSource) touch(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modified = t
}

type countingTransformer struct {
	handle    string
	delegated bool
	calls     atomic.Int32
	// block, when set, is waited on before writing the artifact.
	block   chan struct{}
	started chan struct{}
	once    sync.Once
}

func (f *countingTransformer) Handle() string   { return f.handle }
func (f *countingTransformer) Revision() string { return "fake/1" }
func (f *countingTransformer) Delegated() bool  { return f.delegated }

func (f *countingTransformer) Transform(ctx context.Context, req backend.Request) (backend.Result, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return backend.Result{}, ctx.Err()
		}
	}

	res := backend.Result{
		Width:    req.Descriptor.Width,
		Height:   req.Descriptor.Height,
		Format:   req.Format,
		MimeType: req.Format.MimeType(),
	}
	if f.delegated {
		res.URL = "https://demo.imgix.net/" + req.Source.Identity() + "?w=300"
		res.Origin = "demo.imgix.net"
		res.Params = map[string]string{"w": "300"}
		return res, nil
	}
	if err := os.WriteFile(req.Output, []byte("artifact"), 0o644); err != nil {
		return backend.Result{}, err
	}
	return res, nil
}

type fakePublisher struct {
	handle string
	fail   bool
	keys   []string
}

func (p *fakePublisher) Handle() string { return p.handle }

func (p *fakePublisher) Publish(_ context.Context, localPath, key, _ string) (string, error) {
	if p.fail {
		return "", errors.New("bucket unavailable")
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	p.keys = append(p.keys, key)
	return "https://bucket.example.com/" + key, nil
}

type recordingHook struct {
	mu     sync.Mutex
	events []string
	abort  error
}

func (h *recordingHook) record(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, name)
}

func (h *recordingHook) BeforePublish(_ context.Context, ev Event) error {
	if _, err := os.Stat(ev.Path); err != nil {
		return err
	}
	h.record("before")
	return h.abort
}

func (h *recordingHook) AfterTransform(context.Context, Event) { h.record("after") }

func (h *recordingHook) TransformFailed(context.Context, Event, error) { h.record("failed") }

func newTestOrchestrator(t *testing.T, tr backend.Transformer) (*Orchestrator, *registry.Registry, string) {
	t.Helper()
	root := t.TempDir()
	reg := registry.New(nil)
	reg.RegisterTransformer(tr)

	o, err := New(Options{
		Logger:   log.New(io.Discard, "", 0),
		Registry: reg,
		Cache:    cache.NewEngine(root, "https://example.com/cache", store.NewMemoryEntryStore()),
		Revision: "test",
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return o, reg, root
}

func sizeInput() transform.Input {
	return transform.Params(map[string]any{"width": 300, "height": 200})
}

func regularFiles(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk %s: %v", root, err)
	}
	return files
}

func TestTransformGeneratesOnceThenHits(t *testing.T) {
	tr := &countingTransformer{handle: "local"}
	o, _, _ := newTestOrchestrator(t, tr)
	src := newTestSource("uploads/hero.jpg")

	first, err := o.Transform(context.Background(), src, sizeInput())
	if err != nil {
		t.Fatalf("first transform: %v", err)
	}
	if !first.IsNew || first.Width != 300 || first.Height != 200 {
		t.Fatalf("unexpected first result %+v", first)
	}
	if !strings.HasPrefix(first.URL, "https://example.com/cache/") {
		t.Fatalf("expected local cache url, got %q", first.URL)
	}
	if _, err := os.Stat(first.Path); err != nil {
		t.Fatalf("expected artifact on disk: %v", err)
	}

	second, err := o.Transform(context.Background(), src, transform.Params(map[string]any{"height": 200, "width": "300"}))
	if err != nil {
		t.Fatalf("second transform: %v", err)
	}
	if second.IsNew {
		t.Fatal("expected cache hit on second call")
	}
	if second.Path != first.Path || second.URL != first.URL {
		t.Fatalf("expected identical artifact, got %q and %q", first.Path, second.Path)
	}
	if tr.calls.Load() != 1 {
		t.Fatalf("expected one backend call, got %d", tr.calls.Load())
	}
}

func TestTransformRegeneratesWhenSourceChanges(t *testing.T) {
	tr := &countingTransformer{handle: "local"}
	o, _, _ := newTestOrchestrator(t, tr)
	src := newTestSource("uploads/hero.jpg")

	if _, err := o.Transform(context.Background(), src, sizeInput()); err != nil {
		t.Fatalf("first transform: %v", err)
	}
	src.touch(time.Now().Add(time.Hour))

	img, err := o.Transform(context.Background(), src, sizeInput())
	if err != nil {
		t.Fatalf("second transform: %v", err)
	}
	if !img.IsNew || tr.calls.Load() != 2 {
		t.Fatalf("expected regeneration, is_new=%v calls=%d", img.IsNew, tr.calls.Load())
	}
}

func TestConcurrentRequestsShareOneGeneration(t *testing.T) {
	tr := &countingTransformer{handle: "local", block: make(chan struct{}), started: make(chan struct{})}
	o, _, _ := newTestOrchestrator(t, tr)
	src := newTestSource("uploads/hero.jpg")

	const n = 8
	results := make([]domain.TransformedImage, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = o.Transform(context.Background(), src, sizeInput())
		}(i)
	}

	<-tr.started
	time.Sleep(50 * time.Millisecond)
	close(tr.block)
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
		if results[i].Path != results[0].Path {
			t.Fatalf("request %d got %q, expected %q", i, results[i].Path, results[0].Path)
		}
	}
	if tr.calls.Load() != 1 {
		t.Fatalf("expected a single generation, got %d", tr.calls.Load())
	}
}

func TestFollowerRetriesWhenLeaderIsCancelled(t *testing.T) {
	tr := &countingTransformer{handle: "local", block: make(chan struct{}), started: make(chan struct{})}
	o, _, _ := newTestOrchestrator(t, tr)
	src := newTestSource("uploads/hero.jpg")

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderDone := make(chan error, 1)
	go func() {
		_, err := o.Transform(leaderCtx, src, sizeInput())
		leaderDone <- err
	}()
	<-tr.started

	type outcome struct {
		img domain.TransformedImage
		err error
	}
	followerDone := make(chan outcome, 1)
	go func() {
		img, err := o.Transform(context.Background(), src, sizeInput())
		followerDone <- outcome{img, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	if err := <-leaderDone; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected leader to see context.Canceled, got %v", err)
	}
	close(tr.block)

	got := <-followerDone
	if got.err != nil {
		t.Fatalf("expected follower to succeed on retry, got %v", got.err)
	}
	if !got.img.IsNew || got.img.Width != 300 {
		t.Fatalf("unexpected follower result %+v", got.img)
	}
	if tr.calls.Load() != 2 {
		t.Fatalf("expected the follower to generate again, got %d calls", tr.calls.Load())
	}
}

func TestCancelledTransformLeavesNoFiles(t *testing.T) {
	tr := &countingTransformer{handle: "local", block: make(chan struct{}), started: make(chan struct{})}
	o, _, root := newTestOrchestrator(t, tr)
	src := newTestSource("uploads/hero.jpg")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := o.Transform(ctx, src, sizeInput())
		done <- err
	}()

	<-tr.started
	cancel()
	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if files := regularFiles(t, root); len(files) != 0 {
		t.Fatalf("expected no artifacts after cancel, found %v", files)
	}

	close(tr.block)
	img, err := o.Transform(context.Background(), src, sizeInput())
	if err != nil || !img.IsNew {
		t.Fatalf("expected a fresh generation after cancel, img=%+v err=%v", img, err)
	}
}

func TestStorageURLAndDegradedFallback(t *testing.T) {
	tr := &countingTransformer{handle: "local"}
	o, reg, _ := newTestOrchestrator(t, tr)
	bucket := &fakePublisher{handle: "s3"}
	reg.RegisterStorage(bucket)

	img, err := o.Transform(context.Background(), newTestSource("uploads/a.jpg"), sizeInput())
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if len(bucket.keys) != 1 || img.URL != "https://bucket.example.com/"+bucket.keys[0] {
		t.Fatalf("expected storage url, got %q keys=%v", img.URL, bucket.keys)
	}
	if !strings.HasSuffix(img.Path, filepath.FromSlash(bucket.keys[0])) {
		t.Fatalf("expected object key %q to mirror artifact path %q", bucket.keys[0], img.Path)
	}

	reg.RegisterStorage(&fakePublisher{handle: "s3", fail: true})
	img, err = o.Transform(context.Background(), newTestSource("uploads/b.jpg"), sizeInput())
	if err != nil {
		t.Fatalf("expected degraded publish to succeed, got %v", err)
	}
	if !strings.HasPrefix(img.URL, "https://example.com/cache/") {
		t.Fatalf("expected local url fallback, got %q", img.URL)
	}
}

func TestValidationFailureRunsFailedHook(t *testing.T) {
	tr := &countingTransformer{handle: "local"}
	o, _, _ := newTestOrchestrator(t, tr)
	hook := &recordingHook{}
	if err := o.AddHook(hook); err != nil {
		t.Fatalf("add hook: %v", err)
	}

	_, err := o.Transform(context.Background(), newTestSource("uploads/a.jpg"), transform.Params(map[string]any{"fit": "wobble"}))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "uploads/a.jpg") {
		t.Fatalf("expected error to name the source, got %v", err)
	}
	if tr.calls.Load() != 0 {
		t.Fatal("expected backend not to run")
	}
	if strings.Join(hook.events, ",") != "failed" {
		t.Fatalf("unexpected hook events %v", hook.events)
	}
}

func TestHooksRunAroundPublish(t *testing.T) {
	tr := &countingTransformer{handle: "local"}
	o, _, root := newTestOrchestrator(t, tr)
	hook := &recordingHook{}
	if err := o.AddHook(hook); err != nil {
		t.Fatalf("add hook: %v", err)
	}
	if err := o.AddHook(struct{}{}); err == nil {
		t.Fatal("expected error for value without hook methods")
	}

	if _, err := o.Transform(context.Background(), newTestSource("uploads/a.jpg"), sizeInput()); err != nil {
		t.Fatalf("transform: %v", err)
	}
	if strings.Join(hook.events, ",") != "before,after" {
		t.Fatalf("unexpected hook events %v", hook.events)
	}

	hook.events = nil
	hook.abort = errors.New("rejected by policy")
	_, err := o.Transform(context.Background(), newTestSource("uploads/b.jpg"), sizeInput())
	if err == nil || !strings.Contains(err.Error(), "rejected by policy") {
		t.Fatalf("expected hook error, got %v", err)
	}
	if strings.Join(hook.events, ",") != "before,failed" {
		t.Fatalf("unexpected hook events %v", hook.events)
	}
	for _, f := range regularFiles(t, root) {
		if strings.Contains(f, ".tmp") {
			t.Fatalf("staged file left behind: %s", f)
		}
	}
}

func TestDelegatedBackendSkipsCache(t *testing.T) {
	tr := &countingTransformer{handle: "imgix", delegated: true}
	o, _, root := newTestOrchestrator(t, tr)

	img, err := o.Transform(context.Background(), newTestSource("uploads/a.jpg"), sizeInput())
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if img.IsNew || img.Path != "" || img.Origin != "demo.imgix.net" || !img.Delegated() {
		t.Fatalf("unexpected delegated result %+v", img)
	}
	if files := regularFiles(t, root); len(files) != 0 {
		t.Fatalf("expected no local files, found %v", files)
	}
	if _, err := o.Palette(context.Background(), img, backend.PaletteOptions{}); err == nil {
		t.Fatal("expected palette to fail for a backend without derivatives")
	}
}

func TestTransformURLDegrades(t *testing.T) {
	tr := &countingTransformer{handle: "local"}
	o, _, _ := newTestOrchestrator(t, tr)

	if url, ok := o.TransformURL(context.Background(), newTestSource("uploads/a.jpg"), transform.Preset("missing", nil)); ok || url != "" {
		t.Fatalf("expected fallback, got %q ok=%v", url, ok)
	}
	url, ok := o.TransformURL(context.Background(), newTestSource("uploads/a.jpg"), transform.Shorthand("120x80"))
	if !ok || url == "" {
		t.Fatalf("expected url, got %q ok=%v", url, ok)
	}
}

func TestPurgeForcesRegeneration(t *testing.T) {
	tr := &countingTransformer{handle: "local"}
	o, _, _ := newTestOrchestrator(t, tr)
	src := newTestSource("uploads/a.jpg")

	img, err := o.Transform(context.Background(), src, sizeInput())
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	removed, err := o.Purge(context.Background(), src)
	if err != nil || removed != 1 {
		t.Fatalf("purge: removed=%d err=%v", removed, err)
	}
	if _, err := os.Stat(img.Path); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected artifact removed, stat err=%v", err)
	}

	again, err := o.Transform(context.Background(), src, sizeInput())
	if err != nil || !again.IsNew {
		t.Fatalf("expected regeneration after purge, img=%+v err=%v", again, err)
	}

	if removed, err := o.PurgeAll(context.Background()); err != nil || removed != 1 {
		t.Fatalf("purge all: removed=%d err=%v", removed, err)
	}
}
