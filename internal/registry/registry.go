package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dunamismax/pixelforge/internal/backend"
	"github.com/dunamismax/pixelforge/internal/domain"
	"github.com/dunamismax/pixelforge/internal/effects"
	"github.com/dunamismax/pixelforge/internal/optimizer"
	"github.com/dunamismax/pixelforge/internal/storage"
)

// Registry holds every pluggable implementation by handle. It is built once
// at startup and passed to the components that need it; registering an
// existing handle replaces the earlier implementation.
type Registry struct {
	mu sync.RWMutex

	transformers       map[string]backend.Transformer
	defaultTransformer string
	volumeTransformers map[string]string

	optimizers map[string]optimizer.Step
	storages   []storage.Publisher

	presets  map[string]map[string]any
	generate map[string][]string

	effects *effects.Registry
}

func New(fx *effects.Registry) *Registry {
	if fx == nil {
		fx = effects.Default()
	}
	return &Registry{
		transformers:       make(map[string]backend.Transformer),
		volumeTransformers: make(map[string]string),
		optimizers:         make(map[string]optimizer.Step),
		presets:            make(map[string]map[string]any),
		generate:           make(map[string][]string),
		effects:            fx,
	}
}

func (r *Registry) Effects() *effects.Registry {
	return r.effects
}

// ResolveEffect lets the registry act as the normalizer's effect catalog.
func (r *Registry) ResolveEffect(name string) (string, bool) {
	return r.effects.ResolveEffect(name)
}

func (r *Registry) RegisterTransformer(t backend.Transformer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transformers[t.Handle()] = t
	if r.defaultTransformer == "" {
		r.defaultTransformer = t.Handle()
	}
}

func (r *Registry) SetDefaultTransformer(handle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.transformers[handle]; !ok {
		return fmt.Errorf("unknown transformer %q", handle)
	}
	r.defaultTransformer = handle
	return nil
}

func (r *Registry) MapVolume(volume, handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.volumeTransformers[volume] = handle
}

func (r *Registry) Transformer(handle string) (backend.Transformer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transformers[handle]
	return t, ok
}

// TransformerFor picks the backend for src: the one mapped to its volume,
// else the default. There is no fallback between backends.
func (r *Registry) TransformerFor(src domain.Source) (backend.Transformer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handle := r.defaultTransformer
	if mapped, ok := r.volumeTransformers[domain.VolumeOf(src)]; ok {
		handle = mapped
	}
	t, ok := r.transformers[handle]
	if !ok {
		return nil, domain.Errorf(domain.KindTransform, "select", "no transformer registered for %q", handle)
	}
	return t, nil
}

func (r *Registry) Transformers() []backend.Transformer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handles := make([]string, 0, len(r.transformers))
	for h := range r.transformers {
		handles = append(handles, h)
	}
	sort.Strings(handles)
	out := make([]backend.Transformer, 0, len(handles))
	for _, h := range handles {
		out = append(out, r.transformers[h])
	}
	return out
}

func (r *Registry) RegisterOptimizer(handle string, o optimizer.Optimizer, s optimizer.Settings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.optimizers[handle] = optimizer.Step{Handle: handle, Optimizer: o, Settings: s}
}

// OptimizerSteps returns the named optimizers in the given order.
func (r *Registry) OptimizerSteps(handles []string) ([]optimizer.Step, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	steps := make([]optimizer.Step, 0, len(handles))
	for _, h := range handles {
		step, ok := r.optimizers[h]
		if !ok {
			return nil, fmt.Errorf("unknown optimizer %q", h)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func (r *Registry) RegisterStorage(p storage.Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.storages {
		if existing.Handle() == p.Handle() {
			r.storages[i] = p
			return
		}
	}
	r.storages = append(r.storages, p)
}

func (r *Registry) Storages() []storage.Publisher {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]storage.Publisher(nil), r.storages...)
}

func (r *Registry) RegisterPreset(handle string, params map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.presets[strings.ToLower(handle)] = params
}

// Preset implements the normalizer's preset source.
func (r *Registry) Preset(handle string) (map[string]any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.presets[strings.ToLower(handle)]
	return p, ok
}

// SetGenerate configures the presets produced ahead of time for volume.
func (r *Registry) SetGenerate(volume string, presets []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generate[volume] = append([]string(nil), presets...)
}

func (r *Registry) GenerateFor(volume string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.generate[volume]...)
}
