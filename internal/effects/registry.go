package effects

import (
	"context"
	"fmt"
	"image"
	"sort"
	"strings"
	"sync"

	"github.com/dunamismax/pixelforge/internal/domain"
	"github.com/dunamismax/pixelforge/internal/transform"
)

type Tier int

const (
	TierBasic Tier = iota + 1
	TierAdvanced
)

func ParseTier(in string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(in)) {
	case "basic":
		return TierBasic, nil
	case "", "advanced":
		return TierAdvanced, nil
	default:
		return 0, fmt.Errorf("unknown effect tier %q", in)
	}
}

func (t Tier) String() string {
	switch t {
	case TierBasic:
		return "basic"
	case TierAdvanced:
		return "advanced"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

type Effect interface {
	Tier() Tier
	Apply(img image.Image, p Params) (image.Image, error)
}

type effectFunc struct {
	tier Tier
	fn   func(image.Image, Params) (image.Image, error)
}

func (e effectFunc) Tier() Tier { return e.tier }

func (e effectFunc) Apply(img image.Image, p Params) (image.Image, error) {
	return e.fn(img, p)
}

func Basic(fn func(image.Image, Params) (image.Image, error)) Effect {
	return effectFunc{tier: TierBasic, fn: fn}
}

func Advanced(fn func(image.Image, Params) (image.Image, error)) Effect {
	return effectFunc{tier: TierAdvanced, fn: fn}
}

// Registry maps effect names and aliases to implementations. Registering an
// existing name replaces the earlier implementation.
type Registry struct {
	mu      sync.RWMutex
	effects map[string]Effect
	aliases map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		effects: make(map[string]Effect),
		aliases: make(map[string]string),
	}
}

func Default() *Registry {
	r := NewRegistry()
	registerBasic(r)
	registerAdvanced(r)
	return r
}

func (r *Registry) Register(name string, e Effect) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name = strings.ToLower(strings.TrimSpace(name))
	delete(r.aliases, name)
	r.effects[name] = e
}

func (r *Registry) Alias(alias, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[strings.ToLower(strings.TrimSpace(alias))] = strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) ResolveEffect(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name = strings.ToLower(strings.TrimSpace(name))
	if target, ok := r.aliases[name]; ok {
		name = target
	}
	_, ok := r.effects[name]
	return name, ok
}

func (r *Registry) Lookup(name string) (Effect, bool) {
	canonical, ok := r.ResolveEffect(name)
	if !ok {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.effects[canonical]
	return e, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.effects))
	for name := range r.effects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Apply runs specs against img in order. An effect above limit, or one that
// rejects its parameters, fails the whole chain.
func (r *Registry) Apply(ctx context.Context, img image.Image, specs []transform.EffectSpec, limit Tier) (image.Image, error) {
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		e, ok := r.Lookup(spec.Name)
		if !ok {
			return nil, domain.Errorf(domain.KindEffect, "apply", "effect %q is not registered", spec.Name)
		}
		if e.Tier() > limit {
			return nil, domain.Errorf(domain.KindEffect, "apply", "effect %q requires the %s tier, backend supports %s", spec.Name, e.Tier(), limit)
		}

		out, err := e.Apply(img, Params(spec.Params))
		if err != nil {
			return nil, domain.Errorf(domain.KindEffect, "apply", "effect %q: %w", spec.Name, err)
		}
		img = out
	}
	return img, nil
}
