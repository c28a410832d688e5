package testutil

import (
	"context"
	"sync"

	"github.com/logweave/parserhost/domain/entities"
	"github.com/logweave/parserhost/domain/ports"
)

// FakeLoader hands out FakeGuests built by per-format factories.
type FakeLoader struct {
	// Factories build a guest per format.
	Factories map[string]func() *FakeGuest

	// Errors make Load fail for a format.
	Errors map[string]error

	// OnLoad runs at the start of every Load.
	OnLoad func(desc entities.PluginDescriptor)

	loaded []*FakeGuest
	envs   []ports.SandboxEnv
	mu     sync.Mutex
}

var _ ports.ArtifactLoader = (*FakeLoader)(nil)

// NewFakeLoader returns an empty loader.
func NewFakeLoader() *FakeLoader {
	return &FakeLoader{
		Factories: make(map[string]func() *FakeGuest),
		Errors:    make(map[string]error),
	}
}

// Load implements ports.ArtifactLoader.
func (l *FakeLoader) Load(_ context.Context, desc entities.PluginDescriptor, env ports.SandboxEnv) (ports.Sandbox, error) {
	if l.OnLoad != nil {
		l.OnLoad(desc)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.Errors[desc.FormatID]; err != nil {
		return nil, err
	}
	factory, ok := l.Factories[desc.FormatID]
	if !ok {
		factory = func() *FakeGuest { return NewFakeGuest(0) }
	}
	g := factory().WithModel(desc.Model)
	l.loaded = append(l.loaded, g)
	l.envs = append(l.envs, env)
	return g, nil
}

// Loaded returns every guest handed out so far.
func (l *FakeLoader) Loaded() []*FakeGuest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*FakeGuest(nil), l.loaded...)
}

// Envs returns the environments passed to Load.
func (l *FakeLoader) Envs() []ports.SandboxEnv {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ports.SandboxEnv(nil), l.envs...)
}
