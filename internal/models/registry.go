package models

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	ctxwindow "github.com/conclave-ai/conclave/internal/context"
)

// Descriptor describes one model a driver can be opened against.
type Descriptor struct {
	Provider            string
	ID                  string
	ContextWindowTokens int
	MaxOutputTokens     int

	// Capability flags the board and runtime consult before building a
	// request.
	SupportsVision   bool
	SupportsTools    bool
	SupportsThinking bool
}

// BelowWarnThreshold reports whether the model's window clears the hard
// floor but is small enough that callers should log before proceeding.
func (d *Descriptor) BelowWarnThreshold() bool {
	return d.ContextWindowTokens >= ctxwindow.MinContextWindow &&
		d.ContextWindowTokens < ctxwindow.WarnBelowTokens
}

// Registry resolves (provider, model) pairs to descriptors and applies the
// context-window guard. It ships with the models the configured drivers
// actually serve; deployments register extras at startup.
type Registry struct {
	mu     sync.RWMutex
	models map[string]Descriptor // key: provider + "/" + id
}

// NewRegistry returns a registry seeded with the built-in descriptors.
func NewRegistry() *Registry {
	r := &Registry{models: make(map[string]Descriptor)}
	for _, d := range builtinDescriptors {
		r.register(d)
	}
	return r
}

func registryKey(provider, id string) string {
	return strings.ToLower(strings.TrimSpace(provider)) + "/" + strings.TrimSpace(id)
}

func (r *Registry) register(d Descriptor) {
	r.models[registryKey(d.Provider, d.ID)] = d
}

// Register adds or replaces a descriptor.
func (r *Registry) Register(d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.register(d)
}

// Resolve returns the descriptor for (provider, modelID), or an error for
// unknown models. The context-window guard runs here so a model too small
// to serve any turn is rejected before a driver call is ever made: that
// rejection is a FailoverError so a configured fallback chain moves on
// instead of retrying a model that can never succeed.
func (r *Registry) Resolve(provider, modelID string) (*Descriptor, error) {
	r.mu.RLock()
	d, ok := r.models[registryKey(provider, modelID)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown model %q for provider %q", modelID, provider)
	}

	if d.ContextWindowTokens < ctxwindow.MinContextWindow {
		err := fmt.Errorf("model %s context window (%d tokens) is below the usable floor (%d)",
			d.ID, d.ContextWindowTokens, ctxwindow.MinContextWindow)
		return nil, NewFailoverError(err, provider, modelID, ReasonUnknown).WithStatus(500)
	}

	resolved := d
	return &resolved, nil
}

// List returns every registered descriptor for a provider, sorted by id.
func (r *Registry) List(provider string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	prefix := strings.ToLower(strings.TrimSpace(provider)) + "/"
	var out []Descriptor
	for key, d := range r.models {
		if strings.HasPrefix(key, prefix) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// builtinDescriptors covers the models the anthropic, openai, and ollama
// drivers serve out of the box.
var builtinDescriptors = []Descriptor{
	{Provider: "anthropic", ID: "claude-opus-4", ContextWindowTokens: 200000, MaxOutputTokens: 32000, SupportsVision: true, SupportsTools: true, SupportsThinking: true},
	{Provider: "anthropic", ID: "claude-sonnet-4", ContextWindowTokens: 200000, MaxOutputTokens: 64000, SupportsVision: true, SupportsTools: true, SupportsThinking: true},
	{Provider: "anthropic", ID: "claude-3-5-sonnet", ContextWindowTokens: 200000, MaxOutputTokens: 8192, SupportsVision: true, SupportsTools: true},
	{Provider: "anthropic", ID: "claude-3-5-haiku", ContextWindowTokens: 200000, MaxOutputTokens: 8192, SupportsVision: true, SupportsTools: true},

	{Provider: "openai", ID: "gpt-4o", ContextWindowTokens: 128000, MaxOutputTokens: 16384, SupportsVision: true, SupportsTools: true},
	{Provider: "openai", ID: "gpt-4o-mini", ContextWindowTokens: 128000, MaxOutputTokens: 16384, SupportsVision: true, SupportsTools: true},
	{Provider: "openai", ID: "o1", ContextWindowTokens: 200000, MaxOutputTokens: 100000, SupportsTools: true, SupportsThinking: true},
	{Provider: "openai", ID: "gpt-4", ContextWindowTokens: 8192, MaxOutputTokens: 8192, SupportsTools: true},

	{Provider: "ollama", ID: "llama3.1", ContextWindowTokens: 128000, MaxOutputTokens: 8192, SupportsTools: true},
	{Provider: "ollama", ID: "qwen2.5", ContextWindowTokens: 32768, MaxOutputTokens: 8192, SupportsTools: true},
	{Provider: "ollama", ID: "mistral", ContextWindowTokens: 32768, MaxOutputTokens: 8192},
}
