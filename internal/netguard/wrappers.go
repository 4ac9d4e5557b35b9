package netguard

import (
	"context"
	"errors"
	"sync"
)

// Capability is one network-surface wrapper (fetch, XHR, WS, EventSource,
// Beacon, WebRTC, WebTransport, Workers, service-worker registration).
// Each driver implements this common contract, dispatched by name from a
// registry — the same multi-driver dispatch shape used to start agent
// processes across local/docker/k8s execution modes, here repurposed so
// "mode" means "which browser-facing capability is being wrapped".
type Capability interface {
	// Name returns the capability identifier, e.g. "fetch", "websocket".
	Name() string

	// Invoke runs the guard's Decide pipeline for one outbound request on
	// this capability and returns whether the underlying call should
	// proceed. req carries the target host/port/path the capability
	// wrapper extracted from its native call arguments.
	Invoke(ctx context.Context, req Request) (Decision, error)
}

// Request is the normalized shape every capability wrapper reduces its
// native call arguments to before handing off to the guard pipeline.
type Request struct {
	Capability string
	Host       string
	Port       int
	Path       string
	Method     string
}

// baseCapability implements Capability by delegating to a shared Guard,
// letting each of the nine wrapped surfaces differ only in name.
type baseCapability struct {
	name  string
	guard *Guard
}

func (c *baseCapability) Name() string { return c.name }

func (c *baseCapability) Invoke(ctx context.Context, req Request) (Decision, error) {
	req.Capability = c.name
	return c.guard.Decide(ctx, req)
}

// Registry holds the installed capability wrappers. Once Install is
// called, the registry is frozen: a second Install call returns
// ErrAlreadyInstalled, modeling the requirement that the browser globals
// a real wrapper patches become non-configurable after installation so a
// page script cannot un-wrap them.
type Registry struct {
	mu          sync.RWMutex
	caps        map[string]Capability
	installed   bool
}

var ErrAlreadyInstalled = errors.New("netguard: capabilities already installed")

// wrappedCapabilityNames are the nine surfaces the guard must wrap.
var wrappedCapabilityNames = []string{
	"fetch", "xhr", "websocket", "eventsource", "beacon",
	"webrtc", "webtransport", "worker", "service-worker",
}

// NewRegistry builds (but does not yet install) wrappers for every
// required capability, all backed by the same Guard instance.
func NewRegistry(guard *Guard) *Registry {
	r := &Registry{caps: make(map[string]Capability, len(wrappedCapabilityNames))}
	for _, name := range wrappedCapabilityNames {
		r.caps[name] = &baseCapability{name: name, guard: guard}
	}
	return r
}

// Install freezes the registry. Call exactly once at startup.
func (r *Registry) Install() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.installed {
		return ErrAlreadyInstalled
	}
	r.installed = true
	return nil
}

// Installed reports whether Install has already succeeded.
func (r *Registry) Installed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.installed
}

// Get returns the named capability wrapper, or nil if unknown.
func (r *Registry) Get(name string) Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.caps[name]
}

// Names lists every registered capability name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.caps))
	for n := range r.caps {
		out = append(out, n)
	}
	return out
}
