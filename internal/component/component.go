// Package component implements the ComponentRenderer module: a registry
// of named component factories (built in: button.v1 and text.v1 only;
// no form.v1 or other factory is registered by default), grounded on the
// same register-by-key/look-up-by-key/optional-capability-type-assertion
// registry shape used for embedding-provider discovery elsewhere in this
// stack — here "capability" means "does this factory support a live
// component.update", checked via a runtime type assertion instead of a
// separate config flag.
package component

import (
	"context"
	"fmt"
	"sync"

	"github.com/uicp/runtime/pkg/uicp"
)

// Factory renders a component type to HTML from its props.
type Factory interface {
	Type() string
	Render(props map[string]interface{}) (string, error)
}

// Updatable is an OPTIONAL interface a Factory can implement to support
// in-place prop updates without a full re-render. Checked via type
// assertion at call time, exactly as the provider registry's optional
// streaming/embedding capability interfaces are.
type Updatable interface {
	Factory
	Update(props map[string]interface{}) (string, error)
}

// invisibleFrameFactory is the fallback used for unrecognized component
// types: it renders an empty, invisible frame rather than failing the
// whole batch, per the unknown-type fallback requirement.
type invisibleFrameFactory struct{ typ string }

func (f invisibleFrameFactory) Type() string { return f.typ }
func (f invisibleFrameFactory) Render(map[string]interface{}) (string, error) {
	return `<div style="display:none" data-uicp-unknown-component="true"></div>`, nil
}

// Registry holds registered component factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	instances map[string]*uicp.ComponentRecord
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory), instances: make(map[string]*uicp.ComponentRecord)}
}

// Register adds or replaces a factory for a component type.
func (r *Registry) Register(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[f.Type()] = f
}

func (r *Registry) get(typ string) Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.factories[typ]; ok {
		return f
	}
	return invisibleFrameFactory{typ: typ}
}

// Render mounts a new component instance and returns its rendered HTML.
func (r *Registry) Render(_ context.Context, id, windowID, typ string, props map[string]interface{}) (string, error) {
	f := r.get(typ)
	html, err := f.Render(props)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", typ, err)
	}
	r.mu.Lock()
	r.instances[id] = &uicp.ComponentRecord{ID: id, WindowID: windowID, Type: typ, Props: props}
	r.mu.Unlock()
	return html, nil
}

// Update re-renders an existing instance, using Updatable.Update when the
// factory supports it and falling back to a full Render otherwise.
func (r *Registry) Update(_ context.Context, id string, props map[string]interface{}) (string, error) {
	r.mu.Lock()
	inst, ok := r.instances[id]
	r.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("component %s not mounted", id)
	}

	f := r.get(inst.Type)
	var html string
	var err error
	if u, ok := f.(Updatable); ok {
		html, err = u.Update(props)
	} else {
		html, err = f.Render(props)
	}
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	inst.Props = props
	r.mu.Unlock()
	return html, nil
}

// Destroy unmounts a component instance.
func (r *Registry) Destroy(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.instances[id]; !ok {
		return fmt.Errorf("component %s not mounted", id)
	}
	delete(r.instances, id)
	return nil
}

// Get returns the live record for a mounted component instance.
func (r *Registry) Get(id string) (*uicp.ComponentRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	return inst, ok
}
