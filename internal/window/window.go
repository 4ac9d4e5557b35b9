// Package window implements the WindowManager module: an exclusive-owner
// registry of live windows, grounded on the same create/get/update/delete
// shape used for the session registry elsewhere in this stack.
package window

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/uicp/runtime/pkg/uicp"
)

// Default desktop bounds a window's geometry clamps against when the host
// hasn't reported a real viewport size via SetDesktopSize.
const (
	defaultClientWidth  = 1920
	defaultClientHeight = 1080
)

// Size bounds every window clamps its w/h to, regardless of desktop size.
const (
	minWidth  = 200
	maxWidth  = 4000
	minHeight = 150
	maxHeight = 3000
)

// WorkspaceRootID is the synthetic window id a dom.* envelope resolves to
// when it carries no windowId of its own, per the DomApplier contract: an
// absent windowId targets the workspace root, not a specific window.
const WorkspaceRootID = "workspace-root"

// ErrNotFound is returned when an operation targets an unknown window id.
type ErrNotFound struct{ ID string }

func (e *ErrNotFound) Error() string { return fmt.Sprintf("window %s not found", e.ID) }

// Manager is a thread-safe in-memory window registry.
type Manager struct {
	mu       sync.RWMutex
	windows  map[string]*uicp.WindowRecord
	clientW  int
	clientH  int
}

func NewManager() *Manager {
	return &Manager{
		windows: make(map[string]*uicp.WindowRecord),
		clientW: defaultClientWidth,
		clientH: defaultClientHeight,
	}
}

// SetDesktopSize records the host's reported viewport, used to clamp
// future Move calls. It never retroactively reclamps existing windows.
func (m *Manager) SetDesktopSize(w, h int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w > 0 {
		m.clientW = w
	}
	if h > 0 {
		m.clientH = h
	}
}

// Create registers a new window, owned by the creating transaction. A
// call with a known id is idempotent: it behaves as an update (title is
// replaced when non-empty) and created is reported false, so callers
// applying a batch twice never double-count the window.create envelope.
func (m *Manager) Create(_ context.Context, id, title, ownerTxn string) (w *uicp.WindowRecord, created bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if existing, exists := m.windows[id]; exists {
		if title != "" {
			existing.Title = title
		}
		existing.UpdatedAt = now
		return existing, false, nil
	}
	rec := &uicp.WindowRecord{ID: id, Title: title, OwnerTxn: ownerTxn, CreatedAt: now, UpdatedAt: now}
	m.windows[id] = rec
	return rec, true, nil
}

// Get retrieves a window by id. An empty id resolves to the workspace
// root, lazily created on first use so a dom.* envelope with no windowId
// always has somewhere to paint.
func (m *Manager) Get(ctx context.Context, id string) (*uicp.WindowRecord, error) {
	if id == "" {
		return m.ensureRoot(ctx), nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.windows[id]
	if !ok {
		return nil, &ErrNotFound{ID: id}
	}
	return w, nil
}

// ensureRoot returns the workspace-root window, creating it on first use.
func (m *Manager) ensureRoot(ctx context.Context) *uicp.WindowRecord {
	m.mu.RLock()
	w, ok := m.windows[WorkspaceRootID]
	m.mu.RUnlock()
	if ok {
		return w
	}
	rec, _, _ := m.Create(ctx, WorkspaceRootID, "", "")
	return rec
}

// Update applies a mutation to a window's metadata (title/geometry/focus).
func (m *Manager) Update(_ context.Context, id string, mutate func(*uicp.WindowRecord)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[id]
	if !ok {
		return &ErrNotFound{ID: id}
	}
	mutate(w)
	w.UpdatedAt = time.Now().UTC()
	return nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Move updates a window's position, clamping to [0, clientWidth-200] ×
// [0, clientHeight-100] so a window can never be dragged fully offscreen.
func (m *Manager) Move(ctx context.Context, id string, x, y int) error {
	m.mu.RLock()
	maxX, maxY := m.clientW-minWidth, m.clientH-100
	m.mu.RUnlock()
	if maxX < 0 {
		maxX = 0
	}
	if maxY < 0 {
		maxY = 0
	}
	x = clamp(x, 0, maxX)
	y = clamp(y, 0, maxY)
	return m.Update(ctx, id, func(w *uicp.WindowRecord) { w.X, w.Y = x, y })
}

// Resize updates a window's dimensions, clamping to [200..4000] ×
// [150..3000].
func (m *Manager) Resize(ctx context.Context, id string, w2, h2 int) error {
	w2 = clamp(w2, minWidth, maxWidth)
	h2 = clamp(h2, minHeight, maxHeight)
	return m.Update(ctx, id, func(w *uicp.WindowRecord) { w.W, w.H = w2, h2 })
}

// Focus marks one window focused and clears focus on all others
// (exclusive-ownership of the focus flag within the registry).
func (m *Manager) Focus(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.windows[id]
	if !ok {
		return &ErrNotFound{ID: id}
	}
	for _, w := range m.windows {
		w.Focused = w.ID == id
	}
	target.UpdatedAt = time.Now().UTC()
	return nil
}

// Close removes a window from the registry.
func (m *Manager) Close(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.windows[id]; !ok {
		return &ErrNotFound{ID: id}
	}
	delete(m.windows, id)
	return nil
}

// List returns every live window, for debug/admin surfaces.
func (m *Manager) List(_ context.Context) []uicp.WindowRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uicp.WindowRecord, 0, len(m.windows))
	for _, w := range m.windows {
		out = append(out, *w)
	}
	return out
}

// SetDOMHash records the content hash of the last-applied DOM payload,
// used by internal/dom to dedupe repeated identical mutations. An empty
// id resolves to the workspace root, same as Get.
func (m *Manager) SetDOMHash(ctx context.Context, id string, hash uint64) error {
	if id == "" {
		m.ensureRoot(ctx)
		id = WorkspaceRootID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[id]
	if !ok {
		return &ErrNotFound{ID: id}
	}
	w.DOMHash = hash
	return nil
}
