// Package store provides durable persistence for the runtime: a
// file-backed implementation of contracts.PolicyPersistence (the only
// piece of state this module must survive a restart) and an optional
// PostgreSQL-backed telemetry sink for hosts that want queryable
// history instead of log lines.
//
// Phase 1 (file) is always available; Phase 2 (Postgres) is selected by
// setting config.StoreConfig.DSN, mirroring the teacher's in-memory-vs-
// pgvector split between internal/store and internal/vectorstore.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/uicp/runtime/pkg/uicp"
)

// FileStore persists the resolved Policy to a JSON file, writing through
// a temp-file-then-rename so a crash mid-write never leaves a truncated
// file behind. Grounded on the teacher's MemoryStore.saveSnapshot/
// loadSnapshot pair, narrowed from "one JSON blob holding every entity
// kind the control plane manages" to "one JSON blob holding one Policy",
// since that's the only object this module needs to survive a restart.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore builds a FileStore rooted at path, creating its parent
// directory if necessary.
func NewFileStore(path string) (*FileStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create policy store directory: %w", err)
		}
	}
	return &FileStore{path: path}, nil
}

// Load reads the persisted policy. A missing file is not an error: it
// means no policy has ever been saved, and the caller falls back to its
// default preset.
func (f *FileStore) Load(_ context.Context) (*uicp.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var p uicp.Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	return &p, nil
}

// Save writes p to disk atomically.
func (f *FileStore) Save(_ context.Context, p *uicp.Policy) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write policy tmp file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("rename policy file: %w", err)
	}
	return nil
}
