package engine

import (
	"sync"

	"github.com/nullvane/waltx/record"
)

// memTxn is the engine-side transaction state for the in-memory engine: a
// copy-on-write overlay of pending mutations, applied to the shared space
// map only at Commit.
type memTxn struct {
	mu      sync.Mutex
	pending map[string]map[string][]byte // space -> key -> tuple (nil tuple means delete)
	savepointSnapshots []map[string]map[string][]byte
}

// Memory is a minimal in-memory reference Engine: spaces are plain
// key/tuple maps behind a single mutex. It exists to exercise the
// transaction manager end to end without depending on a real storage
// engine.
type Memory struct {
	mu     sync.RWMutex
	spaces map[string]map[string][]byte
}

// NewMemory returns an empty in-memory engine.
func NewMemory() *Memory {
	return &Memory{spaces: make(map[string]map[string][]byte)}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Begin() (Txn, error) {
	return &memTxn{pending: make(map[string]map[string][]byte)}, nil
}

func (m *Memory) BeginStatement(t Txn) (Savepoint, error) {
	tx := t.(*memTxn)
	tx.mu.Lock()
	defer tx.mu.Unlock()

	snap := make(map[string]map[string][]byte, len(tx.pending))
	for space, kv := range tx.pending {
		snap[space] = cloneKV(kv)
	}
	tx.savepointSnapshots = append(tx.savepointSnapshots, snap)
	return len(tx.savepointSnapshots) - 1, nil
}

func (m *Memory) RollbackStatement(t Txn, sp Savepoint) error {
	tx := t.(*memTxn)
	idx := sp.(int)

	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.pending = tx.savepointSnapshots[idx]
	tx.savepointSnapshots = tx.savepointSnapshots[:idx]
	return nil
}

func (m *Memory) Apply(t Txn, space string, op record.Op, key, old, new []byte) ([][]byte, error) {
	tx := t.(*memTxn)
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.pending[space] == nil {
		tx.pending[space] = make(map[string][]byte)
	}

	switch op {
	case record.OpDelete:
		tx.pending[space][string(key)] = nil
		return [][]byte{key}, nil
	default: // INSERT, REPLACE, UPDATE, UPSERT all converge to a stored tuple
		tx.pending[space][string(key)] = new
		return [][]byte{key, new}, nil
	}
}

func (m *Memory) Prepare(t Txn) error { return nil }

func (m *Memory) Commit(t Txn, signature int64) error {
	tx := t.(*memTxn)

	m.mu.Lock()
	defer m.mu.Unlock()

	for space, kv := range tx.pending {
		if m.spaces[space] == nil {
			m.spaces[space] = make(map[string][]byte)
		}
		for key, tuple := range kv {
			if tuple == nil {
				delete(m.spaces[space], key)
			} else {
				m.spaces[space][key] = tuple
			}
		}
	}
	return nil
}

func (m *Memory) Rollback(t Txn) error { return nil }

// Get reads a committed tuple, for tests and the demo command.
func (m *Memory) Get(space, key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kv, ok := m.spaces[space]
	if !ok {
		return nil, false
	}
	tuple, ok := kv[key]
	return tuple, ok
}

func cloneKV(kv map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(kv))
	for k, v := range kv {
		out[k] = v
	}
	return out
}
