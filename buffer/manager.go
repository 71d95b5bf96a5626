package buffer

import (
	"errors"
	"sync"
	"time"

	"github.com/nullvane/waltx/storage"
)

// ErrClientTimeout is returned by Pin when no buffer becomes available
// before the retry budget is exhausted.
var ErrClientTimeout = errors.New("buffer: timed out waiting for an available buffer")

const maxPinWait = 5 * time.Second

type freeList struct {
	sync.Mutex
	bufs []*Buffer
}

func (l *freeList) len() int {
	l.Lock()
	defer l.Unlock()
	return len(l.bufs)
}

func (l *freeList) push(b *Buffer) {
	l.Lock()
	defer l.Unlock()
	l.bufs = append(l.bufs, b)
}

func (l *freeList) pop() *Buffer {
	l.Lock()
	defer l.Unlock()
	n := len(l.bufs)
	if n == 0 {
		return nil
	}
	b := l.bufs[n-1]
	l.bufs = l.bufs[:n-1]
	return b
}

// Manager is the buffer pool: it allocates a fixed set of pages, shared
// across all transactions. A client pins a block to obtain exclusive access
// to its buffer, reads and writes through the returned Buffer, then unpins
// it. Buffers assigned to a block are tracked in blockMap for O(1) re-pin of
// an already-resident block.
type Manager struct {
	free     *freeList
	blockMap sync.Map // storage.BlockID -> *Buffer
}

func NewManager(fm *storage.Manager, lm logFlusher, size int) *Manager {
	bufs := make([]*Buffer, size)
	for i := range bufs {
		bufs[i] = newBuffer(fm, lm)
	}
	fl := &freeList{bufs: bufs}
	return &Manager{free: fl}
}

func (m *Manager) Available() int { return m.free.len() }

// FlushAll flushes every buffer last modified by txnum.
func (m *Manager) FlushAll(txnum storage.TxID) error {
	var first error
	m.blockMap.Range(func(_, v any) bool {
		buf := v.(*Buffer)
		if buf.ModifyingTx() == txnum {
			if err := buf.flush(); err != nil && first == nil {
				first = err
			}
		}
		return true
	})
	return first
}

func (m *Manager) Unpin(buf *Buffer) { buf.unpin() }

// Pin pins a buffer to block, blocking with exponential backoff until one is
// available or maxPinWait elapses.
func (m *Manager) Pin(block storage.Block) (*Buffer, error) {
	start := time.Now()
	buf, err := m.tryPin(block)
	if err != nil {
		return nil, err
	}

	delay := time.Millisecond
	for buf == nil {
		if time.Since(start) > maxPinWait {
			return nil, ErrClientTimeout
		}
		time.Sleep(delay)
		if delay *= 2; delay > 100*time.Millisecond {
			delay = 100 * time.Millisecond
		}
		buf, err = m.tryPin(block)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func (m *Manager) tryPin(block storage.Block) (*Buffer, error) {
	buf := m.findExisting(block)
	if buf == nil {
		buf = m.chooseUnpinned()
		if buf == nil {
			return nil, nil
		}
		if err := m.assign(buf, block); err != nil {
			return nil, err
		}
	}
	buf.pin()
	return buf, nil
}

func (m *Manager) findExisting(block storage.Block) *Buffer {
	if v, ok := m.blockMap.Load(block.ID()); ok {
		return v.(*Buffer)
	}
	return nil
}

func (m *Manager) chooseUnpinned() *Buffer {
	if b := m.free.pop(); b != nil {
		return b
	}
	m.sweep()
	return m.free.pop()
}

// sweep scans for the first unpinned resident buffer, evicts it back to the
// free list, and stops. A buffer still pinned is left alone.
func (m *Manager) sweep() {
	m.blockMap.Range(func(key, v any) bool {
		buf := v.(*Buffer)
		if buf.IsPinned() {
			return true
		}
		m.blockMap.Delete(key)
		m.free.push(buf)
		return false
	})
}

func (m *Manager) assign(buf *Buffer, block storage.Block) error {
	if err := buf.assignToBlock(block); err != nil {
		return err
	}
	m.blockMap.Store(block.ID(), buf)
	return nil
}
