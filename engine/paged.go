package engine

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/nullvane/waltx/buffer"
	"github.com/nullvane/waltx/record"
	"github.com/nullvane/waltx/storage"
)

// ErrSpaceFull is returned by Commit when a space's encoded contents no
// longer fit in the single block backing it.
var ErrSpaceFull = errors.New("engine: space contents exceed block size")

// DefaultBufferPoolSize is the number of page buffers a PagedEngine keeps
// when none is given to NewPagedEngine.
const DefaultBufferPoolSize = 32

// noopFlusher satisfies the buffer package's log-durability contract for a
// PagedEngine: by the time Commit runs, the transaction manager has already
// submitted and durably written every row describing the mutation, so there
// is no covering log record left to flush on the buffer's behalf.
type noopFlusher struct{}

func (noopFlusher) Flush(storage.LSN) error { return nil }

// pagedTxn mirrors memTxn's copy-on-write pending overlay; the only
// difference from the plain in-memory engine is what happens at Commit.
type pagedTxn struct {
	mu                 sync.Mutex
	txid               storage.TxID
	pending            map[string]map[string][]byte
	savepointSnapshots []map[string]map[string][]byte
}

// PagedEngine is a reference Engine whose committed state lives in
// block-addressed pages behind a pinning buffer pool, instead of Memory's
// bare Go maps. Each space occupies exactly one block, encoded as a count
// followed by length-prefixed key/tuple pairs; this bounds a space's size to
// one block but exercises the storage.Manager/buffer.Manager pair the way a
// real paged storage engine would.
type PagedEngine struct {
	fm *storage.Manager
	bm *buffer.Manager

	mu     sync.Mutex
	blocks map[string]storage.Block
	txSeq  int64
}

// NewPagedEngine builds a PagedEngine over fm with a pool of numBuffers page
// buffers. numBuffers <= 0 selects DefaultBufferPoolSize.
func NewPagedEngine(fm *storage.Manager, numBuffers int) *PagedEngine {
	if numBuffers <= 0 {
		numBuffers = DefaultBufferPoolSize
	}
	return &PagedEngine{
		fm:     fm,
		bm:     buffer.NewManager(fm, noopFlusher{}, numBuffers),
		blocks: make(map[string]storage.Block),
	}
}

func (e *PagedEngine) Name() string { return "paged" }

func (e *PagedEngine) Close() error { return e.fm.Close() }

func (e *PagedEngine) Begin() (Txn, error) {
	id := atomic.AddInt64(&e.txSeq, 1)
	return &pagedTxn{txid: storage.TxID(id), pending: make(map[string]map[string][]byte)}, nil
}

func (e *PagedEngine) BeginStatement(t Txn) (Savepoint, error) {
	tx := t.(*pagedTxn)
	tx.mu.Lock()
	defer tx.mu.Unlock()

	snap := make(map[string]map[string][]byte, len(tx.pending))
	for space, kv := range tx.pending {
		snap[space] = cloneKV(kv)
	}
	tx.savepointSnapshots = append(tx.savepointSnapshots, snap)
	return len(tx.savepointSnapshots) - 1, nil
}

func (e *PagedEngine) RollbackStatement(t Txn, sp Savepoint) error {
	tx := t.(*pagedTxn)
	idx := sp.(int)

	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.pending = tx.savepointSnapshots[idx]
	tx.savepointSnapshots = tx.savepointSnapshots[:idx]
	return nil
}

func (e *PagedEngine) Apply(t Txn, space string, op record.Op, key, old, new []byte) ([][]byte, error) {
	tx := t.(*pagedTxn)
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.pending[space] == nil {
		tx.pending[space] = make(map[string][]byte)
	}

	switch op {
	case record.OpDelete:
		tx.pending[space][string(key)] = nil
		return [][]byte{key}, nil
	default:
		tx.pending[space][string(key)] = new
		return [][]byte{key, new}, nil
	}
}

func (e *PagedEngine) Prepare(t Txn) error { return nil }

// Commit folds the transaction's pending overlay into each touched space's
// block: pin, decode, merge, re-encode, mark modified, unpin. The covering
// signature becomes the buffer's LSN so FlushAll has something to report
// against, then every buffer this transaction touched is flushed to disk.
func (e *PagedEngine) Commit(t Txn, signature int64) error {
	tx := t.(*pagedTxn)

	e.mu.Lock()
	defer e.mu.Unlock()

	for space, kv := range tx.pending {
		block, err := e.blockFor(space)
		if err != nil {
			return err
		}

		buf, err := e.bm.Pin(block)
		if err != nil {
			return err
		}

		entries := decodeSpacePage(buf.Contents())
		for key, tuple := range kv {
			if tuple == nil {
				delete(entries, key)
			} else {
				entries[key] = tuple
			}
		}

		if err := encodeSpacePage(buf.Contents(), entries, e.fm.BlockSize()); err != nil {
			e.bm.Unpin(buf)
			return err
		}

		buf.SetModified(tx.txid, storage.LSN(signature))
		e.bm.Unpin(buf)
	}

	return e.bm.FlushAll(tx.txid)
}

func (e *PagedEngine) Rollback(t Txn) error { return nil }

// Get reads a committed tuple, for tests and the demo command.
func (e *PagedEngine) Get(space, key string) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	block, ok := e.blocks[space]
	if !ok {
		return nil, false
	}

	buf, err := e.bm.Pin(block)
	if err != nil {
		return nil, false
	}
	defer e.bm.Unpin(buf)

	entries := decodeSpacePage(buf.Contents())
	v, ok := entries[key]
	return v, ok
}

func (e *PagedEngine) blockFor(space string) (storage.Block, error) {
	if b, ok := e.blocks[space]; ok {
		return b, nil
	}

	fname := "space_" + space + ".dat"
	n, err := e.fm.Size(fname)
	if err != nil {
		return storage.Block{}, err
	}

	var block storage.Block
	if n == 0 {
		block, err = e.fm.Append(fname)
		if err != nil {
			return storage.Block{}, err
		}
	} else {
		block = storage.NewBlock(fname, 0)
	}

	e.blocks[space] = block
	return block, nil
}

// decodeSpacePage reads a space's key/tuple directory out of page, copying
// every key and value so the caller can safely overwrite page afterward.
func decodeSpacePage(page *storage.Page) map[string][]byte {
	count := page.GetInt(0)
	entries := make(map[string][]byte, count)

	offset := storage.IntSize
	for i := 0; i < count; i++ {
		key := append([]byte(nil), page.GetBytes(offset)...)
		offset += storage.MaxLength(len(key))
		val := append([]byte(nil), page.GetBytes(offset)...)
		offset += storage.MaxLength(len(val))
		entries[string(key)] = val
	}
	return entries
}

func encodeSpacePage(page *storage.Page, entries map[string][]byte, blockSize int) error {
	size := storage.IntSize
	for k, v := range entries {
		size += storage.MaxLength(len(k)) + storage.MaxLength(len(v))
	}
	if size > blockSize {
		return ErrSpaceFull
	}

	page.SetInt(0, len(entries))
	offset := storage.IntSize
	for k, v := range entries {
		page.SetBytes(offset, []byte(k))
		offset += storage.MaxLength(len(k))
		page.SetBytes(offset, v)
		offset += storage.MaxLength(len(v))
	}
	return nil
}
