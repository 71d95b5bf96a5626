// Package buffer implements the fixed-size pin/unpin buffer pool that
// fronts the reference storage engine's page storage, under a WAL-aware
// flush contract: a buffer is never written back until the log record
// covering its last modification is durable.
package buffer

import (
	"github.com/nullvane/waltx/storage"
)

// logFlusher is the subset of the WAL writer a Buffer needs in order to
// guarantee write-ahead-logging: a modified page is never flushed to disk
// before the log record describing the modification is durable.
type logFlusher interface {
	Flush(lsn storage.LSN) error
}

type Buffer struct {
	fm       *storage.Manager
	lm       logFlusher
	contents *storage.Page
	block    storage.Block
	pins     int
	txnum    storage.TxID
	lsn      storage.LSN
}

func newBuffer(fm *storage.Manager, lm logFlusher) *Buffer {
	return &Buffer{
		fm:       fm,
		lm:       lm,
		contents: storage.NewPageWithSize(fm.BlockSize()),
		txnum:    storage.TxIDInvalid,
		lsn:      -1,
	}
}

func (b *Buffer) Contents() *storage.Page { return b.contents }
func (b *Buffer) BlockID() storage.Block  { return b.block }

// SetModified records that txnum last wrote this buffer, with lsn the log
// sequence number of the record covering the write (or a negative value if
// the write was never logged).
func (b *Buffer) SetModified(txnum storage.TxID, lsn storage.LSN) {
	b.txnum = txnum
	if lsn >= 0 {
		b.lsn = lsn
	}
}

func (b *Buffer) ModifyingTx() storage.TxID { return b.txnum }
func (b *Buffer) IsPinned() bool            { return b.pins > 0 }

// flush ensures the buffer's assigned block matches its in-memory page. If
// the page has not been modified since the last flush this is a no-op;
// otherwise the covering log record is flushed first.
func (b *Buffer) flush() error {
	if b.txnum == storage.TxIDInvalid {
		return nil
	}
	if b.lsn >= 0 {
		if err := b.lm.Flush(b.lsn); err != nil {
			return err
		}
	}
	if err := b.fm.Write(b.block, b.contents); err != nil {
		return err
	}
	b.txnum = storage.TxIDInvalid
	return nil
}

// assignToBlock flushes any pending modification to the buffer's current
// block, then rebinds it to block and reloads its contents.
func (b *Buffer) assignToBlock(block storage.Block) error {
	if err := b.flush(); err != nil {
		return err
	}
	b.block = block
	if err := b.fm.Read(b.block, b.contents); err != nil {
		return err
	}
	b.pins = 0
	return nil
}

func (b *Buffer) pin()   { b.pins++ }
func (b *Buffer) unpin() { b.pins-- }
