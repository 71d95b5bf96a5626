// Package record implements the on-disk row and frame codec: encoding and
// decoding a Row's header and body, and framing one-or-more rows into a
// single checksummed, optionally-compressed batch.
package record

import (
	"encoding/binary"
	"fmt"

	"github.com/nullvane/waltx/storage"
)

// Op is the kind of mutation a Row records.
type Op uint8

const (
	OpInsert Op = iota
	OpReplace
	OpDelete
	OpUpdate
	OpUpsert
	OpPrepare
	OpCommit
	OpRollback
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "INSERT"
	case OpReplace:
		return "REPLACE"
	case OpDelete:
		return "DELETE"
	case OpUpdate:
		return "UPDATE"
	case OpUpsert:
		return "UPSERT"
	case OpPrepare:
		return "PREPARE"
	case OpCommit:
		return "COMMIT"
	case OpRollback:
		return "ROLLBACK"
	default:
		return fmt.Sprintf("OP(%d)", uint8(o))
	}
}

// Row is the atomic unit of logging: one mutation, with the header fields
// needed to replay or account for it, and an ordered list of body slices
// (e.g. key then new tuple, or just a tuple for INSERT).
type Row struct {
	Op            Op
	ReplicaID     storage.ReplicaID
	LSN           storage.LSN
	Timestamp     int64 // server clock, unix nanoseconds
	TxID          storage.TxID
	CoordinatorID storage.CoordinatorID
	Body          [][]byte

	// encoded caches the header+body encoding once built; it is reused
	// until explicitly invalidated. Never read directly; use Encoded().
	encoded []byte
}

// rowHeaderSize is the fixed-width portion of an encoded row, preceding the
// variable-length body entries.
const rowHeaderSize = 1 /* op */ + 4 /* replica */ + 8 /* lsn */ + 8 /* ts */ + 8 /* tx */ + 4 /* coord */ + 4 /* body count */

// Encoded returns the cached encoding of the row if one was installed via
// SetEncoded (re-use), otherwise builds and caches a fresh one.
func (r *Row) Encoded() []byte {
	if r.encoded == nil {
		r.encoded = r.encode()
	}
	return r.encoded
}

// SetEncoded installs a previously-built encoding for reuse: Encoded()
// returns it unchanged until InvalidateEncoded clears it.
func (r *Row) SetEncoded(b []byte) { r.encoded = b }

// InvalidateEncoded clears the cached encoding, forcing the next Encoded()
// call to rebuild it. The WAL writer calls it on every row after stamping
// the row's replica id and LSN, so a row is always re-encoded at write
// time. Nothing in this module normalizes UPDATE/UPSERT field numbers.
func (r *Row) InvalidateEncoded() { r.encoded = nil }

func (r *Row) encode() []byte {
	size := rowHeaderSize
	for _, b := range r.Body {
		size += 4 + len(b)
	}

	buf := make([]byte, size)
	off := 0

	buf[off] = byte(r.Op)
	off++
	binary.LittleEndian.PutUint32(buf[off:], uint32(r.ReplicaID))
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], uint64(r.LSN))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(r.Timestamp))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(r.TxID))
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], uint32(r.CoordinatorID))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(r.Body)))
	off += 4

	for _, b := range r.Body {
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(b)))
		off += 4
		copy(buf[off:], b)
		off += len(b)
	}

	return buf
}

// DecodeRow parses a single encoded row, returning the number of bytes
// consumed so the caller can advance to the next row in a frame payload.
func DecodeRow(buf []byte) (Row, int, error) {
	if len(buf) < rowHeaderSize {
		return Row{}, 0, ErrCorruptFrame
	}

	var r Row
	off := 0

	r.Op = Op(buf[off])
	off++
	r.ReplicaID = storage.ReplicaID(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	r.LSN = storage.LSN(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	r.Timestamp = int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	r.TxID = storage.TxID(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	r.CoordinatorID = storage.CoordinatorID(binary.LittleEndian.Uint32(buf[off:]))
	off += 4

	count := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4

	for i := 0; i < count; i++ {
		if off+4 > len(buf) {
			return Row{}, 0, ErrCorruptFrame
		}
		l := int(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		if off+l > len(buf) {
			return Row{}, 0, ErrCorruptFrame
		}
		body := make([]byte, l)
		copy(body, buf[off:off+l])
		r.Body = append(r.Body, body)
		off += l
	}

	r.encoded = append([]byte(nil), buf[:off]...)
	return r, off, nil
}
