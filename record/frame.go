package record

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/golang/snappy"
	"github.com/minio/highwayhash"
)

// Magic marks the start of a frame; it lets a reader resynchronize after a
// truncated tail and distinguishes a real frame from a zeroed hole left by a
// crash mid-write.
const Magic uint32 = 0x57414c31 // "WAL1"

// ErrCorruptFrame is returned when a frame's checksum does not match its
// header+payload, or its declared lengths do not fit what is available. A
// truncated tail at end of file is reported as io.EOF, never this error.
var ErrCorruptFrame = errors.New("record: corrupt frame")

// CompressThreshold is the uncompressed payload size above which EncodeFrame
// snappy-compresses the batch. Exposed so tests can force either path.
var CompressThreshold = 256

// checksumKey is the fixed HighwayHash key for frame checksums. This is not
// a security boundary (a single local process writes and reads its own
// files); the key only needs to be stable across process restarts.
var checksumKey = make([]byte, 32)

// frameHeaderSize is the fixed portion of a frame preceding its payload:
// magic(4) + payloadLen(4) + rowCount(4) + serverTime(8) + compressed(1).
const frameHeaderSize = 4 + 4 + 4 + 8 + 1

// checksumSize is the trailing checksum width: HighwayHash64 is computed
// and truncated to its low 32 bits.
const checksumSize = 4

// EncodeFrame serializes rows as a single framed batch: header, optionally
// snappy-compressed payload, checksum. now is stamped as the frame's
// server-clock time.
func EncodeFrame(rows []Row, now time.Time) []byte {
	var payload []byte
	for _, r := range rows {
		payload = append(payload, r.Encoded()...)
	}

	compressed := false
	if len(payload) > CompressThreshold {
		c := snappy.Encode(nil, payload)
		if len(c) < len(payload) {
			payload = c
			compressed = true
		}
	}

	buf := make([]byte, frameHeaderSize+len(payload)+checksumSize)
	binary.LittleEndian.PutUint32(buf[0:], Magic)
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[8:], uint32(len(rows)))
	binary.LittleEndian.PutUint64(buf[12:], uint64(now.UnixNano()))
	if compressed {
		buf[20] = 1
	}
	copy(buf[frameHeaderSize:], payload)

	sum := highwayhash.Sum64(buf[:frameHeaderSize+len(payload)], checksumKey)
	binary.LittleEndian.PutUint32(buf[frameHeaderSize+len(payload):], uint32(sum))

	return buf
}

// EncodeEOF returns the distinct zero-row, zero-payload frame that marks a
// clean close of a log file.
func EncodeEOF(now time.Time) []byte {
	return EncodeFrame(nil, now)
}

// DecodedFrame is a successfully verified and decoded frame.
type DecodedFrame struct {
	ServerTime time.Time
	Rows       []Row
}

// IsEOF reports whether the frame is the zero-row end-of-file marker.
func (f DecodedFrame) IsEOF() bool { return len(f.Rows) == 0 }

// ReadFrame reads and verifies exactly one frame from r. A stream that ends
// before a frame is complete (no bytes at all, or a truncated tail) is
// reported as io.EOF; a bad magic, a checksum mismatch or an undecodable
// payload is ErrCorruptFrame, never a panic.
func ReadFrame(r *bufio.Reader) (DecodedFrame, error) {
	var head [frameHeaderSize]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return DecodedFrame{}, io.EOF
		}
		return DecodedFrame{}, ErrCorruptFrame
	}

	magic := binary.LittleEndian.Uint32(head[0:])
	if magic != Magic {
		return DecodedFrame{}, ErrCorruptFrame
	}
	payloadLen := binary.LittleEndian.Uint32(head[4:])
	rowCount := binary.LittleEndian.Uint32(head[8:])
	serverTime := int64(binary.LittleEndian.Uint64(head[12:]))
	compressed := head[20] != 0

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return DecodedFrame{}, io.EOF
		}
		return DecodedFrame{}, ErrCorruptFrame
	}

	var checksumBuf [checksumSize]byte
	if _, err := io.ReadFull(r, checksumBuf[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return DecodedFrame{}, io.EOF
		}
		return DecodedFrame{}, ErrCorruptFrame
	}
	wantSum := binary.LittleEndian.Uint32(checksumBuf[:])

	gotSum := uint32(highwayhash.Sum64(append(append([]byte{}, head[:]...), payload...), checksumKey))
	if gotSum != wantSum {
		return DecodedFrame{}, ErrCorruptFrame
	}

	if compressed {
		decoded, err := snappy.Decode(nil, payload)
		if err != nil {
			return DecodedFrame{}, ErrCorruptFrame
		}
		payload = decoded
	}

	rows := make([]Row, 0, rowCount)
	off := 0
	for i := uint32(0); i < rowCount; i++ {
		row, n, err := DecodeRow(payload[off:])
		if err != nil {
			return DecodedFrame{}, err
		}
		rows = append(rows, row)
		off += n
	}

	return DecodedFrame{ServerTime: time.Unix(0, serverTime), Rows: rows}, nil
}
