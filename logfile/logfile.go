// Package logfile implements the append-only on-disk log file: open for
// write, accumulate rows into a transactional batch, commit or roll back
// the batch atomically, flush/fsync, rotate, and close with an EOF marker.
// Rows are buffered in memory before being flushed to disk, generalized
// from a single fixed-size page of prepended records to an arbitrary
// number of length-framed, checksummed batches.
package logfile

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nullvane/waltx/record"
	"github.com/nullvane/waltx/storage"
)

// Mode controls how aggressively a LogFile syncs to stable storage.
type Mode int

const (
	ModeNone Mode = iota
	ModeWrite
	ModeFSync
)

const inProgressSuffix = ".inprogress"
const extension = ".xlog"

// flushBatchThreshold is the in-memory pending-bytes size above which
// CommitTx eagerly flushes to the OS instead of waiting for the next
// explicit Flush call.
const flushBatchThreshold = 64 * 1024

// LogFile is a single append-only log file.
type LogFile struct {
	dir      string
	filename string // final (non-.inprogress) basename
	mode     Mode

	tooLongThreshold time.Duration
	log              *logrus.Entry
	metrics          *Metrics

	file       *os.File
	inProgress bool

	serverUUID uuid.UUID
	createdAt  storage.Vclock

	rowCount int64

	// pending holds encoded frame bytes appended since the last successful
	// flush to the OS; frameEnds marks, in cumulative bytes, the end of
	// each complete frame within pending, so a partial write can be
	// truncated back to the last frame boundary instead of leaving a torn
	// frame on disk.
	pending  []byte
	frameEnds []int64

	// txRows accumulates rows between BeginTx and CommitTx/RollbackTx.
	txRows []record.Row

	fileOffset int64
}

// Options configures a new or reopened LogFile.
type Options struct {
	Dir              string
	Mode             Mode
	TooLongThreshold time.Duration
	Log              *logrus.Entry
	Metrics          *Metrics
}

// Create opens a brand new log file named for signature, stamped with the
// given server UUID and vclock-at-creation. The file is created with the
// .inprogress suffix until Close commits it.
func Create(opts Options, signature int64, server uuid.UUID, vclock storage.Vclock) (*LogFile, error) {
	base := Filename(signature)
	path := filepath.Join(opts.Dir, base+inProgressSuffix)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "logfile: create")
	}

	lf := newLogFile(opts, base, f, true, server, vclock.Clone())

	if err := writeHeader(f, server, lf.createdAt); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "logfile: write header")
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	lf.fileOffset = info.Size()

	return lf, nil
}

func newLogFile(opts Options, base string, f *os.File, inProgress bool, server uuid.UUID, vclock storage.Vclock) *LogFile {
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LogFile{
		dir:              opts.Dir,
		filename:         base,
		mode:             opts.Mode,
		tooLongThreshold: opts.TooLongThreshold,
		log:              log.WithField("logfile", base),
		metrics:          opts.Metrics,
		file:             f,
		inProgress:       inProgress,
		serverUUID:       server,
		createdAt:        vclock,
	}
}

// Filename returns the canonical (extension-bearing, no .inprogress suffix)
// filename for the given vclock signature.
func Filename(signature int64) string {
	return fmt.Sprintf("%020d%s", signature, extension)
}

func (lf *LogFile) Filename() string { return lf.filename }
func (lf *LogFile) RowCount() int64  { return lf.rowCount }
func (lf *LogFile) ServerUUID() uuid.UUID { return lf.serverUUID }

// BeginTx marks the start of a transactional frame: subsequent rows passed
// to WriteRow join this frame until CommitTx or RollbackTx.
func (lf *LogFile) BeginTx() {
	lf.txRows = lf.txRows[:0]
}

// WriteRow appends a row to the in-progress frame. It returns the row's
// encoded length in bytes (before framing or compression), or -1 if the
// row is rejected (it exceeds the maximum single-row size).
func (lf *LogFile) WriteRow(row record.Row) int {
	const maxRowSize = 32 << 20 // 32MiB: generous upper bound on one logged mutation

	encoded := row.Encoded()
	if len(encoded) > maxRowSize {
		lf.log.WithField("size", len(encoded)).Warn("wal row exceeds maximum size, rejecting")
		return -1
	}

	lf.txRows = append(lf.txRows, row)
	return len(encoded)
}

// RollbackTx discards rows added since BeginTx without touching the file.
func (lf *LogFile) RollbackTx() {
	lf.txRows = lf.txRows[:0]
}

// CommitTx closes the current frame: encodes all rows accumulated since
// BeginTx into a single checksummed frame and appends it to the pending
// buffer. If the pending buffer has grown past flushBatchThreshold it is
// eagerly flushed to the OS. Returns the number of bytes this call wrote to
// the file (0 if the frame is still buffered in memory); they are fsynced
// only in ModeFSync.
func (lf *LogFile) CommitTx() (int, error) {
	if len(lf.txRows) == 0 {
		return 0, nil
	}

	frame := record.EncodeFrame(lf.txRows, time.Now())
	lf.pending = append(lf.pending, frame...)
	lf.frameEnds = append(lf.frameEnds, int64(len(lf.pending)))
	lf.rowCount += int64(len(lf.txRows))
	lf.txRows = lf.txRows[:0]

	if len(lf.pending) < flushBatchThreshold {
		return 0, nil
	}

	before := lf.fileOffset
	if err := lf.Flush(); err != nil {
		return 0, err
	}
	return int(lf.fileOffset - before), nil
}

// Flush drains the pending buffer to the file, honoring the atomicity
// contract: if the underlying write fails partway through a multi-frame
// buffer, the file is truncated back to the end of the last frame that was
// fully written, and the remainder of pending is dropped (the caller is
// expected to treat the dropped frames as failed requests and resubmit or
// roll back, never silently retry them). Fsyncs per lf.mode.
func (lf *LogFile) Flush() error {
	if lf.file == nil {
		return errors.New("logfile: flush on invalidated file handle")
	}
	if len(lf.pending) == 0 {
		return lf.maybeSync()
	}

	start := time.Now()
	n, err := lf.file.Write(lf.pending)
	if err != nil {
		lf.truncateToLastGoodFrame(n)
		if lf.metrics != nil {
			lf.metrics.writeErrors.Inc()
		}
		return errors.Wrap(err, "logfile: write")
	}

	lf.fileOffset += int64(n)
	lf.pending = lf.pending[:0]
	lf.frameEnds = lf.frameEnds[:0]

	if err := lf.maybeSync(); err != nil {
		return err
	}

	lf.observeDuration(time.Since(start))
	return nil
}

// truncateToLastGoodFrame is called after a partial write of n bytes out of
// lf.pending. It finds the last frame boundary <= n, ftruncates the file
// back to that point, and drops the rest of pending (the frames that never
// made it, or made it only partially, are not recoverable).
func (lf *LogFile) truncateToLastGoodFrame(n int) {
	var lastGood int64
	for _, end := range lf.frameEnds {
		if end <= int64(n) {
			lastGood = end
		} else {
			break
		}
	}

	truncateAt := lf.fileOffset + lastGood
	if err := lf.file.Truncate(truncateAt); err != nil {
		lf.log.WithError(err).Error("wal truncate after partial write failed")
	}
	lf.fileOffset = truncateAt
	lf.pending = nil
	lf.frameEnds = nil
}

func (lf *LogFile) maybeSync() error {
	if lf.mode != ModeFSync {
		return nil
	}
	if err := lf.file.Sync(); err != nil {
		return errors.Wrap(err, "logfile: fsync")
	}
	return nil
}

func (lf *LogFile) observeDuration(d time.Duration) {
	if lf.metrics != nil {
		lf.metrics.flushSeconds.Observe(d.Seconds())
	}
	if lf.tooLongThreshold > 0 && d > lf.tooLongThreshold {
		lf.log.WithField("took", d).Warn("wal write exceeded too_long_threshold")
		if lf.metrics != nil {
			lf.metrics.tooLongWrites.Inc()
		}
	}
}

// Close writes the EOF marker, flushes and fsyncs, then either renames the
// file to its final (non-.inprogress) name if it holds at least one
// committed row, or deletes it. dropInProgress forces deletion regardless of
// row count (used when a file was opened but never received a single row).
func (lf *LogFile) Close(dropInProgress bool) error {
	if lf.file == nil {
		return nil
	}

	if !dropInProgress {
		eof := record.EncodeEOF(time.Now())
		lf.pending = append(lf.pending, eof...)
		lf.frameEnds = append(lf.frameEnds, int64(len(lf.pending)))
		if err := lf.Flush(); err != nil {
			return err
		}
		if err := lf.file.Sync(); err != nil {
			return errors.Wrap(err, "logfile: fsync on close")
		}
	}

	if err := lf.file.Close(); err != nil {
		return errors.Wrap(err, "logfile: close")
	}

	inProgressPath := filepath.Join(lf.dir, lf.filename+inProgressSuffix)
	finalPath := filepath.Join(lf.dir, lf.filename)

	if dropInProgress || lf.rowCount == 0 {
		if err := os.Remove(inProgressPath); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "logfile: remove empty inprogress file")
		}
		lf.file = nil
		return nil
	}

	if err := os.Rename(inProgressPath, finalPath); err != nil {
		return errors.Wrap(err, "logfile: rename to final")
	}
	lf.file = nil
	return nil
}

// Invalidate implements the atfork() contract: it drops the file handle
// without closing the descriptor, so a forked child process cannot flush or
// EOF-mark the parent's log file out from under it.
func (lf *LogFile) Invalidate() {
	lf.file = nil
}
