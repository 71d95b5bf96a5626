// Package test holds shared construction helpers for integration-style
// tests across packages: temp-directory-backed manager construction shared
// by many of the suite's test files.
package test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nullvane/waltx/boundary"
	"github.com/nullvane/waltx/engine"
	"github.com/nullvane/waltx/logdir"
	"github.com/nullvane/waltx/storage"
	"github.com/nullvane/waltx/txn"
	"github.com/nullvane/waltx/wal"
)

// Config bundles the knobs integration tests commonly want to override.
type Config struct {
	RowsPerFile  int64
	OwnReplicaID uint32
}

// DefaultConfig returns sane defaults for a single-test-case WAL.
func DefaultConfig() Config {
	return Config{RowsPerFile: 1000, OwnReplicaID: 1}
}

// Harness bundles a freshly constructed writer/manager/engine/boundary set
// rooted at a temp directory that is cleaned up automatically by t.
type Harness struct {
	Dir    *logdir.Directory
	Writer *wal.Writer
	Mgr    *txn.Manager
	Engine *engine.Memory
	DB     *boundary.DB
}

// NewHarness constructs a Harness backed by t.TempDir().
func NewHarness(t *testing.T, cfg Config) *Harness {
	t.Helper()

	log := logrus.NewEntry(logrus.StandardLogger())

	dir, err := logdir.Open(logdir.Options{Path: t.TempDir(), Log: log})
	if err != nil {
		t.Fatalf("test.NewHarness: opening log directory: %v", err)
	}

	writer := wal.New(wal.Options{
		Dir:          dir,
		RowsPerFile:  cfg.RowsPerFile,
		OwnReplicaID: storage.ReplicaID(cfg.OwnReplicaID),
		ServerUUID:   uuid.New(),
		Log:          log,
	})
	t.Cleanup(func() { _ = writer.Close() })

	mgr := txn.NewManager(wal.DirectSubmitter{Writer: writer}, log, nil)
	mem := engine.NewMemory()
	db := boundary.Open(mgr, writer, mem)

	return &Harness{Dir: dir, Writer: writer, Mgr: mgr, Engine: mem, DB: db}
}

// PagedHarness is Harness with the block-addressed PagedEngine in place of
// the plain-map Memory engine, for tests that want to exercise the
// storage.Manager/buffer.Manager path through the same boundary API.
type PagedHarness struct {
	Dir    *logdir.Directory
	Writer *wal.Writer
	Mgr    *txn.Manager
	Engine *engine.PagedEngine
	DB     *boundary.DB
}

// NewPagedHarness constructs a PagedHarness backed by t.TempDir(), with the
// WAL log directory and the engine's page files living in separate
// subdirectories of it.
func NewPagedHarness(t *testing.T, cfg Config) *PagedHarness {
	t.Helper()

	log := logrus.NewEntry(logrus.StandardLogger())
	root := t.TempDir()

	dir, err := logdir.Open(logdir.Options{Path: root + "/wal", Log: log})
	if err != nil {
		t.Fatalf("test.NewPagedHarness: opening log directory: %v", err)
	}

	writer := wal.New(wal.Options{
		Dir:          dir,
		RowsPerFile:  cfg.RowsPerFile,
		OwnReplicaID: storage.ReplicaID(cfg.OwnReplicaID),
		ServerUUID:   uuid.New(),
		Log:          log,
	})
	t.Cleanup(func() { _ = writer.Close() })

	fm, err := storage.NewManager(root+"/data", 4096)
	if err != nil {
		t.Fatalf("test.NewPagedHarness: opening storage manager: %v", err)
	}
	t.Cleanup(func() { _ = fm.Close() })

	mgr := txn.NewManager(wal.DirectSubmitter{Writer: writer}, log, nil)
	paged := engine.NewPagedEngine(fm, 16)
	db := boundary.Open(mgr, writer, paged)

	return &PagedHarness{Dir: dir, Writer: writer, Mgr: mgr, Engine: paged, DB: db}
}
