// Package engine defines the storage-engine trait the transaction manager
// drives, plus two reference implementations: a plain-map engine for tests
// and the demo command, and a block-addressed engine backed by the
// buffer/storage pair for anything that wants committed state on pages
// rather than in a bare map. Only the operations the transaction manager
// invokes are specified; everything else a real storage engine might do
// (query planning, indexing strategy, on-disk layout) is out of scope.
package engine

import (
	"github.com/pkg/errors"

	"github.com/nullvane/waltx/record"
)

// ErrCrossEngineTransaction is returned when a second statement in the same
// transaction targets a different engine than the one already bound.
var ErrCrossEngineTransaction = errors.New("engine: transaction already bound to a different engine")

// Savepoint is an engine-opaque handle a transaction manager carries per
// statement so a single statement can be undone without aborting the whole
// transaction.
type Savepoint any

// Txn is the engine-side transaction handle bound to a txn.Transaction for
// its lifetime.
type Txn any

// Engine is the trait the transaction manager drives. Implementations are
// expected to be safe for concurrent use across distinct Txn handles, but
// never concurrently on the same handle.
type Engine interface {
	Name() string

	Begin() (Txn, error)
	BeginStatement(t Txn) (Savepoint, error)
	RollbackStatement(t Txn, sp Savepoint) error

	// Apply performs op against space with the given key/old/new tuples
	// and returns the redo row body the caller should log, or nil if the
	// statement was read-only.
	Apply(t Txn, space string, op record.Op, key, old, new []byte) ([][]byte, error)

	Prepare(t Txn) error
	Commit(t Txn, signature int64) error
	Rollback(t Txn) error
}
