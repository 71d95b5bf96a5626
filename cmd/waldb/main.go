// Command waldb is a small demo harness exercising the boundary API end to
// end: it opens a log directory, starts a writer, runs one auto-commit
// statement against the in-memory reference engine, and takes a checkpoint.
package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nullvane/waltx/boundary"
	"github.com/nullvane/waltx/engine"
	"github.com/nullvane/waltx/logdir"
	"github.com/nullvane/waltx/logfile"
	"github.com/nullvane/waltx/record"
	"github.com/nullvane/waltx/storage"
	"github.com/nullvane/waltx/txn"
	"github.com/nullvane/waltx/wal"
)

type hook interface {
	OnStart() error
	OnEnd() error
}

var hooks []hook

type config struct {
	WalDir      string `long:"wal-dir" description:"directory holding .xlog files" required:"true"`
	RowsPerWal  int64  `long:"rows-per-wal" description:"rows before rotating to a new log file" default:"100000"`
	Mode        string `long:"wal-mode" description:"none, write, or fsync" default:"write"`
	ReplicaID   uint32 `long:"replica-id" description:"this server's replica identifier" default:"1"`
	Verbose     bool   `long:"verbose" description:"enable debug logging"`
}

func main() {
	var cfg config
	if _, err := flags.Parse(&cfg); err != nil {
		os.Exit(1)
	}

	log := logrus.New()
	if cfg.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	entry := logrus.NewEntry(log)

	for _, h := range hooks {
		if err := h.OnStart(); err != nil {
			entry.WithError(err).Fatal("hook failed to start")
		}
	}

	err := run(cfg, entry)

	for _, h := range hooks {
		if herr := h.OnEnd(); herr != nil {
			entry.WithError(herr).Error("hook failed to finish")
		}
	}

	if err != nil {
		entry.WithError(err).Fatal("waldb exited with error")
	}
}

func run(cfg config, log *logrus.Entry) error {
	dir, err := logdir.Open(logdir.Options{Path: cfg.WalDir, Log: log})
	if err != nil {
		return err
	}

	mode := logfile.ModeWrite
	switch cfg.Mode {
	case "none":
		mode = logfile.ModeNone
	case "fsync":
		mode = logfile.ModeFSync
	}

	writer := wal.New(wal.Options{
		Dir:          dir,
		Mode:         mode,
		RowsPerFile:  cfg.RowsPerWal,
		OwnReplicaID: storage.ReplicaID(cfg.ReplicaID),
		ServerUUID:   uuid.New(),
		Log:          log,
	})
	defer writer.Close()

	mgr := txn.NewManager(wal.DirectSubmitter{Writer: writer}, log, nil)
	eng := engine.NewMemory()
	db := boundary.Open(mgr, writer, eng)

	const task boundary.TaskID = 1

	if err := db.BeginStatement(task, "widgets"); err != nil {
		return err
	}
	if err := db.CommitStatement(task, boundary.Mutation{
		Op:  record.OpInsert,
		Key: []byte("widget-1"),
		New: []byte("first widget"),
	}); err != nil {
		return err
	}

	tuple, _ := eng.Get("widgets", "widget-1")
	fmt.Printf("stored widget-1 = %q\n", tuple)

	sig, err := db.Checkpoint(true)
	if err != nil {
		return err
	}
	log.WithField("signature", sig).Info("checkpoint complete")

	return nil
}
