// Package logdir implements the typed directory of log files: scanning
// existing files into a vclock-signature-sorted index, looking files up,
// and allocating a filename for a new log at a given vclock.
package logdir

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nullvane/waltx/logfile"
	"github.com/nullvane/waltx/storage"
)

// Type distinguishes the kind of directory, gating what Scan accepts.
type Type int

const (
	TypeLog Type = iota
	TypeSnapshot
)

// ErrDuplicateSignature is returned by insert when a file's signature is
// already present in the index — the index never holds duplicates.
var ErrDuplicateSignature = errors.New("logdir: duplicate vclock signature")

// entry is one indexed file.
type entry struct {
	signature int64
	filename  string
}

// Options configures a Directory.
type Options struct {
	Path       string
	Type       Type
	ServerUUID uuid.UUID // expected server UUID; zero value disables the check
	StrictScan bool      // panic_if_error equivalent: fail the whole scan on the first parse error
	Log        *logrus.Entry
}

// Directory is a typed, vclock-indexed directory of log files.
type Directory struct {
	opts Options
	log  *logrus.Entry

	index []entry // sorted by signature, ascending, no duplicates

	lookupCache *lru.Cache[int64, string]
}

// Open creates the directory (if needed) and scans its existing contents.
func Open(opts Options) (*Directory, error) {
	if err := os.MkdirAll(opts.Path, 0o755); err != nil {
		return nil, errors.Wrap(err, "logdir: mkdir")
	}

	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	cache, err := lru.New[int64, string](256)
	if err != nil {
		return nil, err
	}

	d := &Directory{
		opts:        opts,
		log:         log.WithField("logdir", opts.Path),
		lookupCache: cache,
	}

	if err := d.scan(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Directory) extension() string {
	if d.opts.Type == TypeSnapshot {
		return ".snap"
	}
	return ".xlog"
}

// scan walks the directory populating the sorted index. A malformed file is
// fatal to the scan when StrictScan is set; otherwise it is logged and
// skipped.
func (d *Directory) scan() error {
	entries, err := os.ReadDir(d.opts.Path)
	if err != nil {
		return errors.Wrap(err, "logdir: readdir")
	}

	ext := d.extension()
	var idx []entry

	for _, de := range entries {
		name := de.Name()
		if de.IsDir() || strings.HasSuffix(name, ".inprogress") || !strings.HasSuffix(name, ext) {
			continue
		}

		sig, err := parseSignature(name, ext)
		if err != nil {
			if d.opts.StrictScan {
				return errors.Wrapf(err, "logdir: parsing %s", name)
			}
			d.log.WithError(err).WithField("file", name).Warn("skipping unparseable log file name")
			continue
		}

		server, _, err := logfile.Inspect(filepath.Join(d.opts.Path, name))
		if err != nil {
			if d.opts.StrictScan {
				return errors.Wrapf(err, "logdir: reading header of %s", name)
			}
			d.log.WithError(err).WithField("file", name).Warn("skipping unreadable log header")
			continue
		}
		if d.opts.ServerUUID != (uuid.UUID{}) && server != d.opts.ServerUUID {
			if d.opts.StrictScan {
				return errors.Errorf("logdir: %s stamped with unexpected server uuid %s", name, server)
			}
			d.log.WithField("file", name).Warn("skipping log file stamped with unexpected server uuid")
			continue
		}

		idx = append(idx, entry{signature: sig, filename: name})
	}

	sort.Slice(idx, func(i, j int) bool { return idx[i].signature < idx[j].signature })

	for i := 1; i < len(idx); i++ {
		if idx[i].signature == idx[i-1].signature {
			return errors.Wrapf(ErrDuplicateSignature, "%d", idx[i].signature)
		}
	}

	d.index = idx
	d.lookupCache.Purge()
	return nil
}

func parseSignature(name, ext string) (int64, error) {
	base := strings.TrimSuffix(name, ext)
	return strconv.ParseInt(base, 10, 64)
}

// Scan re-reads the directory from disk, replacing the in-memory index.
func (d *Directory) Scan() error {
	return d.scan()
}

// Lookup returns the filename for the file whose signature exactly matches,
// or "", false if none is indexed. Recent lookups are served from an LRU
// cache sitting in front of the authoritative sorted index.
func (d *Directory) Lookup(signature int64) (string, bool) {
	if name, ok := d.lookupCache.Get(signature); ok {
		return name, true
	}

	i := sort.Search(len(d.index), func(i int) bool { return d.index[i].signature >= signature })
	if i < len(d.index) && d.index[i].signature == signature {
		d.lookupCache.Add(signature, d.index[i].filename)
		return d.index[i].filename, true
	}
	return "", false
}

// LastSignature returns the greatest indexed signature, or (0, false) if the
// directory is empty.
func (d *Directory) LastSignature() (int64, bool) {
	if len(d.index) == 0 {
		return 0, false
	}
	return d.index[len(d.index)-1].signature, true
}

// Signatures returns every indexed signature, ascending.
func (d *Directory) Signatures() []int64 {
	out := make([]int64, len(d.index))
	for i, e := range d.index {
		out[i] = e.signature
	}
	return out
}

// CreateXlog allocates a filename for a new log at the given vclock,
// signed by the vclock's Signature(), and records it in the index once the
// caller confirms the file was created (see Record). It never reuses an
// existing signature.
func (d *Directory) CreateXlog(vclock storage.Vclock) (signature int64, path string, err error) {
	signature = vclock.Signature()
	if _, exists := d.Lookup(signature); exists {
		return 0, "", errors.Errorf("logdir: signature %d already present", signature)
	}
	name := logfile.Filename(signature)
	return signature, filepath.Join(d.opts.Path, name), nil
}

// Record inserts a newly-created file's signature into the index, keeping
// it sorted. Callers call this only after the underlying file has been
// durably renamed into place (see logfile.Close).
func (d *Directory) Record(signature int64) {
	name := logfile.Filename(signature)
	i := sort.Search(len(d.index), func(i int) bool { return d.index[i].signature >= signature })
	d.index = append(d.index, entry{})
	copy(d.index[i+1:], d.index[i:])
	d.index[i] = entry{signature: signature, filename: name}
	d.lookupCache.Add(signature, name)
}

// Path returns the directory's root path.
func (d *Directory) Path() string { return d.opts.Path }
