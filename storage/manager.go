package storage

import (
	"io"
	"os"
	"path/filepath"
	"sync"
)

// Manager implements methods that read and write Pages to disk blocks. It
// always reads and writes a block-sized number of bytes from a file, always
// at a block boundary, so each call to Read, Write or Append incurs exactly
// one disk access. This is the page-storage half of the reference storage
// engine the transaction manager drives; the WAL's own on-disk layout
// (package logfile) is append-only and does not go through this type.
type Manager struct {
	folder    string
	blockSize int
	isNew     bool

	sync.Mutex
	openFiles map[string]*os.File
}

func NewManager(root string, blockSize int) (*Manager, error) {
	_, err := os.Stat(root)
	isNew := os.IsNotExist(err)

	if isNew {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	return &Manager{
		folder:    root,
		blockSize: blockSize,
		isNew:     isNew,
		openFiles: make(map[string]*os.File),
	}, nil
}

func (m *Manager) IsNew() bool      { return m.isNew }
func (m *Manager) BlockSize() int   { return m.blockSize }

func (m *Manager) getFile(fname string) (*os.File, error) {
	if f, ok := m.openFiles[fname]; ok {
		return f, nil
	}

	f, err := os.OpenFile(filepath.Join(m.folder, fname), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	m.openFiles[fname] = f
	return f, nil
}

// Read loads the contents of block into p. A short read past the current
// end of file is reported as a block of zeroes, matching the semantics of a
// freshly-appended, never-written block.
func (m *Manager) Read(block Block, p *Page) error {
	m.Lock()
	defer m.Unlock()

	f, err := m.getFile(block.FileName())
	if err != nil {
		return err
	}

	_, err = f.ReadAt(p.Contents(), int64(block.Number())*int64(m.blockSize))
	if err != nil && err != io.EOF {
		return err
	}
	return nil
}

func (m *Manager) Write(block Block, p *Page) error {
	m.Lock()
	defer m.Unlock()

	f, err := m.getFile(block.FileName())
	if err != nil {
		return err
	}

	_, err = f.WriteAt(p.Contents(), int64(block.Number())*int64(m.blockSize))
	return err
}

// Size returns the size, in blocks, of the given file.
func (m *Manager) Size(filename string) (int, error) {
	m.Lock()
	defer m.Unlock()

	f, err := m.getFile(filename)
	if err != nil {
		return 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return int(info.Size()) / m.blockSize, nil
}

// Append grows filename by one zeroed block and returns it.
func (m *Manager) Append(fname string) (Block, error) {
	n, err := m.Size(fname)
	if err != nil {
		return Block{}, err
	}

	m.Lock()
	defer m.Unlock()

	f, err := m.getFile(fname)
	if err != nil {
		return Block{}, err
	}

	block := NewBlock(fname, n)
	buf := make([]byte, m.blockSize)
	if _, err := f.WriteAt(buf, int64(block.Number())*int64(m.blockSize)); err != nil {
		return Block{}, err
	}
	return block, nil
}

func (m *Manager) Close() error {
	m.Lock()
	defer m.Unlock()

	var first error
	for _, f := range m.openFiles {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
