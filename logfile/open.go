package logfile

import (
	"bufio"
	"os"

	"github.com/google/uuid"

	"github.com/nullvane/waltx/storage"
)

// Inspect opens an existing log file read-only just long enough to read its
// text header, returning the server UUID and vclock it was created with.
// This is the only reopening path logfile exposes: replaying the row frames
// that follow the header is out of scope (vclock advancement is tracked by
// the header alone).
func Inspect(path string) (server uuid.UUID, vclock storage.Vclock, err error) {
	f, err := os.Open(path)
	if err != nil {
		return uuid.UUID{}, nil, err
	}
	defer f.Close()

	h, err := readHeader(bufio.NewReader(f))
	if err != nil {
		return uuid.UUID{}, nil, err
	}
	return h.Server, h.VClock, nil
}
