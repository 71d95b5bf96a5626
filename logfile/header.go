package logfile

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/nullvane/waltx/storage"
)

const (
	fileType   = "WAL"
	fileVersion = "1"
)

// writeHeader writes the text header every log file opens with:
//
//	<filetype>
//	<version>
//	Server: <uuid>
//	VClock: {<id>:<lsn>, ...}
//	<blank line>
func writeHeader(w io.Writer, server uuid.UUID, vclock storage.Vclock) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\nServer: %s\nVClock: {", fileType, fileVersion, server)
	first := true
	for id, lsn := range vclock {
		if !first {
			b.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&b, "%d:%d", id, lsn)
	}
	b.WriteString("}\n\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// header is the parsed form of a log file's text header.
type header struct {
	Server uuid.UUID
	VClock storage.Vclock
}

// readHeader parses the text header from r, stopping at the blank line that
// terminates it.
func readHeader(r *bufio.Reader) (header, error) {
	var h header
	h.VClock = storage.Vclock{}

	line, err := r.ReadString('\n')
	if err != nil {
		return h, err
	}
	if strings.TrimSpace(line) != fileType {
		return h, fmt.Errorf("logfile: unexpected filetype %q", strings.TrimSpace(line))
	}

	if _, err := r.ReadString('\n'); err != nil { // version, unchecked
		return h, err
	}

	serverLine, err := r.ReadString('\n')
	if err != nil {
		return h, err
	}
	serverLine = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(serverLine), "Server:"))
	id, err := uuid.Parse(serverLine)
	if err != nil {
		return h, fmt.Errorf("logfile: bad server uuid %q: %w", serverLine, err)
	}
	h.Server = id

	vclockLine, err := r.ReadString('\n')
	if err != nil {
		return h, err
	}
	vclockLine = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(vclockLine), "VClock:"))
	vclockLine = strings.TrimSuffix(strings.TrimPrefix(vclockLine, "{"), "}")
	if vclockLine != "" {
		for _, part := range strings.Split(vclockLine, ",") {
			part = strings.TrimSpace(part)
			kv := strings.SplitN(part, ":", 2)
			if len(kv) != 2 {
				continue
			}
			id, err1 := strconv.ParseUint(kv[0], 10, 32)
			lsn, err2 := strconv.ParseInt(kv[1], 10, 64)
			if err1 != nil || err2 != nil {
				return h, fmt.Errorf("logfile: malformed vclock entry %q", part)
			}
			h.VClock[storage.ReplicaID(id)] = storage.LSN(lsn)
		}
	}

	// consume the blank line terminating the header
	if _, err := r.ReadString('\n'); err != nil && err != io.EOF {
		return h, err
	}

	return h, nil
}
