package record_test

import (
	"bufio"
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nullvane/waltx/record"
)

func TestRowRoundTrip(t *testing.T) {
	row := record.Row{
		Op:            record.OpReplace,
		ReplicaID:     1,
		LSN:           42,
		Timestamp:     1234,
		TxID:          7,
		CoordinatorID: 2,
		Body:          [][]byte{[]byte("key"), []byte("value")},
	}

	encoded := row.Encoded()
	decoded, n, err := record.DecodeRow(encoded)
	require.NoError(t, err)
	require.Equal(t, len(encoded), n)
	require.Equal(t, row.Op, decoded.Op)
	require.Equal(t, row.ReplicaID, decoded.ReplicaID)
	require.Equal(t, row.LSN, decoded.LSN)
	require.Equal(t, row.TxID, decoded.TxID)
	require.Equal(t, row.CoordinatorID, decoded.CoordinatorID)
	require.Equal(t, row.Body, decoded.Body)
}

func TestFrameRoundTrip(t *testing.T) {
	rows := []record.Row{
		{Op: record.OpInsert, ReplicaID: 1, LSN: 1, TxID: 1, Body: [][]byte{[]byte("a")}},
		{Op: record.OpInsert, ReplicaID: 1, LSN: 2, TxID: 1, Body: [][]byte{[]byte("b")}},
	}

	buf := record.EncodeFrame(rows, time.Unix(100, 0))

	frame, err := record.ReadFrame(bufio.NewReader(bytes.NewReader(buf)))
	require.NoError(t, err)
	require.False(t, frame.IsEOF())
	require.Len(t, frame.Rows, 2)
	require.Equal(t, rows[0].Body, frame.Rows[0].Body)
	require.Equal(t, rows[1].LSN, frame.Rows[1].LSN)
}

func TestFrameCompressesLargePayload(t *testing.T) {
	body := bytes.Repeat([]byte("x"), record.CompressThreshold*4)
	rows := []record.Row{{Op: record.OpInsert, ReplicaID: 1, LSN: 1, TxID: 1, Body: [][]byte{body}}}

	buf := record.EncodeFrame(rows, time.Now())
	require.Less(t, len(buf), len(body))

	frame, err := record.ReadFrame(bufio.NewReader(bytes.NewReader(buf)))
	require.NoError(t, err)
	require.Equal(t, body, frame.Rows[0].Body[0])
}

func TestEOFFrame(t *testing.T) {
	buf := record.EncodeEOF(time.Now())
	frame, err := record.ReadFrame(bufio.NewReader(bytes.NewReader(buf)))
	require.NoError(t, err)
	require.True(t, frame.IsEOF())
}

func TestReadFrameReportsCleanEOF(t *testing.T) {
	_, err := record.ReadFrame(bufio.NewReader(bytes.NewReader(nil)))
	require.ErrorIs(t, err, io.EOF)
}

func TestReadFrameReportsCorruption(t *testing.T) {
	rows := []record.Row{{Op: record.OpInsert, ReplicaID: 1, LSN: 1, TxID: 1, Body: [][]byte{[]byte("a")}}}
	buf := record.EncodeFrame(rows, time.Now())
	buf[len(buf)-1] ^= 0xFF // flip every bit of the checksum's last byte

	_, err := record.ReadFrame(bufio.NewReader(bytes.NewReader(buf)))
	require.ErrorIs(t, err, record.ErrCorruptFrame)
}

func TestReadFrameReportsTruncatedTailAsEOF(t *testing.T) {
	rows := []record.Row{{Op: record.OpInsert, ReplicaID: 1, LSN: 1, TxID: 1, Body: [][]byte{[]byte("a")}}}
	buf := record.EncodeFrame(rows, time.Now())

	_, err := record.ReadFrame(bufio.NewReader(bytes.NewReader(buf[:len(buf)-3])))
	require.ErrorIs(t, err, io.EOF)
}
