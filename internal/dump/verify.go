package dump

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
)

var (
	ErrNotMySQLDump   = errors.New("file does not start like a mysqldump")
	ErrIncompleteDump = errors.New("dump is missing its completion trailer")
)

var (
	// Oracle's client and MariaDB's mysqldump open the file differently.
	headerMarkers = [][]byte{
		[]byte("-- MySQL dump"),
		[]byte("-- MariaDB dump"),
	}
	trailerMarker = []byte("-- Dump completed")
)

func hasDumpHeader(head []byte) bool {
	for _, marker := range headerMarkers {
		if bytes.HasPrefix(head, marker) {
			return true
		}
	}
	return false
}

// Verification describes a dump file that decompressed cleanly.
type Verification struct {
	UncompressedSize int64
	Completed        bool
}

// Verify reads the whole artifact through the decompressor, which checks
// the gzip CRC, and looks for the header and trailer comments that both the
// MySQL and the MariaDB mysqldump write around a complete dump.
func Verify(path string) (*Verification, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dump file: %w", err)
	}
	defer f.Close()

	gzr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("invalid gzip format: %w", err)
	}
	defer gzr.Close()

	br := bufio.NewReaderSize(gzr, 64*1024)
	head, err := br.Peek(64)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read dump: %w", err)
	}
	if !hasDumpHeader(head) {
		return nil, ErrNotMySQLDump
	}

	tail := &tailWriter{max: 512}
	n, err := io.Copy(tail, br)
	if err != nil {
		return nil, fmt.Errorf("dump is corrupted: %w", err)
	}

	result := &Verification{
		UncompressedSize: n,
		Completed:        bytes.Contains(tail.buf, trailerMarker),
	}
	if !result.Completed {
		return result, ErrIncompleteDump
	}
	return result, nil
}

// tailWriter keeps the last max bytes written to it.
type tailWriter struct {
	max int
	buf []byte
}

func (t *tailWriter) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}
