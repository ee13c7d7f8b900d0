package input

import (
	"bufio"
	"errors"
	"io"

	"github.com/xoelrdgz/authradar/internal/domain"
)

// readBoundedLine reads one newline-terminated line, keeping at most limit
// bytes and discarding the rest of an oversized line. A final line without
// a newline is returned with a nil error; the next call returns io.EOF.
func readBoundedLine(r *bufio.Reader, limit int) (string, bool, error) {
	var buf []byte
	truncated := false

	for {
		chunk, err := r.ReadSlice('\n')
		if len(buf) < limit {
			room := limit - len(buf)
			if len(chunk) > room {
				buf = append(buf, chunk[:room]...)
				truncated = true
			} else {
				buf = append(buf, chunk...)
			}
		} else if len(chunk) > 0 {
			truncated = true
		}

		switch {
		case err == nil:
			return trimEOL(buf), truncated, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(buf) > 0:
			return trimEOL(buf), truncated, nil
		default:
			return "", false, err
		}
	}
}

func trimEOL(b []byte) string {
	n := len(b)
	if n > 0 && b[n-1] == '\n' {
		n--
	}
	if n > 0 && b[n-1] == '\r' {
		n--
	}
	return string(b[:n])
}

func newLineReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, domain.MaxLineLength)
}
