package memcached

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Protocol limits.
const (
	// MaxKeyLen is the longest key the text protocol accepts.
	MaxKeyLen = 250

	// MaxLineLen bounds a command line, including every key of a
	// multi-key get.
	MaxLineLen = 2048

	// relativeExptimeLimit is the largest exptime treated as relative;
	// larger values are absolute unix timestamps.
	relativeExptimeLimit = 60 * 60 * 24 * 30
)

var (
	errLineTooLong = errors.New("memcached: line too long")
	errBadChunk    = errors.New("memcached: bad data chunk")
)

// readLine reads one CRLF (or bare LF) terminated line without the
// terminator.
func readLine(r *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		frag, err := r.ReadSlice('\n')
		buf = append(buf, frag...)
		if len(buf) > MaxLineLen {
			return nil, errLineTooLong
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return nil, err
	}
	buf = bytes.TrimSuffix(buf, []byte("\n"))
	buf = bytes.TrimSuffix(buf, []byte("\r"))
	return buf, nil
}

// readData reads a data block of n bytes followed by CRLF.
func readData(r *bufio.Reader, n int) ([]byte, error) {
	buf := make([]byte, n+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	if buf[n] != '\r' || buf[n+1] != '\n' {
		return nil, errBadChunk
	}
	return buf[:n], nil
}

// discardData skips a data block that will not be stored.
func discardData(r *bufio.Reader, n int) error {
	_, err := r.Discard(n + 2)
	return err
}

// validKey reports whether key is a legal memcached key: at most
// MaxKeyLen bytes with no whitespace or control characters.
func validKey(key []byte) bool {
	if len(key) == 0 || len(key) > MaxKeyLen {
		return false
	}
	for _, c := range key {
		if c <= ' ' || c == 0x7f {
			return false
		}
	}
	return true
}

// expiry converts a memcached exptime into (hasTTL, ttl). Zero means no
// expiry, a negative value expires the item at once and values above 30
// days are absolute unix times.
func expiry(exptime int64, now time.Time) (bool, time.Duration) {
	switch {
	case exptime == 0:
		return false, 0
	case exptime < 0:
		return true, -1
	case exptime > relativeExptimeLimit:
		ttl := time.Unix(exptime, 0).Sub(now)
		if ttl <= 0 {
			return true, -1
		}
		return true, ttl
	default:
		return true, time.Duration(exptime) * time.Second
	}
}

// storageRequest is a parsed set/add/replace/cas line.
type storageRequest struct {
	key     string
	flags   uint32
	exptime int64
	bytes   int
	cas     uint64
	noreply bool
}

// parseStorage parses the arguments after the command name.
func parseStorage(fields [][]byte, withCAS bool) (storageRequest, error) {
	var req storageRequest
	want := 4
	if withCAS {
		want = 5
	}
	if len(fields) == want+1 && string(fields[want]) == "noreply" {
		req.noreply = true
		fields = fields[:want]
	}
	if len(fields) != want {
		return req, fmt.Errorf("expected %d arguments, got %d", want, len(fields))
	}
	if !validKey(fields[0]) {
		return req, errors.New("invalid key")
	}
	req.key = string(fields[0])

	flags, err := strconv.ParseUint(string(fields[1]), 10, 32)
	if err != nil {
		return req, errors.New("invalid flags")
	}
	req.flags = uint32(flags)

	if req.exptime, err = strconv.ParseInt(string(fields[2]), 10, 64); err != nil {
		return req, errors.New("invalid exptime")
	}

	n, err := strconv.Atoi(string(fields[3]))
	if err != nil || n < 0 {
		return req, errors.New("invalid bytes")
	}
	req.bytes = n

	if withCAS {
		if req.cas, err = strconv.ParseUint(string(fields[4]), 10, 64); err != nil {
			return req, errors.New("invalid cas")
		}
	}
	return req, nil
}

// stripNoreply removes a trailing "noreply" token.
func stripNoreply(fields [][]byte) ([][]byte, bool) {
	if n := len(fields); n > 0 && string(fields[n-1]) == "noreply" {
		return fields[:n-1], true
	}
	return fields, false
}
