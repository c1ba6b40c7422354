package wal

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var errInvalidMagic = errors.New("wal: invalid magic bytes")

// Segment file layout constants.
const (
	DefaultFilePrefix = "aof"
	FileExtension     = ".log"
	CorruptSuffix     = ".corrupt"
	MagicBytes        = "WDBAOF\x00\x01"
	MagicBytesSize    = 8
	ChecksumSize      = 32
	DefaultFilePerm   = 0600
	DefaultDirPerm    = 0750
)

// Position addresses a byte offset inside a segment.
type Position struct {
	Segment uint64 `json:"segment"`
	Offset  int64  `json:"offset"`
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Segment, p.Offset)
}

type segmentInfo struct {
	id   uint64
	path string
}

func formatSegmentFilename(prefix string, id uint64) string {
	return fmt.Sprintf("%s-%08d%s", prefix, id, FileExtension)
}

func parseSegmentFilename(prefix, name string) (uint64, bool) {
	head := prefix + "-"
	if !strings.HasPrefix(name, head) || !strings.HasSuffix(name, FileExtension) {
		return 0, false
	}
	var id uint64
	if _, err := fmt.Sscanf(name[len(head):], "%d"+FileExtension, &id); err != nil {
		return 0, false
	}
	return id, true
}

// listSegments returns the segments of dir in id order. A missing directory
// yields no segments.
func listSegments(dir, prefix string) ([]segmentInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("wal: read dir: %w", err)
	}

	var segs []segmentInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, ok := parseSegmentFilename(prefix, e.Name())
		if !ok {
			continue
		}
		segs = append(segs, segmentInfo{id: id, path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].id < segs[j].id })
	return segs, nil
}

// verifyChecksumTrailer reports whether the segment ends with a valid
// SHA-256 trailer. dataLen is the length of the record area (the whole file
// when the segment is not finalized).
func verifyChecksumTrailer(f *os.File, size int64) (closed bool, dataLen int64, err error) {
	if size < MagicBytesSize {
		return false, size, nil
	}

	magic := make([]byte, MagicBytesSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, 0, MagicBytesSize), magic); err != nil {
		return false, 0, fmt.Errorf("wal: read magic: %w", err)
	}
	if string(magic) != MagicBytes {
		return false, 0, errInvalidMagic
	}

	if size < MagicBytesSize+ChecksumSize {
		return false, size, nil
	}

	trailer := make([]byte, ChecksumSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, size-ChecksumSize, ChecksumSize), trailer); err != nil {
		return false, 0, fmt.Errorf("wal: read checksum trailer: %w", err)
	}

	h := sha256.New()
	dataLen = size - ChecksumSize
	if _, err := io.CopyN(h, io.NewSectionReader(f, 0, dataLen), dataLen); err != nil {
		return false, 0, fmt.Errorf("wal: hash: %w", err)
	}
	if !bytes.Equal(h.Sum(nil), trailer) {
		return false, size, nil
	}
	return true, dataLen, nil
}

// VerifyTrailerChecksum checks the trailer of a finalized segment file.
func VerifyTrailerChecksum(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return err
	}
	closed, _, err := verifyChecksumTrailer(f, stat.Size())
	if err != nil {
		return err
	}
	if !closed {
		return ErrChecksumMismatch
	}
	return nil
}
