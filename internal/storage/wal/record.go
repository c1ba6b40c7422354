package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
)

// Kind identifies the mutation carried by a record.
type Kind uint8

// Record kinds.
const (
	KindSet    Kind = 1 // store value, flags and deadline
	KindDelete Kind = 2 // explicit removal
	KindExpire Kind = 3 // deadline change, value untouched
	KindEvict  Kind = 4 // removal because the deadline passed
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindSet:
		return "SET"
	case KindDelete:
		return "DELETE"
	case KindExpire:
		return "EXPIRE"
	case KindEvict:
		return "EVICT"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k >= KindSet && k <= KindEvict
}

// Record is one durable mutation.
type Record struct {
	Seq       uint64
	Kind      Kind
	Key       []byte
	Value     []byte
	Flags     uint32
	ExpiresAt int64 // unix ms, 0 = no deadline
}

// noExpiry is the on-disk sentinel for "no deadline".
const noExpiry int64 = -1

// Record codec errors.
var (
	ErrTornRecord       = errors.New("wal: torn record")
	ErrChecksumMismatch = errors.New("wal: checksum mismatch")
	ErrCorruptRecord    = errors.New("wal: corrupt record")
)

const (
	fixedPrefixSize = 8 + 1     // seq + kind
	fixedSuffixSize = 4 + 8 + 4 // flags + expires_at + checksum

	// maxRecordSize bounds a single decoded length field before the remaining
	// segment size is considered.
	maxRecordSize = 1 << 30
)

// EncodedSize returns the number of bytes r occupies on disk.
func (r *Record) EncodedSize() int {
	return fixedPrefixSize +
		uvarintLen(uint64(len(r.Key))) + len(r.Key) +
		uvarintLen(uint64(len(r.Value))) + len(r.Value) +
		fixedSuffixSize
}

// appendRecord appends the wire form of r to dst:
//
//	u64 seq | u8 kind | uvarint key_len | key | uvarint value_len | value |
//	u32 flags | i64 expires_at (-1 = none) | u32 checksum
//
// All fixed-width integers are big endian. The checksum is the low 32 bits
// of xxhash64 over every preceding byte of the record.
func appendRecord(dst []byte, r *Record) []byte {
	start := len(dst)
	dst = binary.BigEndian.AppendUint64(dst, r.Seq)
	dst = append(dst, byte(r.Kind))
	dst = binary.AppendUvarint(dst, uint64(len(r.Key)))
	dst = append(dst, r.Key...)
	dst = binary.AppendUvarint(dst, uint64(len(r.Value)))
	dst = append(dst, r.Value...)
	dst = binary.BigEndian.AppendUint32(dst, r.Flags)

	expires := r.ExpiresAt
	if expires == 0 {
		expires = noExpiry
	}
	dst = binary.BigEndian.AppendUint64(dst, uint64(expires))

	sum := uint32(xxhash.Sum64(dst[start:]))
	return binary.BigEndian.AppendUint32(dst, sum)
}

// recordReader decodes records from a byte stream while hashing every byte
// it consumes.
type recordReader struct {
	br     *bufio.Reader
	digest *xxhash.Digest
	n      int64
}

func newRecordReader(br *bufio.Reader) *recordReader {
	return &recordReader{br: br, digest: xxhash.New()}
}

func (d *recordReader) ReadByte() (byte, error) {
	b, err := d.br.ReadByte()
	if err != nil {
		return 0, err
	}
	d.digest.Write([]byte{b})
	d.n++
	return b, nil
}

func (d *recordReader) readFull(p []byte) error {
	n, err := io.ReadFull(d.br, p)
	d.digest.Write(p[:n])
	d.n += int64(n)
	return err
}

// next decodes one record. remaining bounds length fields; a length that
// cannot fit is reported as ErrTornRecord when it runs past the end and as
// ErrCorruptRecord when it is implausible. A clean end of stream before the
// first byte returns io.EOF. The returned size is the record's encoded size.
func (d *recordReader) next(remaining int64) (*Record, int64, error) {
	d.digest.Reset()
	d.n = 0

	var head [fixedPrefixSize]byte
	if err := d.readFull(head[:]); err != nil {
		if errors.Is(err, io.EOF) && d.n == 0 {
			return nil, 0, io.EOF
		}
		return nil, d.n, ErrTornRecord
	}

	rec := &Record{
		Seq:  binary.BigEndian.Uint64(head[:8]),
		Kind: Kind(head[8]),
	}

	key, err := d.readBytes(remaining)
	if err != nil {
		return nil, d.n, err
	}
	value, err := d.readBytes(remaining)
	if err != nil {
		return nil, d.n, err
	}
	rec.Key, rec.Value = key, value

	var tail [4 + 8]byte
	if err := d.readFull(tail[:]); err != nil {
		return nil, d.n, ErrTornRecord
	}
	rec.Flags = binary.BigEndian.Uint32(tail[:4])
	expires := int64(binary.BigEndian.Uint64(tail[4:]))

	want := uint32(d.digest.Sum64())
	var sumBuf [4]byte
	if _, err := io.ReadFull(d.br, sumBuf[:]); err != nil {
		return nil, d.n, ErrTornRecord
	}
	d.n += 4
	if binary.BigEndian.Uint32(sumBuf[:]) != want {
		return nil, d.n, ErrChecksumMismatch
	}

	if !rec.Kind.Valid() {
		return nil, d.n, ErrCorruptRecord
	}
	switch {
	case expires == noExpiry:
		rec.ExpiresAt = 0
	case expires < 0:
		return nil, d.n, ErrCorruptRecord
	default:
		rec.ExpiresAt = expires
	}

	return rec, d.n, nil
}

func (d *recordReader) readBytes(remaining int64) ([]byte, error) {
	n, err := binary.ReadUvarint(d)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrTornRecord
		}
		return nil, ErrCorruptRecord
	}
	if n > maxRecordSize {
		return nil, ErrCorruptRecord
	}
	if remaining >= 0 && int64(n) > remaining-d.n {
		return nil, ErrTornRecord
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if err := d.readFull(buf); err != nil {
		return nil, ErrTornRecord
	}
	return buf, nil
}

func uvarintLen(x uint64) int {
	n := 1
	for x >= 0x80 {
		x >>= 7
		n++
	}
	return n
}
