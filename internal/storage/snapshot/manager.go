package snapshot

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/oklog/ulid/v2"

	"github.com/workingdb/workingdb-go/internal/core/domain"
	"github.com/workingdb/workingdb-go/internal/storage/memory"
	"github.com/workingdb/workingdb-go/pkg/crypto/adaptive"
)

var magicBytes = []byte("WDBSNAP1")

const (
	filePrefix    = "snapshot-"
	fileExtension = ".snap"
	tempExtension = ".tmp"
	checksumSize  = 32
	maxHeaderSize = 1 << 20

	// DefaultRetention is the number of snapshots kept by Prune.
	DefaultRetention = 3
)

// Compression algorithms for the data block.
const (
	CompressionZstd = "zstd"
	CompressionNone = "none"
)

var (
	ErrInvalidMagic     = errors.New("snapshot: invalid magic bytes")
	ErrChecksumMismatch = errors.New("snapshot: checksum mismatch")
	ErrNoSnapshots      = errors.New("snapshot: no snapshots available")
	ErrEncrypted        = errors.New("snapshot: file is encrypted but no key is configured")
	ErrNotEncrypted     = errors.New("snapshot: encryption key configured but file is not encrypted")
)

type fileHeader struct {
	ID          string `json:"id"`
	CreatedAt   int64  `json:"created_at"`
	LastSeq     uint64 `json:"last_seq"`
	WALSegment  uint64 `json:"wal_segment"`
	EntryCount  int64  `json:"entry_count"`
	Compression string `json:"compression"`
	Encrypted   bool   `json:"encrypted"`
}

type fileEntry struct {
	Key       string `json:"k"`
	Value     []byte `json:"v"`
	Flags     uint32 `json:"f,omitempty"`
	ExpiresAt int64  `json:"e,omitempty"`
	Version   uint64 `json:"ver"`
	Seq       uint64 `json:"seq,omitempty"`
}

// Source is the table a snapshot is taken from. *memory.Table implements
// it.
type Source interface {
	ShardCount() int
	ScanShard(i int, pred func(key string, e *domain.Entry) bool) ([]memory.KeyEntry, error)
}

// Mark is the write log position a snapshot covers: every record with a
// sequence number up to LastSeq is reflected in it. Segment is the log
// segment that was open when the mark was taken.
type Mark struct {
	LastSeq uint64
	Segment uint64
}

// Config configures the snapshot manager.
type Config struct {
	Dir         string
	Retention   int
	Compression string
	Cipher      adaptive.Cipher
	Logger      *slog.Logger
}

// DefaultConfig returns the default configuration for dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:         dir,
		Retention:   DefaultRetention,
		Compression: CompressionZstd,
	}
}

// Manager creates, lists, loads and prunes snapshots in one directory.
type Manager struct {
	cfg    Config
	logger *slog.Logger
}

// NewManager creates the snapshot directory if needed.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("snapshot: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	switch cfg.Compression {
	case "":
		cfg.Compression = CompressionZstd
	case CompressionZstd, CompressionNone:
	default:
		return nil, fmt.Errorf("snapshot: unsupported compression %q", cfg.Compression)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, logger: logger}, nil
}

// Dir returns the snapshot directory.
func (m *Manager) Dir() string {
	return m.cfg.Dir
}

// Info describes a snapshot file.
type Info struct {
	ID          string `json:"id"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	CreatedAt   int64  `json:"created_at"`
	LastSeq     uint64 `json:"last_seq"`
	WALSegment  uint64 `json:"wal_segment"`
	EntryCount  int64  `json:"entry_count"`
	Compression string `json:"compression,omitempty"`
	Encrypted   bool   `json:"encrypted"`
	Checksum    string `json:"checksum,omitempty"`
}

// Create writes a snapshot of src covering mark. Shards are scanned one at
// a time; entries changed by writers after the mark carry a newer Seq and
// are reconciled during replay.
func (m *Manager) Create(src Source, mark Mark) (*Info, error) {
	now := time.Now()
	id := ulid.Make().String()

	var (
		data  bytes.Buffer
		count int64
	)
	if err := m.encodeEntries(&data, src, &count); err != nil {
		return nil, err
	}

	block := data.Bytes()
	if m.cfg.Cipher != nil {
		sealed, err := m.cfg.Cipher.Encrypt(block, []byte(id))
		if err != nil {
			return nil, fmt.Errorf("snapshot: encrypt: %w", err)
		}
		block = sealed
	}

	hdr := fileHeader{
		ID:          id,
		CreatedAt:   now.UnixMilli(),
		LastSeq:     mark.LastSeq,
		WALSegment:  mark.Segment,
		EntryCount:  count,
		Compression: m.cfg.Compression,
		Encrypted:   m.cfg.Cipher != nil,
	}
	hdrJSON, err := json.Marshal(hdr)
	if err != nil {
		return nil, fmt.Errorf("snapshot: marshal header: %w", err)
	}

	name := filePrefix + id
	tempPath := filepath.Join(m.cfg.Dir, name+tempExtension)
	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("snapshot: create temp file: %w", err)
	}
	defer os.Remove(tempPath)

	hash := sha256.New()
	bw := bufio.NewWriterSize(io.MultiWriter(file, hash), 256*1024)

	var hdrLen [4]byte
	binary.BigEndian.PutUint32(hdrLen[:], uint32(len(hdrJSON)))
	for _, part := range [][]byte{magicBytes, hdrLen[:], hdrJSON, block} {
		if _, err := bw.Write(part); err != nil {
			file.Close()
			return nil, fmt.Errorf("snapshot: write: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		file.Close()
		return nil, fmt.Errorf("snapshot: write: %w", err)
	}

	sum := hash.Sum(nil)
	if _, err := file.Write(sum); err != nil {
		file.Close()
		return nil, fmt.Errorf("snapshot: write checksum: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return nil, fmt.Errorf("snapshot: sync: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("snapshot: close: %w", err)
	}

	stat, err := os.Stat(tempPath)
	if err != nil {
		return nil, err
	}
	finalPath := filepath.Join(m.cfg.Dir, name+fileExtension)
	if err := os.Rename(tempPath, finalPath); err != nil {
		return nil, fmt.Errorf("snapshot: rename: %w", err)
	}
	syncDir(m.cfg.Dir)

	m.logger.Info("snapshot written",
		"id", id,
		"entries", count,
		"last_seq", mark.LastSeq,
		"bytes", stat.Size())

	return &Info{
		ID:          id,
		Path:        finalPath,
		Size:        stat.Size(),
		CreatedAt:   hdr.CreatedAt,
		LastSeq:     mark.LastSeq,
		WALSegment:  mark.Segment,
		EntryCount:  count,
		Compression: hdr.Compression,
		Encrypted:   hdr.Encrypted,
		Checksum:    hex.EncodeToString(sum),
	}, nil
}

func (m *Manager) encodeEntries(dst io.Writer, src Source, count *int64) error {
	var (
		w   io.Writer = dst
		enc *zstd.Encoder
		err error
	)
	if m.cfg.Compression == CompressionZstd {
		enc, err = zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return fmt.Errorf("snapshot: zstd: %w", err)
		}
		w = enc
	}

	je := json.NewEncoder(w)
	for i := 0; i < src.ShardCount(); i++ {
		entries, err := src.ScanShard(i, nil)
		if err != nil {
			return fmt.Errorf("snapshot: scan shard %d: %w", i, err)
		}
		for _, ke := range entries {
			if err := je.Encode(fileEntry{
				Key:       ke.Key,
				Value:     ke.Entry.Value,
				Flags:     ke.Entry.Flags,
				ExpiresAt: ke.Entry.ExpiresAt,
				Version:   ke.Entry.Version,
				Seq:       ke.Entry.Seq,
			}); err != nil {
				return fmt.Errorf("snapshot: encode entry: %w", err)
			}
			*count++
		}
	}

	if enc != nil {
		if err := enc.Close(); err != nil {
			return fmt.Errorf("snapshot: zstd close: %w", err)
		}
	}
	return nil
}

// Load verifies the snapshot at path and passes every entry to fn.
func (m *Manager) Load(path string, fn func(key string, e domain.Entry) error) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if stat.Size() < int64(len(magicBytes))+4+checksumSize {
		return nil, ErrChecksumMismatch
	}

	bodyLen := stat.Size() - checksumSize
	expected := make([]byte, checksumSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, bodyLen, checksumSize), expected); err != nil {
		return nil, err
	}
	h := sha256.New()
	if _, err := io.Copy(h, io.NewSectionReader(f, 0, bodyLen)); err != nil {
		return nil, err
	}
	if !bytes.Equal(h.Sum(nil), expected) {
		return nil, ErrChecksumMismatch
	}

	br := bufio.NewReader(io.NewSectionReader(f, 0, bodyLen))
	magic := make([]byte, len(magicBytes))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, err
	}
	if !bytes.Equal(magic, magicBytes) {
		return nil, ErrInvalidMagic
	}

	var hdrLenBuf [4]byte
	if _, err := io.ReadFull(br, hdrLenBuf[:]); err != nil {
		return nil, err
	}
	hdrLen := binary.BigEndian.Uint32(hdrLenBuf[:])
	if hdrLen == 0 || hdrLen > maxHeaderSize {
		return nil, fmt.Errorf("snapshot: bad header length %d", hdrLen)
	}
	hdrJSON := make([]byte, hdrLen)
	if _, err := io.ReadFull(br, hdrJSON); err != nil {
		return nil, err
	}
	var hdr fileHeader
	if err := json.Unmarshal(hdrJSON, &hdr); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal header: %w", err)
	}

	info := &Info{
		ID:          hdr.ID,
		Path:        path,
		Size:        stat.Size(),
		CreatedAt:   hdr.CreatedAt,
		LastSeq:     hdr.LastSeq,
		WALSegment:  hdr.WALSegment,
		EntryCount:  hdr.EntryCount,
		Compression: hdr.Compression,
		Encrypted:   hdr.Encrypted,
		Checksum:    hex.EncodeToString(expected),
	}
	if fn == nil {
		return info, nil
	}

	var data io.Reader = br
	switch {
	case hdr.Encrypted && m.cfg.Cipher == nil:
		return nil, ErrEncrypted
	case !hdr.Encrypted && m.cfg.Cipher != nil:
		return nil, ErrNotEncrypted
	case hdr.Encrypted:
		sealed, err := io.ReadAll(br)
		if err != nil {
			return nil, err
		}
		plain, err := m.cfg.Cipher.Decrypt(sealed, []byte(hdr.ID))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
		}
		data = bytes.NewReader(plain)
	}

	switch hdr.Compression {
	case CompressionZstd:
		dec, err := zstd.NewReader(data)
		if err != nil {
			return nil, fmt.Errorf("snapshot: zstd: %w", err)
		}
		defer dec.Close()
		data = dec
	case CompressionNone, "":
	default:
		return nil, fmt.Errorf("snapshot: unsupported compression %q", hdr.Compression)
	}

	jd := json.NewDecoder(data)
	var n int64
	for {
		var fe fileEntry
		if err := jd.Decode(&fe); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("snapshot: decode entry %d: %w", n, err)
		}
		value := fe.Value
		if value == nil {
			value = []byte{}
		}
		if err := fn(fe.Key, domain.Entry{
			Value:     value,
			Flags:     fe.Flags,
			ExpiresAt: fe.ExpiresAt,
			Version:   fe.Version,
			Seq:       fe.Seq,
		}); err != nil {
			return nil, err
		}
		n++
	}
	if n != hdr.EntryCount {
		return nil, fmt.Errorf("snapshot: %s holds %d entries, header says %d", hdr.ID, n, hdr.EntryCount)
	}
	return info, nil
}

// LoadLatest loads the newest snapshot whose checksum verifies, falling
// back to older ones. It returns ErrNoSnapshots when none is usable.
// Entries are only passed to fn once the file has been verified, but a
// decode failure after verification still aborts with an error.
func (m *Manager) LoadLatest(fn func(key string, e domain.Entry) error) (*Info, error) {
	infos, err := m.List()
	if err != nil {
		return nil, err
	}

	for i := len(infos) - 1; i >= 0; i-- {
		info, err := m.Load(infos[i].Path, fn)
		if err == nil {
			return info, nil
		}
		if errors.Is(err, ErrChecksumMismatch) || errors.Is(err, ErrInvalidMagic) {
			m.logger.Warn("skipping damaged snapshot", "path", infos[i].Path, "error", err)
			continue
		}
		return nil, err
	}
	return nil, ErrNoSnapshots
}

// List returns snapshot files oldest first (metadata from the file system
// only).
func (m *Manager) List() ([]*Info, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileExtension) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	infos := make([]*Info, 0, len(names))
	for _, name := range names {
		p := filepath.Join(m.cfg.Dir, name)
		stat, err := os.Stat(p)
		if err != nil {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileExtension)
		info := &Info{ID: id, Path: p, Size: stat.Size()}
		if u, err := ulid.ParseStrict(id); err == nil {
			info.CreatedAt = int64(u.Time())
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Latest returns the header of the newest snapshot without loading its
// entries.
func (m *Manager) Latest() (*Info, error) {
	infos, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(infos) == 0 {
		return nil, ErrNoSnapshots
	}
	return m.Load(infos[len(infos)-1].Path, nil)
}

// Prune keeps the newest Retention snapshots and deletes the rest, along
// with temporary files left by interrupted writes. It returns the number
// of files removed.
func (m *Manager) Prune() (int, error) {
	infos, err := m.List()
	if err != nil {
		return 0, err
	}

	removed := 0
	if excess := len(infos) - m.cfg.Retention; excess > 0 {
		for _, info := range infos[:excess] {
			if err := os.Remove(info.Path); err != nil && !os.IsNotExist(err) {
				return removed, fmt.Errorf("snapshot: prune %s: %w", info.ID, err)
			}
			removed++
		}
	}

	temps, _ := filepath.Glob(filepath.Join(m.cfg.Dir, filePrefix+"*"+tempExtension))
	for _, p := range temps {
		if os.Remove(p) == nil {
			removed++
		}
	}
	return removed, nil
}

func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
