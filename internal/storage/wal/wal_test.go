package wal

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/workingdb/workingdb-go/internal/core/domain"
)

func openLog(t *testing.T, cfg Config) *Log {
	t.Helper()
	l, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return l
}

func collect(out *[]*Record) func(*Record) error {
	return func(r *Record) error {
		*out = append(*out, r)
		return nil
	}
}

func setRecord(key, value string) *Record {
	return &Record{Kind: KindSet, Key: []byte(key), Value: []byte(value)}
}

func segmentPath(dir string, id uint64) string {
	return filepath.Join(dir, formatSegmentFilename(DefaultFilePrefix, id))
}

// writeSegment writes records with their Seq as given, bypassing the writer.
func writeSegment(t *testing.T, dir string, id uint64, recs ...*Record) {
	t.Helper()
	buf := []byte(MagicBytes)
	for _, r := range recs {
		buf = appendRecord(buf, r)
	}
	if err := os.WriteFile(segmentPath(dir, id), buf, DefaultFilePerm); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestParseSyncPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    SyncPolicy
		wantErr bool
	}{
		{"always", SyncAlways, false},
		{"everysec", SyncEverySec, false},
		{"no", SyncNo, false},
		{"", SyncEverySec, false},
		{"sometimes", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSyncPolicy(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSyncPolicy(%q) err = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseSyncPolicy(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRecordCodec(t *testing.T) {
	in := &Record{Seq: 42, Kind: KindSet, Key: []byte("k"), Value: []byte("hello"), Flags: 0xdead, ExpiresAt: 1700000000123}
	buf := appendRecord(nil, in)
	if len(buf) != in.EncodedSize() {
		t.Fatalf("encoded %d bytes, EncodedSize() = %d", len(buf), in.EncodedSize())
	}

	out, n, err := newRecordReader(bufio.NewReader(bytes.NewReader(buf))).next(int64(len(buf)))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != int64(len(buf)) {
		t.Errorf("decoded size = %d, want %d", n, len(buf))
	}
	if out.Seq != in.Seq || out.Kind != in.Kind || string(out.Key) != "k" || string(out.Value) != "hello" ||
		out.Flags != in.Flags || out.ExpiresAt != in.ExpiresAt {
		t.Errorf("decoded %+v, want %+v", out, in)
	}

	// A record without deadline uses the on-disk sentinel and decodes to 0.
	del := appendRecord(nil, &Record{Seq: 1, Kind: KindDelete, Key: []byte("k")})
	out, _, err = newRecordReader(bufio.NewReader(bytes.NewReader(del))).next(-1)
	if err != nil || out.ExpiresAt != 0 || out.Value != nil {
		t.Errorf("delete record = %+v, %v", out, err)
	}
}

func TestRecordCodec_Damage(t *testing.T) {
	buf := appendRecord(nil, setRecord("key", "value"))

	flipped := bytes.Clone(buf)
	flipped[len(flipped)-6] ^= 0xff
	if _, _, err := newRecordReader(bufio.NewReader(bytes.NewReader(flipped))).next(-1); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("flipped byte err = %v, want ErrChecksumMismatch", err)
	}

	torn := buf[:len(buf)-3]
	if _, _, err := newRecordReader(bufio.NewReader(bytes.NewReader(torn))).next(int64(len(torn))); !errors.Is(err, ErrTornRecord) {
		t.Errorf("torn record err = %v, want ErrTornRecord", err)
	}

	bad := appendRecord(nil, &Record{Seq: 1, Kind: Kind(9)})
	if _, _, err := newRecordReader(bufio.NewReader(bytes.NewReader(bad))).next(-1); !errors.Is(err, ErrCorruptRecord) {
		t.Errorf("unknown kind err = %v, want ErrCorruptRecord", err)
	}
}

func TestLog_StateMachine(t *testing.T) {
	l := openLog(t, DefaultConfig(t.TempDir()))

	if l.State() != StateClosed {
		t.Fatalf("State = %v, want closed", l.State())
	}
	if _, err := l.Append(setRecord("a", "1")); !errors.Is(err, ErrNotAppending) || !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("Append before Recover err = %v, want ErrUnavailable wrapping ErrNotAppending", err)
	}
	if _, err := l.Recover(0, nil); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if l.State() != StateAppending {
		t.Fatalf("State = %v, want appending", l.State())
	}
	if _, err := l.Recover(0, nil); !errors.Is(err, ErrAlreadyOpened) {
		t.Fatalf("second Recover err = %v, want ErrAlreadyOpened", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err := l.Append(setRecord("a", "1"))
	if !errors.Is(err, domain.ErrUnavailable) || domain.CodeOf(err) != domain.ErrUnavailable.Code {
		t.Fatalf("Append after Close err = %v, want coded ErrUnavailable", err)
	}
}

func TestLog_AppendRecoverRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.Sync = SyncAlways

	l := openLog(t, cfg)
	if _, err := l.Recover(0, nil); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	for i, r := range []*Record{
		setRecord("a", "1"),
		{Kind: KindExpire, Key: []byte("a"), ExpiresAt: 99},
		{Kind: KindDelete, Key: []byte("a")},
	} {
		seq, err := l.Append(r)
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		if seq != uint64(i+1) {
			t.Fatalf("Append %d seq = %d, want %d", i, seq, i+1)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := VerifyTrailerChecksum(segmentPath(dir, 1)); err != nil {
		t.Fatalf("VerifyTrailerChecksum: %v", err)
	}

	var got []*Record
	l = openLog(t, cfg)
	st, err := l.Recover(0, collect(&got))
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	defer l.Close()

	if st.Replayed != 3 || st.LastSeq != 3 || st.Truncated {
		t.Fatalf("RecoveredState = %+v", st)
	}
	if got[1].Kind != KindExpire || got[1].ExpiresAt != 99 || got[2].Kind != KindDelete {
		t.Errorf("replayed records = %+v %+v", got[1], got[2])
	}

	seq, err := l.Append(setRecord("b", "2"))
	if err != nil || seq != 4 {
		t.Fatalf("Append after recovery = %d, %v; want 4", seq, err)
	}
	// The previous segment was finalized, so appends go to a new one.
	if pos, _ := l.Position(); pos.Segment != 2 {
		t.Errorf("Position().Segment = %d, want 2", pos.Segment)
	}
}

func TestLog_TruncatedTailResumes(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)

	l := openLog(t, cfg)
	if _, err := l.Recover(0, nil); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	for _, v := range []string{"1", "2", "3"} {
		if _, err := l.Append(setRecord("k", v)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Simulate a crash in the middle of the third record.
	path := segmentPath(dir, 1)
	info, _ := os.Stat(path)
	if err := os.Truncate(path, info.Size()-ChecksumSize-3); err != nil {
		t.Fatalf("Truncate: %v", err)
	}

	var got []*Record
	l = openLog(t, cfg)
	st, err := l.Recover(0, collect(&got))
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if !st.Truncated || st.Replayed != 2 || st.LastSeq != 2 {
		t.Fatalf("RecoveredState = %+v, want 2 records and truncation", st)
	}
	if string(got[1].Value) != "2" {
		t.Errorf("last replayed value = %q, want 2", got[1].Value)
	}

	seq, err := l.Append(setRecord("k", "4"))
	if err != nil || seq != 3 {
		t.Fatalf("Append after truncation = %d, %v; want 3", seq, err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got = nil
	l = openLog(t, cfg)
	st, err = l.Recover(0, collect(&got))
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	defer l.Close()
	if st.Truncated || st.Replayed != 3 || string(got[2].Value) != "4" {
		t.Fatalf("second recovery = %+v, last value %q", st, got[len(got)-1].Value)
	}
}

func TestLog_ChecksumMismatchStopsReplay(t *testing.T) {
	dir := t.TempDir()
	first := setRecord("a", "1")
	first.Seq = 1
	second := setRecord("b", "2")
	second.Seq = 2
	third := setRecord("c", "3")
	third.Seq = 3
	writeSegment(t, dir, 1, first, second, third)

	// Flip a byte inside the second record's value.
	path := segmentPath(dir, 1)
	data, _ := os.ReadFile(path)
	off := MagicBytesSize + first.EncodedSize() + 12
	data[off] ^= 0x01
	if err := os.WriteFile(path, data, DefaultFilePerm); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var got []*Record
	l := openLog(t, DefaultConfig(dir))
	st, err := l.Recover(0, collect(&got))
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	defer l.Close()

	if len(got) != 1 || !st.Truncated {
		t.Fatalf("replayed %d records, state %+v; want 1 and truncation", len(got), st)
	}
	want := Position{Segment: 1, Offset: int64(MagicBytesSize + first.EncodedSize())}
	if st.TruncatedAt != want {
		t.Errorf("TruncatedAt = %v, want %v", st.TruncatedAt, want)
	}
	if seq, _ := l.Append(setRecord("d", "4")); seq != 2 {
		t.Errorf("next seq = %d, want 2", seq)
	}
}

func TestLog_SequenceGapStopsReplay(t *testing.T) {
	dir := t.TempDir()
	recs := []*Record{setRecord("a", "1"), setRecord("b", "2"), setRecord("c", "4")}
	for i, seq := range []uint64{1, 2, 4} {
		recs[i].Seq = seq
	}
	writeSegment(t, dir, 1, recs...)

	var got []*Record
	l := openLog(t, DefaultConfig(dir))
	st, err := l.Recover(0, collect(&got))
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	defer l.Close()

	if len(got) != 2 || st.LastSeq != 2 || !st.Truncated {
		t.Fatalf("state = %+v, replayed %d", st, len(got))
	}
	if !strings.Contains(st.Reason, "sequence gap") {
		t.Errorf("Reason = %q", st.Reason)
	}
}

func TestLog_SkipsRecordsCoveredBySnapshot(t *testing.T) {
	dir := t.TempDir()
	var recs []*Record
	for i := uint64(1); i <= 5; i++ {
		r := setRecord("k", "v")
		r.Seq = i
		recs = append(recs, r)
	}
	writeSegment(t, dir, 1, recs...)

	var got []*Record
	l := openLog(t, DefaultConfig(dir))
	st, err := l.Recover(3, collect(&got))
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	defer l.Close()

	if st.Skipped != 3 || st.Replayed != 2 || got[0].Seq != 4 {
		t.Fatalf("state = %+v, first replayed seq %d", st, got[0].Seq)
	}
}

func TestLog_SnapshotAheadOfLog(t *testing.T) {
	dir := t.TempDir()
	r := setRecord("k", "v")
	r.Seq = 1
	writeSegment(t, dir, 1, r)

	l := openLog(t, DefaultConfig(dir))
	st, err := l.Recover(10, nil)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	defer l.Close()
	if st.LastSeq != 10 {
		t.Fatalf("LastSeq = %d, want 10", st.LastSeq)
	}
	if seq, _ := l.Append(setRecord("k", "w")); seq != 11 {
		t.Errorf("next seq = %d, want 11", seq)
	}
}

func TestLog_MissingHeadIsFatal(t *testing.T) {
	dir := t.TempDir()
	r := setRecord("k", "v")
	r.Seq = 7
	writeSegment(t, dir, 3, r)

	l := openLog(t, DefaultConfig(dir))
	_, err := l.Recover(0, nil)
	if !errors.Is(err, domain.ErrLogCorrupt) {
		t.Fatalf("Recover err = %v, want ErrLogCorrupt", err)
	}
}

func TestLog_RotationAndQuarantine(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.MaxSegmentSize = 64

	l := openLog(t, cfg)
	if _, err := l.Recover(0, nil); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := l.Append(setRecord("key", "0123456789")); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	segs, _ := listSegments(dir, DefaultFilePrefix)
	if len(segs) < 3 {
		t.Fatalf("got %d segments, want rotation", len(segs))
	}
	for _, s := range segs {
		if err := VerifyTrailerChecksum(s.path); err != nil {
			t.Fatalf("segment %d not finalized: %v", s.id, err)
		}
	}

	// Damage the first segment: everything after it must be set aside.
	data, _ := os.ReadFile(segs[0].path)
	data[len(data)-ChecksumSize-2] ^= 0xff
	if err := os.WriteFile(segs[0].path, data, DefaultFilePerm); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var got []*Record
	l = openLog(t, cfg)
	st, err := l.Recover(0, collect(&got))
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	defer l.Close()

	if len(st.Quarantined) != len(segs)-1 {
		t.Fatalf("quarantined %d segments, want %d", len(st.Quarantined), len(segs)-1)
	}
	for _, q := range st.Quarantined {
		if !strings.HasSuffix(q, CorruptSuffix) {
			t.Errorf("quarantined name %q", q)
		}
		if _, err := os.Stat(q); err != nil {
			t.Errorf("quarantined file missing: %v", err)
		}
	}
	seq, err := l.Append(setRecord("key", "again"))
	if err != nil || seq != st.LastSeq+1 {
		t.Fatalf("Append = %d, %v; want %d", seq, err, st.LastSeq+1)
	}
}

func TestLog_SyncObserver(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.Sync = SyncAlways

	var syncs int
	l, err := Open(cfg, WithSyncObserver(func(time.Duration, error) { syncs++ }))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := l.Recover(0, nil); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	defer l.Close()

	for i := 0; i < 3; i++ {
		if _, err := l.Append(setRecord("a", "b")); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if syncs != 3 {
		t.Errorf("syncs = %d, want 3", syncs)
	}
	if l.Size() <= MagicBytesSize {
		t.Errorf("Size() = %d", l.Size())
	}
}

func TestLog_FailedSyncIsNotReplayed(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.Sync = SyncAlways

	l := openLog(t, cfg)
	if _, err := l.Recover(0, nil); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if _, err := l.Append(setRecord("a", "1")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	before, err := os.Stat(segmentPath(dir, 1))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}

	diskErr := errors.New("disk gone")
	l.w.syncFile = func(*os.File) error { return diskErr }
	if _, err := l.Append(setRecord("b", "2")); !errors.Is(err, domain.ErrLogWriteFailed) || !errors.Is(err, diskErr) {
		t.Fatalf("Append with failing sync err = %v, want ErrLogWriteFailed wrapping the sync error", err)
	}
	if _, err := l.Append(setRecord("c", "3")); !errors.Is(err, domain.ErrLogWriteFailed) {
		t.Fatalf("Append after failure err = %v, want sticky ErrLogWriteFailed", err)
	}
	after, err := os.Stat(segmentPath(dir, 1))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if after.Size() != before.Size() {
		t.Errorf("segment size = %d after failed sync, want %d", after.Size(), before.Size())
	}
	_ = l.Close()

	var got []*Record
	l = openLog(t, cfg)
	defer l.Close()
	st, err := l.Recover(0, collect(&got))
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if st.Replayed != 1 || st.LastSeq != 1 || string(got[0].Key) != "a" {
		t.Fatalf("recovered %d records (last seq %d), want only a", st.Replayed, st.LastSeq)
	}
}

func TestCompactor(t *testing.T) {
	tests := []struct {
		name     string
		segments uint64
		cover    uint64
		retain   int
		want     []uint64
	}{
		{"covered segments removed", 5, 4, 2, []uint64{4, 5}},
		{"retain keeps newest covered", 3, 3, 3, []uint64{1, 2, 3}},
		{"retain tops up from covered", 5, 5, 3, []uint64{3, 4, 5}},
		{"nothing covered", 3, 1, 1, []uint64{1, 2, 3}},
		{"default retain", 4, 10, 0, []uint64{3, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for id := uint64(1); id <= tt.segments; id++ {
				writeSegment(t, dir, id)
			}

			res, err := NewCompactor(dir, "", tt.retain).Compact(tt.cover)
			if err != nil {
				t.Fatalf("Compact: %v", err)
			}
			if res.Removed != int(tt.segments)-len(tt.want) {
				t.Errorf("Removed = %d, want %d", res.Removed, int(tt.segments)-len(tt.want))
			}
			if res.Removed > 0 && res.Freed < int64(res.Removed)*MagicBytesSize {
				t.Errorf("Freed = %d for %d segments", res.Freed, res.Removed)
			}

			segs, err := listSegments(dir, DefaultFilePrefix)
			if err != nil {
				t.Fatal(err)
			}
			var got []uint64
			for _, s := range segs {
				got = append(got, s.id)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("remaining = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	var recs []*Record
	for i := uint64(20); i <= 22; i++ {
		r := setRecord("k", "v")
		r.Seq = i
		recs = append(recs, r)
	}
	writeSegment(t, dir, 9, recs...)

	n := 0
	st, err := Verify(dir, "", func(*Record) error { n++; return nil })
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if n != 3 || st.LastSeq != 22 || st.Truncated {
		t.Errorf("Verify = %+v, %d records", st, n)
	}
}
