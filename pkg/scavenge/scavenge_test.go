package scavenge

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"

	"github.com/LLNL/scr-sub002/pkg/filemap"
	"github.com/LLNL/scr-sub002/pkg/meta"
	"github.com/LLNL/scr-sub002/pkg/redundancy"
	"github.com/LLNL/scr-sub002/pkg/rio"
)

func TestDescriptorRoundTrip(t *testing.T) {
	d := Descriptor{
		Variant:      redundancy.VariantXOR,
		SetID:        3,
		Index:        1,
		Ranks:        []int{4, 5, 6, 7},
		ChunkSize:    128,
		CheckpointID: 2,
	}
	got, err := DescriptorFromTree(d.Tree())
	if err != nil {
		t.Fatalf("DescriptorFromTree: %v", err)
	}
	if got != (Descriptor{Variant: d.Variant, SetID: d.SetID, Index: d.Index, Ranks: d.Ranks, ChunkSize: d.ChunkSize, CheckpointID: d.CheckpointID}) {
		t.Errorf("round-tripped descriptor = %+v, want %+v", got, d)
	}
}

func writeRankFiles(t *testing.T, fm *filemap.FileMap, dset, rank int, cacheDir string, contents map[string][]byte) {
	t.Helper()
	for name, content := range contents {
		path := filepath.Join(cacheDir, name)
		if err := os.WriteFile(path, content, 0600); err != nil {
			t.Fatal(err)
		}
		crc, err := rio.CRC32(path)
		if err != nil {
			t.Fatal(err)
		}
		m := meta.New().SetRank(int64(rank)).SetSize(int64(len(content))).SetCRC(crc).SetComplete(true).SetName(name)
		fm.AddFile(dset, rank, name)
		fm.SetMeta(dset, rank, name, m)
	}
	fm.SetExpectedFiles(dset, rank, len(contents))
}

func TestScanGroupDecide(t *testing.T) {
	fm := filemap.New()
	cacheDir := t.TempDir()
	const dset = 1

	writeRankFiles(t, fm, dset, 10, cacheDir, map[string][]byte{"ckpt.10.data": []byte("hello-ten")})
	writeRankFiles(t, fm, dset, 11, cacheDir, map[string][]byte{"ckpt.11.data": []byte("hello-eleven")})
	writeRankFiles(t, fm, dset, 12, cacheDir, map[string][]byte{"ckpt.12.data": []byte("hello-twelve")})

	ranks := []int{10, 11, 12}
	for i, r := range ranks {
		fm.SetDesc(dset, r, Descriptor{
			Variant:      redundancy.VariantXOR,
			SetID:        1,
			Index:        i,
			Ranks:        ranks,
			ChunkSize:    64,
			CheckpointID: 5,
		}.Tree())
	}

	// Corrupt rank 11's data so its scan comes back incomplete.
	if err := os.WriteFile(filepath.Join(cacheDir, "ckpt.11.data"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	scan := Scan(fm, dset, cacheDir, true)
	if scan.Ranks[10].Complete != true || scan.Ranks[12].Complete != true {
		t.Fatalf("expected ranks 10 and 12 complete, got %+v", scan.Ranks)
	}
	if scan.Ranks[11].Complete {
		t.Fatalf("expected rank 11 incomplete after corruption")
	}

	sets := GroupBySet(scan)
	sp, ok := sets[1]
	if !ok {
		t.Fatalf("expected set 1 in GroupBySet result")
	}
	if len(sp.MissingIndex) != 1 || sp.MissingIndex[0] != 1 {
		t.Fatalf("MissingIndex = %v, want [1]", sp.MissingIndex)
	}

	root, rebuildOK, err := Decide(sp)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if !rebuildOK || root != 1 {
		t.Fatalf("Decide = root %d ok %v, want root 1 ok true", root, rebuildOK)
	}
}

func TestDecideUnrecoverable(t *testing.T) {
	sp := &SetPlan{
		SetID:        1,
		Variant:      redundancy.VariantXOR,
		Ranks:        []int{0, 1, 2},
		MissingIndex: []int{0, 2},
	}
	_, ok, err := Decide(sp)
	if ok || err != redundancy.ErrUnrecoverable {
		t.Fatalf("Decide = ok %v err %v, want ok false err ErrUnrecoverable", ok, err)
	}
}

func TestDecideNothingMissing(t *testing.T) {
	sp := &SetPlan{SetID: 1, Variant: redundancy.VariantXOR, Ranks: []int{0, 1, 2}}
	_, ok, err := Decide(sp)
	if ok || err != nil {
		t.Fatalf("Decide = ok %v err %v, want ok false err nil", ok, err)
	}
}

// encodeXORSet writes a full XOR-protected set of setSize members into
// cacheDir, one rank per position, each with a single data file plus a
// parity file and header, mirroring what a live runtime's encode path
// would leave behind.
func encodeXORSet(t *testing.T, fm *filemap.FileMap, dset, setID int, cacheDir string, ranks []int, contents [][]byte) int64 {
	t.Helper()
	setSize := len(ranks)

	var maxLogical int64
	for _, c := range contents {
		if int64(len(c)) > maxLogical {
			maxLogical = int64(len(c))
		}
	}
	chunkSize := redundancy.ChunkSize(setSize, maxLogical)

	members := make([]redundancy.MemberSource, setSize)
	names := make([]string, setSize)
	metas := make([]*meta.Meta, setSize)
	for i, c := range contents {
		name := "data" + itoaT(ranks[i])
		path := filepath.Join(cacheDir, name)
		if err := os.WriteFile(path, c, 0600); err != nil {
			t.Fatal(err)
		}
		f, err := os.Open(path)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { f.Close() })
		members[i] = redundancy.MemberSource{Index: i, Data: rio.NewPaddedFileSet([]*os.File{f}, []int64{int64(len(c))})}
		names[i] = name
		metas[i] = meta.New().SetRank(int64(ranks[i])).SetSize(int64(len(c))).SetName(name)

		writeRankFiles(t, fm, dset, ranks[i], cacheDir, map[string][]byte{name: c})
		fm.SetDesc(dset, ranks[i], Descriptor{
			Variant:      redundancy.VariantXOR,
			SetID:        setID,
			Index:        i,
			Ranks:        ranks,
			ChunkSize:    chunkSize,
			CheckpointID: 9,
		}.Tree())
	}

	parity, err := redundancy.EncodeXOR(context.Background(), members, setSize, chunkSize)
	if err != nil {
		t.Fatalf("EncodeXOR: %v", err)
	}

	for i := range ranks {
		path := filepath.Join(cacheDir, XORFileName(i, setSize, setID))
		if err := os.WriteFile(path, parity[i], 0600); err != nil {
			t.Fatal(err)
		}
		leftIdx := (i - 1 + setSize) % setSize
		hdr := &redundancy.Header{
			Ranks:        ranks,
			CheckpointID: 9,
			ChunkSize:    chunkSize,
			MyRank:       ranks[i],
			MyFiles:      []redundancy.FileEntry{{Name: names[i], Meta: metas[i]}},
			PartnerRank:  ranks[leftIdx],
			PartnerFiles: []redundancy.FileEntry{{Name: names[leftIdx], Meta: metas[leftIdx]}},
		}
		if err := redundancy.WriteHeader(path, hdr); err != nil {
			t.Fatal(err)
		}
	}

	return chunkSize
}

func itoaT(n int) string {
	return string(rune('0' + n))
}

func TestRunDatasetRebuildsXOR(t *testing.T) {
	fm := filemap.New()
	cacheDir := t.TempDir()
	const dset = 1
	ranks := []int{0, 1, 2, 3}
	contents := [][]byte{
		bytes.Repeat([]byte{0xAA}, 30),
		bytes.Repeat([]byte{0xBB}, 45),
		bytes.Repeat([]byte{0xCC}, 12),
		bytes.Repeat([]byte{0xDD}, 60),
	}
	encodeXORSet(t, fm, dset, 1, cacheDir, ranks, contents)

	const root = 2
	lostName := "data" + itoaT(ranks[root])
	if err := os.Remove(filepath.Join(cacheDir, lostName)); err != nil {
		t.Fatal(err)
	}
	if m, ok := fm.GetMeta(dset, ranks[root], lostName); ok {
		fm.SetMeta(dset, ranks[root], lostName, m.SetComplete(false))
	}

	if err := RunDataset(context.Background(), fm, dset, cacheDir); err != nil {
		t.Fatalf("RunDataset: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(cacheDir, lostName))
	if err != nil {
		t.Fatalf("recovered file not written: %v", err)
	}
	if !bytes.Equal(got, contents[root]) {
		t.Errorf("recovered file content mismatch: got %d bytes, want %d", len(got), len(contents[root]))
	}

	scan := Scan(fm, dset, cacheDir, true)
	if !scan.Ranks[ranks[root]].Complete {
		t.Errorf("rank %d still incomplete after rebuild", ranks[root])
	}
}

func TestScanFlagsConflictingRanks(t *testing.T) {
	fm := filemap.New()
	cacheDir := t.TempDir()
	const dset = 1

	for _, rank := range []int{0, 1} {
		path := filepath.Join(cacheDir, "ckpt.data")
		if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
		crc, err := rio.CRC32(path)
		if err != nil {
			t.Fatal(err)
		}
		m := meta.New().SetRank(int64(rank)).SetRanks(3).SetSize(1).SetCRC(crc).SetComplete(true).SetName("ckpt.data")
		fm.AddFile(dset, rank, "ckpt.data")
		fm.SetMeta(dset, rank, "ckpt.data", m)
		fm.SetExpectedFiles(dset, rank, 1)
	}
	// Rank 2 disagrees about how many ranks there were.
	path := filepath.Join(cacheDir, "ckpt2.data")
	if err := os.WriteFile(path, []byte("y"), 0600); err != nil {
		t.Fatal(err)
	}
	crc, err := rio.CRC32(path)
	if err != nil {
		t.Fatal(err)
	}
	m := meta.New().SetRank(2).SetRanks(4).SetSize(1).SetCRC(crc).SetComplete(true).SetName("ckpt2.data")
	fm.AddFile(dset, 2, "ckpt2.data")
	fm.SetMeta(dset, 2, "ckpt2.data", m)
	fm.SetExpectedFiles(dset, 2, 1)

	scan := Scan(fm, dset, cacheDir, false)
	if !scan.Ranks[2].Invalid {
		t.Fatalf("expected rank 2 invalid for conflicting RANKS, got %+v", scan.Ranks[2])
	}
	if scan.Ranks[0].Invalid || scan.Ranks[1].Invalid {
		t.Fatalf("expected ranks 0 and 1 valid, got %+v", scan.Ranks)
	}
}

func TestScanFlagsRankOutOfRange(t *testing.T) {
	fm := filemap.New()
	cacheDir := t.TempDir()
	const dset = 1

	for _, rank := range []int{0, 1, 5} {
		path := filepath.Join(cacheDir, "ckpt.data")
		if err := os.WriteFile(path, []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
		crc, err := rio.CRC32(path)
		if err != nil {
			t.Fatal(err)
		}
		m := meta.New().SetRank(int64(rank)).SetRanks(2).SetSize(1).SetCRC(crc).SetComplete(true).SetName("ckpt.data")
		fm.AddFile(dset, rank, "ckpt.data")
		fm.SetMeta(dset, rank, "ckpt.data", m)
		fm.SetExpectedFiles(dset, rank, 1)
	}

	scan := Scan(fm, dset, cacheDir, false)
	if !scan.Ranks[5].Invalid {
		t.Fatalf("expected rank 5 invalid as out of range for RANKS=2, got %+v", scan.Ranks[5])
	}
}

func TestScanFlagsMoreFilesThanPromised(t *testing.T) {
	fm := filemap.New()
	cacheDir := t.TempDir()
	const dset = 1
	const rank = 0

	writeRankFiles(t, fm, dset, rank, cacheDir, map[string][]byte{"a.data": []byte("a")})
	fm.SetExpectedFiles(dset, rank, 1)
	path := filepath.Join(cacheDir, "b.data")
	if err := os.WriteFile(path, []byte("b"), 0600); err != nil {
		t.Fatal(err)
	}
	crc, err := rio.CRC32(path)
	if err != nil {
		t.Fatal(err)
	}
	fm.AddFile(dset, rank, "b.data")
	fm.SetMeta(dset, rank, "b.data", meta.New().SetRank(rank).SetSize(1).SetCRC(crc).SetComplete(true).SetName("b.data"))

	scan := Scan(fm, dset, cacheDir, false)
	if !scan.Ranks[rank].Invalid {
		t.Fatalf("expected rank %d invalid for holding more files than promised, got %+v", rank, scan.Ranks[rank])
	}
}

func TestGroupBySetFlagsDuplicateIndexClaim(t *testing.T) {
	fm := filemap.New()
	cacheDir := t.TempDir()
	const dset = 1

	writeRankFiles(t, fm, dset, 10, cacheDir, map[string][]byte{"ckpt.10.data": []byte("ten")})
	writeRankFiles(t, fm, dset, 11, cacheDir, map[string][]byte{"ckpt.11.data": []byte("eleven")})

	ranks := []int{10, 11}
	for _, r := range ranks {
		// Both ranks claim index 0 of the same set.
		fm.SetDesc(dset, r, Descriptor{
			Variant:      redundancy.VariantXOR,
			SetID:        1,
			Index:        0,
			Ranks:        ranks,
			ChunkSize:    64,
			CheckpointID: 1,
		}.Tree())
	}

	scan := Scan(fm, dset, cacheDir, false)
	sets := GroupBySet(scan)
	sp, ok := sets[1]
	if !ok {
		t.Fatalf("expected set 1 in GroupBySet result")
	}
	if !sp.Invalid {
		t.Fatalf("expected set 1 invalid for duplicate index claim, got %+v", sp)
	}

	_, rebuildOK, err := Decide(sp)
	if rebuildOK || !errors.Is(err, redundancy.ErrUnrecoverable) {
		t.Fatalf("Decide = ok %v err %v, want ok false err wrapping ErrUnrecoverable", rebuildOK, err)
	}
}

func TestRebuildPartnerRoundTrip(t *testing.T) {
	fm := filemap.New()
	cacheDir := t.TempDir()
	partnerDir := filepath.Join(cacheDir, "partner")
	const dset = 1
	const rank = 7

	writeRankFiles(t, fm, dset, rank, cacheDir, map[string][]byte{"ckpt.7.data": []byte("partner-protected-data")})

	files := []string{filepath.Join(cacheDir, "ckpt.7.data")}
	if err := redundancy.EncodePartner(files, partnerDir); err != nil {
		t.Fatalf("EncodePartner: %v", err)
	}

	if err := os.Remove(filepath.Join(cacheDir, "ckpt.7.data")); err != nil {
		t.Fatal(err)
	}
	if m, ok := fm.GetMeta(dset, rank, "ckpt.7.data"); ok {
		fm.SetMeta(dset, rank, "ckpt.7.data", m.SetComplete(false))
	}

	sp := &SetPlan{SetID: 1, Variant: redundancy.VariantPartner, Ranks: []int{rank}}
	if err := RebuildPartner(fm, dset, cacheDir, partnerDir, sp, 0); err != nil {
		t.Fatalf("RebuildPartner: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(cacheDir, "ckpt.7.data"))
	if err != nil {
		t.Fatalf("restored file missing: %v", err)
	}
	if string(got) != "partner-protected-data" {
		t.Errorf("restored content = %q, want %q", got, "partner-protected-data")
	}
}
