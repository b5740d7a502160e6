package summary

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/LLNL/scr-sub002/pkg/dataset"
	"github.com/LLNL/scr-sub002/pkg/filemap"
	"github.com/LLNL/scr-sub002/pkg/meta"
)

func TestSetRankFilesRoundTrip(t *testing.T) {
	s := New()
	files := []FileEntry{
		{Name: "ckpt.0.data", Meta: meta.New().SetRank(0).SetSize(100)},
		{Name: "ckpt.0.meta", Meta: meta.New().SetRank(0).SetSize(8)},
	}
	s.SetRankFiles(0, files)
	s.SetRankFiles(3, []FileEntry{{Name: "ckpt.3.data", Meta: meta.New().SetRank(3).SetSize(42)}})

	got, ok := s.RankFiles(0)
	if !ok || len(got) != 2 {
		t.Fatalf("RankFiles(0) = %v, %v", got, ok)
	}
	if got[0].Name != "ckpt.0.data" {
		t.Errorf("got[0].Name = %q", got[0].Name)
	}
	if size, _ := got[1].Meta.Size(); size != 8 {
		t.Errorf("got[1].Meta.Size() = %d, want 8", size)
	}

	if ranks := s.Ranks(); len(ranks) != 2 || ranks[0] != 0 || ranks[1] != 3 {
		t.Errorf("Ranks() = %v, want [0 3]", ranks)
	}
}

func TestBuildFromFileMap(t *testing.T) {
	fm := filemap.New()
	const dset = 1
	fm.AddFile(dset, 0, "ckpt.0.data")
	fm.SetMeta(dset, 0, "ckpt.0.data", meta.New().SetRank(0).SetSize(10).SetComplete(true))
	fm.AddFile(dset, 1, "ckpt.1.data")
	fm.SetMeta(dset, 1, "ckpt.1.data", meta.New().SetRank(1).SetSize(20).SetComplete(false))

	complete := map[int]bool{0: true, 1: false}
	s := BuildFromFileMap(fm, dset, func(d, rank int) bool { return complete[rank] })

	if s.Complete() {
		t.Error("expected overall Complete() = false since rank 1 is incomplete")
	}
	if s.RankCount() != 2 {
		t.Errorf("RankCount() = %d, want 2", s.RankCount())
	}
	files, ok := s.RankFiles(1)
	if !ok || len(files) != 1 || files[0].Name != "ckpt.1.data" {
		t.Fatalf("RankFiles(1) = %+v, %v", files, ok)
	}
}

func TestWriteReadShardedRoundTrip(t *testing.T) {
	dir := t.TempDir()

	s := New()
	for r := 0; r < 3; r++ {
		s.SetRankFiles(r, []FileEntry{
			{Name: "ckpt." + string(rune('0'+r)) + ".data", Meta: meta.New().SetRank(int64(r)).SetSize(int64(r * 10))},
		})
	}
	s.SetComplete(true)

	if err := WriteSharded(dir, s); err != nil {
		t.Fatalf("WriteSharded: %v", err)
	}

	got, err := ReadSharded(dir)
	if err != nil {
		t.Fatalf("ReadSharded: %v", err)
	}
	if !got.Complete() {
		t.Error("expected Complete() = true after round-trip")
	}
	if got.RankCount() != 3 {
		t.Errorf("RankCount() = %d, want 3", got.RankCount())
	}
	for r := 0; r < 3; r++ {
		files, ok := got.RankFiles(r)
		if !ok || len(files) != 1 {
			t.Fatalf("RankFiles(%d) = %+v, %v", r, files, ok)
		}
		if size, _ := files[0].Meta.Size(); size != int64(r*10) {
			t.Errorf("rank %d size = %d, want %d", r, size, r*10)
		}
	}
}

func TestSetDatasetRoundTrip(t *testing.T) {
	s := New()
	if _, ok := s.Dataset(); ok {
		t.Fatal("expected no dataset on a fresh Summary")
	}

	s.SetDataset(dataset.New().SetID(7).SetName("ckpt.7"))
	ds, ok := s.Dataset()
	if !ok {
		t.Fatal("expected Dataset() to return the set descriptor")
	}
	if id, _ := ds.ID(); id != 7 {
		t.Errorf("ID() = %d, want 7", id)
	}

	dir := t.TempDir()
	if err := WriteSharded(dir, s); err != nil {
		t.Fatalf("WriteSharded: %v", err)
	}
	got, err := ReadSharded(dir)
	if err != nil {
		t.Fatalf("ReadSharded: %v", err)
	}
	gotDS, ok := got.Dataset()
	if !ok {
		t.Fatal("expected dataset descriptor to survive a write/read round trip")
	}
	if id, _ := gotDS.ID(); id != 7 {
		t.Errorf("round-tripped ID() = %d, want 7", id)
	}
}

func TestParseDatasetDirName(t *testing.T) {
	cases := []struct {
		name   string
		wantID int
		wantOK bool
	}{
		{"scr.dataset.5", 5, true},
		{"scr.dataset.0", 0, true},
		{"not-a-dataset-dir", 0, false},
		{"scr.dataset.abc", 0, false},
	}
	for _, c := range cases {
		id, ok := ParseDatasetDirName(c.name)
		if id != c.wantID || ok != c.wantOK {
			t.Errorf("ParseDatasetDirName(%q) = %d, %v, want %d, %v", c.name, id, ok, c.wantID, c.wantOK)
		}
	}
}

func TestBuildFromDataDir(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "scr.dataset.9")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "ckpt.0.data"), []byte("payload"), 0600); err != nil {
		t.Fatal(err)
	}

	s, err := BuildFromDataDir(dir)
	if err != nil {
		t.Fatalf("BuildFromDataDir: %v", err)
	}
	if !s.Complete() {
		t.Error("expected Complete() = true with a file present")
	}
	ds, ok := s.Dataset()
	if !ok {
		t.Fatal("expected a dataset descriptor parsed from the directory name")
	}
	if id, _ := ds.ID(); id != 9 {
		t.Errorf("ID() = %d, want 9", id)
	}
	files, ok := s.RankFiles(0)
	if !ok || len(files) != 1 || files[0].Name != "ckpt.0.data" {
		t.Fatalf("RankFiles(0) = %+v, %v", files, ok)
	}
}

func TestBuildFromDataDirRejectsUnrecognizedName(t *testing.T) {
	dir := t.TempDir() // not named scr.dataset.<id>
	if _, err := BuildFromDataDir(dir); err == nil {
		t.Error("expected an error building from a directory with no parseable dataset id")
	}
}

func TestWriteReadShardedManyRanks(t *testing.T) {
	dir := t.TempDir()

	s := New()
	const n = ShardSize + 10
	for r := 0; r < n; r++ {
		s.SetRankFiles(r, []FileEntry{{Name: "f", Meta: meta.New().SetRank(int64(r))}})
	}

	if err := WriteSharded(dir, s); err != nil {
		t.Fatalf("WriteSharded: %v", err)
	}
	got, err := ReadSharded(dir)
	if err != nil {
		t.Fatalf("ReadSharded: %v", err)
	}
	if ranks := got.Ranks(); len(ranks) != n {
		t.Fatalf("len(Ranks()) = %d, want %d", len(ranks), n)
	}
	if got.RankCount() != n {
		t.Errorf("RankCount() = %d, want %d", got.RankCount(), n)
	}
}
