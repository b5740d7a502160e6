package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/LLNL/scr-sub002/pkg/filemap"
	"github.com/LLNL/scr-sub002/pkg/meta"
	"github.com/LLNL/scr-sub002/pkg/rio"
	"github.com/LLNL/scr-sub002/pkg/summary"
)

func writeRankSnapshot(t *testing.T, cntldir string, dset, rank int, name string, content []byte) {
	t.Helper()
	dir := filepath.Join(cntldir, datasetDirName(dset))
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatal(err)
	}
	crc, err := rio.CRC32(path)
	if err != nil {
		t.Fatal(err)
	}

	fm := filemap.New()
	m := meta.New().SetName(name).SetPath(name).SetSize(int64(len(content))).SetCRC(crc).SetComplete(true)
	fm.AddFile(dset, rank, name)
	fm.SetMeta(dset, rank, name, m)
	fm.SetExpectedFiles(dset, rank, 1)

	snapshotPath := filepath.Join(cntldir, fmt.Sprintf("%d.scrfilemap", rank))
	if err := filemap.Write(snapshotPath, fm); err != nil {
		t.Fatal(err)
	}
}

func TestScrCopyFlushesFilesAndWritesSummary(t *testing.T) {
	cntldir := t.TempDir()
	dstdir := t.TempDir()
	const dset = 7

	writeRankSnapshot(t, cntldir, dset, 0, "rank0.data", []byte("rank zero"))
	writeRankSnapshot(t, cntldir, dset, 1, "rank1.data", []byte("rank one"))

	flagCntlDir = cntldir
	flagDstDir = dstdir
	flagID = dset
	flagBufSize = 4096
	flagCRC = true
	flagPartner = false
	flagContainers = false

	if err := run(nil, nil); err != nil {
		t.Fatalf("run: %v", err)
	}

	got0, err := os.ReadFile(filepath.Join(dstdir, "rank0.data"))
	if err != nil {
		t.Fatalf("read flushed rank0 file: %v", err)
	}
	if string(got0) != "rank zero" {
		t.Errorf("rank0.data = %q, want %q", got0, "rank zero")
	}
	got1, err := os.ReadFile(filepath.Join(dstdir, "rank1.data"))
	if err != nil {
		t.Fatalf("read flushed rank1 file: %v", err)
	}
	if string(got1) != "rank one" {
		t.Errorf("rank1.data = %q, want %q", got1, "rank one")
	}

	s, err := summary.ReadSharded(filepath.Join(dstdir, summary.MetaDirName))
	if err != nil {
		t.Fatalf("summary.ReadSharded: %v", err)
	}
	if !s.Complete() {
		t.Error("expected summary to be marked complete")
	}
	if len(s.Ranks()) != 2 {
		t.Errorf("summary Ranks() = %v, want 2 entries", s.Ranks())
	}

	entries, err := os.ReadDir(dstdir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if !e.IsDir() && e.Name() != "rank0.data" && e.Name() != "rank1.data" {
			t.Errorf("unexpected file mixed into dataset directory root: %s", e.Name())
		}
	}
}

func TestScrCopyFailsOnCRCMismatch(t *testing.T) {
	cntldir := t.TempDir()
	dstdir := t.TempDir()
	const dset = 9

	writeRankSnapshot(t, cntldir, dset, 0, "rank0.data", []byte("good content"))
	// Corrupt the on-disk file after its Meta/CRC was recorded.
	path := filepath.Join(cntldir, datasetDirName(dset), "rank0.data")
	if err := os.WriteFile(path, []byte("corrupted"), 0600); err != nil {
		t.Fatal(err)
	}

	flagCntlDir = cntldir
	flagDstDir = dstdir
	flagID = dset
	flagBufSize = 4096
	flagCRC = true
	flagPartner = false
	flagContainers = false

	if err := run(nil, nil); err == nil {
		t.Fatal("expected run to report an error for a CRC mismatch")
	}
}
