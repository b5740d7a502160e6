package rio

import (
	"os"
	"path/filepath"
	"testing"
)

func openMember(t *testing.T, dir, name string, data []byte) *os.File {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestPaddedFileSetReadAt(t *testing.T) {
	dir := t.TempDir()
	a := openMember(t, dir, "a", []byte("AAAA"))
	b := openMember(t, dir, "b", []byte("BB"))

	set := NewPaddedFileSet([]*os.File{a, b}, []int64{4, 2})
	if got := set.LogicalSize(); got != 6 {
		t.Fatalf("LogicalSize = %d, want 6", got)
	}

	buf := make([]byte, 6)
	if err := set.ReadAt(buf, 0); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "AAAABB" {
		t.Errorf("ReadAt(0) = %q, want %q", buf, "AAAABB")
	}

	// Reading a chunk that straddles the boundary.
	buf2 := make([]byte, 3)
	if err := set.ReadAt(buf2, 2); err != nil {
		t.Fatal(err)
	}
	if string(buf2) != "AAB" {
		t.Errorf("ReadAt(2) = %q, want %q", buf2, "AAB")
	}

	// Reading past the logical end returns zero padding.
	buf3 := make([]byte, 4)
	if err := set.ReadAt(buf3, 4); err != nil {
		t.Fatal(err)
	}
	want := []byte{'B', 'B', 0, 0}
	for i := range want {
		if buf3[i] != want[i] {
			t.Errorf("ReadAt(4)[%d] = %d, want %d", i, buf3[i], want[i])
		}
	}

	buf4 := make([]byte, 4)
	if err := set.ReadAt(buf4, 10); err != nil {
		t.Fatal(err)
	}
	for _, bv := range buf4 {
		if bv != 0 {
			t.Errorf("expected all-zero padding past end, got %v", buf4)
			break
		}
	}
}

func TestPaddedFileSetWriteAtDiscardsPastEnd(t *testing.T) {
	dir := t.TempDir()
	a := openMember(t, dir, "a", []byte("0000"))

	set := NewPaddedFileSet([]*os.File{a}, []int64{4})

	// Write fully past the logical end: must be silently discarded.
	if err := set.WriteAt([]byte("XYZ"), 10); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 4)
	if err := set.ReadAt(buf, 0); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "0000" {
		t.Errorf("file was modified by out-of-range write: %q", buf)
	}

	// Partial write straddling the end writes only the in-range bytes.
	if err := set.WriteAt([]byte("AB"), 3); err != nil {
		t.Fatal(err)
	}
	if err := set.ReadAt(buf, 0); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "000A" {
		t.Errorf("got %q, want %q", buf, "000A")
	}
}
