package path

import "testing"

func TestFromStringReduce(t *testing.T) {
	tab := []struct {
		in   string
		want string
	}{
		{"/a//b/./c/..", "/a/b"},
		{"..", ".."},
		{"a/./..", ""},
		{"../../x", "../../x"},
		{"/", "/"},
		{"", ""},
	}

	for _, tc := range tab {
		got := FromString(tc.in).Reduce().String()
		if got != tc.want {
			t.Errorf("FromString(%q).Reduce().String() = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRelative(t *testing.T) {
	src := FromString("/a/b")
	dst := FromString("/a/b/c/d")

	got := Relative(src, dst).String()
	if got != "c/d" {
		t.Errorf("Relative = %q, want %q", got, "c/d")
	}
}

func TestRelativeRoundTrip(t *testing.T) {
	a := FromString("/var/scr/cache")
	b := FromString("/var/scr/cache/run1/ckpt.0")

	rel := Relative(a, b)

	got := a.Dup().Append(rel).Reduce().String()
	want := b.Dup().Reduce().String()
	if got != want {
		t.Errorf("append(a, relative(a,b)).reduce() = %q, want %q", got, want)
	}
}

func TestAppendPrependInsert(t *testing.T) {
	p := FromString("b/c")
	p.Prepend(FromString("a"))
	if got := p.String(); got != "a/b/c" {
		t.Fatalf("Prepend: got %q", got)
	}

	p.Append(FromString("d"))
	if got := p.String(); got != "a/b/c/d" {
		t.Fatalf("Append: got %q", got)
	}

	p.Insert(1, FromString("x/y"))
	if got := p.String(); got != "a/x/y/b/c/d" {
		t.Fatalf("Insert: got %q", got)
	}
}

func TestDirnameBasename(t *testing.T) {
	p := FromString("/a/b/c")
	if got := p.Dup().Dirname().String(); got != "/a/b" {
		t.Errorf("Dirname = %q, want %q", got, "/a/b")
	}
	if got := p.Basename(); got != "c" {
		t.Errorf("Basename = %q, want %q", got, "c")
	}
}

func TestSliceCut(t *testing.T) {
	p := FromString("a/b/c/d")
	cut := p.Cut(2)
	if got := p.String(); got != "a/b" {
		t.Errorf("after Cut, head = %q, want %q", got, "a/b")
	}
	if got := cut.String(); got != "c/d" {
		t.Errorf("Cut returned %q, want %q", got, "c/d")
	}

	p2 := FromString("a/b/c/d")
	p2.Slice(1, 2)
	if got := p2.String(); got != "b/c" {
		t.Errorf("Slice = %q, want %q", got, "b/c")
	}
}

func TestIsAbsoluteIsChild(t *testing.T) {
	if !FromString("/a/b").IsAbsolute() {
		t.Error("expected /a/b to be absolute")
	}
	if FromString("a/b").IsAbsolute() {
		t.Error("expected a/b to not be absolute")
	}

	parent := FromString("/a/b")
	child := FromString("/a/b/c")
	if !IsChild(parent, child) {
		t.Error("expected /a/b to be parent of /a/b/c")
	}
	if IsChild(child, parent) {
		t.Error("expected /a/b/c to not be parent of /a/b")
	}
}

func TestIsNull(t *testing.T) {
	p := New()
	if !p.IsNull() {
		t.Error("expected new path to be null")
	}
	p.AppendString("x")
	if p.IsNull() {
		t.Error("expected path with component to not be null")
	}
}
