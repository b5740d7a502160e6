package kvtree

import (
	"bytes"
	"strconv"

	"github.com/pkg/errors"
)

// PackSize returns the number of bytes Pack would produce for t.
func (t *Tree) PackSize() int {
	size := len(strconv.Itoa(t.Size())) + 1
	for _, k := range t.Keys() {
		size += len(k) + 1
		size += t.children[k].PackSize()
	}
	return size
}

// Pack renders t into its canonical binary form: a decimal child
// count followed by a NUL, then for each child a NUL-terminated key
// followed by the child's own Pack.
func (t *Tree) Pack() []byte {
	buf := make([]byte, t.PackSize())
	t.packInto(buf)
	return buf
}

func (t *Tree) packInto(buf []byte) int {
	n := 0
	n += copy(buf[n:], strconv.Itoa(t.Size()))
	buf[n] = 0
	n++

	for _, k := range t.Keys() {
		n += copy(buf[n:], k)
		buf[n] = 0
		n++
		n += t.children[k].packInto(buf[n:])
	}
	return n
}

// Unpack decodes a Tree from the start of buf and returns it along
// with the number of bytes consumed, so callers can chain Unpack
// calls over a larger buffer the way a parent tree unpacks its
// children.
func Unpack(buf []byte) (*Tree, int, error) {
	idx := bytes.IndexByte(buf, 0)
	if idx < 0 {
		return nil, 0, errors.Wrap(ErrMalformed, "missing count terminator")
	}
	count, err := strconv.Atoi(string(buf[:idx]))
	if err != nil {
		return nil, 0, errors.Wrap(ErrMalformed, "bad count")
	}

	pos := idx + 1
	t := New()
	for i := 0; i < count; i++ {
		if pos > len(buf) {
			return nil, 0, errors.Wrap(ErrMalformed, "truncated element")
		}
		keyEnd := bytes.IndexByte(buf[pos:], 0)
		if keyEnd < 0 {
			return nil, 0, errors.Wrap(ErrMalformed, "missing key terminator")
		}
		key := string(buf[pos : pos+keyEnd])
		pos += keyEnd + 1

		child, n, err := Unpack(buf[pos:])
		if err != nil {
			return nil, 0, err
		}
		pos += n

		t.Set(key, child)
	}

	return t, pos, nil
}

// UnpackAll decodes buf as a single packed Tree, requiring the whole
// buffer to be consumed.
func UnpackAll(buf []byte) (*Tree, error) {
	t, n, err := Unpack(buf)
	if err != nil {
		return nil, err
	}
	if n != len(buf) {
		return nil, errors.Wrap(ErrMalformed, "trailing bytes after pack")
	}
	return t, nil
}
