package kvtree

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/LLNL/scr-sub002/pkg/rio"
)

const (
	textStart = "Start\n"
	textEnd   = "End\n"
)

// WriteTextTo writes only the "C:<count>" body of t (no Start/End
// framing) to w, recursively. This is the form nested under another
// tree's elements; the file-level framing is added once by WriteText.
func (t *Tree) WriteTextTo(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "C:%d\n", t.Size()); err != nil {
		return errors.Wrap(err, "kvtree: write count line")
	}
	for _, k := range t.Keys() {
		if _, err := fmt.Fprintf(w, "%s\n", k); err != nil {
			return errors.Wrap(err, "kvtree: write key line")
		}
		if err := t.children[k].WriteTextTo(w); err != nil {
			return err
		}
	}
	return nil
}

// ReadTextFrom reads the "C:<count>" body of a tree (no Start/End
// framing) from r, recursively.
func ReadTextFrom(r *bufio.Reader) (*Tree, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, errors.Wrap(ErrMalformed, "missing count line")
	}
	if !strings.HasPrefix(line, "C:") {
		return nil, errors.Wrap(ErrMalformed, "expected C:<count> line")
	}
	count, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(line, "C:"), "\n"))
	if err != nil {
		return nil, errors.Wrap(ErrMalformed, "bad count line")
	}

	t := New()
	for i := 0; i < count; i++ {
		keyLine, err := r.ReadString('\n')
		if err != nil {
			return nil, errors.Wrap(ErrMalformed, "missing key line")
		}
		key := strings.TrimSuffix(keyLine, "\n")

		child, err := ReadTextFrom(r)
		if err != nil {
			return nil, err
		}
		t.Set(key, child)
	}
	return t, nil
}

// WriteTextFd writes t's canonical text encoding, framed by "Start\n"
// and "End\n", to an already-open file.
func WriteTextFd(f *os.File, t *Tree) error {
	w := bufio.NewWriter(f)
	if _, err := w.WriteString(textStart); err != nil {
		return errors.Wrap(err, "kvtree: write Start marker")
	}
	if err := t.WriteTextTo(w); err != nil {
		return err
	}
	if _, err := w.WriteString(textEnd); err != nil {
		return errors.Wrap(err, "kvtree: write End marker")
	}
	return w.Flush()
}

// ReadTextFd reads a Tree from an already-open file in the canonical
// text form. A zero-byte file yields an empty tree with no error.
func ReadTextFd(f *os.File) (*Tree, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "kvtree: stat")
	}
	if fi.Size() == 0 {
		return New(), nil
	}

	r := bufio.NewReader(f)
	line, err := r.ReadString('\n')
	if err != nil || line != textStart {
		return nil, errors.Wrap(ErrMalformed, "missing Start marker")
	}

	t, err := ReadTextFrom(r)
	if err != nil {
		return nil, err
	}

	line, err = r.ReadString('\n')
	if err != nil || line != textEnd {
		return nil, errors.Wrap(ErrMalformed, "missing End marker")
	}

	return t, nil
}

// WriteText atomically (with respect to other lockers of the same
// path) writes t's text encoding to path, creating or truncating it.
func WriteText(path string, t *Tree) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "kvtree: open %s for write", path)
	}
	defer f.Close()

	if err := rio.LockExclusive(f); err != nil {
		return err
	}
	defer rio.Unlock(f)

	return WriteTextFd(f, t)
}

// ReadText reads the Tree stored at path. A path that doesn't exist
// yet is treated the same as a zero-byte file written at it would
// be: an empty tree, no error. A path that exists but can't be opened
// (permission denied, a directory, any other open failure) is not
// treated as absence — it's returned as an error, same as a
// present-but-malformed file yielding ErrMalformed, so a caller can
// always tell "never written" from "something's wrong with this
// file".
func ReadText(path string) (*Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, errors.Wrapf(err, "kvtree: open %s for read", path)
	}
	defer f.Close()

	if err := rio.LockShared(f); err != nil {
		return nil, err
	}
	defer rio.Unlock(f)

	return ReadTextFd(f)
}

// LockedReadModifyWrite opens path (creating it if absent), takes an
// exclusive lock for the full lifetime of the descriptor, reads the
// current Tree (empty if the file is absent or zero-byte), calls
// modify on it, and writes the result back before releasing the lock.
// Use this for any file multiple processes may write concurrently.
func LockedReadModifyWrite(path string, modify func(t *Tree) error) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return errors.Wrapf(err, "kvtree: open %s for locked read-modify-write", path)
	}
	defer f.Close()

	if err := rio.LockExclusive(f); err != nil {
		return err
	}
	defer rio.Unlock(f)

	t, err := ReadTextFd(f)
	if err != nil {
		return err
	}

	if err := modify(t); err != nil {
		return err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "kvtree: seek for rewrite")
	}
	if err := f.Truncate(0); err != nil {
		return errors.Wrap(err, "kvtree: truncate for rewrite")
	}

	return WriteTextFd(f, t)
}
