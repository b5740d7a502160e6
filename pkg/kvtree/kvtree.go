// Package kvtree implements the recursive ordered key-value tree that
// is the shared in-memory and on-disk representation for every piece
// of metadata in this library: file metadata, dataset descriptors,
// file maps, the cache index, and redundancy headers all are, or are
// built directly on top of, a Tree.
//
// Every non-leaf node is an ordered mapping from string keys to child
// trees. Keys within one node are unique. A Tree has a canonical text
// serialization and a canonical binary pack, both described in detail
// on Pack and WriteText.
package kvtree

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// ErrMalformed is returned when a text or binary encoding does not
// follow the expected framing, distinguishing corruption from the
// valid "absent file" case handled by callers before they even open a
// Tree file.
var ErrMalformed = errors.New("kvtree: malformed encoding")

// SortMode selects how Sort reorders a node's children.
type SortMode int

const (
	// SortInsertion preserves the order keys were first set in.
	SortInsertion SortMode = iota
	SortAscendingInt
	SortDescendingInt
	SortAscendingString
	SortDescendingString
)

// Tree is an ordered mapping from string keys to child Trees.
type Tree struct {
	order    []string
	children map[string]*Tree
}

// New returns an empty Tree.
func New() *Tree {
	return &Tree{}
}

// Size returns the number of immediate children of t.
func (t *Tree) Size() int {
	if t == nil {
		return 0
	}
	return len(t.order)
}

// Keys returns the keys of t's immediate children in their current
// order.
func (t *Tree) Keys() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Child returns the child tree stored under key, or nil if key is not
// present.
func (t *Tree) Child(key string) *Tree {
	if t == nil || t.children == nil {
		return nil
	}
	return t.children[key]
}

// Set installs child under key, replacing any existing child, and
// returns child. Passing a nil child is equivalent to installing an
// empty Tree.
func (t *Tree) Set(key string, child *Tree) *Tree {
	if child == nil {
		child = New()
	}
	if t.children == nil {
		t.children = make(map[string]*Tree)
	}
	if _, exists := t.children[key]; !exists {
		t.order = append(t.order, key)
	}
	t.children[key] = child
	return child
}

// EnsureChild returns the child tree stored under key, creating and
// installing an empty one first if key is not yet present.
func (t *Tree) EnsureChild(key string) *Tree {
	if c := t.Child(key); c != nil {
		return c
	}
	return t.Set(key, New())
}

// Unset removes key (and its subtree) from t.
func (t *Tree) Unset(key string) {
	if t == nil || t.children == nil {
		return
	}
	if _, exists := t.children[key]; !exists {
		return
	}
	delete(t.children, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// Clear removes every child of t, leaving it empty but allocated.
func (t *Tree) Clear() {
	t.order = nil
	t.children = nil
}

// SetKV sets the key=val shorthand: ensures a subtree for key, then
// marks val as a (leaf) child within it, and returns that leaf.
func (t *Tree) SetKV(key, val string) *Tree {
	return t.EnsureChild(key).EnsureChild(val)
}

// GetKV returns the subtree for key=val, or nil if either key or val
// is absent.
func (t *Tree) GetKV(key, val string) *Tree {
	k := t.Child(key)
	if k == nil {
		return nil
	}
	return k.Child(val)
}

// UnsetKV removes val from under key, and removes key entirely if
// that was its only value.
func (t *Tree) UnsetKV(key, val string) {
	k := t.Child(key)
	if k == nil {
		return
	}
	k.Unset(val)
	if k.Size() == 0 {
		t.Unset(key)
	}
}

// GetStr returns the scalar string value stored under key: the key of
// key's subtree's single child, matching the convention used by Meta,
// Dataset, and the redundancy header (a field is stored as
// key -> value -> {}).
func (t *Tree) GetStr(key string) (string, bool) {
	k := t.Child(key)
	if k == nil || k.Size() == 0 {
		return "", false
	}
	return k.order[0], true
}

// SetStr stores val as the scalar value for key, replacing any prior
// value.
func (t *Tree) SetStr(key, val string) *Tree {
	t.Unset(key)
	return t.SetKV(key, val)
}

// GetInt64 parses the scalar value at key as a base-10 integer.
func (t *Tree) GetInt64(key string) (int64, bool) {
	s, ok := t.GetStr(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// SetInt64 stores v as the scalar value for key.
func (t *Tree) SetInt64(key string, v int64) *Tree {
	return t.SetStr(key, strconv.FormatInt(v, 10))
}

// GetFloat64 parses the scalar value at key as a floating point
// number.
func (t *Tree) GetFloat64(key string) (float64, bool) {
	s, ok := t.GetStr(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// SetFloat64 stores v as the scalar value for key.
func (t *Tree) SetFloat64(key string, v float64) *Tree {
	return t.SetStr(key, strconv.FormatFloat(v, 'f', -1, 64))
}

// SetBytes is SetInt64 under the name the redundancy header and Meta
// use for byte counts.
func (t *Tree) SetBytes(key string, n int64) *Tree {
	return t.SetInt64(key, n)
}

// GetBytes is GetInt64 under the name Meta and the redundancy header
// use for byte counts.
func (t *Tree) GetBytes(key string) (int64, bool) {
	return t.GetInt64(key)
}

// token is one placeholder ("%s", "%d", "%lu", "%llu", or "%f") from a
// Setf/Getf/Unsetf format string.
type token int

const (
	tokString token = iota
	tokInt
	tokFloat
)

func classify(tok string) (token, error) {
	switch tok {
	case "%s":
		return tokString, nil
	case "%d", "%lu", "%llu":
		return tokInt, nil
	case "%f":
		return tokFloat, nil
	default:
		return 0, errors.Errorf("kvtree: unsupported key format %q", tok)
	}
}

// renderKeys splits a printf-like, space-separated format string into
// its literal keys, consuming one arg per placeholder and
// interpreting %s/%d/%lu/%llu/%f exactly as the placeholder names.
func renderKeys(format string, args []any) ([]string, error) {
	toks, err := splitFields(format)
	if err != nil {
		return nil, err
	}
	if len(toks) != len(args) {
		return nil, errors.Errorf("kvtree: format %q expects %d args, got %d", format, len(toks), len(args))
	}

	keys := make([]string, len(toks))
	for i, tok := range toks {
		kind, err := classify(tok)
		if err != nil {
			return nil, err
		}
		switch kind {
		case tokString:
			keys[i] = fmt.Sprintf("%s", args[i])
		case tokInt:
			keys[i] = fmt.Sprintf("%d", args[i])
		case tokFloat:
			keys[i] = fmt.Sprintf("%f", args[i])
		}
	}
	return keys, nil
}

func splitFields(format string) ([]string, error) {
	var fields []string
	start := -1
	for i, c := range format {
		if c == ' ' {
			if start >= 0 {
				fields = append(fields, format[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		fields = append(fields, format[start:])
	}
	if len(fields) == 0 {
		return nil, errors.New("kvtree: empty key format")
	}
	return fields, nil
}

// Setf descends t along the sequence of keys produced by format/args
// (a space-separated sequence of %s/%d/%lu/%llu/%f placeholders,
// consuming one arg each), creating intermediate subtrees as needed,
// then installs value as the child of the last-most key and returns
// it.
func (t *Tree) Setf(value *Tree, format string, args ...any) (*Tree, error) {
	keys, err := renderKeys(format, args)
	if err != nil {
		return nil, err
	}

	h := t
	for i, key := range keys {
		if i == len(keys)-1 {
			return h.Set(key, value), nil
		}
		h = h.EnsureChild(key)
	}
	return h, nil // unreachable: renderKeys never returns zero keys
}

// Getf is the read-only counterpart to Setf.
func (t *Tree) Getf(format string, args ...any) (*Tree, error) {
	keys, err := renderKeys(format, args)
	if err != nil {
		return nil, err
	}

	h := t
	for _, key := range keys {
		h = h.Child(key)
		if h == nil {
			return nil, nil
		}
	}
	return h, nil
}

// Unsetf removes the subtree addressed by format/args.
func (t *Tree) Unsetf(format string, args ...any) error {
	keys, err := renderKeys(format, args)
	if err != nil {
		return err
	}

	h := t
	for i, key := range keys {
		if i == len(keys)-1 {
			h.Unset(key)
			return nil
		}
		next := h.Child(key)
		if next == nil {
			return nil
		}
		h = next
	}
	return nil
}

// Merge copies every key in src into t: a key absent from t is
// created, a key present in both has its subtrees merged recursively.
// A leaf collapses onto itself: merging a==b into a tree where a
// already maps to {b: {}} leaves the tree unchanged.
func (t *Tree) Merge(src *Tree) {
	if src == nil {
		return
	}
	for _, key := range src.order {
		dstChild := t.Child(key)
		if dstChild == nil {
			dstChild = t.Set(key, New())
		}
		dstChild.Merge(src.Child(key))
	}
}

// Copy clears t, then merges src into it, matching the Meta/Dataset
// "copy" convention described in the design notes.
func (t *Tree) Copy(src *Tree) {
	t.Clear()
	t.Merge(src)
}

// Dup returns a deep copy of t.
func (t *Tree) Dup() *Tree {
	out := New()
	out.Merge(t)
	return out
}

// Sort reorders t's immediate children in place according to mode.
// The order is preserved by subsequent Pack, WriteText, and Keys
// calls.
func (t *Tree) Sort(mode SortMode) {
	if t == nil || len(t.order) < 2 {
		return
	}
	keys := t.order
	switch mode {
	case SortInsertion:
		return
	case SortAscendingInt:
		sort.SliceStable(keys, func(i, j int) bool {
			return parseIntOrZero(keys[i]) < parseIntOrZero(keys[j])
		})
	case SortDescendingInt:
		sort.SliceStable(keys, func(i, j int) bool {
			return parseIntOrZero(keys[i]) > parseIntOrZero(keys[j])
		})
	case SortAscendingString:
		sort.SliceStable(keys, func(i, j int) bool { return keys[i] < keys[j] })
	case SortDescendingString:
		sort.SliceStable(keys, func(i, j int) bool { return keys[i] > keys[j] })
	}
}

func parseIntOrZero(s string) int64 {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
