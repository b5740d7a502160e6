// Package path implements an immutable-by-operation path value, stored
// as a sequence of string components rather than a single string.
//
// A component is never split on "/": constructing a Path from a string
// splits on "/" exactly once, at construction time. This mirrors the
// original C library's doubly linked list of path elements.
package path

import (
	"fmt"
	"strings"
)

// Path is an ordered sequence of string components. The zero value is
// an empty path (no components).
type Path struct {
	components []string
}

// New returns an empty path.
func New() *Path {
	return &Path{}
}

// FromString splits str on "/" and returns the resulting path.
// An absolute path (leading "/") has an empty string as its first
// component, matching the C implementation's convention.
func FromString(str string) *Path {
	p := &Path{}
	if str == "" {
		return p
	}
	p.components = strings.Split(str, "/")
	return p
}

// FromStringf builds a path from a formatted string, splitting the
// result on "/" exactly once.
func FromStringf(format string, args ...any) *Path {
	return FromString(fmt.Sprintf(format, args...))
}

// Dup returns a deep copy of p.
func (p *Path) Dup() *Path {
	if p == nil {
		return New()
	}
	cp := make([]string, len(p.components))
	copy(cp, p.components)
	return &Path{components: cp}
}

// IsNull reports whether p has zero components.
func (p *Path) IsNull() bool {
	return p == nil || len(p.components) == 0
}

// Components returns the number of components in p.
func (p *Path) Components() int {
	if p == nil {
		return 0
	}
	return len(p.components)
}

// IsAbsolute reports whether p's first component is the empty string,
// i.e. the path began with "/".
func (p *Path) IsAbsolute() bool {
	return p.Components() > 0 && p.components[0] == ""
}

// String renders p back to slash-joined form. An absolute path's
// leading empty component is rendered as the "/" prefix rather than a
// literal empty segment.
func (p *Path) String() string {
	if p.IsNull() {
		return ""
	}
	if p.IsAbsolute() {
		return "/" + strings.Join(p.components[1:], "/")
	}
	return strings.Join(p.components, "/")
}

// At returns the component at index i.
func (p *Path) At(i int) string {
	return p.components[i]
}

// Append adds other's components to the end of p and returns p.
// other is consumed: callers should not reuse it afterward.
func (p *Path) Append(other *Path) *Path {
	if other.IsNull() {
		return p
	}
	p.components = append(p.components, other.components...)
	return p
}

// AppendString appends the components of str (split on "/") to p.
func (p *Path) AppendString(str string) *Path {
	return p.Append(FromString(str))
}

// AppendStringf appends a formatted string's components to p.
func (p *Path) AppendStringf(format string, args ...any) *Path {
	return p.AppendString(fmt.Sprintf(format, args...))
}

// Prepend adds other's components to the front of p and returns p.
func (p *Path) Prepend(other *Path) *Path {
	if other.IsNull() {
		return p
	}
	p.components = append(append([]string{}, other.components...), p.components...)
	return p
}

// PrependString prepends str's components (split on "/") to p.
func (p *Path) PrependString(str string) *Path {
	return p.Prepend(FromString(str))
}

// Insert splices other's components into p starting at offset, where
// 0 inserts before the first component and Components() inserts after
// the last. other is consumed.
func (p *Path) Insert(offset int, other *Path) *Path {
	if other.IsNull() {
		return p
	}
	if offset < 0 {
		offset = 0
	}
	if offset > len(p.components) {
		offset = len(p.components)
	}
	out := make([]string, 0, len(p.components)+len(other.components))
	out = append(out, p.components[:offset]...)
	out = append(out, other.components...)
	out = append(out, p.components[offset:]...)
	p.components = out
	return p
}

// Slice truncates p to the length-long window starting at offset,
// clamped to the valid range. A negative length means "to the end".
func (p *Path) Slice(offset, length int) *Path {
	n := len(p.components)
	if offset < 0 {
		offset = 0
	}
	if offset > n {
		offset = n
	}
	end := n
	if length >= 0 {
		end = offset + length
		if end > n {
			end = n
		}
	}
	p.components = append([]string{}, p.components[offset:end]...)
	return p
}

// Cut removes and returns the components from offset to the end of p,
// leaving p holding only the components before offset.
func (p *Path) Cut(offset int) *Path {
	n := len(p.components)
	if offset < 0 {
		offset = 0
	}
	if offset > n {
		offset = n
	}
	tail := append([]string{}, p.components[offset:]...)
	p.components = append([]string{}, p.components[:offset]...)
	return &Path{components: tail}
}

// Dirname returns a new path holding all but the last component of p.
func (p *Path) Dirname() *Path {
	n := p.Components()
	if n <= 1 {
		return New()
	}
	return p.Dup().Slice(0, n-1)
}

// Basename returns the last component of p, or "" if p is empty.
func (p *Path) Basename() string {
	n := p.Components()
	if n == 0 {
		return ""
	}
	return p.components[n-1]
}

// Reduce removes empty components, ".", and ".." (popping the
// preceding component via lookback) in place, except that leading
// ".." is never popped past the start of a relative path. Reduce
// aborts (leaving p unchanged) if a ".." would pop past an absolute
// path's root.
func (p *Path) Reduce() *Path {
	absolute := p.IsAbsolute()

	out := make([]string, 0, len(p.components))
	for i, c := range p.components {
		switch {
		case c == "" && i != 0:
			// Empty components from repeated slashes collapse away;
			// a leading empty component (absolute marker) is kept.
			continue
		case c == ".":
			continue
		case c == "..":
			if len(out) > 0 && out[len(out)-1] != ".." && out[len(out)-1] != "" {
				out = out[:len(out)-1]
				continue
			}
			if absolute {
				// ".." past root: leave untouched (this is an error
				// condition the original aborts the whole reduce on).
				return p
			}
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}

	if absolute && len(out) == 0 {
		out = append(out, "")
	}

	p.components = out
	return p
}

// IsChild reports whether child's components begin with parent's
// components, component-by-component.
func IsChild(parent, child *Path) bool {
	if parent.Components() > child.Components() {
		return false
	}
	for i := 0; i < parent.Components(); i++ {
		if parent.components[i] != child.components[i] {
			return false
		}
	}
	return true
}

// Relative returns the path that, appended to src and reduced, yields
// dst reduced: a sequence of ".." components for any src components
// beyond the common prefix, followed by dst's remaining components.
// src must be non-nil.
func Relative(src, dst *Path) *Path {
	s := src.Dup().Reduce()
	d := dst.Dup().Reduce()

	common := 0
	for common < s.Components() && common < d.Components() && s.components[common] == d.components[common] {
		common++
	}

	out := &Path{}
	for i := common; i < s.Components(); i++ {
		out.components = append(out.components, "..")
	}
	out.components = append(out.components, d.components[common:]...)
	return out
}
