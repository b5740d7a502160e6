// Package param implements the hierarchical configuration layer:
// parameters are resolved, in increasing precedence, from built-in
// defaults, a system config file, a user config file, environment
// variables, and runtime "KEY=VALUE" calls. Values may reference
// $VAR/${VAR}, expanded from the environment at lookup time.
package param

import (
	"os"
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/LLNL/scr-sub002/pkg/kvtree"
)

// eqSpacing matches stray whitespace directly around an "=" sign, so a
// config string such as "STORE= /dev/shm/foo GROUP = NODE COUNT  =1"
// normalizes to "STORE=/dev/shm/foo GROUP=NODE COUNT=1" before it is
// split into whitespace-delimited KEY=VALUE fields.
var eqSpacing = regexp.MustCompile(`\s*=\s*`)

func normalizeEq(s string) string {
	return eqSpacing.ReplaceAllString(s, "=")
}

// ErrUnknownKey is returned by Set when the top-level key is not in
// the recognized registry.
var ErrUnknownKey = errors.New("param: unknown key")

// ErrNotRuntimeSettable is returned by Set when the key is recognized
// but may only come from a config file or the environment.
var ErrNotRuntimeSettable = errors.New("param: key is not settable at runtime")

// key is one entry in the closed registry of recognized parameters.
type key struct {
	name            string
	runtimeSettable bool
}

var registry = map[string]key{
	"DEBUG":            {"DEBUG", true},
	"SCR_COPY_TYPE":    {"SCR_COPY_TYPE", true},
	"SCR_CACHE_BYPASS": {"SCR_CACHE_BYPASS", true},
	"STORE":            {"STORE", true},
	"CKPT":             {"CKPT", true},
	// SCR_PREFIX names the job's prefix directory; it is read once at
	// init time to locate the Index and must not move under a running
	// job, so it is file/environment only.
	"SCR_PREFIX": {"SCR_PREFIX", false},
}

// Params is a layered parameter table: defaults, system file, user
// file, and environment are merged in increasing precedence at
// construction time; Set applies runtime "KEY=VALUE" calls on top of
// that, at the highest precedence of all.
type Params struct {
	tree *kvtree.Tree
}

// Option configures New.
type Option func(*Params)

// WithDefaults merges a built-in defaults tree in at the lowest
// precedence.
func WithDefaults(defaults *kvtree.Tree) Option {
	return func(p *Params) { p.tree.Merge(defaults) }
}

// WithFile merges the KEY=VALUE lines read from path (one setting per
// line, blank lines and lines starting with "#" ignored). A missing
// file is not an error: it contributes nothing.
func WithFile(path string) Option {
	return func(p *Params) {
		data, err := os.ReadFile(path)
		if err != nil {
			return
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			_ = applyKV(p.tree, line) // malformed lines in a config file are skipped
		}
	}
}

// WithEnviron merges every environment variable whose name matches a
// registered key.
func WithEnviron() Option {
	return func(p *Params) {
		for name := range registry {
			if v, ok := os.LookupEnv(name); ok {
				p.tree.SetStr(name, v)
			}
		}
	}
}

// New builds a Params table by applying opts in order; later options
// take precedence over earlier ones, matching the
// defaults/system-file/user-file/environment ordering callers should
// pass them in.
func New(opts ...Option) *Params {
	p := &Params{tree: kvtree.New()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Set applies a runtime "KEY=VALUE ..." string, the highest-precedence
// layer. A multi-key qualifier such as "STORE=/dev/shm GROUP=NODE
// COUNT=1" sets STORE's value to /dev/shm and nests GROUP=NODE,
// COUNT=1 as sibling fields under the same STORE subtree.
func (p *Params) Set(kv string) error {
	topKey, _, ok := splitFirstKV(kv)
	if !ok {
		return errors.Errorf("param: malformed KEY=VALUE string %q", kv)
	}
	reg, known := registry[topKey]
	if !known {
		return errors.Wrapf(ErrUnknownKey, "%q", topKey)
	}
	if !reg.runtimeSettable {
		return errors.Wrapf(ErrNotRuntimeSettable, "%q", topKey)
	}
	return applyKV(p.tree, kv)
}

// Get resolves key, a space-separated string of context "KEY=VALUE"
// qualifiers followed by a final bare key name, e.g. "STORE=
// /dev/shm/foo COUNT" reads the COUNT field nested under STORE's
// /dev/shm/foo subtree (the same qualifier form Set accepts, with the
// value to read in place of its final "=VALUE"). A single bare name
// with no qualifiers reads a top-level key. The result has $VAR/${VAR}
// references expanded against the current environment.
func (p *Params) Get(key string) (string, bool) {
	fields := strings.Fields(normalizeEq(key))
	if len(fields) == 0 {
		return "", false
	}

	h := p.tree
	for i, f := range fields {
		k, v, hasEq := splitOne(f)
		if !hasEq {
			if i != len(fields)-1 {
				return "", false
			}
			child := h.Child(f)
			if child == nil || child.Size() == 0 {
				return "", false
			}
			return expandEnv(child.Keys()[0]), true
		}
		if i == 0 {
			h = h.Child(k).Child(v)
		}
		if h == nil {
			return "", false
		}
	}
	// Every field contained "=": there is no bare key to resolve.
	return "", false
}

// applyKV parses a "KEY=VALUE ..." string — tolerating arbitrary
// whitespace directly around each "=" — and merges it into tree: the
// first token's key becomes the scalar value one level down (matching
// Tree's key->value->{} scalar convention), and every subsequent token
// is installed as a sibling field beneath it.
func applyKV(tree *kvtree.Tree, kv string) error {
	fields := strings.Fields(normalizeEq(kv))
	if len(fields) == 0 {
		return errors.New("param: empty KEY=VALUE string")
	}

	topKey, topVal, ok := splitOne(fields[0])
	if !ok {
		return errors.Errorf("param: malformed field %q", fields[0])
	}
	sub := tree.SetStr(topKey, topVal)

	for _, f := range fields[1:] {
		k, v, ok := splitOne(f)
		if !ok {
			return errors.Errorf("param: malformed field %q", f)
		}
		sub.SetStr(k, v)
	}
	return nil
}

func splitFirstKV(kv string) (k, v string, ok bool) {
	fields := strings.Fields(normalizeEq(kv))
	if len(fields) == 0 {
		return "", "", false
	}
	return splitOne(fields[0])
}

func splitOne(field string) (k, v string, ok bool) {
	idx := strings.IndexByte(field, '=')
	if idx < 0 {
		return "", "", false
	}
	k = strings.TrimSpace(field[:idx])
	v = strings.TrimSpace(field[idx+1:])
	if k == "" {
		return "", "", false
	}
	return k, v, true
}

// expandEnv expands $VAR and ${VAR} references in s, yielding empty
// string for undefined variables. A "${" with no closing "}" after it
// is kept as written, together with the rest of s.
func expandEnv(s string) string {
	tail := ""
	rest := strings.LastIndex(s, "}") + 1
	if i := strings.Index(s[rest:], "${"); i >= 0 {
		s, tail = s[:rest+i], s[rest+i:]
	}
	return os.Expand(s, func(name string) string {
		return os.Getenv(name)
	}) + tail
}
