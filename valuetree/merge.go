package valuetree

import (
	"strings"

	"github.com/huandu/xstrings"
)

// Merge deep-merges patch into base and returns the result. Object fields
// merge recursively; any other combination (including Object-over-non-Object
// or non-Object-over-Object) overwrites base with patch, matching the
// teacher's "maps merge recursively; arrays and scalars overwrite" rule.
//
// The result shares structure with base wherever patch did not touch it:
// only the spine of objects actually modified is copied (a shallow copy of
// each touched object's field map), so an unrelated sibling field is never
// reallocated.
func Merge(base, patch Value) Value {
	if base.kind != Object || patch.kind != Object {
		return patch
	}
	out := cloneObject(base)
	for k, pv := range patch.obj {
		bv, existed := out.obj[k]
		if existed && bv.kind == Object && pv.kind == Object {
			out.obj[k] = Merge(bv, pv)
		} else {
			out.obj[k] = pv
		}
	}
	return out
}

// cloneObject copies an Object node's field map (its spine) so Merge never
// mutates the caller's base tree in place. Child values are shared.
func cloneObject(v Value) Value {
	if v.kind != Object {
		return v
	}
	obj := make(map[string]Value, len(v.obj))
	for k, f := range v.obj {
		obj[k] = f
	}
	return Value{kind: Object, obj: obj}
}

// normalizePath trims whitespace from each dotted path segment, drops empty
// segments, and converts each one to snake_case with xstrings.ToSnakeCase
// (so "ChainID" becomes "chain_id") before the path is walked against a
// value tree.
func normalizePath(path string) []string {
	raw := strings.Split(path, ".")
	segs := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		segs = append(segs, xstrings.ToSnakeCase(s))
	}
	return segs
}

// Get walks a dotted path and returns the Value found there.
func Get(root Value, path string) (Value, bool) {
	segs := normalizePath(path)
	cur := root
	for _, seg := range segs {
		f, ok := cur.Field(seg)
		if !ok {
			return Value{}, false
		}
		cur = f
	}
	return cur, true
}

// Delete removes the value at a dotted path, returning the updated tree and
// whether anything was actually removed. Deleting a path that does not
// exist, or that runs through a non-Object node, is a no-op that reports
// false rather than an error.
func Delete(root Value, path string) (Value, bool) {
	segs := normalizePath(path)
	if len(segs) == 0 {
		return root, false
	}
	return deleteSegs(root, segs)
}

func deleteSegs(v Value, segs []string) (Value, bool) {
	if v.kind != Object {
		return v, false
	}
	head, rest := segs[0], segs[1:]
	child, ok := v.obj[head]
	if !ok {
		return v, false
	}
	if len(rest) == 0 {
		return v.WithoutField(head), true
	}
	updated, removed := deleteSegs(child, rest)
	if !removed {
		return v, false
	}
	return v.WithField(head, updated), true
}
