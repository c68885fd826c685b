// Package jsonnode is the dynamic-JSON layer under the translators: a
// statically-typed tagged-variant tree (Node) plus a small JSONPath-subset
// interpreter (Path, in path.go) for reading and writing provider JSON
// shapes described only by path strings in a provider template.
//
// This intentionally does not wrap a dynamic-JSON library like
// tidwall/gjson/sjson: the typed tree keeps every shape decision in one
// place and lets the path interpreter stay a few dozen lines.
package jsonnode

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind tags which variant a Node holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// Node is a tagged-variant JSON value: exactly one of its payload fields is
// meaningful, selected by Kind. Zero value is KindNull.
type Node struct {
	kind Kind
	b    bool
	n    float64
	s    string
	obj  map[string]*Node
	// keys preserves object insertion order for deterministic re-marshaling;
	// canonicalization (canonical.go) sorts independently of this.
	keys []string
	arr  []*Node
}

func Null() *Node                { return &Node{kind: KindNull} }
func Bool(v bool) *Node          { return &Node{kind: KindBool, b: v} }
func Number(v float64) *Node     { return &Node{kind: KindNumber, n: v} }
func String(v string) *Node      { return &Node{kind: KindString, s: v} }
func Object() *Node              { return &Node{kind: KindObject, obj: map[string]*Node{}} }
func Array(items ...*Node) *Node { return &Node{kind: KindArray, arr: items} }

func (n *Node) Kind() Kind { return n.kind }

func (n *Node) IsNull() bool { return n == nil || n.kind == KindNull }

func (n *Node) BoolValue() (bool, bool) {
	if n == nil || n.kind != KindBool {
		return false, false
	}
	return n.b, true
}

func (n *Node) NumberValue() (float64, bool) {
	if n == nil || n.kind != KindNumber {
		return 0, false
	}
	return n.n, true
}

func (n *Node) StringValue() (string, bool) {
	if n == nil || n.kind != KindString {
		return "", false
	}
	return n.s, true
}

// Items returns the array elements, or nil if n isn't an array.
func (n *Node) Items() []*Node {
	if n == nil || n.kind != KindArray {
		return nil
	}
	return n.arr
}

// Keys returns an object's keys in insertion order, or nil if n isn't an
// object.
func (n *Node) Keys() []string {
	if n == nil || n.kind != KindObject {
		return nil
	}
	out := make([]string, len(n.keys))
	copy(out, n.keys)
	return out
}

// Field reads one object field directly (no path parsing).
func (n *Node) Field(key string) (*Node, bool) {
	if n == nil || n.kind != KindObject {
		return nil, false
	}
	v, ok := n.obj[key]
	return v, ok
}

// SetField writes one object field directly, preserving insertion order.
func (n *Node) SetField(key string, v *Node) {
	if n.kind != KindObject {
		panic("jsonnode: SetField on non-object node")
	}
	if _, exists := n.obj[key]; !exists {
		n.keys = append(n.keys, key)
	}
	n.obj[key] = v
}

// AppendItem appends to an array node.
func (n *Node) AppendItem(v *Node) {
	if n.kind != KindArray {
		panic("jsonnode: AppendItem on non-array node")
	}
	n.arr = append(n.arr, v)
}

// FromAny converts a value produced by json.Unmarshal into any (so
// map[string]any / []any / string / float64 / bool / nil) into a Node tree.
// Unrecognized types are rendered as their fmt.Sprintf("%v") string form
// rather than dropped, so a translator bug is visible instead of silent.
func FromAny(v any) *Node {
	switch t := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case int:
		return Number(float64(t))
	case string:
		return String(t)
	case map[string]any:
		o := Object()
		// json.Unmarshal into `any` loses key order (Go maps are unordered);
		// sort for determinism since there's no original order to preserve.
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			o.SetField(k, FromAny(t[k]))
		}
		return o
	case []any:
		items := make([]*Node, len(t))
		for i, e := range t {
			items[i] = FromAny(e)
		}
		return Array(items...)
	default:
		return String(fmt.Sprintf("%v", t))
	}
}

// ParseJSON decodes raw JSON bytes into a Node tree. Empty input yields Null.
func ParseJSON(data []byte) (*Node, error) {
	if len(data) == 0 {
		return Null(), nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("jsonnode: parse: %w", err)
	}
	return FromAny(v), nil
}

// ToAny converts a Node tree back into plain Go values (map[string]any,
// []any, etc.) suitable for json.Marshal.
func (n *Node) ToAny() any {
	if n == nil {
		return nil
	}
	switch n.kind {
	case KindNull:
		return nil
	case KindBool:
		return n.b
	case KindNumber:
		return n.n
	case KindString:
		return n.s
	case KindObject:
		m := make(map[string]any, len(n.obj))
		for _, k := range n.keys {
			m[k] = n.obj[k].ToAny()
		}
		return m
	case KindArray:
		arr := make([]any, len(n.arr))
		for i, e := range n.arr {
			arr[i] = e.ToAny()
		}
		return arr
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler, preserving object key insertion
// order (unlike marshaling a plain map[string]any).
func (n *Node) MarshalJSON() ([]byte, error) {
	if n == nil || n.kind == KindNull {
		return []byte("null"), nil
	}
	switch n.kind {
	case KindBool, KindNumber, KindString:
		return json.Marshal(n.ToAny())
	case KindArray:
		buf := []byte{'['}
		for i, e := range n.arr {
			if i > 0 {
				buf = append(buf, ',')
			}
			eb, err := e.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf = append(buf, eb...)
		}
		buf = append(buf, ']')
		return buf, nil
	case KindObject:
		buf := []byte{'{'}
		for i, k := range n.keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := n.obj[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	default:
		return []byte("null"), nil
	}
}

// ToJSON serializes the tree, preserving object key order.
func (n *Node) ToJSON() ([]byte, error) {
	return n.MarshalJSON()
}

// Clone returns a deep copy of n. Callers that are about to Set() into a
// tree they don't own outright (e.g. a MergedConfig's shared
// StaticParameters) must Clone it first: Set mutates in place, and a
// template's static parameters are read by every call sharing that
// MergedConfig's underlying template.
func (n *Node) Clone() *Node {
	if n == nil {
		return Null()
	}
	switch n.kind {
	case KindObject:
		c := Object()
		for _, k := range n.keys {
			c.SetField(k, n.obj[k].Clone())
		}
		return c
	case KindArray:
		items := make([]*Node, len(n.arr))
		for i, e := range n.arr {
			items[i] = e.Clone()
		}
		return Array(items...)
	default:
		// Bool/Number/String/Null nodes are immutable value types; sharing
		// the pointer is safe, but returning a fresh copy keeps Clone's
		// contract simple (no aliasing at any depth) and costs nothing for
		// non-recursive kinds.
		cp := *n
		return &cp
	}
}
