package jsonnode

import (
	"fmt"
	"strconv"
	"strings"
)

// Path is a parsed path descriptor: a dotted sequence of object field names,
// where any segment may carry one or more trailing [i] array indices, e.g.
// "choices[0].message.content" or "data[0].embedding[3]". Wildcards and
// recursive descent are deliberately unsupported; templates only ever use
// this subset.
type Path struct {
	raw   string
	steps []step
}

type step struct {
	key     string // empty if this step is a bare index continuation
	indices []int
}

// ParsePath compiles a dotted/indexed path string. An empty string parses to
// the root path (zero steps).
func ParsePath(raw string) (Path, error) {
	p := Path{raw: raw}
	if raw == "" {
		return p, nil
	}
	for _, segment := range strings.Split(raw, ".") {
		if segment == "" {
			return Path{}, fmt.Errorf("jsonnode: empty path segment in %q", raw)
		}
		s, err := parseSegment(segment)
		if err != nil {
			return Path{}, fmt.Errorf("jsonnode: %q: %w", raw, err)
		}
		p.steps = append(p.steps, s)
	}
	return p, nil
}

// MustParsePath panics on an invalid path. Intended for use with path
// literals known at compile time (tests, constants), never on
// template-supplied input.
func MustParsePath(raw string) Path {
	p, err := ParsePath(raw)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Path) String() string { return p.raw }

func (p Path) IsRoot() bool { return len(p.steps) == 0 }

func parseSegment(segment string) (step, error) {
	bracket := strings.IndexByte(segment, '[')
	if bracket == -1 {
		return step{key: segment}, nil
	}
	s := step{key: segment[:bracket]}
	rest := segment[bracket:]
	for len(rest) > 0 {
		if rest[0] != '[' {
			return step{}, fmt.Errorf("malformed index in segment %q", segment)
		}
		end := strings.IndexByte(rest, ']')
		if end == -1 {
			return step{}, fmt.Errorf("unterminated index in segment %q", segment)
		}
		idxStr := rest[1:end]
		idx, err := strconv.Atoi(idxStr)
		if err != nil || idx < 0 {
			return step{}, fmt.Errorf("invalid array index %q in segment %q", idxStr, segment)
		}
		s.indices = append(s.indices, idx)
		rest = rest[end+1:]
	}
	return s, nil
}

// Get navigates root along the path and returns the node found there. The
// second return value is false if any intermediate step is missing or the
// wrong kind to continue navigating (an object step against an array, an
// out-of-range index, a field absent from an object).
func Get(root *Node, p Path) (*Node, bool) {
	cur := root
	for _, s := range p.steps {
		if s.key != "" {
			if cur == nil || cur.kind != KindObject {
				return nil, false
			}
			v, ok := cur.obj[s.key]
			if !ok {
				return nil, false
			}
			cur = v
		}
		for _, idx := range s.indices {
			if cur == nil || cur.kind != KindArray {
				return nil, false
			}
			if idx < 0 || idx >= len(cur.arr) {
				return nil, false
			}
			cur = cur.arr[idx]
		}
	}
	return cur, true
}

// GetString is a convenience wrapper for the common case of reading a string
// leaf; ok is false if the path is missing or doesn't resolve to a string.
func GetString(root *Node, p Path) (string, bool) {
	v, ok := Get(root, p)
	if !ok {
		return "", false
	}
	return v.StringValue()
}

// Set writes value at the path under root, creating any missing
// intermediate objects and arrays along the way. root must be a non-nil *Node whose
// pointee is mutated in place; if root's pointee is KindNull it is first
// turned into an object so the first step can be written.
//
// Setting a field to a Null value per a path descriptor whose source value
// was itself absent (not merely JSON null) is the caller's decision: Set
// always writes whatever Node it's given, including Null. Callers
// implementing the "absent optional field is omitted, not defaulted to
// null" edge policy should skip calling Set entirely for
// fields with no value, rather than calling Set with Null.
func Set(root **Node, p Path, value *Node) error {
	if *root == nil || (*root).kind == KindNull {
		*root = Object()
	}
	if p.IsRoot() {
		*root = value
		return nil
	}
	return setSteps(*root, p.steps, value)
}

func setSteps(cur *Node, steps []step, value *Node) error {
	s := steps[0]
	last := len(steps) == 1

	if s.key != "" {
		if cur.kind != KindObject {
			return fmt.Errorf("jsonnode: cannot set field %q on non-object node", s.key)
		}
		if len(s.indices) == 0 && last {
			cur.SetField(s.key, value)
			return nil
		}
		child, ok := cur.obj[s.key]
		if !ok {
			if len(s.indices) > 0 {
				child = Array()
			} else {
				child = Object()
			}
			cur.SetField(s.key, child)
		}
		cur = child
	}

	for i, idx := range s.indices {
		isLastIndex := last && i == len(s.indices)-1
		if cur.kind != KindArray {
			return fmt.Errorf("jsonnode: cannot index non-array node")
		}
		growArray(cur, idx)
		if isLastIndex {
			cur.arr[idx] = value
			return nil
		}
		child := cur.arr[idx]
		if child == nil || child.kind == KindNull {
			if i == len(s.indices)-1 {
				// Next step (the following dotted segment) determines shape.
				child = Object()
			} else {
				child = Array()
			}
			cur.arr[idx] = child
		}
		cur = child
	}

	if last {
		return nil
	}
	return setSteps(cur, steps[1:], value)
}

func growArray(n *Node, idx int) {
	for len(n.arr) <= idx {
		n.arr = append(n.arr, Null())
	}
}
