package jsonnode

import (
	"sort"
	"strconv"
	"strings"
)

// Canonical renders n as a deterministic JSON-like string: object keys
// sorted lexicographically, no insignificant whitespace, numbers formatted
// with strconv's shortest round-trip representation. Two Node trees that are
// structurally equal always produce an identical Canonical output regardless
// of original field order, which is exactly the property the cache package's
// request fingerprinting needs: the cache key is a hash of
// this string, not of either side's original JSON byte order.
func (n *Node) Canonical() string {
	var b strings.Builder
	n.writeCanonical(&b)
	return b.String()
}

func (n *Node) writeCanonical(b *strings.Builder) {
	if n == nil {
		b.WriteString("null")
		return
	}
	switch n.kind {
	case KindNull:
		b.WriteString("null")
	case KindBool:
		if n.b {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case KindNumber:
		b.WriteString(strconv.FormatFloat(n.n, 'g', -1, 64))
	case KindString:
		b.WriteString(strconv.Quote(n.s))
	case KindArray:
		b.WriteByte('[')
		for i, e := range n.arr {
			if i > 0 {
				b.WriteByte(',')
			}
			e.writeCanonical(b)
		}
		b.WriteByte(']')
	case KindObject:
		keys := make([]string, len(n.keys))
		copy(keys, n.keys)
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(k))
			b.WriteByte(':')
			n.obj[k].writeCanonical(b)
		}
		b.WriteByte('}')
	}
}
