// Package canonical normalises JSON-representable values into a single
// deterministic form so that semantically equal snapshots always serialise to
// the same bytes.
//
// A value is represented as a Node, a closed union of six kinds:
// Null, Bool, Number, Text, Sequence and Mapping. Absent and null inputs both
// become Null; Mapping keys are held in byte-wise sorted order; Number holds a
// normalised decimal text so that 1, 1.0 and json.Number("1.0") are equal.
package canonical

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Kind identifies which variant of the union a Node holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindText
	KindSequence
	KindMapping
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindSequence:
		return "sequence"
	case KindMapping:
		return "mapping"
	default:
		return "unknown"
	}
}

// Node is one canonical value. The zero Node is Null. Nodes are immutable once
// built; every constructor copies its inputs.
type Node struct {
	kind  Kind
	flag  bool
	text  string
	items []Node
	keys  []string
	vals  map[string]Node
}

// Null returns the null node.
func Null() Node { return Node{} }

// Bool returns a boolean node.
func Bool(b bool) Node { return Node{kind: KindBool, flag: b} }

// Text returns a string node.
func Text(s string) Node { return Node{kind: KindText, text: s} }

// Number returns a number node holding the normalised form of the decimal
// literal s. A literal that does not parse as a number is kept as Text.
func Number(s string) Node {
	norm, ok := normalizeNumber(s)
	if !ok {
		return Text(s)
	}
	return Node{kind: KindNumber, text: norm}
}

// Sequence returns an ordered sequence node.
func Sequence(items ...Node) Node {
	cp := make([]Node, len(items))
	copy(cp, items)
	return Node{kind: KindSequence, items: cp}
}

// Mapping returns a mapping node with its keys in byte-wise ordinal order.
func Mapping(m map[string]Node) Node {
	keys := make([]string, 0, len(m))
	vals := make(map[string]Node, len(m))
	for k, v := range m {
		keys = append(keys, k)
		vals[k] = v
	}
	sort.Strings(keys)
	return Node{kind: KindMapping, keys: keys, vals: vals}
}

// Kind reports the variant held by n.
func (n Node) Kind() Kind { return n.kind }

// IsNull reports whether n is the null node.
func (n Node) IsNull() bool { return n.kind == KindNull }

// AsBool returns the boolean payload; false for other kinds.
func (n Node) AsBool() bool { return n.kind == KindBool && n.flag }

// AsText returns the string payload of a Text node or the normalised decimal
// text of a Number node.
func (n Node) AsText() string {
	if n.kind == KindText || n.kind == KindNumber {
		return n.text
	}
	return ""
}

// Len returns the number of items of a Sequence or entries of a Mapping.
func (n Node) Len() int {
	switch n.kind {
	case KindSequence:
		return len(n.items)
	case KindMapping:
		return len(n.keys)
	}
	return 0
}

// Items returns a copy of a Sequence's elements.
func (n Node) Items() []Node {
	if n.kind != KindSequence {
		return nil
	}
	cp := make([]Node, len(n.items))
	copy(cp, n.items)
	return cp
}

// Keys returns a Mapping's keys in canonical order.
func (n Node) Keys() []string {
	if n.kind != KindMapping {
		return nil
	}
	cp := make([]string, len(n.keys))
	copy(cp, n.keys)
	return cp
}

// Value returns the value stored under key in a Mapping.
func (n Node) Value(key string) (Node, bool) {
	if n.kind != KindMapping {
		return Node{}, false
	}
	v, ok := n.vals[key]
	return v, ok
}

// Equal reports whether n and other have the same canonical encoding.
func (n Node) Equal(other Node) bool {
	return bytes.Equal(Marshal(n), Marshal(other))
}

// Interface converts n back into plain Go values: nil, bool, json.Number,
// string, []any and map[string]any.
func (n Node) Interface() any {
	switch n.kind {
	case KindBool:
		return n.flag
	case KindNumber:
		return json.Number(n.text)
	case KindText:
		return n.text
	case KindSequence:
		out := make([]any, len(n.items))
		for i, it := range n.items {
			out[i] = it.Interface()
		}
		return out
	case KindMapping:
		out := make(map[string]any, len(n.keys))
		for _, k := range n.keys {
			out[k] = n.vals[k].Interface()
		}
		return out
	}
	return nil
}

// MarshalJSON implements json.Marshaler with the canonical encoding.
func (n Node) MarshalJSON() ([]byte, error) {
	return Marshal(n), nil
}

// UnmarshalJSON implements json.Unmarshaler. Numbers are decoded without
// passing through float64 so stored content round-trips exactly.
func (n *Node) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	*n = FromValue(v)
	return nil
}
