package canonical

import (
	"bytes"
	"encoding"
	"encoding/base64"
	"encoding/json"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
)

var (
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

// Canonicalize returns the canonical form of v. It never fails: values with
// no JSON representation (channels, funcs, complex numbers) become Null and
// non-finite floats become Text.
func Canonicalize(v any) Node { return FromValue(v) }

// Encode is shorthand for Marshal(Canonicalize(v)).
func Encode(v any) []byte { return Marshal(FromValue(v)) }

// FromValue converts an arbitrary Go value into a Node.
func FromValue(v any) Node {
	switch x := v.(type) {
	case nil:
		return Null()
	case Node:
		return x
	case *Node:
		if x == nil {
			return Null()
		}
		return *x
	case bool:
		return Bool(x)
	case string:
		return Text(x)
	case json.Number:
		return Number(string(x))
	case json.RawMessage:
		var n Node
		if err := n.UnmarshalJSON(x); err != nil {
			return Null()
		}
		return n
	case float64:
		return floatNode(x, 64)
	case float32:
		return floatNode(float64(x), 32)
	case int:
		return Node{kind: KindNumber, text: strconv.FormatInt(int64(x), 10)}
	case int64:
		return Node{kind: KindNumber, text: strconv.FormatInt(x, 10)}
	case int32:
		return Node{kind: KindNumber, text: strconv.FormatInt(int64(x), 10)}
	case uint64:
		return Node{kind: KindNumber, text: strconv.FormatUint(x, 10)}
	case []any:
		if x == nil {
			return Null()
		}
		items := make([]Node, len(x))
		for i, it := range x {
			items[i] = FromValue(it)
		}
		return Node{kind: KindSequence, items: items}
	case map[string]any:
		if x == nil {
			return Null()
		}
		m := make(map[string]Node, len(x))
		for k, it := range x {
			m[k] = FromValue(it)
		}
		return Mapping(m)
	}
	return fromReflect(reflect.ValueOf(v))
}

func fromReflect(rv reflect.Value) Node {
	if !rv.IsValid() {
		return Null()
	}
	t := rv.Type()
	if t.Implements(jsonMarshalerType) || t.Implements(textMarshalerType) {
		if (rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface) && rv.IsNil() {
			return Null()
		}
		return viaJSON(rv.Interface())
	}
	if rv.Kind() != reflect.Pointer && rv.CanAddr() && reflect.PointerTo(t).Implements(jsonMarshalerType) {
		return viaJSON(rv.Addr().Interface())
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null()
		}
		return fromElem(rv.Elem())
	case reflect.Bool:
		return Bool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Node{kind: KindNumber, text: strconv.FormatInt(rv.Int(), 10)}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Node{kind: KindNumber, text: strconv.FormatUint(rv.Uint(), 10)}
	case reflect.Float32:
		return floatNode(rv.Float(), 32)
	case reflect.Float64:
		return floatNode(rv.Float(), 64)
	case reflect.String:
		return Text(rv.String())
	case reflect.Slice:
		if rv.IsNil() {
			return Null()
		}
		if t.Elem().Kind() == reflect.Uint8 && !t.Elem().Implements(jsonMarshalerType) && !t.Elem().Implements(textMarshalerType) {
			return Text(base64.StdEncoding.EncodeToString(rv.Bytes()))
		}
		return sequenceOf(rv)
	case reflect.Array:
		return sequenceOf(rv)
	case reflect.Map:
		if rv.IsNil() {
			return Null()
		}
		return mappingOf(rv)
	case reflect.Struct:
		if !rv.CanInterface() {
			return Null()
		}
		if n, ok := tryJSON(rv.Interface()); ok {
			return n
		}
		// encoding/json rejects the whole struct for one NaN or chan field.
		m := map[string]Node{}
		structFields(rv, m)
		return Mapping(m)
	}
	// Chan, Func, Complex, UnsafePointer: outside the JSON domain.
	return Null()
}

// fromElem routes interfaceable values back through FromValue so nested
// Nodes and the common concrete types take the direct path.
func fromElem(rv reflect.Value) Node {
	if rv.IsValid() && rv.CanInterface() {
		return FromValue(rv.Interface())
	}
	return fromReflect(rv)
}

func sequenceOf(rv reflect.Value) Node {
	items := make([]Node, rv.Len())
	for i := range items {
		items[i] = fromElem(rv.Index(i))
	}
	return Node{kind: KindSequence, items: items}
}

func mappingOf(rv reflect.Value) Node {
	m := make(map[string]Node, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		key, ok := mapKey(iter.Key())
		if !ok {
			return viaJSON(rv.Interface())
		}
		m[key] = fromElem(iter.Value())
	}
	return Mapping(m)
}

// mapKey renders a map key the way encoding/json does.
func mapKey(k reflect.Value) (string, bool) {
	if k.Kind() == reflect.String {
		return k.String(), true
	}
	if tm, ok := k.Interface().(encoding.TextMarshaler); ok {
		if k.Kind() == reflect.Pointer && k.IsNil() {
			return "", true
		}
		b, err := tm.MarshalText()
		if err != nil {
			return "", false
		}
		return string(b), true
	}
	switch k.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(k.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(k.Uint(), 10), true
	}
	return "", false
}

// viaJSON lets encoding/json apply struct tags and custom marshalers, then
// canonicalises the decoded result. Marshal failures yield Null.
func viaJSON(v any) Node {
	n, _ := tryJSON(v)
	return n
}

func tryJSON(v any) (Node, bool) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Null(), false
	}
	var n Node
	if err := n.UnmarshalJSON(raw); err != nil {
		return Null(), false
	}
	return n, true
}

// structFields walks the exported fields of rv into m using the json tag
// name and omitempty rules. Untagged embedded structs are inlined, with
// outer fields taking precedence.
func structFields(rv reflect.Value, m map[string]Node) {
	t := rv.Type()
	var promoted []reflect.Value
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		fv := rv.Field(i)

		if f.Anonymous && name == "" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				if fv.Kind() == reflect.Pointer {
					if fv.IsNil() {
						continue
					}
					fv = fv.Elem()
				}
				promoted = append(promoted, fv)
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if hasOption(opts, "omitempty") && isEmptyValue(fv) {
			continue
		}
		m[name] = fromElem(fv)
	}
	for _, ev := range promoted {
		inner := map[string]Node{}
		structFields(ev, inner)
		for k, v := range inner {
			if _, taken := m[k]; !taken {
				m[k] = v
			}
		}
	}
}

func hasOption(opts, want string) bool {
	for opts != "" {
		var o string
		o, opts, _ = strings.Cut(opts, ",")
		if o == want {
			return true
		}
	}
	return false
}

// isEmptyValue mirrors the omitempty test of encoding/json.
func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	}
	return false
}

func floatNode(f float64, bits int) Node {
	switch {
	case math.IsNaN(f):
		return Text("NaN")
	case math.IsInf(f, 1):
		return Text("+Inf")
	case math.IsInf(f, -1):
		return Text("-Inf")
	}
	return Node{kind: KindNumber, text: formatFloat(f, bits)}
}

// formatFloat prints integral values as plain digits and everything else in
// the shortest form that round-trips.
func formatFloat(f float64, bits int) string {
	if f == 0 {
		return "0"
	}
	if f == math.Trunc(f) {
		return strconv.FormatFloat(f, 'f', -1, bits)
	}
	return strconv.FormatFloat(f, 'g', -1, bits)
}

func normalizeNumber(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(i, 10), true
	}
	if u, err := strconv.ParseUint(s, 10, 64); err == nil {
		return strconv.FormatUint(u, 10), true
	}
	if bi, ok := new(big.Int).SetString(s, 10); ok {
		return bi.String(), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return "", false
	}
	return formatFloat(f, 64), true
}

// Marshal writes n as compact JSON with sorted keys and no HTML escaping.
func Marshal(n Node) []byte {
	var buf bytes.Buffer
	writeNode(&buf, n)
	return buf.Bytes()
}

func writeNode(buf *bytes.Buffer, n Node) {
	switch n.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if n.flag {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindNumber:
		buf.WriteString(n.text)
	case KindText:
		writeString(buf, n.text)
	case KindSequence:
		buf.WriteByte('[')
		for i, it := range n.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeNode(buf, it)
		}
		buf.WriteByte(']')
	case KindMapping:
		buf.WriteByte('{')
		for i, k := range n.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, k)
			buf.WriteByte(':')
			writeNode(buf, n.vals[k])
		}
		buf.WriteByte('}')
	}
}

func writeString(buf *bytes.Buffer, s string) {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	// Encoding a string cannot fail.
	_ = enc.Encode(s)
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'}))
}

// Patch returns base with the given keys replaced. A nil value stores null
// rather than deleting the key. A non-mapping base is replaced by changes.
func Patch(base Node, changes map[string]any) Node {
	m := make(map[string]Node, base.Len()+len(changes))
	if base.kind == KindMapping {
		for _, k := range base.keys {
			m[k] = base.vals[k]
		}
	}
	for k, v := range changes {
		m[k] = FromValue(v)
	}
	return Mapping(m)
}
