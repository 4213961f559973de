// Package jsondiff defines the JSON value model, the structural differencer and
// the change classifier used by jsonwatch. It is the public data contract:
// sinks, renderers and MCP consumers import it to read and replay changes.
//
// Values are a closed tagged union (null, bool, number, string, array,
// object) so the differencer never probes interface{} shapes at runtime.
// Objects keep document key order, which keeps diff output stable across runs.
package jsondiff

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"
)

// Kind is the JSON type of a Value.
type Kind uint8

const (
	KindInvalid Kind = iota // absent: no value at all (distinct from null)
	KindNull
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
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
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "invalid"
	}
}

// Member is one key/value pair of an object.
type Member struct {
	Key   string
	Value Value
}

// Value is an immutable JSON value. The zero Value is absent (KindInvalid).
type Value struct {
	kind Kind
	b    bool
	s    string // string contents or number literal
	arr  []Value
	obj  []Member
	idx  map[string]int
}

// Null returns the JSON null value.
func Null() Value { return Value{kind: KindNull} }

// Bool returns a JSON boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Num returns a JSON number from its literal text (e.g. "5", "7.25", "1e3").
func Num(lit string) Value { return Value{kind: KindNumber, s: lit} }

// Int returns a JSON number from an integer.
func Int(i int64) Value { return Num(strconv.FormatInt(i, 10)) }

// Float returns a JSON number from a float.
func Float(f float64) Value { return Num(strconv.FormatFloat(f, 'g', -1, 64)) }

// Str returns a JSON string.
func Str(s string) Value { return Value{kind: KindString, s: s} }

// Arr returns a JSON array holding elems.
func Arr(elems ...Value) Value {
	if elems == nil {
		elems = []Value{}
	}
	return Value{kind: KindArray, arr: elems}
}

// Obj returns a JSON object. Duplicate keys keep the first position and the
// last value, like encoding/json.
func Obj(members ...Member) Value {
	v := Value{kind: KindObject, obj: make([]Member, 0, len(members)), idx: make(map[string]int, len(members))}
	for _, m := range members {
		if i, ok := v.idx[m.Key]; ok {
			v.obj[i].Value = m.Value
			continue
		}
		v.idx[m.Key] = len(v.obj)
		v.obj = append(v.obj, m)
	}
	return v
}

// M is shorthand for building an object Member.
func M(key string, v Value) Member { return Member{Key: key, Value: v} }

// Kind reports the JSON type of v.
func (v Value) Kind() Kind { return v.kind }

// IsValid reports whether v holds a value (null included).
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// IsContainer reports whether v is an array or an object.
func (v Value) IsContainer() bool { return v.kind == KindArray || v.kind == KindObject }

// Truth returns the boolean payload; false for non-bool values.
func (v Value) Truth() bool { return v.kind == KindBool && v.b }

// Text returns the string contents, or the literal of a number.
func (v Value) Text() string {
	if v.kind == KindString || v.kind == KindNumber {
		return v.s
	}
	return ""
}

// Len returns the number of elements or members; 0 for scalars.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindObject:
		return len(v.obj)
	}
	return 0
}

// Index returns the i-th array element.
func (v Value) Index(i int) (Value, bool) {
	if v.kind != KindArray || i < 0 || i >= len(v.arr) {
		return Value{}, false
	}
	return v.arr[i], true
}

// Get returns the object member named key.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	i, ok := v.idx[key]
	if !ok {
		return Value{}, false
	}
	return v.obj[i].Value, true
}

// Members returns the object members in document order. The slice must not
// be modified.
func (v Value) Members() []Member {
	if v.kind != KindObject {
		return nil
	}
	return v.obj
}

// Elems returns the array elements. The slice must not be modified.
func (v Value) Elems() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.arr
}

// Keys returns the object keys in document order.
func (v Value) Keys() []string {
	keys := make([]string, 0, len(v.obj))
	for _, m := range v.obj {
		keys = append(keys, m.Key)
	}
	return keys
}

// At walks p from v.
func (v Value) At(p Path) (Value, bool) {
	cur := v
	for _, e := range p {
		var ok bool
		if e.IsIndex {
			cur, ok = cur.Index(e.Index)
		} else {
			cur, ok = cur.Get(e.Key)
		}
		if !ok {
			return Value{}, false
		}
	}
	return cur, cur.IsValid()
}

// Equal reports deep structural equality. Numbers compare by value, so 5
// equals 5.0; object member order is ignored.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindInvalid, KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindString:
		return a.s == b.s
	case KindNumber:
		return numbersEqual(a.s, b.s)
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.obj) != len(b.obj) {
			return false
		}
		for _, m := range a.obj {
			bv, ok := b.Get(m.Key)
			if !ok || !Equal(m.Value, bv) {
				return false
			}
		}
		return true
	}
	return false
}

func numbersEqual(x, y string) bool {
	if x == y {
		return true
	}
	rx, okx := new(big.Rat).SetString(x)
	ry, oky := new(big.Rat).SetString(y)
	return okx && oky && rx.Cmp(ry) == 0
}

// MaxDepth is the deepest container nesting Parse accepts, the same bound
// encoding/json applies.
const MaxDepth = 10000

// ErrTooDeep is returned by Parse for documents nested beyond MaxDepth.
var ErrTooDeep = errors.New("exceeded max depth")

// Parse decodes exactly one JSON value. Trailing data is an error.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec, 0)
	if err != nil {
		return Value{}, fmt.Errorf("jsondiff: parse: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Value{}, errors.New("jsondiff: parse: trailing data after JSON value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder, depth int) (Value, error) {
	tok, err := dec.Token()
	if err == io.EOF {
		return Value{}, errors.New("empty document")
	}
	if err != nil {
		return Value{}, err
	}

	switch t := tok.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Num(t.String()), nil
	case string:
		return Str(t), nil
	case json.Delim:
		if depth++; depth > MaxDepth {
			return Value{}, ErrTooDeep
		}
		switch t {
		case '{':
			var members []Member
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := kt.(string)
				if !ok {
					return Value{}, fmt.Errorf("object key is %T", kt)
				}
				val, err := decodeValue(dec, depth)
				if err != nil {
					return Value{}, err
				}
				members = append(members, M(key, val))
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Obj(members...), nil
		case '[':
			elems := []Value{}
			for dec.More() {
				val, err := decodeValue(dec, depth)
				if err != nil {
					return Value{}, err
				}
				elems = append(elems, val)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Arr(elems...), nil
		}
	}
	return Value{}, fmt.Errorf("unexpected token %v", tok)
}

// MustParse is Parse for literals in tests and examples. It panics on error.
func MustParse(s string) Value {
	v, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return v
}

// MarshalJSON encodes v with object key order preserved. Absent values
// encode as null.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes any JSON value into v.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindInvalid, KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		buf.WriteString(v.s)
	case KindString:
		return encodeString(buf, v.s)
	case KindArray:
		buf.WriteByte('[')
		for i, e := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := e.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, m := range v.obj {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, m.Key); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := m.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}

// String returns the raw textual form: string contents unquoted, scalars as
// their literal, containers as compact JSON.
func (v Value) String() string {
	switch v.kind {
	case KindInvalid:
		return ""
	case KindString:
		return v.s
	}
	data, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<%s>", v.kind)
	}
	return string(data)
}
