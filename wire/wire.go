package wire

import (
	"fmt"
	"sync"
)

// Self-describing document model shared by the text and binary codecs.
// A document is an ordered list of (eventName, value) fields. The first
// field of a data document is the operation; the remaining fields are its
// parameters. Values are typed and may nest further documents.

type Kind uint8

const (
	KindNull Kind = iota
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindBool
	KindText
	KindBytes
	KindSequence
	KindMarshallable
)

func (self Kind) String() string {
	switch self {
	case KindNull:
		return "null"
	case KindInt8:
		return "int8"
	case KindInt16:
		return "int16"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindBool:
		return "bool"
	case KindText:
		return "text"
	case KindBytes:
		return "bytes"
	case KindSequence:
		return "sequence"
	case KindMarshallable:
		return "marshallable"
	}
	return fmt.Sprintf("kind(%d)", uint8(self))
}

type Value struct {
	Kind     Kind
	Int      int64
	Bool     bool
	Text     string
	Bytes    []byte
	TypeName string
	Doc      *Document
	Sequence []Value
}

func NullValue() Value {
	return Value{Kind: KindNull}
}

func Int8Value(v int8) Value {
	return Value{Kind: KindInt8, Int: int64(v)}
}

func Int16Value(v int16) Value {
	return Value{Kind: KindInt16, Int: int64(v)}
}

func Int32Value(v int32) Value {
	return Value{Kind: KindInt32, Int: int64(v)}
}

func Int64Value(v int64) Value {
	return Value{Kind: KindInt64, Int: v}
}

func BoolValue(v bool) Value {
	return Value{Kind: KindBool, Bool: v}
}

func TextValue(v string) Value {
	return Value{Kind: KindText, Text: v}
}

func BytesValue(v []byte) Value {
	return Value{Kind: KindBytes, Bytes: v}
}

func SequenceValue(vs ...Value) Value {
	return Value{Kind: KindSequence, Sequence: vs}
}

func TypedValue(typeName string, d *Document) Value {
	return Value{Kind: KindMarshallable, TypeName: typeName, Doc: d}
}

func (self Value) IsNull() bool {
	return self.Kind == KindNull
}

type Field struct {
	Name  string
	Value Value
}

type Document struct {
	Fields []Field
}

func NewDocument() *Document {
	return &Document{}
}

func (self *Document) Append(name string, v Value) *Document {
	self.Fields = append(self.Fields, Field{Name: name, Value: v})
	return self
}

func (self *Document) IsEmpty() bool {
	return self == nil || len(self.Fields) == 0
}

// First returns the leading field, which for a data document is the
// operation name and its argument.
func (self *Document) First() (string, Value, bool) {
	if self.IsEmpty() {
		return "", Value{}, false
	}
	f := self.Fields[0]
	return f.Name, f.Value, true
}

func (self *Document) Get(name string) (Value, bool) {
	if self == nil {
		return Value{}, false
	}
	for _, f := range self.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

func (self *Document) GetInt64(name string) (int64, bool) {
	v, ok := self.Get(name)
	if !ok {
		return 0, false
	}
	switch v.Kind {
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return v.Int, true
	}
	return 0, false
}

func (self *Document) GetBool(name string) (bool, bool) {
	v, ok := self.Get(name)
	if !ok || v.Kind != KindBool {
		return false, false
	}
	return v.Bool, true
}

func (self *Document) GetText(name string) (string, bool) {
	v, ok := self.Get(name)
	if !ok || v.Kind != KindText {
		return "", false
	}
	return v.Text, true
}

func (self *Document) GetBytes(name string) ([]byte, bool) {
	v, ok := self.Get(name)
	if !ok || v.Kind != KindBytes {
		return nil, false
	}
	return v.Bytes, true
}

// Marshallable is a first-class wire type. It is embedded in a document as
// a typed value tagged with its type literal, so the receiving side can
// reconstruct it without out-of-band schema.
type Marshallable interface {
	TypeName() string
	MarshalWire(d *Document)
	UnmarshalWire(d *Document) error
}

func MarshalValue(m Marshallable) Value {
	d := NewDocument()
	m.MarshalWire(d)
	return TypedValue(m.TypeName(), d)
}

var typeRegistry = struct {
	mutex sync.Mutex
	types map[string]func() Marshallable
}{
	types: map[string]func() Marshallable{},
}

// Register binds a type literal to a constructor so typed values can be
// unmarshalled by name. Registration of a duplicate name panics; types are
// wiring-time singletons.
func Register(name string, newFn func() Marshallable) {
	typeRegistry.mutex.Lock()
	defer typeRegistry.mutex.Unlock()

	if _, ok := typeRegistry.types[name]; ok {
		panic(fmt.Sprintf("wire type already registered: %s", name))
	}
	typeRegistry.types[name] = newFn
}

func UnmarshalValue(v Value) (Marshallable, error) {
	if v.Kind != KindMarshallable {
		return nil, fmt.Errorf("not a typed value: %s", v.Kind)
	}
	typeRegistry.mutex.Lock()
	newFn, ok := typeRegistry.types[v.TypeName]
	typeRegistry.mutex.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown wire type: %s", v.TypeName)
	}
	m := newFn()
	if err := m.UnmarshalWire(v.Doc); err != nil {
		return nil, err
	}
	return m, nil
}

// Codec encodes document payloads. The framing header is not part of the
// codec; see header.go.
type Codec interface {
	Name() string
	Encode(out []byte, d *Document) ([]byte, error)
	Decode(b []byte) (*Document, error)
}

func CodecByName(name string) (Codec, bool) {
	switch name {
	case "binary":
		return BinaryWire, true
	case "text":
		return TextWire, true
	}
	return nil, false
}
