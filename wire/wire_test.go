package wire

import (
	"testing"

	"github.com/go-playground/assert/v2"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

func testDocument() *Document {
	nested := NewDocument()
	nested.Append("identifier", Int8Value(2))
	nested.Append("lastUpdatedTime", Int64Value(1234567890123))

	d := NewDocument()
	d.Append("put", NullValue())
	d.Append("key", BytesValue([]byte{0x01, 0x02, 0x03}))
	d.Append("value", BytesValue([]byte("hello")))
	d.Append("tid", Int64Value(170000000000001))
	d.Append("count", Int32Value(-7))
	d.Append("flag", BoolValue(true))
	d.Append("csp", TextValue("/m?view=map&keyType=bytes"))
	d.Append("parts", SequenceValue(Int64Value(1), TextValue("two"), BoolValue(false)))
	d.Append("bootstrap", TypedValue("Bootstrap", nested))
	return d
}

func assertDocumentEqual(t *testing.T, a *Document, b *Document) {
	assert.Equal(t, len(a.Fields), len(b.Fields))
	for i := range a.Fields {
		assert.Equal(t, a.Fields[i].Name, b.Fields[i].Name)
		assertValueEqual(t, a.Fields[i].Value, b.Fields[i].Value)
	}
}

func assertValueEqual(t *testing.T, a Value, b Value) {
	assert.Equal(t, a.Kind, b.Kind)
	switch a.Kind {
	case KindMarshallable:
		assert.Equal(t, a.TypeName, b.TypeName)
		assertDocumentEqual(t, a.Doc, b.Doc)
	case KindSequence:
		assert.Equal(t, len(a.Sequence), len(b.Sequence))
		for i := range a.Sequence {
			assertValueEqual(t, a.Sequence[i], b.Sequence[i])
		}
	case KindBytes:
		assert.Equal(t, a.Bytes, b.Bytes)
	case KindText:
		assert.Equal(t, a.Text, b.Text)
	case KindBool:
		assert.Equal(t, a.Bool, b.Bool)
	default:
		assert.Equal(t, a.Int, b.Int)
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	d := testDocument()
	b, err := BinaryWire.Encode(nil, d)
	assert.Equal(t, err, nil)

	out, err := BinaryWire.Decode(b)
	assert.Equal(t, err, nil)
	assertDocumentEqual(t, d, out)
}

func TestTextRoundTrip(t *testing.T) {
	d := testDocument()
	b, err := TextWire.Encode(nil, d)
	assert.Equal(t, err, nil)

	out, err := TextWire.Decode(b)
	assert.Equal(t, err, nil)
	assertDocumentEqual(t, d, out)
}

func TestTextEmptyTypedValue(t *testing.T) {
	d := NewDocument()
	d.Append("reply", TypedValue("Empty", NewDocument()))
	b, err := TextWire.Encode(nil, d)
	assert.Equal(t, err, nil)

	out, err := TextWire.Decode(b)
	assert.Equal(t, err, nil)
	v, ok := out.Get("reply")
	assert.Equal(t, ok, true)
	assert.Equal(t, v.TypeName, "Empty")
}

func TestHeaderBits(t *testing.T) {
	b := make([]byte, HeaderSize)

	err := EncodeHeader(b, 100, true, true)
	assert.Equal(t, err, nil)
	length, meta, ready := DecodeHeader(b)
	assert.Equal(t, length, 100)
	assert.Equal(t, meta, true)
	assert.Equal(t, ready, true)

	err = EncodeHeader(b, MaxDocumentLength, false, false)
	assert.Equal(t, err, nil)
	length, meta, ready = DecodeHeader(b)
	assert.Equal(t, length, MaxDocumentLength)
	assert.Equal(t, meta, false)
	assert.Equal(t, ready, false)

	err = EncodeHeader(b, MaxDocumentLength+1, false, false)
	assert.NotEqual(t, err, nil)
}

func TestCodecByName(t *testing.T) {
	c, ok := CodecByName("binary")
	assert.Equal(t, ok, true)
	assert.Equal(t, c.Name(), "binary")

	c, ok = CodecByName("text")
	assert.Equal(t, ok, true)
	assert.Equal(t, c.Name(), "text")

	_, ok = CodecByName("json")
	assert.Equal(t, ok, false)
}

func TestProtoValue(t *testing.T) {
	v, err := ProtoValue(wrapperspb.String("payload"))
	assert.Equal(t, err, nil)
	assert.Equal(t, v.Kind, KindMarshallable)
	assert.Equal(t, v.TypeName, "google.protobuf.StringValue")
	assert.Equal(t, IsProtoValue(v), true)

	// survives a binary round trip
	d := NewDocument()
	d.Append("message", v)
	b, err := BinaryWire.Encode(nil, d)
	assert.Equal(t, err, nil)
	out, err := BinaryWire.Decode(b)
	assert.Equal(t, err, nil)

	rv, ok := out.Get("message")
	assert.Equal(t, ok, true)
	m, err := AsProto(rv)
	assert.Equal(t, err, nil)
	assert.Equal(t, m.(*wrapperspb.StringValue).Value, "payload")
}

type fixture struct {
	A int64
	B string
}

func (self *fixture) TypeName() string {
	return "Fixture"
}

func (self *fixture) MarshalWire(d *Document) {
	d.Append("a", Int64Value(self.A))
	d.Append("b", TextValue(self.B))
}

func (self *fixture) UnmarshalWire(d *Document) error {
	self.A, _ = d.GetInt64("a")
	self.B, _ = d.GetText("b")
	return nil
}

func TestMarshallableRegistry(t *testing.T) {
	Register("Fixture", func() Marshallable {
		return &fixture{}
	})

	v := MarshalValue(&fixture{A: 42, B: "x"})
	m, err := UnmarshalValue(v)
	assert.Equal(t, err, nil)
	assert.Equal(t, m.(*fixture).A, int64(42))
	assert.Equal(t, m.(*fixture).B, "x")
}
