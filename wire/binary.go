package wire

import (
	"encoding/binary"
	"fmt"
)

// BinaryWire is the production codec. Layout per field:
//
//	name   uvarint length + bytes
//	tag    1 byte (Kind)
//	value  fixed or uvarint-prefixed payload by kind
//
// Sequences encode their elements namelessly (tag + payload each). Typed
// values carry the type literal then the nested field list, length
// prefixed so unknown types can be skipped.
var BinaryWire Codec = &binaryWire{}

type binaryWire struct{}

func (self *binaryWire) Name() string {
	return "binary"
}

func (self *binaryWire) Encode(out []byte, d *Document) ([]byte, error) {
	var err error
	for _, f := range d.Fields {
		out = appendUvarintBytes(out, []byte(f.Name))
		out, err = appendValue(out, f.Value)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func appendValue(out []byte, v Value) ([]byte, error) {
	out = append(out, byte(v.Kind))
	switch v.Kind {
	case KindNull:
	case KindInt8:
		out = append(out, byte(v.Int))
	case KindInt16:
		out = binary.LittleEndian.AppendUint16(out, uint16(v.Int))
	case KindInt32:
		out = binary.LittleEndian.AppendUint32(out, uint32(v.Int))
	case KindInt64:
		out = binary.LittleEndian.AppendUint64(out, uint64(v.Int))
	case KindBool:
		if v.Bool {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
	case KindText:
		out = appendUvarintBytes(out, []byte(v.Text))
	case KindBytes:
		out = appendUvarintBytes(out, v.Bytes)
	case KindSequence:
		out = binary.AppendUvarint(out, uint64(len(v.Sequence)))
		var err error
		for _, e := range v.Sequence {
			out, err = appendValue(out, e)
			if err != nil {
				return nil, err
			}
		}
	case KindMarshallable:
		out = appendUvarintBytes(out, []byte(v.TypeName))
		nested := []byte{}
		var err error
		if v.Doc != nil {
			nested, err = BinaryWire.Encode(nested, v.Doc)
			if err != nil {
				return nil, err
			}
		}
		out = appendUvarintBytes(out, nested)
	default:
		return nil, fmt.Errorf("cannot encode kind: %s", v.Kind)
	}
	return out, nil
}

func appendUvarintBytes(out []byte, b []byte) []byte {
	out = binary.AppendUvarint(out, uint64(len(b)))
	return append(out, b...)
}

func (self *binaryWire) Decode(b []byte) (*Document, error) {
	d := NewDocument()
	r := &binaryReader{b: b}
	for !r.done() {
		name, err := r.readBytes()
		if err != nil {
			return nil, err
		}
		v, err := r.readValue()
		if err != nil {
			return nil, err
		}
		d.Append(string(name), v)
	}
	return d, nil
}

type binaryReader struct {
	b []byte
	i int
}

func (self *binaryReader) done() bool {
	return len(self.b) <= self.i
}

func (self *binaryReader) readByte() (byte, error) {
	if self.done() {
		return 0, fmt.Errorf("truncated document at %d", self.i)
	}
	c := self.b[self.i]
	self.i += 1
	return c, nil
}

func (self *binaryReader) readUvarint() (uint64, error) {
	v, n := binary.Uvarint(self.b[self.i:])
	if n <= 0 {
		return 0, fmt.Errorf("bad uvarint at %d", self.i)
	}
	self.i += n
	return v, nil
}

func (self *binaryReader) readN(n int) ([]byte, error) {
	if len(self.b) < self.i+n {
		return nil, fmt.Errorf("truncated document at %d", self.i)
	}
	out := self.b[self.i : self.i+n]
	self.i += n
	return out, nil
}

func (self *binaryReader) readBytes() ([]byte, error) {
	n, err := self.readUvarint()
	if err != nil {
		return nil, err
	}
	if uint64(len(self.b)-self.i) < n {
		return nil, fmt.Errorf("bad length %d at %d", n, self.i)
	}
	return self.readN(int(n))
}

func (self *binaryReader) readValue() (Value, error) {
	tag, err := self.readByte()
	if err != nil {
		return Value{}, err
	}
	switch Kind(tag) {
	case KindNull:
		return NullValue(), nil
	case KindInt8:
		c, err := self.readByte()
		if err != nil {
			return Value{}, err
		}
		return Int8Value(int8(c)), nil
	case KindInt16:
		b, err := self.readN(2)
		if err != nil {
			return Value{}, err
		}
		return Int16Value(int16(binary.LittleEndian.Uint16(b))), nil
	case KindInt32:
		b, err := self.readN(4)
		if err != nil {
			return Value{}, err
		}
		return Int32Value(int32(binary.LittleEndian.Uint32(b))), nil
	case KindInt64:
		b, err := self.readN(8)
		if err != nil {
			return Value{}, err
		}
		return Int64Value(int64(binary.LittleEndian.Uint64(b))), nil
	case KindBool:
		c, err := self.readByte()
		if err != nil {
			return Value{}, err
		}
		return BoolValue(c != 0), nil
	case KindText:
		b, err := self.readBytes()
		if err != nil {
			return Value{}, err
		}
		return TextValue(string(b)), nil
	case KindBytes:
		b, err := self.readBytes()
		if err != nil {
			return Value{}, err
		}
		out := make([]byte, len(b))
		copy(out, b)
		return BytesValue(out), nil
	case KindSequence:
		n, err := self.readUvarint()
		if err != nil {
			return Value{}, err
		}
		elements := make([]Value, 0, n)
		for j := uint64(0); j < n; j += 1 {
			e, err := self.readValue()
			if err != nil {
				return Value{}, err
			}
			elements = append(elements, e)
		}
		return SequenceValue(elements...), nil
	case KindMarshallable:
		typeName, err := self.readBytes()
		if err != nil {
			return Value{}, err
		}
		nested, err := self.readBytes()
		if err != nil {
			return Value{}, err
		}
		nestedDoc, err := BinaryWire.Decode(nested)
		if err != nil {
			return Value{}, err
		}
		return TypedValue(string(typeName), nestedDoc), nil
	}
	return Value{}, fmt.Errorf("unknown value tag: %d", tag)
}
