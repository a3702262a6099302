package wire

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
)

// Protobuf messages embed as typed values tagged with the message full
// name, with the serialized message as a single `data` field. This lets
// application payloads (topic messages, typed map values) ride the
// document codecs without a schema exchange.

const protoDataField = "data"

func ProtoValue(m proto.Message) (Value, error) {
	b, err := proto.Marshal(m)
	if err != nil {
		return Value{}, err
	}
	d := NewDocument()
	d.Append(protoDataField, BytesValue(b))
	return TypedValue(string(m.ProtoReflect().Descriptor().FullName()), d), nil
}

func RequireProtoValue(m proto.Message) Value {
	v, err := ProtoValue(m)
	if err != nil {
		panic(err)
	}
	return v
}

// AsProto reconstructs a typed value whose type literal names a message in
// the global registry.
func AsProto(v Value) (proto.Message, error) {
	if v.Kind != KindMarshallable {
		return nil, fmt.Errorf("not a typed value: %s", v.Kind)
	}
	mt, err := protoregistry.GlobalTypes.FindMessageByName(protoreflect.FullName(v.TypeName))
	if err != nil {
		return nil, fmt.Errorf("unknown message type %s: %w", v.TypeName, err)
	}
	data, ok := v.Doc.GetBytes(protoDataField)
	if !ok {
		return nil, fmt.Errorf("typed value %s has no data field", v.TypeName)
	}
	m := mt.New().Interface()
	if err := proto.Unmarshal(data, m); err != nil {
		return nil, err
	}
	return m, nil
}

// IsProtoValue reports whether the type literal resolves to a registered
// protobuf message.
func IsProtoValue(v Value) bool {
	if v.Kind != KindMarshallable {
		return false
	}
	_, err := protoregistry.GlobalTypes.FindMessageByName(protoreflect.FullName(v.TypeName))
	return err == nil
}
