package wire

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// TextWire is the debug codec, a YAML-like flow form. One field per line at
// the top level; nested documents in braces. The rendering is stable so
// logs can be diffed.
//
//	put: ~
//	key: !binary YQ==
//	value: !binary AQI=
//	reply: !set-proxy { csp: "/m?view=keySet", cid: 5 }
var TextWire Codec = &textWire{}

type textWire struct{}

func (self *textWire) Name() string {
	return "text"
}

func (self *textWire) Encode(out []byte, d *Document) ([]byte, error) {
	var err error
	for _, f := range d.Fields {
		out = append(out, f.Name...)
		out = append(out, colonSpace...)
		out, err = appendTextValue(out, f.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, '\n')
	}
	return out, nil
}

var colonSpace = []byte(": ")

func appendTextValue(out []byte, v Value) ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return append(out, '~'), nil
	case KindInt8:
		out = append(out, "!int8 "...)
		return strconv.AppendInt(out, v.Int, 10), nil
	case KindInt16:
		out = append(out, "!int16 "...)
		return strconv.AppendInt(out, v.Int, 10), nil
	case KindInt32:
		out = append(out, "!int32 "...)
		return strconv.AppendInt(out, v.Int, 10), nil
	case KindInt64:
		return strconv.AppendInt(out, v.Int, 10), nil
	case KindBool:
		return strconv.AppendBool(out, v.Bool), nil
	case KindText:
		return strconv.AppendQuote(out, v.Text), nil
	case KindBytes:
		out = append(out, "!binary "...)
		return append(out, base64.StdEncoding.EncodeToString(v.Bytes)...), nil
	case KindSequence:
		out = append(out, '[')
		var err error
		for i, e := range v.Sequence {
			if 0 < i {
				out = append(out, ", "...)
			}
			out, err = appendTextValue(out, e)
			if err != nil {
				return nil, err
			}
		}
		return append(out, ']'), nil
	case KindMarshallable:
		out = append(out, '!')
		out = append(out, v.TypeName...)
		out = append(out, ' ')
		return appendTextDocument(out, v.Doc)
	}
	return nil, fmt.Errorf("cannot encode kind: %s", v.Kind)
}

func appendTextDocument(out []byte, d *Document) ([]byte, error) {
	out = append(out, '{')
	var err error
	if d != nil {
		for i, f := range d.Fields {
			if 0 < i {
				out = append(out, ',')
			}
			out = append(out, ' ')
			out = append(out, f.Name...)
			out = append(out, colonSpace...)
			out, err = appendTextValue(out, f.Value)
			if err != nil {
				return nil, err
			}
		}
	}
	return append(out, " }"...), nil
}

func (self *textWire) Decode(b []byte) (*Document, error) {
	p := &textParser{s: string(b)}
	d := NewDocument()
	for {
		p.skipSpace()
		if p.done() {
			return d, nil
		}
		name, err := p.readName()
		if err != nil {
			return nil, err
		}
		v, err := p.readValue()
		if err != nil {
			return nil, err
		}
		d.Append(name, v)
	}
}

type textParser struct {
	s string
	i int
}

func (self *textParser) done() bool {
	return len(self.s) <= self.i
}

func (self *textParser) peek() byte {
	return self.s[self.i]
}

func (self *textParser) skipSpace() {
	for !self.done() {
		switch self.peek() {
		case ' ', '\t', '\n', '\r':
			self.i += 1
		default:
			return
		}
	}
}

func (self *textParser) readName() (string, error) {
	start := self.i
	for !self.done() && self.peek() != ':' {
		c := self.peek()
		if c == '\n' || c == '{' || c == '}' {
			return "", fmt.Errorf("bad field name at %d", start)
		}
		self.i += 1
	}
	if self.done() {
		return "", fmt.Errorf("missing ':' after %q", self.s[start:])
	}
	name := strings.TrimSpace(self.s[start:self.i])
	self.i += 1
	return name, nil
}

func (self *textParser) readToken() string {
	start := self.i
	for !self.done() {
		switch self.peek() {
		case ' ', '\t', '\n', '\r', ',', ']', '}':
			return self.s[start:self.i]
		}
		self.i += 1
	}
	return self.s[start:]
}

func (self *textParser) readValue() (Value, error) {
	self.skipInlineSpace()
	if self.done() {
		return Value{}, fmt.Errorf("missing value at %d", self.i)
	}
	switch c := self.peek(); {
	case c == '~':
		self.i += 1
		return NullValue(), nil
	case c == '"':
		rest := self.s[self.i:]
		text, err := strconv.QuotedPrefix(rest)
		if err != nil {
			return Value{}, fmt.Errorf("bad text at %d: %w", self.i, err)
		}
		self.i += len(text)
		unquoted, err := strconv.Unquote(text)
		if err != nil {
			return Value{}, err
		}
		return TextValue(unquoted), nil
	case c == '[':
		self.i += 1
		elements := []Value{}
		for {
			self.skipSpace()
			if self.done() {
				return Value{}, fmt.Errorf("unterminated sequence")
			}
			if self.peek() == ']' {
				self.i += 1
				return SequenceValue(elements...), nil
			}
			if self.peek() == ',' {
				self.i += 1
				continue
			}
			e, err := self.readValue()
			if err != nil {
				return Value{}, err
			}
			elements = append(elements, e)
		}
	case c == '!':
		self.i += 1
		tag := self.readToken()
		switch tag {
		case "int8", "int16", "int32":
			self.skipInlineSpace()
			n, err := strconv.ParseInt(self.readToken(), 10, 64)
			if err != nil {
				return Value{}, err
			}
			switch tag {
			case "int8":
				return Int8Value(int8(n)), nil
			case "int16":
				return Int16Value(int16(n)), nil
			}
			return Int32Value(int32(n)), nil
		case "binary":
			self.skipInlineSpace()
			b, err := base64.StdEncoding.DecodeString(self.readToken())
			if err != nil {
				return Value{}, err
			}
			return BytesValue(b), nil
		default:
			// a type literal, followed by a nested document
			self.skipInlineSpace()
			d, err := self.readInlineDocument()
			if err != nil {
				return Value{}, err
			}
			return TypedValue(tag, d), nil
		}
	case c == 't' || c == 'f':
		v, err := strconv.ParseBool(self.readToken())
		if err != nil {
			return Value{}, err
		}
		return BoolValue(v), nil
	default:
		n, err := strconv.ParseInt(self.readToken(), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("bad value at %d: %w", self.i, err)
		}
		return Int64Value(n), nil
	}
}

func (self *textParser) skipInlineSpace() {
	for !self.done() {
		switch self.peek() {
		case ' ', '\t':
			self.i += 1
		default:
			return
		}
	}
}

func (self *textParser) readInlineDocument() (*Document, error) {
	if self.done() || self.peek() != '{' {
		return nil, fmt.Errorf("missing '{' at %d", self.i)
	}
	self.i += 1
	d := NewDocument()
	for {
		self.skipSpace()
		if self.done() {
			return nil, fmt.Errorf("unterminated document")
		}
		switch self.peek() {
		case '}':
			self.i += 1
			return d, nil
		case ',':
			self.i += 1
			continue
		}
		name, err := self.readName()
		if err != nil {
			return nil, err
		}
		v, err := self.readValue()
		if err != nil {
			return nil, err
		}
		d.Append(name, v)
	}
}
