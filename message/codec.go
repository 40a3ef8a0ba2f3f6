package message

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the RawMessage schema.
const (
	rawTimestampField   protowire.Number = 1
	rawFromAddressField protowire.Number = 2
	rawToAddressField   protowire.Number = 3
	rawEncryptedField   protowire.Number = 4
	rawPayloadField     protowire.Number = 5
	rawIvField          protowire.Number = 6
	rawW3bField         protowire.Number = 7
)

// Field numbers of the SignedMessage schema.
const (
	signedRawField          protowire.Number = 1
	signedHashField         protowire.Number = 2
	signedNonceField        protowire.Number = 3
	signedSignatureField    protowire.Number = 4
	signedLastEdgeAddrField protowire.Number = 5
)

// ErrMalformed is returned when bytes cannot be decoded as a message.
var ErrMalformed = errors.New("malformed message encoding")

// Marshal encodes m canonically: fields in ascending number order, proto3
// scalars omitted when zero, optional fields emitted whenever non-nil.
// Identical field values always produce identical bytes.
func (m *RawMessage) Marshal() []byte {
	var b []byte
	b = appendVarintField(b, rawTimestampField, m.Timestamp)
	b = appendBytesField(b, rawFromAddressField, m.FromAddress)
	b = appendBytesField(b, rawToAddressField, m.ToAddress)
	if m.Encrypted {
		b = appendVarintField(b, rawEncryptedField, protowire.EncodeBool(true))
	}
	b = appendBytesField(b, rawPayloadField, m.Payload)
	b = appendOptionalBytesField(b, rawIvField, m.Iv)
	b = appendOptionalBytesField(b, rawW3bField, m.W3b)
	return b
}

// UnmarshalRawMessage decodes a RawMessage. Unknown fields are skipped.
func UnmarshalRawMessage(data []byte) (*RawMessage, error) {
	m := &RawMessage{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case rawTimestampField:
			return consumeVarint(typ, b, &m.Timestamp)
		case rawFromAddressField:
			return consumeBytes(typ, b, &m.FromAddress)
		case rawToAddressField:
			return consumeBytes(typ, b, &m.ToAddress)
		case rawEncryptedField:
			var v uint64
			n, err := consumeVarint(typ, b, &v)
			m.Encrypted = protowire.DecodeBool(v)
			return n, err
		case rawPayloadField:
			return consumeBytes(typ, b, &m.Payload)
		case rawIvField:
			return consumeBytes(typ, b, &m.Iv)
		case rawW3bField:
			return consumeBytes(typ, b, &m.W3b)
		default:
			return skipField(num, typ, b)
		}
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Marshal encodes m canonically.
func (m *SignedMessage) Marshal() []byte {
	var b []byte
	b = appendBytesField(b, signedRawField, m.Raw)
	b = appendBytesField(b, signedHashField, m.Hash)
	b = appendVarintField(b, signedNonceField, m.Nonce)
	b = appendBytesField(b, signedSignatureField, m.Signature)
	b = appendOptionalBytesField(b, signedLastEdgeAddrField, m.LastEdgeAddr)
	return b
}

// UnmarshalSignedMessage decodes a SignedMessage. Unknown fields are skipped.
func UnmarshalSignedMessage(data []byte) (*SignedMessage, error) {
	m := &SignedMessage{}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case signedRawField:
			return consumeBytes(typ, b, &m.Raw)
		case signedHashField:
			return consumeBytes(typ, b, &m.Hash)
		case signedNonceField:
			return consumeVarint(typ, b, &m.Nonce)
		case signedSignatureField:
			return consumeBytes(typ, b, &m.Signature)
		case signedLastEdgeAddrField:
			return consumeBytes(typ, b, &m.LastEdgeAddr)
		default:
			return skipField(num, typ, b)
		}
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendOptionalBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if v == nil {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// walkFields calls fn for every field in data. fn consumes the field value
// and returns the number of bytes it used.
func walkFields(data []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]

		m, err := fn(num, typ, data)
		if err != nil {
			return err
		}
		data = data[m:]
	}
	return nil
}

func consumeVarint(typ protowire.Type, b []byte, out *uint64) (int, error) {
	if typ != protowire.VarintType {
		return 0, fmt.Errorf("%w: expected varint, got wire type %d", ErrMalformed, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	*out = v
	return n, nil
}

func consumeBytes(typ protowire.Type, b []byte, out *[]byte) (int, error) {
	if typ != protowire.BytesType {
		return 0, fmt.Errorf("%w: expected bytes, got wire type %d", ErrMalformed, typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	*out = append([]byte{}, v...)
	return n, nil
}

func skipField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
	}
	return n, nil
}
