package protocol

import (
	"bytes"
	"fmt"

	"github.com/rflandau/tandem/tandem/protocol/mt"
	"github.com/rflandau/tandem/tandem/protocol/version"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the binary envelope.
// They mirror the order of the JSON short names.
const (
	fieldVersion    protowire.Number = 1
	fieldType       protowire.Number = 2
	fieldFrom       protowire.Number = 3
	fieldTo         protowire.Number = 4
	fieldID         protowire.Number = 5
	fieldReliable   protowire.Number = 6
	fieldRemaining  protowire.Number = 7
	fieldSentAt     protowire.Number = 8
	fieldPayload    protowire.Number = 9
	fieldAppKey     protowire.Number = 10
	fieldPrivateKey protowire.Number = 11
)

// binaryCodec frames the envelope as protobuf wire-format fields and packs the payload with MessagePack.
// Payload field names match the JSON codec so the two stay interchangeable at the struct level.
type binaryCodec struct{}

func (binaryCodec) Name() string { return "binary" }

func (binaryCodec) Marshal(env *Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	var pbuf bytes.Buffer
	enc := msgpack.NewEncoder(&pbuf)
	enc.SetCustomStructTag("json")
	enc.UseCompactInts(true)
	if err := enc.Encode(env.Payload); err != nil {
		return nil, fmt.Errorf("failed to encode %v payload: %w", env.Type, err)
	}

	b := make([]byte, 0, 64+pbuf.Len())
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(env.Version.Byte()))
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(env.Type))
	b = appendString(b, fieldFrom, fromString(env.From))
	b = appendString(b, fieldTo, env.To)
	b = appendString(b, fieldID, env.ID)
	if env.Reliable {
		b = protowire.AppendTag(b, fieldReliable, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	if env.RemainingTargets != 0 {
		b = protowire.AppendTag(b, fieldRemaining, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(env.RemainingTargets))
	}
	if ms := toUnixMilli(env.SentAt); ms != 0 {
		b = protowire.AppendTag(b, fieldSentAt, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(ms))
	}
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, pbuf.Bytes())
	b = appendString(b, fieldAppKey, env.AppKey)
	b = appendString(b, fieldPrivateKey, env.PrivateKey)
	return b, nil
}

// appendString appends a length-delimited field, omitting it if s is empty.
func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// walk calls fn for each field in b.
// fn receives the raw varint value for varint fields and the raw bytes for length-delimited fields.
// Unknown fields are skipped.
func walk(b []byte, fn func(num protowire.Number, v uint64, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrTruncated, protowire.ParseError(n))
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrTruncated, protowire.ParseError(n))
			}
			b = b[n:]
			if err := fn(num, v, nil); err != nil {
				return err
			}
		case protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrTruncated, protowire.ParseError(n))
			}
			b = b[n:]
			if err := fn(num, 0, raw); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrTruncated, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return nil
}

func (binaryCodec) Unmarshal(b []byte) (*Envelope, error) {
	var (
		env     = &Envelope{}
		payload []byte
		hasP    bool
	)
	err := walk(b, func(num protowire.Number, v uint64, raw []byte) (err error) {
		switch num {
		case fieldVersion:
			env.Version = version.FromByte(byte(v))
		case fieldType:
			env.Type = mt.MessageType(v)
		case fieldFrom:
			env.From, err = parseFrom(string(raw))
		case fieldTo:
			env.To = string(raw)
		case fieldID:
			env.ID = string(raw)
		case fieldReliable:
			env.Reliable = protowire.DecodeBool(v)
		case fieldRemaining:
			env.RemainingTargets = uint32(v)
		case fieldSentAt:
			env.SentAt = unixMilli(protowire.DecodeZigZag(v))
		case fieldPayload:
			payload, hasP = raw, true
		case fieldAppKey:
			env.AppKey = string(raw)
		case fieldPrivateKey:
			env.PrivateKey = string(raw)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if !Supported.Supports(env.Version) {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedVersion, env.Version)
	}
	if !hasP {
		return nil, ErrNilPayload
	}
	env.Payload, err = decodePayload(env.Type, func(v any) error {
		dec := msgpack.NewDecoder(bytes.NewReader(payload))
		dec.SetCustomStructTag("json")
		return dec.Decode(v)
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

func (binaryCodec) Peek(b []byte) (Header, error) {
	var h Header
	err := walk(b, func(num protowire.Number, v uint64, raw []byte) (err error) {
		switch num {
		case fieldVersion:
			h.Version = version.FromByte(byte(v))
		case fieldType:
			h.Type = mt.MessageType(v)
		case fieldFrom:
			h.From, err = parseFrom(string(raw))
		case fieldAppKey:
			h.AppKey = string(raw)
		case fieldPrivateKey:
			h.PrivateKey = string(raw)
		}
		return err
	})
	return h, err
}
