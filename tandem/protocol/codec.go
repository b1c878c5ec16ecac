package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rflandau/tandem/tandem/protocol/mt"
	"github.com/rflandau/tandem/tandem/protocol/version"
)

// A Codec moves envelopes on and off the wire.
// Peers must agree on a codec; a datagram in the wrong encoding fails to peek and is dropped.
type Codec interface {
	// Name is the identifier used in configuration.
	Name() string
	// Marshal validates and encodes env.
	Marshal(env *Envelope) ([]byte, error)
	// Unmarshal decodes and validates a full envelope, payload included.
	Unmarshal(b []byte) (*Envelope, error)
	// Peek decodes only the fields needed to gate a datagram.
	// It must be safe to call from the receive goroutine.
	Peek(b []byte) (Header, error)
}

var (
	JSON   Codec = jsonCodec{}
	Binary Codec = binaryCodec{}
)

// CodecByName returns the codec registered under the given name ("json" or "binary").
// An empty name selects JSON.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", JSON.Name():
		return JSON, nil
	case Binary.Name():
		return Binary, nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}

//#region json

// jsonEnvelope is the schema 1.0 short-name wire form.
type jsonEnvelope struct {
	V byte            `json:"v"`
	Y mt.MessageType  `json:"y"`
	F string          `json:"f"`
	T string          `json:"t"`
	I string          `json:"i,omitempty"`
	R uint8           `json:"r"`
	N uint32          `json:"n"`
	S int64           `json:"s"`
	P json.RawMessage `json:"p"`
	A string          `json:"a"`
	K string          `json:"k"`
}

// jsonHeader is decoded by Peek; the payload is skipped.
type jsonHeader struct {
	V byte           `json:"v"`
	Y mt.MessageType `json:"y"`
	F string         `json:"f"`
	A string         `json:"a"`
	K string         `json:"k"`
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Marshal(env *Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	p, err := json.Marshal(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %v payload: %w", env.Type, err)
	}
	w := jsonEnvelope{
		V: env.Version.Byte(),
		Y: env.Type,
		F: fromString(env.From),
		T: env.To,
		I: env.ID,
		N: env.RemainingTargets,
		S: toUnixMilli(env.SentAt),
		P: p,
		A: env.AppKey,
		K: env.PrivateKey,
	}
	if env.Reliable {
		w.R = 1
	}
	return json.Marshal(w)
}

func (jsonCodec) Unmarshal(b []byte) (*Envelope, error) {
	var w jsonEnvelope
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, err
	}
	from, err := parseFrom(w.F)
	if err != nil {
		return nil, err
	}
	env := &Envelope{
		Version:          version.FromByte(w.V),
		Type:             w.Y,
		From:             from,
		To:               w.T,
		ID:               w.I,
		Reliable:         w.R != 0,
		RemainingTargets: w.N,
		SentAt:           unixMilli(w.S),
		AppKey:           w.A,
		PrivateKey:       w.K,
	}
	if !Supported.Supports(env.Version) {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedVersion, env.Version)
	}
	if len(w.P) == 0 {
		return nil, ErrNilPayload
	}
	if env.Payload, err = decodePayload(env.Type, func(v any) error { return json.Unmarshal(w.P, v) }); err != nil {
		return nil, err
	}
	return env, nil
}

func (jsonCodec) Peek(b []byte) (Header, error) {
	var h jsonHeader
	if err := json.Unmarshal(b, &h); err != nil {
		return Header{}, err
	}
	from, err := parseFrom(h.F)
	if err != nil {
		return Header{}, err
	}
	return Header{Version: version.FromByte(h.V), Type: h.Y, From: from, AppKey: h.A, PrivateKey: h.K}, nil
}

//#endregion json
