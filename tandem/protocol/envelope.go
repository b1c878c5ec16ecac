/*
Package protocol contains the Tandem envelope, the payloads it can carry and the codecs that move both on and off the wire.

Components should never touch encoded bytes directly; they build an Envelope, hand it to a Codec and hand the result to a transport.
*/
package protocol

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/rflandau/tandem/tandem/protocol/mt"
	"github.com/rflandau/tandem/tandem/protocol/version"
	"github.com/rs/zerolog"
)

// Special recipients. Anything else in Envelope.To is a single ip:port.
const (
	ToAll       = ""  // every known peer
	ToBroadcast = "*" // every broadcast target, known or not
)

// Supported is the set of schema versions this implementation will decode.
var Supported = version.NewSet(version.Current)

//#region errors

var (
	ErrUnknownType        = errors.New("unknown message type")
	ErrUnsupportedVersion = errors.New("unsupported schema version")
	ErrNilPayload         = errors.New("envelope has no payload")
	ErrTypeMismatch       = errors.New("envelope type does not match payload type")
	ErrTruncated          = errors.New("truncated envelope")
)

//#endregion errors

// An Envelope is a single Tandem message.
// Envelopes are immutable once sent; the reliable registry tracks remaining targets separately.
type Envelope struct {
	Version version.Version
	Type    mt.MessageType
	From    netip.AddrPort
	// ToAll, ToBroadcast or a single ip:port
	To string
	// set only when Reliable
	ID               string
	Reliable         bool
	RemainingTargets uint32
	SentAt           time.Time
	Payload          Payload
	AppKey           string
	PrivateKey       string
}

// Header is the subset of an envelope needed to decide whether a datagram belongs to this session.
type Header struct {
	Version    version.Version
	Type       mt.MessageType
	From       netip.AddrPort
	AppKey     string
	PrivateKey string
}

// New returns an envelope wrapping p, stamped with the current version and p's type.
func New(from netip.AddrPort, to string, p Payload) *Envelope {
	env := &Envelope{
		Version: version.Current,
		From:    from,
		To:      to,
		Payload: p,
	}
	if p != nil {
		env.Type = p.Type()
	}
	return env
}

// Header returns the gating fields of env.
func (env *Envelope) Header() Header {
	return Header{
		Version:    env.Version,
		Type:       env.Type,
		From:       env.From,
		AppKey:     env.AppKey,
		PrivateKey: env.PrivateKey,
	}
}

// Validate checks that env can be encoded and understood by a peer.
func (env *Envelope) Validate() error {
	if !Supported.Supports(env.Version) {
		return fmt.Errorf("%w: %v", ErrUnsupportedVersion, env.Version)
	}
	if !env.Type.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownType, env.Type)
	}
	if env.Payload == nil {
		return ErrNilPayload
	}
	if env.Payload.Type() != env.Type {
		return fmt.Errorf("%w (envelope: %v, payload: %v)", ErrTypeMismatch, env.Type, env.Payload.Type())
	}
	return nil
}

// Zerolog attaches envelope's fields to the given log event.
// Intended to be given to *zerolog.Event.Func().
func (env *Envelope) Zerolog(ev *zerolog.Event) {
	ev.Str("version", env.Version.String()).
		Str("type", env.Type.String()).
		Str("from", env.From.String()).
		Str("to", env.To)
	if env.Reliable {
		ev.Str("id", env.ID).Uint32("remaining", env.RemainingTargets)
	}
}

// wire helpers shared by the codecs

func parseFrom(s string) (netip.AddrPort, error) {
	if s == "" {
		return netip.AddrPort{}, nil
	}
	return netip.ParseAddrPort(s)
}

func fromString(ap netip.AddrPort) string {
	if !ap.IsValid() {
		return ""
	}
	return ap.String()
}

func unixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func toUnixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
