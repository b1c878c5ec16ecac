// Package transport moves raw datagrams between sessions.
//
// A Transport owns exactly one receive goroutine. That goroutine never parses payloads; it only peeks at the envelope header
// (via the configured codec) to drop foreign, unauthorized or self-sent datagrams before queueing the raw bytes for the session loop.
package transport

import (
	"errors"
	"fmt"
	"net/netip"
	"os"

	"github.com/rflandau/tandem/tandem"
	"github.com/rflandau/tandem/tandem/protocol"
	"github.com/rs/zerolog"
)

// DefaultQueueCapacity is the number of inbound datagrams buffered before new ones are dropped.
const DefaultQueueCapacity = 1024

// A Transport sends datagrams and hands validated inbound datagrams to a single consumer.
type Transport interface {
	// Send writes b to a single address. It is synchronous and best-effort.
	Send(to netip.AddrPort, b []byte) error
	// Broadcast writes b to every configured broadcast target.
	Broadcast(b []byte) error
	// Inbound returns the channel of gated raw datagrams. It is closed after Close.
	Inbound() <-chan []byte
	// LocalAddr is the address this transport is reachable at and that envelopes it sends should carry as their sender.
	LocalAddr() netip.AddrPort
	// Dropped returns the number of admitted datagrams dropped because the inbound queue was full.
	Dropped() uint64
	// Close shuts the transport down and ends the receive goroutine.
	Close() error
}

//#region errors

var (
	ErrOversized = errors.New("datagram exceeds the maximum packet size")
	ErrClosed    = errors.New("transport is closed")
)

// ErrBadAddr returns an error to indicate that the given netip.AddrPort was invalid.
func ErrBadAddr(ap netip.AddrPort) error {
	return fmt.Errorf("address %v is not a valid ip:port", ap)
}

// ErrAddrInUse returns an error to indicate that another transport already occupies the given address.
func ErrAddrInUse(ap netip.AddrPort) error {
	return fmt.Errorf("address %v is already in use", ap)
}

//#endregion errors

//#region options

type options struct {
	log           *zerolog.Logger
	appKey        string
	privateKey    string
	broadcast     []netip.AddrPort
	maxPacketSize uint16
	queueCapacity int
	advertise     netip.AddrPort
}

// Option configures a transport.
// Uses defaults if an option is not set.
type Option func(*options)

// WithLogger replaces the transport's default logger with the given logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithKeys sets the session isolation keys. Inbound datagrams carrying any other pair are dropped.
func WithKeys(appKey, privateKey string) Option {
	return func(o *options) { o.appKey, o.privateKey = appKey, privateKey }
}

// WithBroadcastTargets overwrites the addresses Broadcast writes to.
func WithBroadcastTargets(targets ...netip.AddrPort) Option {
	return func(o *options) { o.broadcast = targets }
}

// WithMaxPacketSize overwrites tandem.DefaultMaxPacketSize.
func WithMaxPacketSize(size uint16) Option {
	return func(o *options) { o.maxPacketSize = size }
}

// WithQueueCapacity overwrites DefaultQueueCapacity.
func WithQueueCapacity(c int) Option {
	return func(o *options) { o.queueCapacity = c }
}

// WithAdvertiseAddr sets the address placed in outbound envelopes, overriding discovery.
func WithAdvertiseAddr(ap netip.AddrPort) Option {
	return func(o *options) { o.advertise = ap }
}

func buildOptions(sublogger string, opts []Option) options {
	o := options{maxPacketSize: tandem.DefaultMaxPacketSize, queueCapacity: DefaultQueueCapacity}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		l := zerolog.New(zerolog.ConsoleWriter{
			Out:         os.Stdout,
			FieldsOrder: []string{"sublogger"},
			TimeFormat:  "15:04:05",
		}).With().
			Str("sublogger", sublogger).
			Timestamp().
			Caller().
			Logger().Level(zerolog.WarnLevel)
		o.log = &l
	}
	if o.queueCapacity <= 0 {
		o.queueCapacity = DefaultQueueCapacity
	}
	return o
}

//#endregion options

// A Gate decides whether a raw datagram belongs to this session.
type Gate struct {
	Codec      protocol.Codec
	AppKey     string
	PrivateKey string
	Self       netip.AddrPort
}

// Admit peeks at b and reports whether it should be handed to the session.
// Datagrams that fail to peek, carry an unsupported version, carry the wrong keys or were sent by Self are refused.
// The reason is returned for logging.
func (g Gate) Admit(b []byte) (ok bool, reason string) {
	h, err := g.Codec.Peek(b)
	if err != nil {
		return false, "malformed: " + err.Error()
	}
	switch {
	case !protocol.Supported.Supports(h.Version):
		return false, "unsupported version " + h.Version.String()
	case h.AppKey != g.AppKey || h.PrivateKey != g.PrivateKey:
		return false, "key mismatch"
	case h.From == g.Self:
		return false, "self"
	}
	return true, ""
}
