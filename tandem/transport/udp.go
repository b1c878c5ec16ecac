package transport

import (
	"bytes"
	"errors"
	"net"
	"net/netip"
	"sync/atomic"

	"github.com/rflandau/tandem/tandem/protocol"
	"github.com/rs/zerolog"
)

// UDP is a Transport over a single UDP socket.
type UDP struct {
	log       *zerolog.Logger
	sampled   zerolog.Logger
	conn      *net.UDPConn
	self      netip.AddrPort
	broadcast []netip.AddrPort
	maxSize   uint16
	gate      Gate
	inbound   chan []byte
	dropped   atomic.Uint64
	closed    atomic.Bool
}

var _ Transport = (*UDP)(nil)

// ListenUDP binds to listen and starts the receive goroutine.
// If no advertise address is given and listen's IP is unspecified, the outbound interface's address is discovered and advertised.
// If no broadcast targets are given, the limited broadcast address on the bound port is used.
func ListenUDP(listen netip.AddrPort, codec protocol.Codec, opts ...Option) (*UDP, error) {
	if !listen.IsValid() {
		return nil, ErrBadAddr(listen)
	}
	o := buildOptions("udp", opts)

	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(listen))
	if err != nil {
		return nil, err
	}
	bound := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	bound = netip.AddrPortFrom(bound.Addr().Unmap(), bound.Port())

	self := o.advertise
	if !self.IsValid() {
		self = bound
		if bound.Addr().IsUnspecified() {
			self = netip.AddrPortFrom(outboundAddr(), bound.Port())
		}
	}
	if len(o.broadcast) == 0 {
		o.broadcast = []netip.AddrPort{netip.AddrPortFrom(netip.AddrFrom4([4]byte{255, 255, 255, 255}), bound.Port())}
	}

	u := &UDP{
		log:       o.log,
		sampled:   o.log.Sample(&zerolog.BasicSampler{N: 32}),
		conn:      conn,
		self:      self,
		broadcast: o.broadcast,
		maxSize:   o.maxPacketSize,
		gate:      Gate{Codec: codec, AppKey: o.appKey, PrivateKey: o.privateKey, Self: self},
		inbound:   make(chan []byte, o.queueCapacity),
	}
	u.log.Info().Str("bound", bound.String()).Str("advertised", self.String()).Msg("accepting incoming datagrams")
	go u.receive()
	return u, nil
}

// outboundAddr returns the address of the interface that routes off-host, falling back to loopback.
// Dialing UDP sends nothing; it only asks the kernel to pick a route.
func outboundAddr() netip.Addr {
	c, err := net.Dial("udp4", "192.0.2.1:9")
	if err != nil {
		return netip.AddrFrom4([4]byte{127, 0, 0, 1})
	}
	defer c.Close()
	return c.LocalAddr().(*net.UDPAddr).AddrPort().Addr().Unmap()
}

// receive slurps datagrams, gates them and queues the survivors.
// Spun up by ListenUDP, shuttered by Close.
func (u *UDP) receive() {
	defer close(u.inbound)
	buf := make([]byte, u.maxSize)
	for {
		n, sender, err := u.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if u.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			u.log.Warn().Err(err).Msg("datagram read error")
			continue
		} else if n == 0 {
			continue
		}
		if ok, reason := u.gate.Admit(buf[:n]); !ok {
			u.log.Debug().Str("sender", sender.String()).Str("reason", reason).Msg("dropped datagram")
			continue
		}
		select {
		case u.inbound <- bytes.Clone(buf[:n]):
		default:
			u.sampled.Warn().Uint64("total dropped", u.dropped.Add(1)).Msg("inbound queue full; dropped datagram")
		}
	}
}

func (u *UDP) Send(to netip.AddrPort, b []byte) error {
	if u.closed.Load() {
		return ErrClosed
	} else if !to.IsValid() {
		return ErrBadAddr(to)
	} else if len(b) > int(u.maxSize) {
		u.log.Error().Int("size", len(b)).Uint16("max", u.maxSize).Str("to", to.String()).Msg("refusing to send oversized datagram")
		return ErrOversized
	}
	n, err := u.conn.WriteToUDPAddrPort(b, to)
	if err != nil {
		u.log.Warn().Err(err).Str("to", to.String()).Msg("failed to send")
		return err
	} else if n != len(b) {
		u.log.Warn().Int("written", n).Int("expected", len(b)).Msg("short write")
	}
	return nil
}

func (u *UDP) Broadcast(b []byte) error {
	var errs []error
	for _, t := range u.broadcast {
		if err := u.Send(t, b); err != nil {
			errs = append(errs, err)
			if errors.Is(err, ErrOversized) || errors.Is(err, ErrClosed) {
				break
			}
		}
	}
	return errors.Join(errs...)
}

func (u *UDP) Inbound() <-chan []byte     { return u.inbound }
func (u *UDP) LocalAddr() netip.AddrPort { return u.self }
func (u *UDP) Dropped() uint64           { return u.dropped.Load() }

// Close stops the receive goroutine and releases the socket.
// Ineffectual if already closed.
func (u *UDP) Close() error {
	if !u.closed.CompareAndSwap(false, true) {
		return nil
	}
	u.log.Info().Msg("closing")
	return u.conn.Close()
}
