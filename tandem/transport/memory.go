package transport

import (
	"bytes"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/rflandau/tandem/tandem/protocol"
	"github.com/rs/zerolog"
)

// A Network is an in-process broadcast domain for Memory transports.
// Delivery is synchronous: Send returns after the datagram has been gated and queued (or dropped) at the recipient.
// This makes multi-session tests deterministic when every session is ticked from one goroutine.
type Network struct {
	mu     sync.RWMutex
	nodes  map[netip.AddrPort]*Memory
	filter func(from, to netip.AddrPort, b []byte) bool
}

// NewNetwork returns an empty network.
func NewNetwork() *Network {
	return &Network{nodes: make(map[netip.AddrPort]*Memory)}
}

// SetFilter installs a function consulted before every delivery; returning false drops the datagram.
// Use it to simulate loss and partitions. A nil filter delivers everything.
func (n *Network) SetFilter(f func(from, to netip.AddrPort, b []byte) bool) {
	n.mu.Lock()
	n.filter = f
	n.mu.Unlock()
}

// Join attaches a new Memory transport at addr.
func (n *Network) Join(addr netip.AddrPort, codec protocol.Codec, opts ...Option) (*Memory, error) {
	if !addr.IsValid() {
		return nil, ErrBadAddr(addr)
	}
	o := buildOptions("memory", opts)
	m := &Memory{
		log:     o.log,
		net:     n,
		self:    addr,
		maxSize: o.maxPacketSize,
		gate:    Gate{Codec: codec, AppKey: o.appKey, PrivateKey: o.privateKey, Self: addr},
		inbound: make(chan []byte, o.queueCapacity),
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, found := n.nodes[addr]; found {
		return nil, ErrAddrInUse(addr)
	}
	n.nodes[addr] = m
	return m, nil
}

// deliver hands b from sender to the node at to, if it exists.
func (n *Network) deliver(from netip.AddrPort, to *Memory, b []byte) {
	if n.filter != nil && !n.filter(from, to.self, b) {
		return
	}
	to.enqueue(b)
}

// Memory is a Transport attached to a Network.
type Memory struct {
	log     *zerolog.Logger
	net     *Network
	self    netip.AddrPort
	maxSize uint16
	gate    Gate
	inbound chan []byte
	dropped atomic.Uint64

	mu     sync.Mutex // held to enqueue or close
	closed bool
}

var _ Transport = (*Memory)(nil)

func (m *Memory) enqueue(b []byte) {
	if len(b) > int(m.maxSize) {
		return
	}
	if ok, reason := m.gate.Admit(b); !ok {
		m.log.Debug().Str("reason", reason).Msg("dropped datagram")
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.inbound <- bytes.Clone(b):
	default:
		m.dropped.Add(1)
	}
}

func (m *Memory) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Memory) Send(to netip.AddrPort, b []byte) error {
	if m.isClosed() {
		return ErrClosed
	} else if !to.IsValid() {
		return ErrBadAddr(to)
	} else if len(b) > int(m.maxSize) {
		m.log.Error().Int("size", len(b)).Uint16("max", m.maxSize).Str("to", to.String()).Msg("refusing to send oversized datagram")
		return ErrOversized
	}
	m.net.mu.RLock()
	defer m.net.mu.RUnlock()
	if dst, found := m.net.nodes[to]; found {
		m.net.deliver(m.self, dst, b)
	}
	return nil
}

// Broadcast delivers b to every node on the network, this one included (the gate drops it).
func (m *Memory) Broadcast(b []byte) error {
	if m.isClosed() {
		return ErrClosed
	} else if len(b) > int(m.maxSize) {
		m.log.Error().Int("size", len(b)).Uint16("max", m.maxSize).Msg("refusing to broadcast oversized datagram")
		return ErrOversized
	}
	m.net.mu.RLock()
	defer m.net.mu.RUnlock()
	for _, dst := range m.net.nodes {
		m.net.deliver(m.self, dst, b)
	}
	return nil
}

func (m *Memory) Inbound() <-chan []byte     { return m.inbound }
func (m *Memory) LocalAddr() netip.AddrPort { return m.self }
func (m *Memory) Dropped() uint64           { return m.dropped.Load() }

// Close detaches m from its network and closes its inbound channel.
// Ineffectual if already closed.
func (m *Memory) Close() error {
	m.net.mu.Lock()
	delete(m.net.nodes, m.self)
	m.net.mu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.inbound)
	return nil
}
