package session

import (
	"net/netip"
	"time"

	"github.com/rflandau/tandem/tandem/event"
	"github.com/rflandau/tandem/tandem/protocol"
)

// handleDatagram decodes b and routes its payload to the component that owns it.
// Reliable envelopes are acknowledged every time they arrive but handled only once.
func (s *Session) handleDatagram(b []byte, now time.Time) {
	env, err := s.codec.Unmarshal(b)
	if err != nil {
		s.log.Debug().Err(err).Int("size", len(b)).Msg("failed to decode datagram")
		return
	}
	if !env.From.IsValid() || env.From == s.self {
		return
	}

	if env.Reliable {
		// the sender keeps retrying until it hears from us, so ack duplicates too
		if err := s.send(env.From, protocol.Ack{ID: env.ID}); err != nil {
			s.log.Debug().Err(err).Str("id", env.ID).Msg("failed to ack")
		}
		if !s.reliable.FirstReceipt(env.ID) {
			s.log.Debug().Str("id", env.ID).Msg("duplicate reliable message")
			return
		}
	}

	switch p := env.Payload.(type) {
	case protocol.Heartbeat:
		s.observe(env.From, p.Age, now, false)
		return
	case protocol.Awake:
		s.observe(env.From, p.Age, now, true)
		return
	case protocol.Ack:
		s.reliable.Ack(p.ID, env.From, now)
		return
	case protocol.Invoke:
		s.invoke(env.From, p)
		return
	}

	if s.globals.Handle(env.From, env.Payload) || s.objects.Handle(env.From, env.Payload) {
		return
	}
	if v, ok := env.Payload.(protocol.Tagged); ok {
		s.emit(event.ValueReceived{From: env.From, Tag: v.ValueTag(), Payload: v})
		return
	}
	s.log.Warn().Func(env.Zerolog).Msg("unhandled message")
}

// observe refreshes (or discovers) a peer.
// Newly discovered peers are recapped our globals and owned objects.
func (s *Session) observe(from netip.AddrPort, age int64, now time.Time, awake bool) {
	if !s.peers.Observe(from, age, now) {
		return
	}
	s.log.Info().Str("peer", from.String()).Int64("age", age).Msg("peer found")
	s.emit(event.PeerFound{Addr: from})
	s.globals.PeerFound(from)
	s.objects.PeerFound(from)
	if awake {
		// let the newcomer know about us without waiting on our next heartbeat
		if err := s.send(from, protocol.Heartbeat{Age: s.age}); err != nil {
			s.log.Debug().Err(err).Str("peer", from.String()).Msg("failed to reply to awake")
		}
	}
}

func (s *Session) peerLost(addr netip.AddrPort) {
	s.log.Info().Str("peer", addr.String()).Msg("peer lost")
	s.emit(event.PeerLost{Addr: addr})
	if destroyed := s.objects.PeerLost(addr); len(destroyed) > 0 {
		s.log.Debug().Strs("objects", destroyed).Str("peer", addr.String()).Msg("destroyed objects of lost peer")
	}
}

func (s *Session) invoke(from netip.AddrPort, p protocol.Invoke) {
	h, found := s.handlers[p.Method]
	if !found {
		s.log.Warn().Str("method", p.Method).Str("from", from.String()).Msg("no handler for invoked method")
		return
	}
	h(from, p.Args)
}
