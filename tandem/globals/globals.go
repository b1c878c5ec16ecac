// Package globals replicates six typed key/value maps across a session.
//
// Writes apply locally and are sent reliably to every known peer; there is no causal ordering, the last write applied wins.
// A late joiner asks each newly found peer for a recap of every kind it holds nothing of yet and merges the replies.
// Keys written while a recap is outstanding survive that recap.
package globals

import (
	"maps"
	"net/netip"

	"github.com/rflandau/tandem/tandem/event"
	"github.com/rflandau/tandem/tandem/protocol"
	"github.com/rflandau/tandem/tandem/spatial"
	"github.com/rs/zerolog"
)

// Sender is the subset of a session the store needs to replicate writes.
type Sender interface {
	// SendReliable sends p reliably to a single peer.
	SendReliable(to netip.AddrPort, p protocol.Payload) error
	// SendReliableAll sends p reliably to every known peer.
	SendReliableAll(p protocol.Payload) error
}

// Store holds one map per protocol.Kind.
// Stores are not thread-safe; they are owned by the session loop.
type Store struct {
	log  *zerolog.Logger
	send Sender
	emit event.Emitter

	maps [len(protocol.Kinds)]any // Kind -> map[string]V

	// recap requests in flight per kind, and the keys written since the first of them went out
	awaiting [len(protocol.Kinds)]int
	written  [len(protocol.Kinds)]map[string]struct{}
}

// New returns a store with six empty maps.
func New(send Sender, emit event.Emitter, l *zerolog.Logger) *Store {
	if l == nil {
		nop := zerolog.Nop()
		l = &nop
	}
	sl := l.With().Str("sublogger", "globals").Logger()
	s := &Store{log: &sl, send: send, emit: emit}
	s.maps[protocol.KindString] = map[string]string{}
	s.maps[protocol.KindBool] = map[string]bool{}
	s.maps[protocol.KindFloat] = map[string]float64{}
	s.maps[protocol.KindVector2] = map[string]spatial.Vector2{}
	s.maps[protocol.KindVector3] = map[string]spatial.Vector3{}
	s.maps[protocol.KindVector4] = map[string]spatial.Vector4{}
	return s
}

func mapFor[V protocol.GlobalValue](s *Store) map[string]V {
	return s.maps[protocol.KindFor[V]()].(map[string]V)
}

//#region generic access

// Set writes key locally, fires GlobalChanged and replicates the write to every known peer.
// The local write stands even if sending fails.
func Set[V protocol.GlobalValue](s *Store, key string, value V) error {
	mapFor[V](s)[key] = value
	s.touch(protocol.KindFor[V](), key)
	s.emit.Emit(event.GlobalChanged{Kind: protocol.KindFor[V](), Key: key})
	return s.send.SendReliableAll(protocol.GlobalChanged[V]{Key: key, Value: value})
}

// Get returns the current value of key.
func Get[V protocol.GlobalValue](s *Store, key string) (V, bool) {
	v, found := mapFor[V](s)[key]
	return v, found
}

// Snapshot returns a copy of the V map.
func Snapshot[V protocol.GlobalValue](s *Store) map[string]V {
	return maps.Clone(mapFor[V](s))
}

//#endregion generic access

// touch notes that key was written while a recap of k is outstanding.
func (s *Store) touch(k protocol.Kind, key string) {
	if s.awaiting[k] == 0 {
		return
	}
	if s.written[k] == nil {
		s.written[k] = make(map[string]struct{})
	}
	s.written[k][key] = struct{}{}
}

// Awaiting returns the number of recaps of k requested but not yet received.
func (s *Store) Awaiting(k protocol.Kind) int { return s.awaiting[k] }

// Len returns the number of entries of the given kind.
func (s *Store) Len(k protocol.Kind) int {
	switch k {
	case protocol.KindString:
		return len(mapFor[string](s))
	case protocol.KindBool:
		return len(mapFor[bool](s))
	case protocol.KindFloat:
		return len(mapFor[float64](s))
	case protocol.KindVector2:
		return len(mapFor[spatial.Vector2](s))
	case protocol.KindVector3:
		return len(mapFor[spatial.Vector3](s))
	case protocol.KindVector4:
		return len(mapFor[spatial.Vector4](s))
	}
	return 0
}

// Dump returns a copy of every map, keyed by kind name.
func (s *Store) Dump() map[string]map[string]any {
	out := make(map[string]map[string]any, len(protocol.Kinds))
	out[protocol.KindString.String()] = anyMap(mapFor[string](s))
	out[protocol.KindBool.String()] = anyMap(mapFor[bool](s))
	out[protocol.KindFloat.String()] = anyMap(mapFor[float64](s))
	out[protocol.KindVector2.String()] = anyMap(mapFor[spatial.Vector2](s))
	out[protocol.KindVector3.String()] = anyMap(mapFor[spatial.Vector3](s))
	out[protocol.KindVector4.String()] = anyMap(mapFor[spatial.Vector4](s))
	return out
}

func anyMap[V any](m map[string]V) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// requests holds the (empty) request payload for each kind.
var requests = [...]protocol.Payload{
	protocol.KindString:  protocol.GlobalRequest[string]{},
	protocol.KindBool:    protocol.GlobalRequest[bool]{},
	protocol.KindFloat:   protocol.GlobalRequest[float64]{},
	protocol.KindVector2: protocol.GlobalRequest[spatial.Vector2]{},
	protocol.KindVector3: protocol.GlobalRequest[spatial.Vector3]{},
	protocol.KindVector4: protocol.GlobalRequest[spatial.Vector4]{},
}

// PeerFound asks addr for a recap of every kind that is locally empty.
func (s *Store) PeerFound(addr netip.AddrPort) {
	for _, k := range protocol.Kinds {
		if s.Len(k) != 0 {
			continue
		}
		if err := s.send.SendReliable(addr, requests[k]); err != nil {
			s.log.Warn().Err(err).Str("kind", k.String()).Str("peer", addr.String()).Msg("failed to request recap")
			continue
		}
		s.awaiting[k]++
	}
}

// Handle applies a globals payload received from a peer.
// Returns false if p is not a globals payload.
func (s *Store) Handle(from netip.AddrPort, p protocol.Payload) (handled bool) {
	switch p := p.(type) {
	case protocol.GlobalRequest[string]:
		respond[string](s, from)
	case protocol.GlobalRequest[bool]:
		respond[bool](s, from)
	case protocol.GlobalRequest[float64]:
		respond[float64](s, from)
	case protocol.GlobalRequest[spatial.Vector2]:
		respond[spatial.Vector2](s, from)
	case protocol.GlobalRequest[spatial.Vector3]:
		respond[spatial.Vector3](s, from)
	case protocol.GlobalRequest[spatial.Vector4]:
		respond[spatial.Vector4](s, from)

	case protocol.GlobalChanged[string]:
		applyChanged(s, p)
	case protocol.GlobalChanged[bool]:
		applyChanged(s, p)
	case protocol.GlobalChanged[float64]:
		applyChanged(s, p)
	case protocol.GlobalChanged[spatial.Vector2]:
		applyChanged(s, p)
	case protocol.GlobalChanged[spatial.Vector3]:
		applyChanged(s, p)
	case protocol.GlobalChanged[spatial.Vector4]:
		applyChanged(s, p)

	case protocol.GlobalRecap[string]:
		applyRecap(s, from, p)
	case protocol.GlobalRecap[bool]:
		applyRecap(s, from, p)
	case protocol.GlobalRecap[float64]:
		applyRecap(s, from, p)
	case protocol.GlobalRecap[spatial.Vector2]:
		applyRecap(s, from, p)
	case protocol.GlobalRecap[spatial.Vector3]:
		applyRecap(s, from, p)
	case protocol.GlobalRecap[spatial.Vector4]:
		applyRecap(s, from, p)
	default:
		return false
	}
	return true
}

func respond[V protocol.GlobalValue](s *Store, to netip.AddrPort) {
	recap := protocol.NewRecap(mapFor[V](s))
	if err := s.send.SendReliable(to, recap); err != nil {
		s.log.Warn().Err(err).Str("kind", protocol.KindFor[V]().String()).Str("peer", to.String()).Msg("failed to send recap")
	}
}

func applyChanged[V protocol.GlobalValue](s *Store, p protocol.GlobalChanged[V]) {
	mapFor[V](s)[p.Key] = p.Value
	s.touch(protocol.KindFor[V](), p.Key)
	s.emit.Emit(event.GlobalChanged{Kind: protocol.KindFor[V](), Key: p.Key})
}

// applyRecap merges a requested recap into the V map, leaving keys written since the request untouched.
// An unsolicited recap replaces the map wholesale.
func applyRecap[V protocol.GlobalValue](s *Store, from netip.AddrPort, p protocol.GlobalRecap[V]) {
	m, err := p.Map()
	if err != nil {
		s.log.Warn().Err(err).Str("peer", from.String()).Msg("dropping malformed recap")
		return
	}
	k := protocol.KindFor[V]()
	var adopted []string
	if s.awaiting[k] == 0 {
		s.maps[k] = m
		adopted = p.Keys
	} else {
		cur := mapFor[V](s)
		for key, v := range m {
			if _, written := s.written[k][key]; written {
				continue
			}
			cur[key] = v
			adopted = append(adopted, key)
		}
		if s.awaiting[k]--; s.awaiting[k] == 0 {
			s.written[k] = nil
		}
	}
	s.log.Debug().Str("kind", k.String()).Int("entries", len(m)).Int("adopted", len(adopted)).Str("peer", from.String()).Msg("applied recap")
	for _, key := range adopted {
		s.emit.Emit(event.GlobalChanged{Kind: k, Key: key})
	}
	s.emit.Emit(event.GlobalRecapReceived{Kind: k, From: from})
}
