// Package event defines the notifications a session raises as replicated state changes.
// Events are delivered synchronously on the session loop, in the order the underlying changes were applied.
package event

import (
	"net/netip"

	"github.com/rflandau/tandem/tandem/protocol"
)

// An Event is anything a session reports to its hooks.
type Event interface {
	// Name is a stable, lower-case identifier suitable for logs and the admin event stream.
	Name() string
}

// Emitter is how components raise events. A nil Emitter discards them.
type Emitter func(Event)

// Emit calls e with ev if e is not nil.
func (e Emitter) Emit(ev Event) {
	if e != nil {
		e(ev)
	}
}

//#region peers

type PeerFound struct{ Addr netip.AddrPort }
type PeerLost struct{ Addr netip.AddrPort }

// OldestPeerChanged fires when the debounced oldest-peer election settles on a new address.
// Self is set when the local session is the oldest.
type OldestPeerChanged struct {
	Addr netip.AddrPort
	Self bool
}

func (PeerFound) Name() string         { return "peer_found" }
func (PeerLost) Name() string          { return "peer_lost" }
func (OldestPeerChanged) Name() string { return "oldest_peer_changed" }

//#endregion peers

//#region reliable

type ReliableSucceeded struct{ ID string }

// ReliableFailed fires when a reliable message expires with Remaining targets still unacknowledged.
type ReliableFailed struct {
	ID        string
	Remaining int
}

func (ReliableSucceeded) Name() string { return "reliable_succeeded" }
func (ReliableFailed) Name() string    { return "reliable_failed" }

//#endregion reliable

//#region globals

type GlobalChanged struct {
	Kind protocol.Kind
	Key  string
}

// GlobalRecapReceived fires once per applied recap, after the per-key GlobalChanged events.
type GlobalRecapReceived struct {
	Kind protocol.Kind
	From netip.AddrPort
}

func (GlobalChanged) Name() string       { return "global_changed" }
func (GlobalRecapReceived) Name() string { return "global_recap_received" }

//#endregion globals

//#region objects

type ObjectSpawned struct {
	ID       string
	Template string
	Owned    bool
}
type ObjectDespawned struct{ ID string }
type OwnershipGained struct{ ID string }
type OwnershipLost struct{ ID string }
type OwnershipDenied struct{ ID string }
type ObjectActiveChanged struct {
	ID     string
	Active bool
}

func (ObjectSpawned) Name() string       { return "object_spawned" }
func (ObjectDespawned) Name() string     { return "object_despawned" }
func (OwnershipGained) Name() string     { return "ownership_gained" }
func (OwnershipLost) Name() string       { return "ownership_lost" }
func (OwnershipDenied) Name() string     { return "ownership_denied" }
func (ObjectActiveChanged) Name() string { return "object_active_changed" }

//#endregion objects

//#region session

// ValueReceived carries a generic application value (protocol.Value or protocol.Values) from a peer.
type ValueReceived struct {
	From    netip.AddrPort
	Tag     string
	Payload protocol.Payload
}

// OriginChanged fires after the shared origin moves and owned objects have been re-published.
type OriginChanged struct{}

func (ValueReceived) Name() string { return "value_received" }
func (OriginChanged) Name() string { return "origin_changed" }

//#endregion session
