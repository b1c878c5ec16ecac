// Package peers tracks the other sessions this session has heard from.
//
// A peer becomes known on its first heartbeat or awake and is forgotten once it has been silent for longer than the stale timeout.
// The table also elects the oldest session (including the local one), re-electing only after the peer set has been stable for the debounce window.
package peers

import (
	"net/netip"
	"slices"
	"time"

	"github.com/rflandau/tandem/tandem/expiring"
	"github.com/rs/zerolog"
)

// Peer is a known remote session.
type Peer struct {
	Addr netip.AddrPort `json:"addr"`
	// creation time of the remote session, in unix nanoseconds
	Age       int64     `json:"age"`
	FoundAt   time.Time `json:"found_at"`
	LastHeard time.Time `json:"last_heard"`
}

// Table is the set of known peers.
// Tables are not thread-safe; they are owned by the session loop.
type Table struct {
	log          *zerolog.Logger
	self         netip.AddrPort
	selfAge      int64
	staleTimeout time.Duration
	debounce     time.Duration

	known *expiring.Table[netip.AddrPort, Peer]

	oldest    netip.AddrPort
	settling  bool      // has the peer set changed since the last election?
	changedAt time.Time // when the peer set last changed
}

// New returns an empty table for the session at self, created at selfAge.
// The first election happens debounce after now.
func New(self netip.AddrPort, selfAge int64, staleTimeout, debounce time.Duration, now time.Time, l *zerolog.Logger) *Table {
	if l == nil {
		nop := zerolog.Nop()
		l = &nop
	}
	sl := l.With().Str("sublogger", "peers").Logger()
	return &Table{
		log:          &sl,
		self:         self,
		selfAge:      selfAge,
		staleTimeout: staleTimeout,
		debounce:     debounce,
		known:        expiring.New[netip.AddrPort, Peer](),
		settling:     true,
		changedAt:    now,
	}
}

// Observe records a heartbeat (or awake) from addr.
// Returns true if addr was not previously known.
//
// Expired peers must be pruned before observing new heartbeats, otherwise a returning peer is reported as found without first being reported lost.
func (t *Table) Observe(addr netip.AddrPort, age int64, now time.Time) (found bool) {
	if addr == t.self || !addr.IsValid() {
		return false
	}
	if p, ok := t.known.Load(addr, now); ok {
		p.LastHeard, p.Age = now, age
		t.known.Store(addr, p, t.staleTimeout, now)
		return false
	}
	t.known.Store(addr, Peer{Addr: addr, Age: age, FoundAt: now, LastHeard: now}, t.staleTimeout, now)
	t.touch(now)
	t.log.Debug().Str("addr", addr.String()).Int64("age", age).Msg("peer found")
	return true
}

// Prune forgets every peer that has been silent for at least the stale timeout and returns them, ordered by address.
func (t *Table) Prune(now time.Time) []Peer {
	pruned := t.known.Prune(now)
	if len(pruned) == 0 {
		return nil
	}
	out := make([]Peer, 0, len(pruned))
	for _, p := range pruned {
		t.log.Debug().Str("addr", p.Addr.String()).Time("last heard", p.LastHeard).Msg("peer went stale")
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Peer) int { return a.Addr.Compare(b.Addr) })
	t.touch(now)
	return out
}

// Remove forgets addr immediately. Returns false if it was not known.
func (t *Table) Remove(addr netip.AddrPort, now time.Time) bool {
	if !t.known.Delete(addr) {
		return false
	}
	t.touch(now)
	return true
}

func (t *Table) touch(now time.Time) {
	t.settling = true
	t.changedAt = now
}

// Get returns the peer at addr.
func (t *Table) Get(addr netip.AddrPort, now time.Time) (Peer, bool) {
	return t.known.Load(addr, now)
}

// Known returns the addresses of every live peer, in address order.
func (t *Table) Known(now time.Time) []netip.AddrPort {
	out := make([]netip.AddrPort, 0, t.known.Len())
	for addr := range t.known.All(now) {
		out = append(out, addr)
	}
	slices.SortFunc(out, netip.AddrPort.Compare)
	return out
}

// All returns every live peer, in address order.
func (t *Table) All(now time.Time) []Peer {
	out := make([]Peer, 0, t.known.Len())
	for _, p := range t.known.All(now) {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Peer) int { return a.Addr.Compare(b.Addr) })
	return out
}

// Len returns the number of peers in the table.
func (t *Table) Len() int { return t.known.Len() }

// Elect recomputes the oldest session once the peer set has been stable for the debounce window.
// The oldest session has the smallest age; ties go to the lower address. The local session is a candidate.
// Returns the elected address and whether it differs from the previous election.
func (t *Table) Elect(now time.Time) (oldest netip.AddrPort, changed bool) {
	if !t.settling || now.Sub(t.changedAt) < t.debounce {
		return t.oldest, false
	}
	t.settling = false

	best, bestAge := t.self, t.selfAge
	for addr, p := range t.known.All(now) {
		if p.Age < bestAge || (p.Age == bestAge && addr.Compare(best) < 0) {
			best, bestAge = addr, p.Age
		}
	}
	if best == t.oldest {
		return best, false
	}
	t.log.Debug().Str("oldest", best.String()).Bool("self", best == t.self).Msg("oldest peer changed")
	t.oldest = best
	return best, true
}

// Oldest returns the result of the most recent election.
// It is the zero address until the first election.
func (t *Table) Oldest() netip.AddrPort { return t.oldest }

// Zerolog attaches the table's state to the given log event.
// Intended to be given to *zerolog.Event.Func().
func (t *Table) Zerolog(ev *zerolog.Event) {
	ev.Str("self", t.self.String()).
		Int("known", t.known.Len()).
		Str("oldest", t.oldest.String())
}
