// Package reliable adds acknowledgement, retry and deduplication on top of best-effort datagrams.
//
// The sending half is a Registry of outstanding messages. Each is resent to its unacknowledged targets on every retry pass
// until all targets acknowledge it (success) or it outlives the maximum resend duration (failure, if any target never acknowledged).
// The receiving half is a set of seen message IDs so a duplicate is acknowledged again but never handled twice.
package reliable

import (
	"net/netip"
	"slices"
	"time"

	"github.com/rflandau/tandem/tandem/event"
	"github.com/rflandau/tandem/tandem/expiring"
	"github.com/rs/zerolog"
)

// Pending is an outstanding reliable message.
type Pending struct {
	ID        string
	Encoded   []byte
	Targets   map[netip.AddrPort]bool // target -> acknowledged
	Remaining int
	FirstSent time.Time
}

// Unacked returns the targets that have not yet acknowledged p, in address order.
func (p *Pending) Unacked() []netip.AddrPort {
	out := make([]netip.AddrPort, 0, p.Remaining)
	for t, acked := range p.Targets {
		if !acked {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, netip.AddrPort.Compare)
	return out
}

// Registry holds every outstanding reliable message and every reliable ID already received.
// Registries are not thread-safe; they are owned by the session loop.
type Registry struct {
	log         *zerolog.Logger
	emit        event.Emitter
	maxDuration time.Duration

	pending *expiring.Table[string, *Pending]
	// NOTE: seen is never evicted. Long-running sessions grow it by one entry per reliable message received.
	seen map[string]struct{}
}

// NewRegistry returns an empty registry that gives up on messages after maxDuration.
func NewRegistry(maxDuration time.Duration, emit event.Emitter, l *zerolog.Logger) *Registry {
	if l == nil {
		nop := zerolog.Nop()
		l = &nop
	}
	sl := l.With().Str("sublogger", "reliable").Logger()
	return &Registry{
		log:         &sl,
		emit:        emit,
		maxDuration: maxDuration,
		pending:     expiring.New[string, *Pending](),
		seen:        make(map[string]struct{}),
	}
}

// Register begins tracking the encoded message id, sent to targets at now.
// A message with no targets is not registered and will never signal; Register returns false in that case.
func (r *Registry) Register(id string, encoded []byte, targets []netip.AddrPort, now time.Time) bool {
	p := &Pending{ID: id, Encoded: encoded, Targets: make(map[netip.AddrPort]bool, len(targets)), FirstSent: now}
	for _, t := range targets {
		if t.IsValid() {
			p.Targets[t] = false
		}
	}
	if p.Remaining = len(p.Targets); p.Remaining == 0 {
		return false
	}
	r.pending.Store(id, p, r.maxDuration, now)
	return true
}

// Cancel stops tracking id without signaling.
func (r *Registry) Cancel(id string) bool {
	return r.pending.Delete(id)
}

// Ack records that from has acknowledged id.
// Each target counts once no matter how many acks it sends; acks from non-targets are ignored.
// When the last target acknowledges, the message is deregistered, ReliableSucceeded fires and Ack returns true.
func (r *Registry) Ack(id string, from netip.AddrPort, now time.Time) (completed bool) {
	p, found := r.pending.Load(id, now)
	if !found {
		return false
	}
	acked, isTarget := p.Targets[from]
	if !isTarget || acked {
		return false
	}
	p.Targets[from] = true
	p.Remaining--
	if p.Remaining > 0 {
		return false
	}
	r.pending.Delete(id)
	r.log.Debug().Str("id", id).Dur("elapsed", now.Sub(p.FirstSent)).Msg("fully acknowledged")
	r.emit.Emit(event.ReliableSucceeded{ID: id})
	return true
}

// Resend calls send for every unacknowledged target of every unexpired message.
func (r *Registry) Resend(now time.Time, send func(to netip.AddrPort, b []byte)) {
	for _, p := range r.pending.All(now) {
		for _, t := range p.Unacked() {
			send(t, p.Encoded)
		}
	}
}

// Expire deregisters every message older than the maximum duration.
// ReliableFailed fires for each one that still had unacknowledged targets.
func (r *Registry) Expire(now time.Time) (failed []string) {
	for id, p := range r.pending.Prune(now) {
		if p.Remaining == 0 {
			continue
		}
		r.log.Debug().Str("id", id).Strs("unacked", addrStrings(p.Unacked())).Msg("gave up")
		failed = append(failed, id)
		r.emit.Emit(event.ReliableFailed{ID: id, Remaining: p.Remaining})
	}
	slices.Sort(failed)
	return failed
}

// Outstanding returns the number of registered messages.
func (r *Registry) Outstanding() int { return r.pending.Len() }

// Get returns the pending message id, if it is still registered and unexpired.
func (r *Registry) Get(id string, now time.Time) (*Pending, bool) {
	return r.pending.Load(id, now)
}

// FirstReceipt marks id as received and reports whether this was the first time.
// Callers must acknowledge every receipt but only handle the first.
func (r *Registry) FirstReceipt(id string) bool {
	if _, dup := r.seen[id]; dup {
		return false
	}
	r.seen[id] = struct{}{}
	return true
}

// Clear discards every outstanding message without signaling.
func (r *Registry) Clear() {
	r.pending = expiring.New[string, *Pending]()
}

func addrStrings(aps []netip.AddrPort) []string {
	out := make([]string, len(aps))
	for i, ap := range aps {
		out[i] = ap.String()
	}
	return out
}
