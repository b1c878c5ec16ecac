// Package objects replicates networked objects: their existence, ownership and pose.
//
// Every object has exactly one owner, which alone publishes its pose and arbitrates requests for its ownership.
// Objects are destroyed when despawned by anyone or when the peer that created them is lost.
// Poses cross the wire relative to the session's shared origin.
package objects

import (
	"errors"
	"net/netip"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rflandau/tandem/tandem"
	"github.com/rflandau/tandem/tandem/event"
	"github.com/rflandau/tandem/tandem/protocol"
	"github.com/rflandau/tandem/tandem/spatial"
	"github.com/rs/zerolog"
)

// Defaults for replica behaviour.
const (
	DefaultSyncRate  float64       = 10 // publishes per second
	DefaultSmoothing time.Duration = 100 * time.Millisecond
)

//#region errors

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrNotFound         = errors.New("object not found")
	ErrNotOwner         = errors.New("object is owned by another peer")
)

//#endregion errors

// Sender is the subset of a session the directory needs.
type Sender interface {
	// SendReliable sends p reliably to a single peer.
	SendReliable(to netip.AddrPort, p protocol.Payload) error
	// SendReliableAll sends p reliably to every known peer.
	SendReliableAll(p protocol.Payload) error
	// SendAll sends p unreliably to every known peer.
	SendAll(p protocol.Payload) error
}

// Object is a networked object as seen by this session.
type Object struct {
	ID       string
	Template string
	Owner    netip.AddrPort
	Creator  netip.AddrPort
	Locked   bool // refuse ownership requests; only meaningful on the owner
	Active   bool
	Instance Instance

	replica *replica
}

// Snapshot is a copy of an object's replicated state.
type Snapshot struct {
	ID        string            `json:"id"`
	Template  string            `json:"template"`
	Owner     string            `json:"owner"`
	Creator   string            `json:"creator"`
	Owned     bool              `json:"owned"`
	Locked    bool              `json:"locked"`
	Active    bool              `json:"active"`
	Transform spatial.Transform `json:"transform"`
}

// Config configures a Directory.
type Config struct {
	Self      netip.AddrPort
	Registry  Registry
	Send      Sender
	Emit      event.Emitter
	Log       *zerolog.Logger
	SyncRate  float64       // owner-side publishes per second; DefaultSyncRate if 0
	Smoothing time.Duration // non-owner smoothing time constant; DefaultSmoothing if 0
}

// Directory is the set of networked objects known to a session.
// Directories are not thread-safe; they are owned by the session loop.
type Directory struct {
	log       *zerolog.Logger
	self      netip.AddrPort
	reg       Registry
	send      Sender
	emit      event.Emitter
	syncRate  float64
	smoothing time.Duration

	origin  spatial.Pose
	objects map[string]*Object
	// ids destroyed by a despawn; never evicted
	despawned map[string]struct{}
}

// New returns an empty directory.
func New(cfg Config) *Directory {
	l := cfg.Log
	if l == nil {
		nop := zerolog.Nop()
		l = &nop
	}
	sl := l.With().Str("sublogger", "objects").Logger()
	d := &Directory{
		log:       &sl,
		self:      cfg.Self,
		reg:       cfg.Registry,
		send:      cfg.Send,
		emit:      cfg.Emit,
		syncRate:  cfg.SyncRate,
		smoothing: cfg.Smoothing,
		origin:    spatial.Pose{Rotation: spatial.Identity},
		objects:   make(map[string]*Object),
		despawned: make(map[string]struct{}),
	}
	if d.reg == nil {
		d.reg = Catalog{}
	}
	if d.syncRate <= 0 {
		d.syncRate = DefaultSyncRate
	}
	if d.smoothing <= 0 {
		d.smoothing = DefaultSmoothing
	}
	return d
}

func (o *Object) owned(self netip.AddrPort) bool { return o.Owner == self }

func (d *Directory) snapshot(o *Object) Snapshot {
	return Snapshot{
		ID:        o.ID,
		Template:  o.Template,
		Owner:     o.Owner.String(),
		Creator:   o.Creator.String(),
		Owned:     o.owned(d.self),
		Locked:    o.Locked,
		Active:    o.Active,
		Transform: o.Instance.Transform(),
	}
}

//#region queries

// Get returns a snapshot of the object with the given id.
func (d *Directory) Get(id string) (Snapshot, bool) {
	o, found := d.objects[id]
	if !found {
		return Snapshot{}, false
	}
	return d.snapshot(o), true
}

// Instance returns the local instance of the object with the given id.
func (d *Directory) Instance(id string) (Instance, bool) {
	o, found := d.objects[id]
	if !found {
		return nil, false
	}
	return o.Instance, true
}

// All returns a snapshot of every object, ordered by id.
func (d *Directory) All() []Snapshot {
	out := make([]Snapshot, 0, len(d.objects))
	for _, o := range d.objects {
		out = append(out, d.snapshot(o))
	}
	slices.SortFunc(out, func(a, b Snapshot) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Len returns the number of objects.
func (d *Directory) Len() int { return len(d.objects) }

// IsOwned reports whether this session owns id.
func (d *Directory) IsOwned(id string) bool {
	o, found := d.objects[id]
	return found && o.owned(d.self)
}

// Origin returns the shared origin pose.
func (d *Directory) Origin() spatial.Pose { return d.origin }

//#endregion queries

// wire converts a world transform into the truncated, origin-relative form sent to peers.
func (d *Directory) wire(world spatial.Transform) spatial.Transform {
	return world.RelativeTo(d.origin).Truncate(tandem.TransformPrecision)
}

func (d *Directory) world(wire spatial.Transform) spatial.Transform {
	return wire.AbsoluteFrom(d.origin)
}

// Spawn instantiates templateID at the world transform tf, owned and created by this session, and announces it to every known peer.
// Returns ErrTemplateNotFound, creating nothing, if templateID cannot be resolved.
func (d *Directory) Spawn(templateID string, tf spatial.Transform) (string, error) {
	tpl, found := d.reg.Resolve(templateID)
	if !found {
		return "", ErrTemplateNotFound
	}
	o := &Object{
		ID:       uuid.NewString(),
		Template: templateID,
		Owner:    d.self,
		Creator:  d.self,
		Active:   true,
		Instance: tpl.Instantiate(tf),
		replica:  newReplica(d.syncRate, d.smoothing),
	}
	d.objects[o.ID] = o
	d.log.Debug().Str("id", o.ID).Str("template", templateID).Msg("spawned")
	d.emit.Emit(event.ObjectSpawned{ID: o.ID, Template: templateID, Owned: true})

	err := d.send.SendReliableAll(protocol.Spawn{ID: o.ID, Template: templateID, Transform: d.wire(tf), Active: true})
	// the spawn transform has been published
	o.replica.markPublished(tf)
	return o.ID, err
}

// Despawn destroys id locally and on every known peer.
func (d *Directory) Despawn(id string) error {
	if _, found := d.objects[id]; !found {
		return ErrNotFound
	}
	d.destroy(id)
	d.despawned[id] = struct{}{}
	return d.send.SendReliableAll(protocol.Despawn{ID: id})
}

func (d *Directory) destroy(id string) {
	o, found := d.objects[id]
	if !found {
		return
	}
	delete(d.objects, id)
	o.Instance.Destroy()
	d.log.Debug().Str("id", id).Msg("despawned")
	d.emit.Emit(event.ObjectDespawned{ID: id})
}

// RequestOwnership asks the current owner of id to hand it over.
// The outcome arrives later as an OwnershipGained or OwnershipDenied event.
// Ineffectual if this session already owns id.
func (d *Directory) RequestOwnership(id string) error {
	o, found := d.objects[id]
	if !found {
		return ErrNotFound
	} else if o.owned(d.self) {
		return nil
	}
	return d.send.SendReliable(o.Owner, protocol.OwnershipRequest{ID: id})
}

// SetOwnershipLocked sets whether the owner refuses requests for id.
func (d *Directory) SetOwnershipLocked(id string, locked bool) error {
	o, found := d.objects[id]
	if !found {
		return ErrNotFound
	} else if !o.owned(d.self) {
		return ErrNotOwner
	}
	o.Locked = locked
	return nil
}

// SetActive enables or disables id locally and on every known peer.
func (d *Directory) SetActive(id string, active bool) error {
	o, found := d.objects[id]
	if !found {
		return ErrNotFound
	} else if !o.owned(d.self) {
		return ErrNotOwner
	}
	if o.Active == active {
		return nil
	}
	d.applyActive(o, active)
	return d.send.SendReliableAll(protocol.ActiveChanged{ID: id, Active: active})
}

func (d *Directory) applyActive(o *Object, active bool) {
	o.Active = active
	if a, ok := o.Instance.(Activatable); ok {
		a.SetActive(active)
	}
	d.emit.Emit(event.ObjectActiveChanged{ID: o.ID, Active: active})
}

// SetOrigin moves the shared origin and immediately re-publishes every owned object,
// bypassing both the change check and the rate limit.
func (d *Directory) SetOrigin(origin spatial.Pose) {
	d.origin = origin
	for _, o := range d.objects {
		if o.owned(d.self) {
			d.publish(o, o.Instance.Transform())
		}
	}
}

func (d *Directory) publish(o *Object, world spatial.Transform) {
	o.replica.markPublished(world)
	if err := d.send.SendAll(protocol.TransformSync{ID: o.ID, Transform: d.wire(world)}); err != nil {
		d.log.Warn().Err(err).Str("id", o.ID).Msg("failed to publish transform")
	}
}

// Update advances every replica: owned objects publish changed poses at the sync rate,
// others move toward the last pose their owner published.
func (d *Directory) Update(now time.Time, dt time.Duration) {
	for _, o := range d.objects {
		cur := o.Instance.Transform()
		if o.owned(d.self) {
			if o.replica.due(cur, now) {
				d.publish(o, cur)
			}
			continue
		}
		if next, moved := o.replica.step(cur, dt); moved {
			o.Instance.SetTransform(next)
		}
	}
}

// PeerFound recaps every owned object to addr.
func (d *Directory) PeerFound(addr netip.AddrPort) {
	for _, o := range d.objects {
		if !o.owned(d.self) {
			continue
		}
		recap := protocol.SpawnRecap{
			ID:        o.ID,
			Template:  o.Template,
			Transform: d.wire(o.Instance.Transform()),
			Active:    o.Active,
			Owner:     d.self.String(),
			Creator:   o.Creator.String(),
			Locked:    o.Locked,
		}
		if err := d.send.SendReliable(addr, recap); err != nil {
			d.log.Warn().Err(err).Str("id", o.ID).Str("peer", addr.String()).Msg("failed to recap object")
		}
	}
}

// PeerLost destroys every object created by addr and returns their ids.
// Objects addr owned but did not create are kept.
func (d *Directory) PeerLost(addr netip.AddrPort) []string {
	var ids []string
	for id, o := range d.objects {
		if o.Creator == addr {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	for _, id := range ids {
		d.destroy(id)
	}
	return ids
}

// Handle applies an object payload received from a peer.
// Returns false if p is not an object payload.
func (d *Directory) Handle(from netip.AddrPort, p protocol.Payload) (handled bool) {
	switch p := p.(type) {
	case protocol.Spawn:
		d.remoteSpawn(from, p.ID, p.Template, p.Transform, p.Active, from, from, false)
	case protocol.SpawnRecap:
		owner, creator := parseOr(p.Owner, from), parseOr(p.Creator, from)
		d.remoteSpawn(from, p.ID, p.Template, p.Transform, p.Active, owner, creator, p.Locked)
	case protocol.Despawn:
		// a despawn can overtake its spawn; remember it so the spawn is refused
		d.despawned[p.ID] = struct{}{}
		d.destroy(p.ID)
	case protocol.TransformSync:
		d.handleSync(from, p)
	case protocol.ActiveChanged:
		if o, found := d.objects[p.ID]; found && o.Active != p.Active {
			d.applyActive(o, p.Active)
		}
	case protocol.OwnershipRequest:
		d.handleRequest(from, p.ID)
	case protocol.OwnershipGrant:
		d.handleGrant(from, p.ID)
	case protocol.OwnershipDeny:
		if _, found := d.objects[p.ID]; found {
			d.emit.Emit(event.OwnershipDenied{ID: p.ID})
		}
	case protocol.OwnershipChanged:
		d.handleChanged(from, p)
	default:
		return false
	}
	return true
}

func parseOr(s string, fallback netip.AddrPort) netip.AddrPort {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap
	}
	return fallback
}

// remoteSpawn instantiates an object announced by a peer. Known and despawned ids are ignored.
func (d *Directory) remoteSpawn(from netip.AddrPort, id, templateID string, wire spatial.Transform, active bool, owner, creator netip.AddrPort, locked bool) {
	if _, found := d.objects[id]; found {
		return
	} else if _, gone := d.despawned[id]; gone {
		d.log.Debug().Str("id", id).Str("peer", from.String()).Msg("ignoring spawn of a despawned object")
		return
	}
	tpl, found := d.reg.Resolve(templateID)
	if !found {
		d.log.Warn().Str("id", id).Str("template", templateID).Str("peer", from.String()).Msg("cannot resolve template; skipping remote spawn")
		return
	}
	world := d.world(wire)
	o := &Object{
		ID:       id,
		Template: templateID,
		Owner:    owner,
		Creator:  creator,
		Locked:   locked,
		Active:   true,
		Instance: tpl.Instantiate(world),
		replica:  newReplica(d.syncRate, d.smoothing),
	}
	o.replica.setTarget(world)
	d.objects[id] = o
	d.log.Debug().Str("id", id).Str("template", templateID).Str("owner", owner.String()).Msg("remote spawn")
	d.emit.Emit(event.ObjectSpawned{ID: id, Template: templateID, Owned: false})
	if !active {
		d.applyActive(o, false)
	}
}

func (d *Directory) handleSync(from netip.AddrPort, p protocol.TransformSync) {
	o, found := d.objects[p.ID]
	if !found || o.owned(d.self) {
		return
	} else if from != o.Owner {
		// a previous owner's late sync; ownership moves only by grant or announcement
		d.log.Debug().Str("id", p.ID).Str("peer", from.String()).Str("owner", o.Owner.String()).Msg("dropping sync from a non-owner")
		return
	}
	o.replica.setTarget(d.world(p.Transform))
}

func (d *Directory) handleRequest(from netip.AddrPort, id string) {
	o, found := d.objects[id]
	if !found {
		d.log.Debug().Str("id", id).Str("peer", from.String()).Msg("ownership request for unknown object")
		return
	} else if !o.owned(d.self) {
		d.log.Warn().Str("id", id).Str("peer", from.String()).Str("owner", o.Owner.String()).Msg("ownership request reached a non-owner; dropping")
		return
	}
	if o.Locked {
		if err := d.send.SendReliable(from, protocol.OwnershipDeny{ID: id}); err != nil {
			d.log.Warn().Err(err).Str("id", id).Msg("failed to deny ownership")
		}
		return
	}
	o.Owner = from
	o.replica.becomeRemote(o.Instance.Transform())
	d.emit.Emit(event.OwnershipLost{ID: id})
	if err := d.send.SendReliable(from, protocol.OwnershipGrant{ID: id}); err != nil {
		d.log.Warn().Err(err).Str("id", id).Msg("failed to grant ownership")
	}
}

func (d *Directory) handleGrant(from netip.AddrPort, id string) {
	o, found := d.objects[id]
	if !found || o.owned(d.self) {
		return
	}
	o.Owner = d.self
	o.Locked = false
	o.replica.becomeOwner()
	d.emit.Emit(event.OwnershipGained{ID: id})
	if err := d.send.SendReliableAll(protocol.OwnershipChanged{ID: id, Owner: d.self.String()}); err != nil {
		d.log.Warn().Err(err).Str("id", id).Msg("failed to announce ownership")
	}
}

func (d *Directory) handleChanged(from netip.AddrPort, p protocol.OwnershipChanged) {
	o, found := d.objects[p.ID]
	if !found {
		return
	}
	owner := parseOr(p.Owner, from)
	if owner == d.self || o.owned(d.self) {
		return
	}
	o.Owner = owner
}

// Clear destroys every object locally without informing peers.
func (d *Directory) Clear() {
	for id := range d.objects {
		d.destroy(id)
	}
}
