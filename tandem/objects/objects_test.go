package objects_test

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/Pallinder/go-randomdata"
	. "github.com/rflandau/tandem/internal/testsupport"
	"github.com/rflandau/tandem/tandem/event"
	"github.com/rflandau/tandem/tandem/objects"
	"github.com/rflandau/tandem/tandem/protocol"
	"github.com/rflandau/tandem/tandem/spatial"
)

var start = time.Unix(1_700_000_000, 0)

type sent struct {
	to       netip.AddrPort
	all      bool
	reliable bool
	p        protocol.Payload
}

type fakeSender struct{ sent []sent }

func (f *fakeSender) SendReliable(to netip.AddrPort, p protocol.Payload) error {
	f.sent = append(f.sent, sent{to: to, reliable: true, p: p})
	return nil
}
func (f *fakeSender) SendReliableAll(p protocol.Payload) error {
	f.sent = append(f.sent, sent{all: true, reliable: true, p: p})
	return nil
}
func (f *fakeSender) SendAll(p protocol.Payload) error {
	f.sent = append(f.sent, sent{all: true, p: p})
	return nil
}

// last returns the most recent payload of type P.
func last[P protocol.Payload](f *fakeSender) (P, sent, bool) {
	for i := len(f.sent) - 1; i >= 0; i-- {
		if p, ok := f.sent[i].p.(P); ok {
			return p, f.sent[i], true
		}
	}
	var zero P
	return zero, sent{}, false
}

type recorder struct{ events []event.Event }

func (r *recorder) emit(ev event.Event) { r.events = append(r.events, ev) }
func (r *recorder) has(ev event.Event) bool {
	for _, e := range r.events {
		if e == ev {
			return true
		}
	}
	return false
}

type fixture struct {
	self netip.AddrPort
	snd  *fakeSender
	rec  *recorder
	dir  *objects.Directory
}

func newFixture() fixture {
	f := fixture{self: RandomLocalhostAddrPort(), snd: &fakeSender{}, rec: &recorder{}}
	f.dir = objects.New(objects.Config{
		Self:     f.self,
		Registry: objects.Catalog{"cube": objects.BodyTemplate},
		Send:     f.snd,
		Emit:     f.rec.emit,
	})
	return f
}

func TestSpawnDespawn(t *testing.T) {
	f := newFixture()
	if _, err := f.dir.Spawn("dodecahedron", spatial.NewTransform(spatial.Vector3{})); !errors.Is(err, objects.ErrTemplateNotFound) {
		t.Fatal(ExpectedActual(objects.ErrTemplateNotFound, err))
	}
	if f.dir.Len() != 0 || len(f.snd.sent) != 0 {
		t.Fatal("unresolved spawn must create and send nothing")
	}

	tf := spatial.NewTransform(spatial.Vector3{X: 1.23456, Y: 2, Z: -3})
	id, err := f.dir.Spawn("cube", tf)
	if err != nil {
		t.Fatal(err)
	}
	snap, found := f.dir.Get(id)
	if !found || !snap.Owned || snap.Creator != f.self.String() || !snap.Active {
		t.Fatalf("bad snapshot %+v", snap)
	}
	spawn, s, ok := last[protocol.Spawn](f.snd)
	if !ok || !s.all || !s.reliable || spawn.ID != id || spawn.Template != "cube" {
		t.Fatalf("bad spawn message %+v", s)
	}
	// truncated to three decimals
	if spawn.Transform.Position.X != 1.234 {
		t.Fatal(ExpectedActual(1.234, spawn.Transform.Position.X))
	}

	if err := f.dir.Despawn(id); err != nil {
		t.Fatal(err)
	}
	if f.dir.Len() != 0 {
		t.Fatal("object survived despawn")
	}
	if d, _, ok := last[protocol.Despawn](f.snd); !ok || d.ID != id {
		t.Fatal("despawn was not sent")
	}
	if !errors.Is(f.dir.Despawn(id), objects.ErrNotFound) {
		t.Fatal("despawning twice should report not found")
	}
	if !f.rec.has(event.ObjectSpawned{ID: id, Template: "cube", Owned: true}) || !f.rec.has(event.ObjectDespawned{ID: id}) {
		t.Fatal("missing events", f.rec.events)
	}
}

func TestRemoteSpawn(t *testing.T) {
	f := newFixture()
	peer := RandomLocalhostAddrPort()
	id := randomdata.Alphanumeric(10)
	spawn := protocol.Spawn{ID: id, Template: "cube", Transform: spatial.NewTransform(spatial.Vector3{X: 4}), Active: true}

	if !f.dir.Handle(peer, spawn) {
		t.Fatal("spawn not handled")
	}
	snap, found := f.dir.Get(id)
	if !found || snap.Owned || snap.Owner != peer.String() || snap.Creator != peer.String() {
		t.Fatalf("bad remote object %+v", snap)
	}
	// idempotent
	f.dir.Handle(peer, spawn)
	if f.dir.Len() != 1 {
		t.Fatal(ExpectedActual(1, f.dir.Len()))
	}
	// unresolvable templates are skipped
	f.dir.Handle(peer, protocol.Spawn{ID: "other", Template: "teapot"})
	if f.dir.Len() != 1 {
		t.Fatal("spawned an unresolvable template")
	}
	// remote despawn of an unknown id is a no-op
	f.dir.Handle(peer, protocol.Despawn{ID: "nope"})

	t.Run("recap carries owner and creator", func(t *testing.T) {
		creator := RandomLocalhostAddrPort()
		f.dir.Handle(peer, protocol.SpawnRecap{ID: "r", Template: "cube", Owner: peer.String(), Creator: creator.String(), Active: false})
		snap, found := f.dir.Get("r")
		if !found || snap.Creator != creator.String() || snap.Owner != peer.String() || snap.Active {
			t.Fatalf("bad recapped object %+v", snap)
		}
		inst, _ := f.dir.Instance("r")
		if inst.(*objects.Body).Active() {
			t.Fatal("instance should have been deactivated")
		}
	})

	t.Run("despawn overtaking its spawn refuses the spawn", func(t *testing.T) {
		late := randomdata.Alphanumeric(10)
		f.dir.Handle(peer, protocol.Despawn{ID: late})
		f.dir.Handle(peer, protocol.Spawn{ID: late, Template: "cube", Active: true})
		if _, found := f.dir.Get(late); found {
			t.Fatal("spawn of a despawned id was instantiated")
		}
		f.dir.Handle(peer, protocol.SpawnRecap{ID: late, Template: "cube", Owner: peer.String(), Creator: peer.String()})
		if _, found := f.dir.Get(late); found {
			t.Fatal("recap of a despawned id was instantiated")
		}
	})

	t.Run("creator loss cascades", func(t *testing.T) {
		gone := f.dir.PeerLost(peer)
		if len(gone) != 1 || gone[0] != id {
			t.Fatal(ExpectedActual([]string{id}, gone))
		}
		// "r" was created by someone else and survives even though peer owned it
		if _, found := f.dir.Get("r"); !found {
			t.Fatal("object created by another peer was destroyed")
		}
	})
}

func TestOwnership(t *testing.T) {
	owner, requester := newFixture(), newFixture()
	id, err := owner.dir.Spawn("cube", spatial.NewTransform(spatial.Vector3{}))
	if err != nil {
		t.Fatal(err)
	}
	spawn, _, _ := last[protocol.Spawn](owner.snd)
	requester.dir.Handle(owner.self, spawn)

	t.Run("locked object is denied", func(t *testing.T) {
		if err := requester.dir.SetOwnershipLocked(id, true); !errors.Is(err, objects.ErrNotOwner) {
			t.Fatal(ExpectedActual(objects.ErrNotOwner, err))
		}
		if err := owner.dir.SetOwnershipLocked(id, true); err != nil {
			t.Fatal(err)
		}
		if err := requester.dir.RequestOwnership(id); err != nil {
			t.Fatal(err)
		}
		req, s, ok := last[protocol.OwnershipRequest](requester.snd)
		if !ok || s.to != owner.self || !s.reliable {
			t.Fatalf("request should be reliable unicast to the owner: %+v", s)
		}
		owner.dir.Handle(requester.self, req)
		deny, s, ok := last[protocol.OwnershipDeny](owner.snd)
		if !ok || s.to != requester.self {
			t.Fatal("owner did not deny")
		}
		requester.dir.Handle(owner.self, deny)
		if requester.dir.IsOwned(id) || !owner.dir.IsOwned(id) {
			t.Fatal("ownership moved despite lock")
		}
		if !requester.rec.has(event.OwnershipDenied{ID: id}) {
			t.Fatal("requester did not observe the deny")
		}
	})

	t.Run("unlocked object is granted", func(t *testing.T) {
		owner.dir.SetOwnershipLocked(id, false)
		requester.dir.RequestOwnership(id)
		req, _, _ := last[protocol.OwnershipRequest](requester.snd)
		owner.dir.Handle(requester.self, req)
		if owner.dir.IsOwned(id) {
			t.Fatal("owner kept ownership after granting")
		}
		// requester only flips on grant arrival
		if requester.dir.IsOwned(id) {
			t.Fatal("requester owns the object before the grant arrived")
		}
		grant, s, ok := last[protocol.OwnershipGrant](owner.snd)
		if !ok || s.to != requester.self {
			t.Fatal("owner did not grant")
		}
		requester.dir.Handle(owner.self, grant)
		if !requester.dir.IsOwned(id) {
			t.Fatal("requester does not own the object after the grant")
		}
		if !owner.rec.has(event.OwnershipLost{ID: id}) || !requester.rec.has(event.OwnershipGained{ID: id}) {
			t.Fatal("missing ownership events")
		}
		changed, s, ok := last[protocol.OwnershipChanged](requester.snd)
		if !ok || !s.all || changed.Owner != requester.self.String() {
			t.Fatalf("new owner was not announced: %+v", s)
		}
	})

	t.Run("request reaching a non-owner is dropped", func(t *testing.T) {
		before := len(owner.snd.sent)
		owner.dir.Handle(RandomLocalhostAddrPort(), protocol.OwnershipRequest{ID: id})
		if len(owner.snd.sent) != before {
			t.Fatal("non-owner answered an ownership request")
		}
	})
}

// Only grants and announcements move an owner record; a previous owner's late sync does not.
func TestSyncFromFormerOwner(t *testing.T) {
	f := newFixture()
	former, current := RandomLocalhostAddrPort(), RandomLocalhostAddrPort()
	id := randomdata.Alphanumeric(10)
	f.dir.Handle(former, protocol.Spawn{ID: id, Template: "cube", Active: true})
	f.dir.Handle(current, protocol.OwnershipChanged{ID: id, Owner: current.String()})

	f.dir.Handle(former, protocol.TransformSync{ID: id, Transform: spatial.NewTransform(spatial.Vector3{X: 50})})
	snap, _ := f.dir.Get(id)
	if snap.Owner != current.String() {
		t.Fatal(ExpectedActual(current.String(), snap.Owner))
	}
	for range 60 {
		f.dir.Update(start, 16*time.Millisecond)
	}
	if inst, _ := f.dir.Instance(id); inst.Transform().Position.X != 0 {
		t.Fatal("late sync moved the object", inst.Transform().Position)
	}

	// the recorded owner is followed
	f.dir.Handle(current, protocol.TransformSync{ID: id, Transform: spatial.NewTransform(spatial.Vector3{X: 5})})
	for range 120 {
		f.dir.Update(start, 16*time.Millisecond)
	}
	if inst, _ := f.dir.Instance(id); inst.Transform().Position.X <= 0 {
		t.Fatal("sync from the owner was ignored", inst.Transform().Position)
	}
}

func TestReplica(t *testing.T) {
	owner, remote := newFixture(), newFixture()
	id, _ := owner.dir.Spawn("cube", spatial.NewTransform(spatial.Vector3{}))
	spawn, _, _ := last[protocol.Spawn](owner.snd)
	remote.dir.Handle(owner.self, spawn)
	inst, _ := owner.dir.Instance(id)

	count := func() (n int) {
		for _, s := range owner.snd.sent {
			if _, ok := s.p.(protocol.TransformSync); ok {
				if s.reliable {
					t.Fatal("transform sync must be unreliable")
				}
				n++
			}
		}
		return n
	}

	// unchanged: nothing to publish
	owner.dir.Update(start, 0)
	if count() != 0 {
		t.Fatal("published an unchanged transform")
	}
	target := spatial.NewTransform(spatial.Vector3{X: 5})
	inst.SetTransform(target)
	// the limiter permits one publish per 100ms at the default rate
	for i := range 10 {
		owner.dir.Update(start.Add(time.Duration(i)*time.Millisecond), time.Millisecond)
	}
	if count() != 1 {
		t.Fatal(ExpectedActual(1, count()))
	}
	inst.SetTransform(spatial.NewTransform(spatial.Vector3{X: 6}))
	owner.dir.Update(start.Add(50*time.Millisecond), time.Millisecond)
	if count() != 1 {
		t.Fatal("published faster than the sync rate")
	}
	owner.dir.Update(start.Add(200*time.Millisecond), time.Millisecond)
	if count() != 2 {
		t.Fatal(ExpectedActual(2, count()))
	}

	sync, _, _ := last[protocol.TransformSync](owner.snd)
	remote.dir.Handle(owner.self, sync)
	rinst, _ := remote.dir.Instance(id)
	// one frame later the remote has moved, but not snapped
	remote.dir.Update(start, 16*time.Millisecond)
	if x := rinst.Transform().Position.X; x <= 0 || x >= 6 {
		t.Fatalf("remote should move partway toward the target, at %v", x)
	}
	for i := range 120 {
		remote.dir.Update(start.Add(time.Duration(i)*16*time.Millisecond), 16*time.Millisecond)
	}
	if !rinst.Transform().Position.ApproxEqual(spatial.Vector3{X: 6}, 1e-3) {
		t.Fatal(ExpectedActual(spatial.Vector3{X: 6}, rinst.Transform().Position))
	}

	t.Run("owner ignores syncs", func(t *testing.T) {
		owner.dir.Handle(remote.self, protocol.TransformSync{ID: id, Transform: spatial.NewTransform(spatial.Vector3{Y: 100})})
		owner.dir.Update(start.Add(time.Hour), time.Second)
		if inst.Transform().Position.Y != 0 {
			t.Fatal("owner applied a foreign transform")
		}
	})
}

func TestOrigin(t *testing.T) {
	owner, remote := newFixture(), newFixture()
	world := spatial.NewTransform(spatial.Vector3{X: 2, Y: 1})
	id, _ := owner.dir.Spawn("cube", world)
	spawn, _, _ := last[protocol.Spawn](owner.snd)
	remote.dir.Handle(owner.self, spawn)

	origin := spatial.Pose{Position: spatial.Vector3{X: 1}, Rotation: spatial.FromAxisAngle(spatial.Vector3{Y: 1}, 0.5)}
	before := len(owner.snd.sent)
	owner.dir.SetOrigin(origin)
	if len(owner.snd.sent) != before+1 {
		t.Fatal("origin change should force-publish every owned object")
	}
	sync, _, _ := last[protocol.TransformSync](owner.snd)
	want := world.RelativeTo(origin).Truncate(3)
	if sync.ID != id || sync.Transform != want {
		t.Fatal(ExpectedActual(want, sync.Transform))
	}
	// a remote sharing the same origin reconstructs the world pose
	remote.dir.SetOrigin(origin)
	remote.dir.Handle(owner.self, sync)
	rinst, _ := remote.dir.Instance(id)
	for i := range 200 {
		remote.dir.Update(start.Add(time.Duration(i)*16*time.Millisecond), 16*time.Millisecond)
	}
	if !rinst.Transform().Position.ApproxEqual(world.Position, 1e-2) {
		t.Fatal(ExpectedActual(world.Position, rinst.Transform().Position))
	}
}

func TestActive(t *testing.T) {
	owner, remote := newFixture(), newFixture()
	id, _ := owner.dir.Spawn("cube", spatial.NewTransform(spatial.Vector3{}))
	spawn, _, _ := last[protocol.Spawn](owner.snd)
	remote.dir.Handle(owner.self, spawn)

	if err := remote.dir.SetActive(id, false); !errors.Is(err, objects.ErrNotOwner) {
		t.Fatal(ExpectedActual(objects.ErrNotOwner, err))
	}
	if err := owner.dir.SetActive(id, false); err != nil {
		t.Fatal(err)
	}
	ac, s, ok := last[protocol.ActiveChanged](owner.snd)
	if !ok || !s.reliable || ac.Active {
		t.Fatalf("bad active change %+v", s)
	}
	remote.dir.Handle(owner.self, ac)
	snap, _ := remote.dir.Get(id)
	if snap.Active {
		t.Fatal("remote did not deactivate")
	}
	if !remote.rec.has(event.ObjectActiveChanged{ID: id, Active: false}) {
		t.Fatal("missing active event")
	}
}

func TestPeerFoundRecap(t *testing.T) {
	f := newFixture()
	mine, _ := f.dir.Spawn("cube", spatial.NewTransform(spatial.Vector3{}))
	other := RandomLocalhostAddrPort()
	f.dir.Handle(other, protocol.Spawn{ID: "theirs", Template: "cube"})
	f.snd.sent = nil

	newcomer := RandomLocalhostAddrPort()
	f.dir.PeerFound(newcomer)
	if len(f.snd.sent) != 1 {
		t.Fatalf("expected exactly one recap (owned objects only), got %d", len(f.snd.sent))
	}
	recap, ok := f.snd.sent[0].p.(protocol.SpawnRecap)
	if !ok || f.snd.sent[0].to != newcomer || !f.snd.sent[0].reliable || recap.ID != mine || recap.Owner != f.self.String() {
		t.Fatalf("bad recap %+v", f.snd.sent[0])
	}
}
