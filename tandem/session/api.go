package session

import (
	"errors"
	"net/netip"

	"github.com/rflandau/tandem/tandem/event"
	"github.com/rflandau/tandem/tandem/globals"
	"github.com/rflandau/tandem/tandem/objects"
	"github.com/rflandau/tandem/tandem/protocol"
	"github.com/rflandau/tandem/tandem/spatial"
)

// File api.go exposes the session's replicated state to the application.
// Like every other Session method, none of these are safe to call concurrently with Tick; use Do from other goroutines.

var ErrEmptyMethod = errors.New("method name cannot be empty")

//#region globals

func (s *Session) SetGlobalString(key, v string) error { return globals.Set(s.globals, key, v) }
func (s *Session) SetGlobalBool(key string, v bool) error {
	return globals.Set(s.globals, key, v)
}
func (s *Session) SetGlobalFloat(key string, v float64) error {
	return globals.Set(s.globals, key, v)
}
func (s *Session) SetGlobalVector2(key string, v spatial.Vector2) error {
	return globals.Set(s.globals, key, v)
}
func (s *Session) SetGlobalVector3(key string, v spatial.Vector3) error {
	return globals.Set(s.globals, key, v)
}
func (s *Session) SetGlobalVector4(key string, v spatial.Vector4) error {
	return globals.Set(s.globals, key, v)
}

func (s *Session) GetGlobalString(key string) (string, bool) { return globals.Get[string](s.globals, key) }
func (s *Session) GetGlobalBool(key string) (bool, bool)     { return globals.Get[bool](s.globals, key) }
func (s *Session) GetGlobalFloat(key string) (float64, bool) { return globals.Get[float64](s.globals, key) }
func (s *Session) GetGlobalVector2(key string) (spatial.Vector2, bool) {
	return globals.Get[spatial.Vector2](s.globals, key)
}
func (s *Session) GetGlobalVector3(key string) (spatial.Vector3, bool) {
	return globals.Get[spatial.Vector3](s.globals, key)
}
func (s *Session) GetGlobalVector4(key string) (spatial.Vector4, bool) {
	return globals.Get[spatial.Vector4](s.globals, key)
}

//#endregion globals

//#region objects

// Spawn instantiates templateID at the world transform tf and announces it to every known peer.
// Returns the new object's id.
func (s *Session) Spawn(templateID string, tf spatial.Transform) (string, error) {
	return s.objects.Spawn(templateID, tf)
}

// Despawn destroys id here and on every known peer. Any session may despawn any object.
func (s *Session) Despawn(id string) error { return s.objects.Despawn(id) }

// RequestOwnership asks id's owner to hand it over.
// The answer arrives as an OwnershipGained or OwnershipDenied event.
func (s *Session) RequestOwnership(id string) error { return s.objects.RequestOwnership(id) }

// SetOwnershipLocked makes this session refuse (or accept) requests for id. Only the owner may lock.
func (s *Session) SetOwnershipLocked(id string, locked bool) error {
	return s.objects.SetOwnershipLocked(id, locked)
}

// SetActive enables or disables id everywhere. Only the owner may toggle.
func (s *Session) SetActive(id string, active bool) error { return s.objects.SetActive(id, active) }

// Object returns the replicated state of id.
func (s *Session) Object(id string) (objects.Snapshot, bool) { return s.objects.Get(id) }

// Objects returns every known object, ordered by id.
func (s *Session) Objects() []objects.Snapshot { return s.objects.All() }

// Instance returns the local embodiment of id.
func (s *Session) Instance(id string) (objects.Instance, bool) { return s.objects.Instance(id) }

//#endregion objects

//#region origin

// SetOrigin moves the shared origin that object poses are exchanged relative to,
// re-publishing every owned object immediately.
func (s *Session) SetOrigin(origin spatial.Pose) {
	s.objects.SetOrigin(origin)
	s.log.Debug().Interface("origin", origin).Msg("origin changed")
	s.emit(event.OriginChanged{})
}

// Origin returns the current shared origin.
func (s *Session) Origin() spatial.Pose { return s.objects.Origin() }

//#endregion origin

//#region values

// SendValue sends a single tagged application value to every known peer.
// Recipients raise a ValueReceived event carrying a protocol.Value[T].
func SendValue[T protocol.ValueType](s *Session, tag string, v T, reliable bool) error {
	p := protocol.Value[T]{Tag: tag, Value: v}
	if reliable {
		return s.SendReliableAll(p)
	}
	return s.SendAll(p)
}

// SendValues sends an array of tagged application values to every known peer.
// Recipients raise a ValueReceived event carrying a protocol.Values[T].
func SendValues[T protocol.ValueType](s *Session, tag string, vs []T, reliable bool) error {
	p := protocol.Values[T]{Tag: tag, Values: vs}
	if reliable {
		return s.SendReliableAll(p)
	}
	return s.SendAll(p)
}

// Handle registers fn to be called when a peer invokes method on this session.
// Replaces any prior handler for method; a nil fn removes it.
func (s *Session) Handle(method string, fn func(from netip.AddrPort, args []any)) {
	if fn == nil {
		delete(s.handlers, method)
		return
	}
	s.handlers[method] = fn
}

// Invoke reliably calls method, with args, on every known peer.
// Args must be encodable by the session's codec.
func (s *Session) Invoke(method string, args ...any) error {
	if method == "" {
		return ErrEmptyMethod
	}
	return s.SendReliableAll(protocol.Invoke{Method: method, Args: args})
}

//#endregion values
