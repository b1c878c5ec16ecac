package protocol

import (
	"fmt"

	"github.com/rflandau/tandem/tandem/protocol/mt"
	"github.com/rflandau/tandem/tandem/spatial"
)

// A Payload is the typed body of an envelope.
// Every message type in package mt has exactly one Payload implementation; see the decoders table.
type Payload interface {
	Type() mt.MessageType
}

//#region liveness

// Heartbeat announces liveness. Age is the sender's session creation time, in unix nanoseconds.
type Heartbeat struct {
	Age int64 `json:"age"`
}

// Awake is broadcast once when a session starts.
type Awake struct {
	Age int64 `json:"age"`
}

// Ack acknowledges receipt of the reliable envelope with the given ID.
type Ack struct {
	ID string `json:"id"`
}

func (Heartbeat) Type() mt.MessageType { return mt.Heartbeat }
func (Awake) Type() mt.MessageType     { return mt.Awake }
func (Ack) Type() mt.MessageType       { return mt.Ack }

//#endregion liveness

//#region globals

// GlobalRequest asks the recipient for a recap of its V map.
type GlobalRequest[V GlobalValue] struct{}

// GlobalChanged carries a single write to the V map.
type GlobalChanged[V GlobalValue] struct {
	Key   string `json:"k"`
	Value V      `json:"v"`
}

// GlobalRecap carries the entire V map as parallel key and value arrays.
type GlobalRecap[V GlobalValue] struct {
	Keys   []string `json:"k"`
	Values []V      `json:"v"`
}

func (GlobalRequest[V]) Type() mt.MessageType { return KindFor[V]().RequestType() }
func (GlobalChanged[V]) Type() mt.MessageType { return KindFor[V]().ChangedType() }
func (GlobalRecap[V]) Type() mt.MessageType   { return KindFor[V]().RecapType() }

// NewRecap flattens m into a recap.
func NewRecap[V GlobalValue](m map[string]V) GlobalRecap[V] {
	r := GlobalRecap[V]{Keys: make([]string, 0, len(m)), Values: make([]V, 0, len(m))}
	for k, v := range m {
		r.Keys = append(r.Keys, k)
		r.Values = append(r.Values, v)
	}
	return r
}

// Map rebuilds the map carried by r.
// Returns an error if the key and value arrays are of unequal length.
func (r GlobalRecap[V]) Map() (map[string]V, error) {
	if len(r.Keys) != len(r.Values) {
		return nil, fmt.Errorf("recap carries %d keys but %d values", len(r.Keys), len(r.Values))
	}
	m := make(map[string]V, len(r.Keys))
	for i, k := range r.Keys {
		m[k] = r.Values[i]
	}
	return m, nil
}

//#endregion globals

//#region objects

// Spawn instructs recipients to instantiate a networked object.
// The transform is relative to the shared origin.
type Spawn struct {
	ID        string            `json:"id"`
	Template  string            `json:"tpl"`
	Transform spatial.Transform `json:"tf"`
	Active    bool              `json:"act"`
}

// SpawnRecap is a Spawn sent to a single late joiner. It carries the current owner and the original creator,
// which may differ from the sender.
type SpawnRecap struct {
	ID        string            `json:"id"`
	Template  string            `json:"tpl"`
	Transform spatial.Transform `json:"tf"`
	Active    bool              `json:"act"`
	Owner     string            `json:"own"`
	Creator   string            `json:"cre"`
	Locked    bool              `json:"lck"`
}

type Despawn struct {
	ID string `json:"id"`
}

// TransformSync is the owner's periodic, unreliable pose publication.
type TransformSync struct {
	ID        string            `json:"id"`
	Transform spatial.Transform `json:"tf"`
}

type ActiveChanged struct {
	ID     string `json:"id"`
	Active bool   `json:"act"`
}

type OwnershipRequest struct {
	ID string `json:"id"`
}

type OwnershipGrant struct {
	ID string `json:"id"`
}

type OwnershipDeny struct {
	ID string `json:"id"`
}

// OwnershipChanged announces the new owner of an object to third parties.
type OwnershipChanged struct {
	ID    string `json:"id"`
	Owner string `json:"own"`
}

func (Spawn) Type() mt.MessageType            { return mt.Spawn }
func (SpawnRecap) Type() mt.MessageType       { return mt.SpawnRecap }
func (Despawn) Type() mt.MessageType          { return mt.Despawn }
func (TransformSync) Type() mt.MessageType    { return mt.TransformSync }
func (ActiveChanged) Type() mt.MessageType    { return mt.ActiveChanged }
func (OwnershipRequest) Type() mt.MessageType { return mt.OwnershipRequest }
func (OwnershipGrant) Type() mt.MessageType   { return mt.OwnershipGrant }
func (OwnershipDeny) Type() mt.MessageType    { return mt.OwnershipDeny }
func (OwnershipChanged) Type() mt.MessageType { return mt.OwnershipChanged }

//#endregion objects

//#region values

// Value is a single application value labelled with an application-chosen tag.
type Value[T ValueType] struct {
	Tag   string `json:"tag"`
	Value T      `json:"v"`
}

// Values is an array of application values labelled with an application-chosen tag.
type Values[T ValueType] struct {
	Tag    string `json:"tag"`
	Values []T    `json:"v"`
}

func (Value[T]) Type() mt.MessageType  { return scalarType[T]() }
func (Values[T]) Type() mt.MessageType { return arrayType[T]() }

// Tagged is implemented by every Value and Values payload.
type Tagged interface {
	Payload
	ValueTag() string
}

func (v Value[T]) ValueTag() string  { return v.Tag }
func (v Values[T]) ValueTag() string { return v.Tag }

// Invoke calls a named method on every recipient.
// Args survive the wire as their generic decoded forms (numbers, strings, maps, slices).
type Invoke struct {
	Method string `json:"m"`
	Args   []any  `json:"args,omitempty"`
}

func (Invoke) Type() mt.MessageType { return mt.Invoke }

//#endregion values

//#region decoding

// decodeFunc unmarshals a payload into the pointer it is given.
type decodeFunc func(v any) error

func decodeAs[P Payload](dec decodeFunc) (Payload, error) {
	var p P
	if err := dec(&p); err != nil {
		return nil, err
	}
	return p, nil
}

// decoders maps each message type to the payload it carries.
// Must be exhaustive over package mt; see TestDecodersExhaustive.
var decoders = map[mt.MessageType]func(decodeFunc) (Payload, error){
	mt.Heartbeat: decodeAs[Heartbeat],
	mt.Awake:     decodeAs[Awake],
	mt.Ack:       decodeAs[Ack],

	mt.StringRequest:  decodeAs[GlobalRequest[string]],
	mt.BoolRequest:    decodeAs[GlobalRequest[bool]],
	mt.FloatRequest:   decodeAs[GlobalRequest[float64]],
	mt.Vector2Request: decodeAs[GlobalRequest[spatial.Vector2]],
	mt.Vector3Request: decodeAs[GlobalRequest[spatial.Vector3]],
	mt.Vector4Request: decodeAs[GlobalRequest[spatial.Vector4]],
	mt.StringChanged:  decodeAs[GlobalChanged[string]],
	mt.BoolChanged:    decodeAs[GlobalChanged[bool]],
	mt.FloatChanged:   decodeAs[GlobalChanged[float64]],
	mt.Vector2Changed: decodeAs[GlobalChanged[spatial.Vector2]],
	mt.Vector3Changed: decodeAs[GlobalChanged[spatial.Vector3]],
	mt.Vector4Changed: decodeAs[GlobalChanged[spatial.Vector4]],
	mt.StringRecap:    decodeAs[GlobalRecap[string]],
	mt.BoolRecap:      decodeAs[GlobalRecap[bool]],
	mt.FloatRecap:     decodeAs[GlobalRecap[float64]],
	mt.Vector2Recap:   decodeAs[GlobalRecap[spatial.Vector2]],
	mt.Vector3Recap:   decodeAs[GlobalRecap[spatial.Vector3]],
	mt.Vector4Recap:   decodeAs[GlobalRecap[spatial.Vector4]],

	mt.Spawn:            decodeAs[Spawn],
	mt.SpawnRecap:       decodeAs[SpawnRecap],
	mt.Despawn:          decodeAs[Despawn],
	mt.TransformSync:    decodeAs[TransformSync],
	mt.ActiveChanged:    decodeAs[ActiveChanged],
	mt.OwnershipRequest: decodeAs[OwnershipRequest],
	mt.OwnershipGrant:   decodeAs[OwnershipGrant],
	mt.OwnershipDeny:    decodeAs[OwnershipDeny],
	mt.OwnershipChanged: decodeAs[OwnershipChanged],

	mt.BoolValue:       decodeAs[Value[bool]],
	mt.BytesValue:      decodeAs[Value[[]byte]],
	mt.ColorValue:      decodeAs[Value[spatial.Color]],
	mt.FloatValue:      decodeAs[Value[float64]],
	mt.PoseValue:       decodeAs[Value[spatial.Pose]],
	mt.QuaternionValue: decodeAs[Value[spatial.Quaternion]],
	mt.StringValue:     decodeAs[Value[string]],
	mt.Vector2Value:    decodeAs[Value[spatial.Vector2]],
	mt.Vector3Value:    decodeAs[Value[spatial.Vector3]],
	mt.Vector4Value:    decodeAs[Value[spatial.Vector4]],
	mt.BoolArray:       decodeAs[Values[bool]],
	mt.BytesArray:      decodeAs[Values[[]byte]],
	mt.ColorArray:      decodeAs[Values[spatial.Color]],
	mt.FloatArray:      decodeAs[Values[float64]],
	mt.PoseArray:       decodeAs[Values[spatial.Pose]],
	mt.QuaternionArray: decodeAs[Values[spatial.Quaternion]],
	mt.StringArray:     decodeAs[Values[string]],
	mt.Vector2Array:    decodeAs[Values[spatial.Vector2]],
	mt.Vector3Array:    decodeAs[Values[spatial.Vector3]],
	mt.Vector4Array:    decodeAs[Values[spatial.Vector4]],
	mt.Invoke:          decodeAs[Invoke],
}

// decodePayload builds the payload for typ using dec.
func decodePayload(typ mt.MessageType, dec decodeFunc) (Payload, error) {
	f, found := decoders[typ]
	if !found {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, typ)
	}
	return f(dec)
}

//#endregion decoding
