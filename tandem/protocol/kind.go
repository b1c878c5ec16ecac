package protocol

import (
	"fmt"
	"strings"

	"github.com/rflandau/tandem/tandem/protocol/mt"
	"github.com/rflandau/tandem/tandem/spatial"
)

// Kind identifies one of the six replicated global maps.
// The order matches the request/changed/recap families in package mt.
type Kind uint8

const (
	KindString Kind = iota
	KindBool
	KindFloat
	KindVector2
	KindVector3
	KindVector4
)

// Kinds lists every global kind in wire order.
var Kinds = [...]Kind{KindString, KindBool, KindFloat, KindVector2, KindVector3, KindVector4}

var kindNames = [...]string{"string", "bool", "float", "vector2", "vector3", "vector4"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// ParseKind returns the Kind named by s (case-insensitive).
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(s)
	for i, n := range kindNames {
		if n == s {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("%q is not a global kind", s)
}

func (k Kind) RequestType() mt.MessageType { return mt.StringRequest + mt.MessageType(k) }
func (k Kind) ChangedType() mt.MessageType { return mt.StringChanged + mt.MessageType(k) }
func (k Kind) RecapType() mt.MessageType   { return mt.StringRecap + mt.MessageType(k) }

// GlobalValue is the set of types a global map can hold.
type GlobalValue interface {
	string | bool | float64 | spatial.Vector2 | spatial.Vector3 | spatial.Vector4
}

// KindFor returns the Kind backing maps of V.
func KindFor[V GlobalValue]() Kind {
	var zero V
	switch any(zero).(type) {
	case string:
		return KindString
	case bool:
		return KindBool
	case float64:
		return KindFloat
	case spatial.Vector2:
		return KindVector2
	case spatial.Vector3:
		return KindVector3
	default: // spatial.Vector4
		return KindVector4
	}
}

// ValueType is the set of types that can be sent as generic application values.
type ValueType interface {
	bool | []byte | spatial.Color | float64 | spatial.Pose | spatial.Quaternion | string |
		spatial.Vector2 | spatial.Vector3 | spatial.Vector4
}

// scalarType returns the message type used to carry a single T.
// The array variant of the same T is always 10 higher.
func scalarType[T ValueType]() mt.MessageType {
	var zero T
	switch any(zero).(type) {
	case bool:
		return mt.BoolValue
	case []byte:
		return mt.BytesValue
	case spatial.Color:
		return mt.ColorValue
	case float64:
		return mt.FloatValue
	case spatial.Pose:
		return mt.PoseValue
	case spatial.Quaternion:
		return mt.QuaternionValue
	case string:
		return mt.StringValue
	case spatial.Vector2:
		return mt.Vector2Value
	case spatial.Vector3:
		return mt.Vector3Value
	default: // spatial.Vector4
		return mt.Vector4Value
	}
}

func arrayType[T ValueType]() mt.MessageType { return scalarType[T]() + (mt.BoolArray - mt.BoolValue) }

// MarshalText encodes k as its name.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
