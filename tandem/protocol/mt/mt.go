// Package mt enumerates the message types that can ride in an envelope.
// Numbers are part of the wire schema; append, never renumber.
package mt

// MessageType is the small-integer discriminator carried in every envelope.
type MessageType uint8

const (
	Unknown MessageType = iota

	// liveness
	Heartbeat
	Awake
	Ack
)

// Global state. Each family is laid out in kind order: string, bool, float, vector2, vector3, vector4.
// Use the Kind offset helpers in package protocol rather than doing arithmetic on these directly.
const (
	StringRequest MessageType = iota + 10
	BoolRequest
	FloatRequest
	Vector2Request
	Vector3Request
	Vector4Request

	StringChanged
	BoolChanged
	FloatChanged
	Vector2Changed
	Vector3Changed
	Vector4Changed

	StringRecap
	BoolRecap
	FloatRecap
	Vector2Recap
	Vector3Recap
	Vector4Recap
)

// networked objects
const (
	Spawn MessageType = iota + 30
	SpawnRecap
	Despawn
	TransformSync
	ActiveChanged
	OwnershipRequest
	OwnershipGrant
	OwnershipDeny
	OwnershipChanged
)

// Generic application values, scalar then array.
const (
	BoolValue MessageType = iota + 40
	BytesValue
	ColorValue
	FloatValue
	PoseValue
	QuaternionValue
	StringValue
	Vector2Value
	Vector3Value
	Vector4Value

	BoolArray
	BytesArray
	ColorArray
	FloatArray
	PoseArray
	QuaternionArray
	StringArray
	Vector2Array
	Vector3Array
	Vector4Array

	Invoke
)

var names = map[MessageType]string{
	Heartbeat:        "HEARTBEAT",
	Awake:            "AWAKE",
	Ack:              "ACK",
	StringRequest:    "STRING_REQUEST",
	BoolRequest:      "BOOL_REQUEST",
	FloatRequest:     "FLOAT_REQUEST",
	Vector2Request:   "VECTOR2_REQUEST",
	Vector3Request:   "VECTOR3_REQUEST",
	Vector4Request:   "VECTOR4_REQUEST",
	StringChanged:    "STRING_CHANGED",
	BoolChanged:      "BOOL_CHANGED",
	FloatChanged:     "FLOAT_CHANGED",
	Vector2Changed:   "VECTOR2_CHANGED",
	Vector3Changed:   "VECTOR3_CHANGED",
	Vector4Changed:   "VECTOR4_CHANGED",
	StringRecap:      "STRING_RECAP",
	BoolRecap:        "BOOL_RECAP",
	FloatRecap:       "FLOAT_RECAP",
	Vector2Recap:     "VECTOR2_RECAP",
	Vector3Recap:     "VECTOR3_RECAP",
	Vector4Recap:     "VECTOR4_RECAP",
	Spawn:            "SPAWN",
	SpawnRecap:       "SPAWN_RECAP",
	Despawn:          "DESPAWN",
	TransformSync:    "TRANSFORM_SYNC",
	ActiveChanged:    "ACTIVE_CHANGED",
	OwnershipRequest: "OWNERSHIP_REQUEST",
	OwnershipGrant:   "OWNERSHIP_GRANT",
	OwnershipDeny:    "OWNERSHIP_DENY",
	OwnershipChanged: "OWNERSHIP_CHANGED",
	BoolValue:        "BOOL",
	BytesValue:       "BYTES",
	ColorValue:       "COLOR",
	FloatValue:       "FLOAT",
	PoseValue:        "POSE",
	QuaternionValue:  "QUATERNION",
	StringValue:      "STRING",
	Vector2Value:     "VECTOR2",
	Vector3Value:     "VECTOR3",
	Vector4Value:     "VECTOR4",
	BoolArray:        "BOOL_ARRAY",
	BytesArray:       "BYTES_ARRAY",
	ColorArray:       "COLOR_ARRAY",
	FloatArray:       "FLOAT_ARRAY",
	PoseArray:        "POSE_ARRAY",
	QuaternionArray:  "QUATERNION_ARRAY",
	StringArray:      "STRING_ARRAY",
	Vector2Array:     "VECTOR2_ARRAY",
	Vector3Array:     "VECTOR3_ARRAY",
	Vector4Array:     "VECTOR4_ARRAY",
	Invoke:           "INVOKE",
}

// String returns the string representation of the given MessageType or "UNKNOWN".
func (t MessageType) String() string {
	if n, found := names[t]; found {
		return n
	}
	return "UNKNOWN"
}

// Valid reports if t is an enumerated message type.
func (t MessageType) Valid() bool {
	_, found := names[t]
	return found
}
