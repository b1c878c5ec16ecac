// Package spatial provides the small amount of 3D math the replication layer needs:
// vectors, quaternions, poses expressed relative to a shared origin, transmission truncation and critically damped smoothing.
//
// Zero values are usable. A zero Quaternion is treated as the identity rotation.
package spatial

import "math"

// Vector2 is a 2D vector.
type Vector2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Vector3 is a 3D vector.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Vector4 is a 4D vector.
type Vector4 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Quaternion is a rotation. It is expected to be unit length; use Normalize if unsure.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Color is an RGBA color with channels in [0, 1].
type Color struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
	A float64 `json:"a"`
}

// Identity is the rotation that does nothing.
var Identity = Quaternion{W: 1}

// One is the unit scale.
var One = Vector3{1, 1, 1}

//#region Vector3

func (v Vector3) Add(o Vector3) Vector3 { return Vector3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vector3) Sub(o Vector3) Vector3 { return Vector3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vector3) Scale(f float64) Vector3 {
	return Vector3{v.X * f, v.Y * f, v.Z * f}
}
func (v Vector3) Dot(o Vector3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }
func (v Vector3) Length() float64       { return math.Sqrt(v.Dot(v)) }

// ApproxEqual reports if every component of v is within eps of o.
func (v Vector3) ApproxEqual(o Vector3, eps float64) bool {
	return math.Abs(v.X-o.X) <= eps && math.Abs(v.Y-o.Y) <= eps && math.Abs(v.Z-o.Z) <= eps
}

//#endregion Vector3

//#region Quaternion

// Normalize returns q scaled to unit length. The zero quaternion normalizes to Identity.
func (q Quaternion) Normalize() Quaternion {
	l := math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
	if l == 0 {
		return Identity
	}
	return Quaternion{q.X / l, q.Y / l, q.Z / l, q.W / l}
}

// Inverse returns the inverse of the unit quaternion q.
func (q Quaternion) Inverse() Quaternion {
	q = q.Normalize()
	return Quaternion{-q.X, -q.Y, -q.Z, q.W}
}

// Mul returns the Hamilton product q*o (apply o, then q).
func (q Quaternion) Mul(o Quaternion) Quaternion {
	return Quaternion{
		X: q.W*o.X + q.X*o.W + q.Y*o.Z - q.Z*o.Y,
		Y: q.W*o.Y - q.X*o.Z + q.Y*o.W + q.Z*o.X,
		Z: q.W*o.Z + q.X*o.Y - q.Y*o.X + q.Z*o.W,
		W: q.W*o.W - q.X*o.X - q.Y*o.Y - q.Z*o.Z,
	}
}

// Rotate applies q to v.
func (q Quaternion) Rotate(v Vector3) Vector3 {
	q = q.Normalize()
	p := q.Mul(Quaternion{v.X, v.Y, v.Z, 0}).Mul(Quaternion{-q.X, -q.Y, -q.Z, q.W})
	return Vector3{p.X, p.Y, p.Z}
}

func (q Quaternion) dot(o Quaternion) float64 { return q.X*o.X + q.Y*o.Y + q.Z*o.Z + q.W*o.W }

// ApproxEqual reports if q and o describe the same rotation within eps.
func (q Quaternion) ApproxEqual(o Quaternion, eps float64) bool {
	return 1-math.Abs(q.Normalize().dot(o.Normalize())) <= eps
}

// FromAxisAngle returns the rotation of rad radians around axis.
func FromAxisAngle(axis Vector3, rad float64) Quaternion {
	l := axis.Length()
	if l == 0 {
		return Identity
	}
	s := math.Sin(rad/2) / l
	return Quaternion{axis.X * s, axis.Y * s, axis.Z * s, math.Cos(rad / 2)}
}

// Slerp spherically interpolates from a to b by t in [0, 1], taking the short path.
func Slerp(a, b Quaternion, t float64) Quaternion {
	a, b = a.Normalize(), b.Normalize()
	cos := a.dot(b)
	if cos < 0 {
		b = Quaternion{-b.X, -b.Y, -b.Z, -b.W}
		cos = -cos
	}
	if cos > 0.9995 { // nearly parallel; lerp avoids dividing by ~0
		return Quaternion{
			a.X + (b.X-a.X)*t,
			a.Y + (b.Y-a.Y)*t,
			a.Z + (b.Z-a.Z)*t,
			a.W + (b.W-a.W)*t,
		}.Normalize()
	}
	theta := math.Acos(cos)
	sin := math.Sin(theta)
	wa, wb := math.Sin((1-t)*theta)/sin, math.Sin(t*theta)/sin
	return Quaternion{
		a.X*wa + b.X*wb,
		a.Y*wa + b.Y*wb,
		a.Z*wa + b.Z*wb,
		a.W*wa + b.W*wb,
	}
}

//#endregion Quaternion
