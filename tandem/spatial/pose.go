package spatial

import (
	"math"
	"time"
)

// Pose is a position and rotation.
type Pose struct {
	Position Vector3    `json:"p"`
	Rotation Quaternion `json:"r"`
}

// Transform is a Pose plus scale; the full state a replica synchronizes.
type Transform struct {
	Pose
	Scale Vector3 `json:"s"`
}

// NewTransform returns a transform at the given position with identity rotation and unit scale.
func NewTransform(pos Vector3) Transform {
	return Transform{Pose: Pose{Position: pos, Rotation: Identity}, Scale: One}
}

// RelativeTo expresses the world pose p in the frame of origin.
func (p Pose) RelativeTo(origin Pose) Pose {
	inv := origin.Rotation.Inverse()
	return Pose{
		Position: inv.Rotate(p.Position.Sub(origin.Position)),
		Rotation: inv.Mul(p.Rotation.Normalize()).Normalize(),
	}
}

// AbsoluteFrom converts p, expressed in the frame of origin, back into world space.
// It is the inverse of RelativeTo.
func (p Pose) AbsoluteFrom(origin Pose) Pose {
	rot := origin.Rotation.Normalize()
	return Pose{
		Position: origin.Position.Add(rot.Rotate(p.Position)),
		Rotation: rot.Mul(p.Rotation.Normalize()).Normalize(),
	}
}

// RelativeTo converts the pose of t into origin's frame. Scale is frame independent.
func (t Transform) RelativeTo(origin Pose) Transform {
	return Transform{Pose: t.Pose.RelativeTo(origin), Scale: t.Scale}
}

// AbsoluteFrom converts the pose of t from origin's frame into world space.
func (t Transform) AbsoluteFrom(origin Pose) Transform {
	return Transform{Pose: t.Pose.AbsoluteFrom(origin), Scale: t.Scale}
}

//#region truncation

// TruncateFloat drops every decimal digit of f past digits, rounding toward zero.
func TruncateFloat(f float64, digits int) float64 {
	p := math.Pow10(digits)
	return math.Trunc(f*p) / p
}

func (v Vector3) Truncate(digits int) Vector3 {
	return Vector3{TruncateFloat(v.X, digits), TruncateFloat(v.Y, digits), TruncateFloat(v.Z, digits)}
}

func (q Quaternion) Truncate(digits int) Quaternion {
	return Quaternion{TruncateFloat(q.X, digits), TruncateFloat(q.Y, digits), TruncateFloat(q.Z, digits), TruncateFloat(q.W, digits)}
}

// Truncate bounds the precision of every component of t to reduce payload size.
func (t Transform) Truncate(digits int) Transform {
	return Transform{
		Pose:  Pose{Position: t.Position.Truncate(digits), Rotation: t.Rotation.Truncate(digits)},
		Scale: t.Scale.Truncate(digits),
	}
}

//#endregion truncation

//#region smoothing

// Smoother moves a transform toward a target with critically damped motion.
// It never snaps: jitter and the occasional lost update are absorbed into the velocity.
type Smoother struct {
	// time constant; roughly the time needed to close most of the gap to the target
	SmoothTime time.Duration

	posVel   Vector3
	scaleVel Vector3
}

// Step advances current toward target by dt and returns the new transform.
func (s *Smoother) Step(current, target Transform, dt time.Duration) Transform {
	if dt <= 0 {
		return current
	}
	st := s.SmoothTime.Seconds()
	if st <= 0 {
		return target
	}
	d := dt.Seconds()
	return Transform{
		Pose: Pose{
			Position: smoothDamp(current.Position, target.Position, &s.posVel, st, d),
			Rotation: Slerp(current.Rotation, target.Rotation, 1-math.Exp(-2*d/st)),
		},
		Scale: smoothDamp(current.Scale, target.Scale, &s.scaleVel, st, d),
	}
}

// Reset zeroes the stored velocities.
func (s *Smoother) Reset() { s.posVel, s.scaleVel = Vector3{}, Vector3{} }

// smoothDamp is the closed form approximation of a critically damped spring (Game Programming Gems 4, 1.10).
func smoothDamp(current, target Vector3, vel *Vector3, smoothTime, dt float64) Vector3 {
	omega := 2 / smoothTime
	x := omega * dt
	exp := 1 / (1 + x + 0.48*x*x + 0.235*x*x*x)
	change := current.Sub(target)
	temp := vel.Add(change.Scale(omega)).Scale(dt)
	*vel = vel.Sub(temp.Scale(omega)).Scale(exp)
	out := target.Add(change.Add(temp).Scale(exp))
	// do not overshoot
	if target.Sub(current).Dot(out.Sub(target)) > 0 {
		*vel = Vector3{}
		return target
	}
	return out
}

//#endregion smoothing
