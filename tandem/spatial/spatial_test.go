package spatial_test

import (
	"math"
	"testing"
	"time"

	. "github.com/rflandau/tandem/internal/testsupport"
	"github.com/rflandau/tandem/tandem/spatial"
)

const eps = 1e-9

func TestQuaternion_Rotate(t *testing.T) {
	quarter := spatial.FromAxisAngle(spatial.Vector3{Y: 1}, math.Pi/2)
	got := quarter.Rotate(spatial.Vector3{X: 1})
	// +90 degrees around Y takes +X to -Z
	if want := (spatial.Vector3{Z: -1}); !got.ApproxEqual(want, eps) {
		t.Fatal(ExpectedActual(want, got))
	}
	if back := quarter.Inverse().Rotate(got); !back.ApproxEqual(spatial.Vector3{X: 1}, eps) {
		t.Fatal(ExpectedActual(spatial.Vector3{X: 1}, back))
	}
	t.Run("zero is identity", func(t *testing.T) {
		v := spatial.Vector3{X: 1, Y: 2, Z: 3}
		if got := (spatial.Quaternion{}).Rotate(v); !got.ApproxEqual(v, eps) {
			t.Fatal(ExpectedActual(v, got))
		}
	})
}

// Converting a pose into an origin's frame and back must be lossless.
func TestPose_RelativeAbsolute(t *testing.T) {
	tests := []struct {
		name   string
		origin spatial.Pose
		world  spatial.Pose
	}{
		{"identity origin",
			spatial.Pose{Rotation: spatial.Identity},
			spatial.Pose{Position: spatial.Vector3{X: 1, Y: 2, Z: 3}, Rotation: spatial.FromAxisAngle(spatial.Vector3{X: 1}, 0.3)}},
		{"translated origin",
			spatial.Pose{Position: spatial.Vector3{X: -4, Z: 9}, Rotation: spatial.Identity},
			spatial.Pose{Position: spatial.Vector3{X: 1}, Rotation: spatial.Identity}},
		{"rotated and translated origin",
			spatial.Pose{Position: spatial.Vector3{X: 2, Y: 1}, Rotation: spatial.FromAxisAngle(spatial.Vector3{Y: 1}, 1.1)},
			spatial.Pose{Position: spatial.Vector3{X: -3, Y: 0.5, Z: 7}, Rotation: spatial.FromAxisAngle(spatial.Vector3{Z: 1}, -0.7)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rel := tt.world.RelativeTo(tt.origin)
			back := rel.AbsoluteFrom(tt.origin)
			if !back.Position.ApproxEqual(tt.world.Position, 1e-9) {
				t.Error("position", ExpectedActual(tt.world.Position, back.Position))
			}
			if !back.Rotation.ApproxEqual(tt.world.Rotation, 1e-9) {
				t.Error("rotation", ExpectedActual(tt.world.Rotation, back.Rotation))
			}
		})
	}
	t.Run("origin at the pose is zero", func(t *testing.T) {
		p := spatial.Pose{Position: spatial.Vector3{X: 5, Y: 5, Z: 5}, Rotation: spatial.FromAxisAngle(spatial.Vector3{Y: 1}, 2)}
		rel := p.RelativeTo(p)
		if !rel.Position.ApproxEqual(spatial.Vector3{}, eps) || !rel.Rotation.ApproxEqual(spatial.Identity, eps) {
			t.Fatalf("expected identity pose, got %+v", rel)
		}
	})
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{1.23456, 1.234},
		{-1.23456, -1.234},
		{0.0009, 0},
		{42, 42},
	}
	for _, tt := range tests {
		if got := spatial.TruncateFloat(tt.in, 3); math.Abs(got-tt.want) > eps {
			t.Error(ExpectedActual(tt.want, got))
		}
	}
	tr := spatial.Transform{
		Pose:  spatial.Pose{Position: spatial.Vector3{X: 1.11119}, Rotation: spatial.Quaternion{W: 0.99999}},
		Scale: spatial.Vector3{X: 2.0005, Y: 2.0005, Z: 2.0005},
	}.Truncate(3)
	if math.Abs(tr.Position.X-1.111) > eps || math.Abs(tr.Rotation.W-0.999) > eps || math.Abs(tr.Scale.Y-2) > eps {
		t.Fatalf("bad truncation %+v", tr)
	}
}

// The smoother must converge on the target without overshooting and without snapping on the first step.
func TestSmoother(t *testing.T) {
	s := spatial.Smoother{SmoothTime: 100 * time.Millisecond}
	cur := spatial.NewTransform(spatial.Vector3{})
	target := spatial.Transform{
		Pose:  spatial.Pose{Position: spatial.Vector3{X: 10}, Rotation: spatial.FromAxisAngle(spatial.Vector3{Y: 1}, 1)},
		Scale: spatial.Vector3{X: 2, Y: 2, Z: 2},
	}
	frame := 16 * time.Millisecond

	cur = s.Step(cur, target, frame)
	if cur.Position.X <= 0 || cur.Position.X >= 10 {
		t.Fatalf("first step should move partially toward the target, at %v", cur.Position.X)
	}
	prev := cur.Position.X
	for range 120 {
		cur = s.Step(cur, target, frame)
		if cur.Position.X > 10+eps {
			t.Fatalf("overshot target: %v", cur.Position.X)
		}
		if cur.Position.X+eps < prev {
			t.Fatalf("moved away from target: %v -> %v", prev, cur.Position.X)
		}
		prev = cur.Position.X
	}
	if !cur.Position.ApproxEqual(target.Position, 1e-3) {
		t.Error("position did not converge", ExpectedActual(target.Position, cur.Position))
	}
	if !cur.Scale.ApproxEqual(target.Scale, 1e-3) {
		t.Error("scale did not converge", ExpectedActual(target.Scale, cur.Scale))
	}
	if !cur.Rotation.ApproxEqual(target.Rotation, 1e-6) {
		t.Error("rotation did not converge", ExpectedActual(target.Rotation, cur.Rotation))
	}

	t.Run("zero dt is a no-op", func(t *testing.T) {
		start := spatial.NewTransform(spatial.Vector3{Y: 1})
		if got := s.Step(start, target, 0); got != start {
			t.Fatal(ExpectedActual(start, got))
		}
	})
}
