package objects

import (
	"time"

	"github.com/rflandau/tandem/tandem/spatial"
	"golang.org/x/time/rate"
)

// replica is the per-object pose synchronization state.
// The owner side publishes changes at a bounded rate; the non-owner side chases the latest published pose.
type replica struct {
	limiter *rate.Limiter

	// owner side
	published    spatial.Transform // world transform at the last publish
	hasPublished bool

	// non-owner side
	target    spatial.Transform // world transform
	hasTarget bool
	smoother  spatial.Smoother
}

func newReplica(syncRate float64, smoothing time.Duration) *replica {
	return &replica{
		limiter:  rate.NewLimiter(rate.Limit(syncRate), 1),
		smoother: spatial.Smoother{SmoothTime: smoothing},
	}
}

// due reports whether the owner should publish cur at now.
// A token is only spent when cur differs from the last publish.
func (r *replica) due(cur spatial.Transform, now time.Time) bool {
	if r.hasPublished && cur == r.published {
		return false
	}
	return r.limiter.AllowN(now, 1)
}

func (r *replica) markPublished(cur spatial.Transform) {
	r.published, r.hasPublished = cur, true
}

// setTarget records the latest pose published by the owner.
func (r *replica) setTarget(world spatial.Transform) {
	r.target, r.hasTarget = world, true
}

// step moves cur toward the target by dt.
func (r *replica) step(cur spatial.Transform, dt time.Duration) (spatial.Transform, bool) {
	if !r.hasTarget || cur == r.target {
		return cur, false
	}
	return r.smoother.Step(cur, r.target, dt), true
}

// becomeOwner clears the non-owner state; the next poll publishes unconditionally.
func (r *replica) becomeOwner() {
	r.hasTarget = false
	r.hasPublished = false
	r.smoother.Reset()
}

// becomeRemote starts chasing from where the object currently is.
func (r *replica) becomeRemote(cur spatial.Transform) {
	r.hasPublished = false
	r.smoother.Reset()
	r.setTarget(cur)
}
