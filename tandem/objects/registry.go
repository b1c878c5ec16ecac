package objects

import (
	"github.com/rflandau/tandem/tandem/spatial"
)

// An Instance is the local embodiment of a networked object: whatever the application renders or simulates.
// Transforms are in world space.
type Instance interface {
	Transform() spatial.Transform
	SetTransform(spatial.Transform)
	Destroy()
}

// Activatable is implemented by instances that can be enabled and disabled.
type Activatable interface {
	SetActive(bool)
}

// A Template produces instances.
type Template interface {
	Instantiate(world spatial.Transform) Instance
}

// TemplateFunc adapts a function to a Template.
type TemplateFunc func(world spatial.Transform) Instance

func (f TemplateFunc) Instantiate(world spatial.Transform) Instance { return f(world) }

// A Registry resolves template identifiers.
type Registry interface {
	Resolve(templateID string) (Template, bool)
}

// Catalog is a map-backed Registry.
type Catalog map[string]Template

func (c Catalog) Resolve(templateID string) (Template, bool) {
	t, found := c[templateID]
	return t, found
}

// BodyTemplate instantiates plain Bodies.
var BodyTemplate Template = TemplateFunc(func(world spatial.Transform) Instance { return NewBody(world) })

// Body is a minimal Instance that only remembers its state.
// Headless peers and tests use it in place of an engine object.
type Body struct {
	tf        spatial.Transform
	active    bool
	destroyed bool
}

// NewBody returns an active body at tf.
func NewBody(tf spatial.Transform) *Body { return &Body{tf: tf, active: true} }

func (b *Body) Transform() spatial.Transform       { return b.tf }
func (b *Body) SetTransform(tf spatial.Transform) { b.tf = tf }
func (b *Body) Destroy()                          { b.destroyed = true }
func (b *Body) SetActive(active bool)             { b.active = active }
func (b *Body) Active() bool                      { return b.active }
func (b *Body) Destroyed() bool                   { return b.destroyed }
