package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rflandau/tandem/tandem/globals"
	"github.com/rflandau/tandem/tandem/objects"
	"github.com/rflandau/tandem/tandem/protocol"
	"github.com/rflandau/tandem/tandem/session"
	"github.com/rflandau/tandem/tandem/spatial"
)

// Endpoints served by the admin API.
const (
	EPStatus    = "/status"
	EPPeers     = "/peers"
	EPGlobals   = "/globals"
	EPGlobal    = "/globals/{kind}/{key}"
	EPObjects   = "/objects"
	EPObject    = "/objects/{id}"
	EPOwnership = "/objects/{id}/ownership"
	EPLock      = "/objects/{id}/lock"
	EPEvents    = "/events"
)

// Status codes returned on success.
const (
	ExpectedStatusStatus    = http.StatusOK
	ExpectedStatusPeers     = http.StatusOK
	ExpectedStatusGlobals   = http.StatusOK
	ExpectedStatusSetGlobal = http.StatusNoContent
	ExpectedStatusObjects   = http.StatusOK
	ExpectedStatusSpawn     = http.StatusCreated
	ExpectedStatusDespawn   = http.StatusNoContent
	ExpectedStatusOwnership = http.StatusAccepted
	ExpectedStatusLock      = http.StatusNoContent
)

//#region types

// StatusResp is the response for GET /status.
type StatusResp struct {
	Body session.Status
}

// PeerInfo describes a single live peer.
type PeerInfo struct {
	Addr      string    `json:"addr" example:"192.168.1.20:7777" doc:"address the peer sends from"`
	Age       int64     `json:"age" doc:"session creation time of the peer, in unix nanoseconds"`
	FoundAt   time.Time `json:"found_at" doc:"when this session first heard from the peer"`
	LastHeard time.Time `json:"last_heard" doc:"when this session last heard from the peer"`
}

// PeersResp is the response for GET /peers.
type PeersResp struct {
	Body struct {
		Oldest string     `json:"oldest,omitempty" example:"192.168.1.20:7777" doc:"current oldest session; may be this one"`
		Peers  []PeerInfo `json:"peers" doc:"every live peer, ordered by address"`
	}
}

// GlobalsResp is the response for GET /globals.
type GlobalsResp struct {
	Body map[string]map[string]any
}

// SetGlobalReq is the request for PUT /globals/{kind}/{key}.
type SetGlobalReq struct {
	Kind string `path:"kind" enum:"string,bool,float,vector2,vector3,vector4" doc:"which global map to write"`
	Key  string `path:"key" doc:"key to write"`
	Body struct {
		Value any `json:"value" required:"true" example:"1.5" doc:"new value; vectors are objects with x, y, z and w fields as appropriate"`
	}
}

// ObjectsResp is the response for GET /objects.
type ObjectsResp struct {
	Body struct {
		Objects []objects.Snapshot `json:"objects" doc:"every known object, ordered by id"`
	}
}

// SpawnReq is the request for POST /objects.
type SpawnReq struct {
	Body struct {
		Template string              `json:"template" required:"true" example:"cube" doc:"template to instantiate"`
		Position spatial.Vector3     `json:"position,omitempty" doc:"world position"`
		Rotation *spatial.Quaternion `json:"rotation,omitempty" doc:"world rotation; identity if omitted"`
	}
}

// SpawnResp is the response for POST /objects.
type SpawnResp struct {
	Body struct {
		ID string `json:"id" example:"0b4cf1b2-3d5e-4f61-8a4d-8f1c2b3a4d5e" doc:"identifier of the spawned object"`
	}
}

// ObjectReq addresses a single object.
type ObjectReq struct {
	ID string `path:"id" doc:"object identifier"`
}

// LockReq is the request for PUT /objects/{id}/lock.
type LockReq struct {
	ID   string `path:"id" doc:"object identifier"`
	Body struct {
		Locked bool `json:"locked" doc:"whether ownership requests should be refused"`
	}
}

//#endregion types

func (srv *Server) buildEndpoints() {
	huma.Register(srv.endpoint.api, huma.Operation{
		OperationID:   "status",
		Method:        http.MethodGet,
		Path:          EPStatus,
		Summary:       "Get session status",
		DefaultStatus: ExpectedStatusStatus,
	}, srv.handleStatus)
	huma.Register(srv.endpoint.api, huma.Operation{
		OperationID:   "peers",
		Method:        http.MethodGet,
		Path:          EPPeers,
		Summary:       "List live peers",
		DefaultStatus: ExpectedStatusPeers,
	}, srv.handlePeers)
	huma.Register(srv.endpoint.api, huma.Operation{
		OperationID:   "globals",
		Method:        http.MethodGet,
		Path:          EPGlobals,
		Summary:       "Dump every global map",
		DefaultStatus: ExpectedStatusGlobals,
	}, srv.handleGlobals)
	huma.Register(srv.endpoint.api, huma.Operation{
		OperationID:   "set-global",
		Method:        http.MethodPut,
		Path:          EPGlobal,
		Summary:       "Write a global value",
		DefaultStatus: ExpectedStatusSetGlobal,
	}, srv.handleSetGlobal)
	huma.Register(srv.endpoint.api, huma.Operation{
		OperationID:   "objects",
		Method:        http.MethodGet,
		Path:          EPObjects,
		Summary:       "List networked objects",
		DefaultStatus: ExpectedStatusObjects,
	}, srv.handleObjects)
	huma.Register(srv.endpoint.api, huma.Operation{
		OperationID:   "spawn",
		Method:        http.MethodPost,
		Path:          EPObjects,
		Summary:       "Spawn a networked object owned by this session",
		DefaultStatus: ExpectedStatusSpawn,
	}, srv.handleSpawn)
	huma.Register(srv.endpoint.api, huma.Operation{
		OperationID:   "despawn",
		Method:        http.MethodDelete,
		Path:          EPObject,
		Summary:       "Despawn a networked object everywhere",
		DefaultStatus: ExpectedStatusDespawn,
	}, srv.handleDespawn)
	huma.Register(srv.endpoint.api, huma.Operation{
		OperationID:   "request-ownership",
		Method:        http.MethodPost,
		Path:          EPOwnership,
		Summary:       "Ask the owner of an object to hand it over",
		Description:   "The request is only sent; watch the event stream for the outcome.",
		DefaultStatus: ExpectedStatusOwnership,
	}, srv.handleOwnership)
	huma.Register(srv.endpoint.api, huma.Operation{
		OperationID:   "lock",
		Method:        http.MethodPut,
		Path:          EPLock,
		Summary:       "Lock or unlock ownership of an owned object",
		DefaultStatus: ExpectedStatusLock,
	}, srv.handleLock)
}

//#region handlers

func (srv *Server) handleStatus(ctx context.Context, _ *struct{}) (*StatusResp, error) {
	resp := &StatusResp{}
	if err := srv.do(ctx, func() { resp.Body = srv.sess.Status() }); err != nil {
		return nil, err
	}
	return resp, nil
}

func (srv *Server) handlePeers(ctx context.Context, _ *struct{}) (*PeersResp, error) {
	resp := &PeersResp{}
	err := srv.do(ctx, func() {
		if o := srv.sess.OldestPeer(); o.IsValid() {
			resp.Body.Oldest = o.String()
		}
		peers := srv.sess.Peers()
		resp.Body.Peers = make([]PeerInfo, len(peers))
		for i, p := range peers {
			resp.Body.Peers[i] = PeerInfo{Addr: p.Addr.String(), Age: p.Age, FoundAt: p.FoundAt, LastHeard: p.LastHeard}
		}
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (srv *Server) handleGlobals(ctx context.Context, _ *struct{}) (*GlobalsResp, error) {
	resp := &GlobalsResp{}
	if err := srv.do(ctx, func() { resp.Body = srv.sess.Globals().Dump() }); err != nil {
		return nil, err
	}
	return resp, nil
}

func (srv *Server) handleSetGlobal(ctx context.Context, req *SetGlobalReq) (*struct{}, error) {
	kind, err := protocol.ParseKind(req.Kind)
	if err != nil {
		return nil, huma.Error400BadRequest("bad kind", err)
	}
	var set func(*globals.Store) error
	switch kind {
	case protocol.KindString:
		set, err = setter[string](req.Key, req.Body.Value)
	case protocol.KindBool:
		set, err = setter[bool](req.Key, req.Body.Value)
	case protocol.KindFloat:
		set, err = setter[float64](req.Key, req.Body.Value)
	case protocol.KindVector2:
		set, err = setter[spatial.Vector2](req.Key, req.Body.Value)
	case protocol.KindVector3:
		set, err = setter[spatial.Vector3](req.Key, req.Body.Value)
	case protocol.KindVector4:
		set, err = setter[spatial.Vector4](req.Key, req.Body.Value)
	}
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("value does not match kind "+kind.String(), err)
	}

	var setErr error
	if err := srv.do(ctx, func() { setErr = set(srv.sess.Globals()) }); err != nil {
		return nil, err
	}
	if setErr != nil {
		// the local write stands; replication failed
		srv.log.Warn().Err(setErr).Str("kind", kind.String()).Str("key", req.Key).Msg("failed to replicate global")
	}
	return nil, nil
}

// setter converts raw (as decoded from the request body) into a V and returns a closure that writes it.
func setter[V protocol.GlobalValue](key string, raw any) (func(*globals.Store) error, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var v V
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return func(s *globals.Store) error { return globals.Set(s, key, v) }, nil
}

func (srv *Server) handleObjects(ctx context.Context, _ *struct{}) (*ObjectsResp, error) {
	resp := &ObjectsResp{}
	if err := srv.do(ctx, func() { resp.Body.Objects = srv.sess.Objects() }); err != nil {
		return nil, err
	}
	return resp, nil
}

func (srv *Server) handleSpawn(ctx context.Context, req *SpawnReq) (*SpawnResp, error) {
	tf := spatial.NewTransform(req.Body.Position)
	if req.Body.Rotation != nil {
		tf.Rotation = req.Body.Rotation.Normalize()
	}
	resp := &SpawnResp{}
	var spawnErr error
	if err := srv.do(ctx, func() { resp.Body.ID, spawnErr = srv.sess.Spawn(req.Body.Template, tf) }); err != nil {
		return nil, err
	}
	if resp.Body.ID == "" {
		return nil, objectError(spawnErr)
	} else if spawnErr != nil {
		srv.log.Warn().Err(spawnErr).Str("id", resp.Body.ID).Msg("spawned locally but failed to announce")
	}
	return resp, nil
}

func (srv *Server) handleDespawn(ctx context.Context, req *ObjectReq) (*struct{}, error) {
	return srv.objectOp(ctx, func() error { return srv.sess.Despawn(req.ID) })
}

func (srv *Server) handleOwnership(ctx context.Context, req *ObjectReq) (*struct{}, error) {
	return srv.objectOp(ctx, func() error { return srv.sess.RequestOwnership(req.ID) })
}

func (srv *Server) handleLock(ctx context.Context, req *LockReq) (*struct{}, error) {
	return srv.objectOp(ctx, func() error { return srv.sess.SetOwnershipLocked(req.ID, req.Body.Locked) })
}

// objectOp runs op on the session loop and translates its error.
func (srv *Server) objectOp(ctx context.Context, op func() error) (*struct{}, error) {
	var opErr error
	if err := srv.do(ctx, func() { opErr = op() }); err != nil {
		return nil, err
	}
	if opErr != nil {
		return nil, objectError(opErr)
	}
	return nil, nil
}

// objectError maps directory errors onto HTTP statuses.
func objectError(err error) error {
	switch {
	case errors.Is(err, objects.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, objects.ErrNotOwner):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, objects.ErrTemplateNotFound):
		return huma.Error422UnprocessableEntity(err.Error())
	}
	return huma.Error500InternalServerError("object operation failed", err)
}

//#endregion handlers
