// Package client provides static subroutines for querying and driving a session through its admin API.
//
// Every subroutine spawns a fresh resty client, makes one request and returns the raw response alongside the decoded body.
// A response with a status other than the endpoint's expected status is returned with an ErrUnexpectedStatus error.
package client

import (
	"fmt"
	"strings"

	"github.com/rflandau/tandem/tandem/admin"
	"github.com/rflandau/tandem/tandem/spatial"
	"resty.dev/v3"
)

// ErrUnexpectedStatus returns an error describing a response that did not carry the expected status code.
func ErrUnexpectedStatus(res *resty.Response, expected int) error {
	return fmt.Errorf("unexpected status %d (expected %d): %s", res.StatusCode(), expected, strings.TrimSpace(res.String()))
}

// compose the base url. addrStr should be of the form "http://<ip>:<port>"; the scheme is assumed if omitted.
func base(addrStr string) string {
	addrStr = strings.TrimSuffix(addrStr, "/")
	if !strings.HasPrefix(addrStr, "http://") && !strings.HasPrefix(addrStr, "https://") {
		addrStr = "http://" + addrStr
	}
	return addrStr
}

// check folds a bad status into err.
func check(res *resty.Response, err error, expected int) error {
	if err != nil {
		return err
	} else if res.StatusCode() != expected {
		return ErrUnexpectedStatus(res, expected)
	}
	return nil
}

// Status fetches the session's status.
func Status(addrStr string) (*resty.Response, admin.StatusResp, error) {
	cli := resty.New()
	defer cli.Close()

	sr := admin.StatusResp{}
	res, err := cli.R().
		SetExpectResponseContentType(admin.ContentType).
		SetResult(&(sr.Body)).
		Get(base(addrStr) + admin.EPStatus)
	return res, sr, check(res, err, admin.ExpectedStatusStatus)
}

// Peers fetches the session's live peers and its current oldest peer.
func Peers(addrStr string) (*resty.Response, admin.PeersResp, error) {
	cli := resty.New()
	defer cli.Close()

	pr := admin.PeersResp{}
	res, err := cli.R().
		SetExpectResponseContentType(admin.ContentType).
		SetResult(&(pr.Body)).
		Get(base(addrStr) + admin.EPPeers)
	return res, pr, check(res, err, admin.ExpectedStatusPeers)
}

// Globals fetches every global map, keyed by kind name.
func Globals(addrStr string) (*resty.Response, admin.GlobalsResp, error) {
	cli := resty.New()
	defer cli.Close()

	gr := admin.GlobalsResp{}
	res, err := cli.R().
		SetExpectResponseContentType(admin.ContentType).
		SetResult(&(gr.Body)).
		Get(base(addrStr) + admin.EPGlobals)
	return res, gr, check(res, err, admin.ExpectedStatusGlobals)
}

// SetGlobal writes key in the map of the given kind ("string", "bool", "float", "vector2", "vector3" or "vector4").
// value must match the kind; vectors may be given as spatial types or as maps of their components.
func SetGlobal(addrStr, kind, key string, value any) (*resty.Response, error) {
	cli := resty.New()
	defer cli.Close()

	res, err := cli.R().
		SetPathParams(map[string]string{"kind": kind, "key": key}).
		SetBody(map[string]any{"value": value}).
		Put(base(addrStr) + admin.EPGlobal)
	return res, check(res, err, admin.ExpectedStatusSetGlobal)
}

// Objects lists every object the session knows of.
func Objects(addrStr string) (*resty.Response, admin.ObjectsResp, error) {
	cli := resty.New()
	defer cli.Close()

	objs := admin.ObjectsResp{}
	res, err := cli.R().
		SetExpectResponseContentType(admin.ContentType).
		SetResult(&(objs.Body)).
		Get(base(addrStr) + admin.EPObjects)
	return res, objs, check(res, err, admin.ExpectedStatusObjects)
}

// Spawn asks the session to spawn template at the world position pos.
func Spawn(addrStr, template string, pos spatial.Vector3) (*resty.Response, admin.SpawnResp, error) {
	cli := resty.New()
	defer cli.Close()

	req := admin.SpawnReq{}
	req.Body.Template, req.Body.Position = template, pos
	sr := admin.SpawnResp{}
	res, err := cli.R().
		SetBody(req.Body).
		SetExpectResponseContentType(admin.ContentType).
		SetResult(&(sr.Body)).
		Post(base(addrStr) + admin.EPObjects)
	return res, sr, check(res, err, admin.ExpectedStatusSpawn)
}

// Despawn asks the session to destroy id everywhere.
func Despawn(addrStr, id string) (*resty.Response, error) {
	cli := resty.New()
	defer cli.Close()

	res, err := cli.R().SetPathParam("id", id).Delete(base(addrStr) + admin.EPObject)
	return res, check(res, err, admin.ExpectedStatusDespawn)
}

// RequestOwnership asks the session to request ownership of id from its owner.
// Success only means the request was sent.
func RequestOwnership(addrStr, id string) (*resty.Response, error) {
	cli := resty.New()
	defer cli.Close()

	res, err := cli.R().SetPathParam("id", id).Post(base(addrStr) + admin.EPOwnership)
	return res, check(res, err, admin.ExpectedStatusOwnership)
}

// Lock sets whether the session, which must own id, refuses ownership requests for it.
func Lock(addrStr, id string, locked bool) (*resty.Response, error) {
	cli := resty.New()
	defer cli.Close()

	req := admin.LockReq{}
	req.Body.Locked = locked
	res, err := cli.R().
		SetPathParam("id", id).
		SetBody(req.Body).
		Put(base(addrStr) + admin.EPLock)
	return res, check(res, err, admin.ExpectedStatusLock)
}
