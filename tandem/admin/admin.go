/*
Package admin serves an HTTP API for inspecting and driving a running session.

Every handler executes on the session loop via session.Session.Do, so the session must be running (see session.Session.Run) for requests to complete.
Session events are streamed to websocket subscribers at EPEvents.
*/
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/gorilla/websocket"
	"github.com/rflandau/tandem/tandem/session"
	"github.com/rs/zerolog"
)

const (
	APIName    = "Tandem Admin"
	APIVersion = "0.1.0"
	// content type of every non-websocket response
	ContentType = "application/json"
)

// DefaultRequestTimeout bounds how long a handler waits on the session loop.
const DefaultRequestTimeout = 2 * time.Second

var ErrAlreadyStarted = errors.New("admin server already started")

// A Server exposes a single session over HTTP.
// Should be constructed via New().
type Server struct {
	log  *zerolog.Logger
	sess *session.Session
	addr netip.AddrPort

	endpoint struct {
		api  huma.API
		mux  *http.ServeMux
		http *http.Server
	}
	upgrader       websocket.Upgrader
	requestTimeout time.Duration

	mu        sync.Mutex
	listening net.Listener
	closing   chan struct{} // closed to end event streams
	closeOnce sync.Once
}

// Option function to set various options on the admin server.
// Uses defaults if an option is not set.
type Option func(*Server)

// WithLogger replaces the server's default logger with the given logger.
func WithLogger(l *zerolog.Logger) Option {
	return func(srv *Server) { srv.log = l }
}

// WithRequestTimeout overwrites DefaultRequestTimeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(srv *Server) {
		if d > 0 {
			srv.requestTimeout = d
		}
	}
}

// WithHumaAPI overrides the default huma API instance.
// Routes are built onto it, potentially destructively.
func WithHumaAPI(api huma.API) Option {
	return func(srv *Server) { srv.endpoint.api = api }
}

// New builds an admin server for sess that will listen on addr once started.
func New(sess *session.Session, addr netip.AddrPort, opts ...Option) (*Server, error) {
	if sess == nil {
		return nil, errors.New("a session is required")
	} else if !addr.IsValid() {
		return nil, errors.New("address " + addr.String() + " is not a valid ip:port")
	}
	srv := &Server{
		sess:           sess,
		addr:           addr,
		requestTimeout: DefaultRequestTimeout,
		closing:        make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	srv.endpoint.mux = http.NewServeMux()

	for _, opt := range opts {
		opt(srv)
	}

	if srv.log == nil {
		l := zerolog.New(zerolog.ConsoleWriter{
			Out:         os.Stdout,
			FieldsOrder: []string{"admin"},
			TimeFormat:  "15:04:05",
		}).With().
			Str("admin", addr.String()).
			Timestamp().
			Caller().
			Logger().Level(zerolog.WarnLevel)
		srv.log = &l
	}
	// if the api handler was not set by the options, use the default handler
	if srv.endpoint.api == nil {
		srv.endpoint.api = humago.New(srv.endpoint.mux, huma.DefaultConfig(APIName, APIVersion))
	}

	srv.buildEndpoints()
	srv.endpoint.mux.HandleFunc("GET "+EPEvents, srv.handleEvents)

	return srv, nil
}

// Handler returns the server's routes, for mounting elsewhere or serving from httptest.
func (srv *Server) Handler() http.Handler { return srv.endpoint.mux }

// Addr returns the address the server listens on. If the server was asked to listen on port 0, the bound port is returned once started.
func (srv *Server) Addr() netip.AddrPort {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.listening != nil {
		if ap, err := netip.ParseAddrPort(srv.listening.Addr().String()); err == nil {
			return ap
		}
	}
	return srv.addr
}

// Start binds the listener and serves in a new goroutine.
// The server is ready to accept requests by the time Start returns.
func (srv *Server) Start() error {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.listening != nil {
		return ErrAlreadyStarted
	}
	ln, err := net.Listen("tcp", srv.addr.String())
	if err != nil {
		return err
	}
	srv.listening = ln
	srv.endpoint.http = &http.Server{Handler: srv.endpoint.mux, ReadHeaderTimeout: 5 * time.Second}
	srv.log.Info().Str("address", ln.Addr().String()).Msg("listening...")
	go func(hs *http.Server) {
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.log.Error().Err(err).Msg("admin server stopped")
		}
	}(srv.endpoint.http)
	return nil
}

// Close terminates the listener and every open connection, including event streams.
// Ineffectual if already closed.
func (srv *Server) Close() error {
	srv.closeOnce.Do(func() { close(srv.closing) })
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.endpoint.http == nil {
		return nil
	}
	err := srv.endpoint.http.Close()
	srv.log.Info().AnErr("close error", err).Msg("killed admin server")
	srv.endpoint.http, srv.listening = nil, nil
	return err
}

// do runs f on the session loop, bounded by the request timeout.
func (srv *Server) do(ctx context.Context, f func()) error {
	ctx, cancel := context.WithTimeout(ctx, srv.requestTimeout)
	defer cancel()
	if err := srv.sess.Do(ctx, f); err != nil {
		srv.log.Warn().Err(err).Msg("session did not service request")
		return huma.Error503ServiceUnavailable("session is not running", err)
	}
	return nil
}
