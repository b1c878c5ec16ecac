// Package session ties the replication components together around a single transport.
//
// A Session owns every piece of replicated state and mutates it on one logical goroutine:
// either the caller's (driving Tick directly, as tests do) or Run's (which ticks on a timer and executes closures queued via Do).
// No Session method is safe to call concurrently with Tick or Run; from other goroutines, wrap calls in Do.
package session

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rflandau/tandem/tandem"
	"github.com/rflandau/tandem/tandem/event"
	"github.com/rflandau/tandem/tandem/globals"
	"github.com/rflandau/tandem/tandem/objects"
	"github.com/rflandau/tandem/tandem/peers"
	"github.com/rflandau/tandem/tandem/protocol"
	"github.com/rflandau/tandem/tandem/reliable"
	"github.com/rflandau/tandem/tandem/transport"
	"github.com/rs/zerolog"
)

var ErrNilTransport = errors.New("a transport is required")

// A Session is one participant in a Tandem session.
type Session struct {
	log   *zerolog.Logger
	hbLog zerolog.Logger // sampled; heartbeats are too chatty to log in full

	tr         transport.Transport
	codec      protocol.Codec
	self       netip.AddrPort
	age        int64
	appKey     string
	privateKey string
	clock      func() time.Time

	timers    Timers
	tickRate  float64
	syncRate  float64
	smoothing time.Duration

	registry objects.Registry
	peers    *peers.Table
	reliable *reliable.Registry
	globals  *globals.Store
	objects  *objects.Directory

	started       bool
	lastTick      time.Time
	lastHeartbeat time.Time
	lastResend    time.Time

	hooks struct {
		mu   sync.RWMutex
		next int
		fns  map[int]func(event.Event)
	}
	handlers map[string]func(from netip.AddrPort, args []any)

	do     chan func()
	done   chan struct{}
	closed atomic.Bool
}

// New generates a session on top of tr, optionally modified with opts.
// The session does nothing until it is ticked, either by Run or by calling Tick directly.
func New(tr transport.Transport, opts ...Option) (*Session, error) {
	if tr == nil {
		return nil, ErrNilTransport
	} else if !tr.LocalAddr().IsValid() {
		return nil, transport.ErrBadAddr(tr.LocalAddr())
	}

	// set defaults
	s := &Session{
		tr:    tr,
		codec: protocol.JSON,
		self:  tr.LocalAddr(),
		clock: time.Now,
		timers: Timers{
			Heartbeat:      tandem.DefaultHeartbeatInterval,
			Resend:         tandem.DefaultResendInterval,
			MaxResend:      tandem.DefaultMaxResendDuration,
			StaleTimeout:   tandem.DefaultStaleTimeout,
			OldestDebounce: tandem.DefaultOldestDebounce,
		},
		tickRate:  DefaultTickRate,
		syncRate:  objects.DefaultSyncRate,
		smoothing: objects.DefaultSmoothing,
		handlers:  make(map[string]func(netip.AddrPort, []any)),
		do:        make(chan func()),
		done:      make(chan struct{}),
	}
	s.hooks.fns = make(map[int]func(event.Event))

	// apply options
	for _, opt := range opts {
		opt(s)
	}

	// if the logger was not established by the options, generate the default logger
	if s.log == nil {
		l := zerolog.New(zerolog.ConsoleWriter{
			Out:         os.Stdout,
			FieldsOrder: []string{"session"},
			TimeFormat:  "15:04:05",
		}).With().
			Str("session", s.self.String()).
			Timestamp().
			Caller().
			Logger().Level(zerolog.WarnLevel)
		s.log = &l
	}
	s.hbLog = s.log.Sample(&zerolog.Sometimes)

	now := s.clock()
	if s.age == 0 {
		s.age = now.UnixNano()
	}
	s.peers = peers.New(s.self, s.age, s.timers.StaleTimeout, s.timers.OldestDebounce, now, s.log)
	s.reliable = reliable.NewRegistry(s.timers.MaxResend, s.emit, s.log)
	s.globals = globals.New(s, s.emit, s.log)
	s.objects = objects.New(objects.Config{
		Self:      s.self,
		Registry:  s.registry,
		Send:      s,
		Emit:      s.emit,
		Log:       s.log,
		SyncRate:  s.syncRate,
		Smoothing: s.smoothing,
	})

	s.log.Debug().Func(s.Zerolog).Msg("session created")
	return s, nil
}

//#region events

// On registers fn to be called with every event the session raises.
// Hooks run synchronously on the session loop and must not block.
// The returned function unregisters fn.
func (s *Session) On(fn func(event.Event)) (off func()) {
	s.hooks.mu.Lock()
	id := s.hooks.next
	s.hooks.next++
	s.hooks.fns[id] = fn
	s.hooks.mu.Unlock()
	return func() {
		s.hooks.mu.Lock()
		delete(s.hooks.fns, id)
		s.hooks.mu.Unlock()
	}
}

func (s *Session) emit(ev event.Event) {
	s.log.Debug().Str("event", ev.Name()).Interface("detail", ev).Msg("event")
	s.hooks.mu.RLock()
	fns := make([]func(event.Event), 0, len(s.hooks.fns))
	for _, fn := range s.hooks.fns {
		fns = append(fns, fn)
	}
	s.hooks.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

//#endregion events

//#region loop

// Tick performs one pass of the session loop at now:
// it forgets stale peers, handles every queued datagram, heartbeats and retries when due,
// re-elects the oldest peer and advances object replicas.
// Ineffectual once the session is closed.
func (s *Session) Tick(now time.Time) {
	if s.closed.Load() {
		return
	}
	var dt time.Duration
	if !s.lastTick.IsZero() {
		dt = now.Sub(s.lastTick)
	}
	s.lastTick = now

	if !s.started {
		s.start(now)
	}

	// forget stale peers before handling new heartbeats
	for _, p := range s.peers.Prune(now) {
		s.peerLost(p.Addr)
	}

	s.drain(now)

	if now.Sub(s.lastHeartbeat) >= s.timers.Heartbeat {
		s.heartbeat(now)
	}
	if now.Sub(s.lastResend) >= s.timers.Resend {
		s.lastResend = now
		s.reliable.Resend(now, func(to netip.AddrPort, b []byte) {
			if err := s.tr.Send(to, b); err != nil {
				s.log.Debug().Err(err).Str("to", to.String()).Msg("resend failed")
			}
		})
	}
	s.reliable.Expire(now)

	if oldest, changed := s.peers.Elect(now); changed {
		s.emit(event.OldestPeerChanged{Addr: oldest, Self: oldest == s.self})
	}

	s.objects.Update(now, dt)
}

// start announces the session with an awake and an immediate heartbeat.
func (s *Session) start(now time.Time) {
	s.started = true
	s.lastResend = now
	if err := s.broadcast(protocol.Awake{Age: s.age}); err != nil {
		s.log.Warn().Err(err).Msg("failed to broadcast awake")
	}
	s.heartbeat(now)
	s.log.Info().Int64("age", s.age).Msg("session started")
}

func (s *Session) heartbeat(now time.Time) {
	s.lastHeartbeat = now
	if err := s.broadcast(protocol.Heartbeat{Age: s.age}); err != nil {
		s.log.Warn().Err(err).Msg("failed to broadcast heartbeat")
		return
	}
	s.hbLog.Debug().Int("known peers", s.peers.Len()).Msg("heartbeat")
}

// drain handles the datagrams queued at the start of the call.
func (s *Session) drain(now time.Time) {
	in := s.tr.Inbound()
	for n := len(in); n > 0; n-- {
		b, ok := <-in
		if !ok {
			return
		}
		s.handleDatagram(b, now)
	}
}

// Run ticks the session at the configured tick rate and executes closures queued by Do,
// until ctx is cancelled or the session is closed.
func (s *Session) Run(ctx context.Context) error {
	if ctx == nil {
		return tandem.ErrNilCtx
	} else if s.closed.Load() {
		return tandem.ErrClosed
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / s.tickRate))
	defer ticker.Stop()

	s.log.Info().Float64("tick rate", s.tickRate).Msg("running")
	s.Tick(s.clock())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return nil
		case <-ticker.C:
			s.Tick(s.clock())
		case f := <-s.do:
			f()
		}
	}
}

// Do executes f on the session loop and waits for it to return.
// Requires Run to be executing in another goroutine.
// ctx only bounds the wait for the loop to accept f.
func (s *Session) Do(ctx context.Context, f func()) error {
	if ctx == nil {
		return tandem.ErrNilCtx
	}
	finished := make(chan struct{})
	select {
	case s.do <- func() { defer close(finished); f() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return tandem.ErrClosed
	}
	// once accepted, f runs to completion
	<-finished
	return nil
}

// Close stops the session and closes its transport.
// Outstanding reliable messages are discarded without signaling.
// Ineffectual if already closed.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.done)
	s.log.Info().Msg("closing")
	return s.tr.Close()
}

//#endregion loop

//#region getters

// Addr returns the address this session identifies itself by.
func (s *Session) Addr() netip.AddrPort { return s.self }

// Age returns the session's creation age in unix nanoseconds.
func (s *Session) Age() int64 { return s.age }

// Peers returns every live peer, ordered by address.
func (s *Session) Peers() []peers.Peer { return s.peers.All(s.clock()) }

// OldestPeer returns the most recently elected oldest session, which may be this one.
// It is the zero address until the first election settles.
func (s *Session) OldestPeer() netip.AddrPort { return s.peers.Oldest() }

// Globals returns the global store for use with globals.Set, globals.Get and globals.Snapshot.
func (s *Session) Globals() *globals.Store { return s.globals }

// Status summarizes the session.
type Status struct {
	Addr        string `json:"addr"`
	Age         int64  `json:"age"`
	Codec       string `json:"codec"`
	Schema      string `json:"schema"` // highest supported envelope schema
	Peers       int    `json:"peers"`
	Oldest      string `json:"oldest"`
	Objects     int    `json:"objects"`
	Outstanding int    `json:"outstanding_reliable"`
	Dropped     uint64 `json:"dropped_datagrams"`
}

// Status returns a summary of the session's state.
func (s *Session) Status() Status {
	oldest := ""
	if o := s.peers.Oldest(); o.IsValid() {
		oldest = o.String()
	}
	return Status{
		Addr:        s.self.String(),
		Age:         s.age,
		Codec:       s.codec.Name(),
		Schema:      protocol.Supported.HighestSupported().String(),
		Peers:       s.peers.Len(),
		Oldest:      oldest,
		Objects:     s.objects.Len(),
		Outstanding: s.reliable.Outstanding(),
		Dropped:     s.tr.Dropped(),
	}
}

// Zerolog attaches the session's state to the given log event.
// Intended to be given to *zerolog.Event.Func().
func (s *Session) Zerolog(ev *zerolog.Event) {
	ev.Str("addr", s.self.String()).
		Int64("age", s.age).
		Str("codec", s.codec.Name()).
		Dur("heartbeat", s.timers.Heartbeat).
		Dur("stale timeout", s.timers.StaleTimeout).
		Float64("tick rate", s.tickRate)
}

//#endregion getters

//#region sending

func (s *Session) envelope(to string, p protocol.Payload) *protocol.Envelope {
	env := protocol.New(s.self, to, p)
	env.SentAt = s.clock()
	env.AppKey, env.PrivateKey = s.appKey, s.privateKey
	return env
}

// send unreliably writes p to a single address.
func (s *Session) send(to netip.AddrPort, p protocol.Payload) error {
	b, err := s.codec.Marshal(s.envelope(to.String(), p))
	if err != nil {
		return err
	}
	return s.tr.Send(to, b)
}

// broadcast unreliably writes p to every broadcast target.
func (s *Session) broadcast(p protocol.Payload) error {
	b, err := s.codec.Marshal(s.envelope(protocol.ToBroadcast, p))
	if err != nil {
		return err
	}
	return s.tr.Broadcast(b)
}

// SendAll unreliably sends p to every known peer.
func (s *Session) SendAll(p protocol.Payload) error {
	known := s.peers.Known(s.clock())
	if len(known) == 0 {
		return nil
	}
	b, err := s.codec.Marshal(s.envelope(protocol.ToAll, p))
	if err != nil {
		return err
	}
	var errs []error
	for _, to := range known {
		if err := s.tr.Send(to, b); err != nil {
			errs = append(errs, err)
			if errors.Is(err, transport.ErrOversized) {
				break
			}
		}
	}
	return errors.Join(errs...)
}

// SendReliable reliably sends p to a single peer.
func (s *Session) SendReliable(to netip.AddrPort, p protocol.Payload) error {
	_, err := s.sendReliable([]netip.AddrPort{to}, to.String(), p)
	return err
}

// SendReliableAll reliably sends p to every peer known at the time of the call.
// Nothing is sent, and nothing will signal, if no peers are known.
func (s *Session) SendReliableAll(p protocol.Payload) error {
	_, err := s.sendReliable(s.peers.Known(s.clock()), protocol.ToAll, p)
	return err
}

// sendReliable registers and sends p to targets, returning the message id.
func (s *Session) sendReliable(targets []netip.AddrPort, to string, p protocol.Payload) (id string, err error) {
	if len(targets) == 0 {
		return "", nil
	}
	now := s.clock()
	env := s.envelope(to, p)
	env.Reliable = true
	env.ID = uuid.NewString()
	env.RemainingTargets = uint32(len(targets))
	b, err := s.codec.Marshal(env)
	if err != nil {
		return "", err
	}
	s.reliable.Register(env.ID, b, targets, now)
	for _, t := range targets {
		if err := s.tr.Send(t, b); err != nil {
			if errors.Is(err, transport.ErrOversized) || errors.Is(err, transport.ErrClosed) {
				s.reliable.Cancel(env.ID)
				return "", err
			}
			// anything else is left to the retry pass
			s.log.Debug().Err(err).Str("to", t.String()).Str("id", env.ID).Msg("initial reliable send failed")
		}
	}
	return env.ID, nil
}

//#endregion sending
