// Package config loads a peer's settings from a TOML file and translates them into transport and session options.
//
// Every key is optional; keys absent from the file keep the package defaults. An example file:
//
//	listen     = "0.0.0.0:7777"
//	broadcast  = ["192.168.1.255:7777"]
//	app_key    = "my-game"
//	codec      = "binary"
//	admin      = "127.0.0.1:8080"
//	log_level  = "debug"
//	templates  = ["cube", "lantern"]
//
//	[timers]
//	heartbeat      = "2s"
//	stale_timeout  = "8s"
package config

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rflandau/tandem/tandem"
	"github.com/rflandau/tandem/tandem/objects"
	"github.com/rflandau/tandem/tandem/protocol"
	"github.com/rflandau/tandem/tandem/session"
	"github.com/rflandau/tandem/tandem/transport"
	"github.com/rs/zerolog"
)

// Config is the complete configuration of a peer.
type Config struct {
	Listen        netip.AddrPort
	Advertise     netip.AddrPort // invalid to let the transport discover it
	Broadcast     []netip.AddrPort
	AppKey        string
	PrivateKey    string
	Codec         string
	MaxPacketSize uint16
	QueueCapacity int

	Timers    session.Timers
	TickRate  float64
	SyncRate  float64
	Smoothing time.Duration

	Admin     netip.AddrPort // invalid to disable the admin API
	LogLevel  zerolog.Level
	Templates []string
}

// Default returns the configuration used for every key a file omits.
func Default() Config {
	return Config{
		Listen:        netip.AddrPortFrom(netip.IPv4Unspecified(), tandem.DefaultPort),
		Codec:         protocol.JSON.Name(),
		MaxPacketSize: tandem.DefaultMaxPacketSize,
		QueueCapacity: transport.DefaultQueueCapacity,
		Timers: session.Timers{
			Heartbeat:      tandem.DefaultHeartbeatInterval,
			Resend:         tandem.DefaultResendInterval,
			MaxResend:      tandem.DefaultMaxResendDuration,
			StaleTimeout:   tandem.DefaultStaleTimeout,
			OldestDebounce: tandem.DefaultOldestDebounce,
		},
		TickRate:  session.DefaultTickRate,
		SyncRate:  objects.DefaultSyncRate,
		Smoothing: objects.DefaultSmoothing,
		LogLevel:  zerolog.InfoLevel,
	}
}

type fileConfig struct {
	Listen        string   `toml:"listen"`
	Advertise     string   `toml:"advertise"`
	Broadcast     []string `toml:"broadcast"`
	AppKey        string   `toml:"app_key"`
	PrivateKey    string   `toml:"private_key"`
	Codec         string   `toml:"codec"`
	MaxPacketSize uint16   `toml:"max_packet_size"`
	QueueCapacity int      `toml:"queue_capacity"`
	TickRate      float64  `toml:"tick_rate"`
	SyncRate      float64  `toml:"sync_rate"`
	Smoothing     string   `toml:"smoothing"`
	Admin         string   `toml:"admin"`
	LogLevel      string   `toml:"log_level"`
	Templates     []string `toml:"templates"`
	Timers        struct {
		Heartbeat      string `toml:"heartbeat"`
		Resend         string `toml:"resend"`
		MaxResend      string `toml:"max_resend"`
		StaleTimeout   string `toml:"stale_timeout"`
		OldestDebounce string `toml:"oldest_debounce"`
	} `toml:"timers"`
}

// Load reads the TOML file at path over the defaults.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return apply(raw, meta)
}

// Decode parses TOML data over the defaults.
func Decode(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return apply(raw, meta)
}

func apply(raw fileConfig, meta toml.MetaData) (Config, error) {
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}

	cfg := Default()
	var err error
	if meta.IsDefined("listen") {
		if cfg.Listen, err = parseAddr("listen", raw.Listen); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("advertise") {
		if cfg.Advertise, err = parseAddr("advertise", raw.Advertise); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("broadcast") {
		cfg.Broadcast = make([]netip.AddrPort, 0, len(raw.Broadcast))
		for _, b := range raw.Broadcast {
			ap, err := parseAddr("broadcast", b)
			if err != nil {
				return Config{}, err
			}
			cfg.Broadcast = append(cfg.Broadcast, ap)
		}
	}
	if meta.IsDefined("app_key") {
		cfg.AppKey = raw.AppKey
	}
	if meta.IsDefined("private_key") {
		cfg.PrivateKey = raw.PrivateKey
	}
	if meta.IsDefined("codec") {
		c, err := protocol.CodecByName(strings.TrimSpace(raw.Codec))
		if err != nil {
			return Config{}, fmt.Errorf("parse codec: %w", err)
		}
		cfg.Codec = c.Name()
	}
	if meta.IsDefined("max_packet_size") {
		cfg.MaxPacketSize = raw.MaxPacketSize
	}
	if meta.IsDefined("queue_capacity") {
		cfg.QueueCapacity = raw.QueueCapacity
	}
	if meta.IsDefined("tick_rate") {
		cfg.TickRate = raw.TickRate
	}
	if meta.IsDefined("sync_rate") {
		cfg.SyncRate = raw.SyncRate
	}
	if meta.IsDefined("smoothing") {
		if cfg.Smoothing, err = parseDuration("smoothing", raw.Smoothing); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("admin") {
		if cfg.Admin, err = parseAddr("admin", raw.Admin); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("log_level") {
		if cfg.LogLevel, err = zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(raw.LogLevel))); err != nil {
			return Config{}, fmt.Errorf("parse log_level: %w", err)
		}
	}
	if meta.IsDefined("templates") {
		cfg.Templates = normalize(raw.Templates)
	}

	timers := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"heartbeat", raw.Timers.Heartbeat, &cfg.Timers.Heartbeat},
		{"resend", raw.Timers.Resend, &cfg.Timers.Resend},
		{"max_resend", raw.Timers.MaxResend, &cfg.Timers.MaxResend},
		{"stale_timeout", raw.Timers.StaleTimeout, &cfg.Timers.StaleTimeout},
		{"oldest_debounce", raw.Timers.OldestDebounce, &cfg.Timers.OldestDebounce},
	}
	for _, t := range timers {
		if !meta.IsDefined("timers", t.key) {
			continue
		}
		if *t.dst, err = parseDuration("timers."+t.key, t.raw); err != nil {
			return Config{}, err
		}
	}

	return cfg, cfg.Validate()
}

// Validate checks the relationships between values.
func (c Config) Validate() error {
	if !c.Listen.IsValid() {
		return fmt.Errorf("listen address %v is not a valid ip:port", c.Listen)
	}
	if c.MaxPacketSize == 0 {
		return fmt.Errorf("max_packet_size must be positive")
	}
	if c.Timers.StaleTimeout <= c.Timers.Heartbeat {
		return fmt.Errorf("stale timeout (%v) must exceed the heartbeat interval (%v)", c.Timers.StaleTimeout, c.Timers.Heartbeat)
	}
	if c.Timers.MaxResend < c.Timers.Resend {
		return fmt.Errorf("max resend (%v) must be at least the resend interval (%v)", c.Timers.MaxResend, c.Timers.Resend)
	}
	if c.TickRate <= 0 || c.SyncRate <= 0 {
		return fmt.Errorf("tick_rate and sync_rate must be positive")
	}
	return nil
}

//#region translation

// CodecImpl returns the codec named by c.Codec.
func (c Config) CodecImpl() (protocol.Codec, error) { return protocol.CodecByName(c.Codec) }

// TransportOptions returns the transport options described by c.
func (c Config) TransportOptions(l *zerolog.Logger) []transport.Option {
	opts := []transport.Option{
		transport.WithKeys(c.AppKey, c.PrivateKey),
		transport.WithMaxPacketSize(c.MaxPacketSize),
		transport.WithQueueCapacity(c.QueueCapacity),
	}
	if l != nil {
		opts = append(opts, transport.WithLogger(l))
	}
	if len(c.Broadcast) > 0 {
		opts = append(opts, transport.WithBroadcastTargets(c.Broadcast...))
	}
	if c.Advertise.IsValid() {
		opts = append(opts, transport.WithAdvertiseAddr(c.Advertise))
	}
	return opts
}

// SessionOptions returns the session options described by c.
// Every configured template resolves to a plain objects.Body.
func (c Config) SessionOptions(l *zerolog.Logger) ([]session.Option, error) {
	codec, err := c.CodecImpl()
	if err != nil {
		return nil, err
	}
	reg := make(objects.Catalog, len(c.Templates))
	for _, t := range c.Templates {
		reg[t] = objects.BodyTemplate
	}
	opts := []session.Option{
		session.WithKeys(c.AppKey, c.PrivateKey),
		session.WithCodec(codec),
		session.WithRegistry(reg),
		session.WithTimers(c.Timers),
		session.WithTickRate(c.TickRate),
		session.WithSyncRate(c.SyncRate),
		session.WithSmoothing(c.Smoothing),
	}
	if l != nil {
		opts = append(opts, session.WithLogger(l))
	}
	return opts, nil
}

//#endregion translation

// Zerolog attaches the configuration to the given log event, omitting keys.
// Intended to be given to *zerolog.Event.Func().
func (c Config) Zerolog(ev *zerolog.Event) {
	bcast := make([]string, len(c.Broadcast))
	for i, b := range c.Broadcast {
		bcast[i] = b.String()
	}
	ev.Str("listen", c.Listen.String()).
		Strs("broadcast", bcast).
		Str("codec", c.Codec).
		Bool("app key set", c.AppKey != "").
		Bool("private key set", c.PrivateKey != "").
		Dur("heartbeat", c.Timers.Heartbeat).
		Dur("stale timeout", c.Timers.StaleTimeout).
		Float64("tick rate", c.TickRate).
		Strs("templates", c.Templates)
	if c.Admin.IsValid() {
		ev.Str("admin", c.Admin.String())
	}
}

func parseAddr(key, s string) (netip.AddrPort, error) {
	ap, err := netip.ParseAddrPort(strings.TrimSpace(s))
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("parse %s: %w", key, err)
	}
	return ap, nil
}

func parseDuration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	} else if d <= 0 {
		return 0, fmt.Errorf("parse %s: duration must be positive", key)
	}
	return d, nil
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if v := strings.TrimSpace(s); v != "" {
			out = append(out, v)
		}
	}
	return out
}
