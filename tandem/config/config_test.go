package config_test

import (
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Pallinder/go-randomdata"
	. "github.com/rflandau/tandem/internal/testsupport"
	"github.com/rflandau/tandem/tandem"
	"github.com/rflandau/tandem/tandem/config"
	"github.com/rflandau/tandem/tandem/protocol"
	"github.com/rflandau/tandem/tandem/session"
	"github.com/rflandau/tandem/tandem/spatial"
	"github.com/rflandau/tandem/tandem/transport"
	"github.com/rs/zerolog"
)

func TestDecode_Defaults(t *testing.T) {
	cfg, err := config.Decode("")
	if err != nil {
		t.Fatal(err)
	}
	def := config.Default()
	if cfg.Listen != def.Listen {
		t.Error(ExpectedActual(def.Listen, cfg.Listen))
	}
	if cfg.Listen.Port() != tandem.DefaultPort {
		t.Error(ExpectedActual(tandem.DefaultPort, cfg.Listen.Port()))
	}
	if cfg.Codec != "json" {
		t.Error(ExpectedActual("json", cfg.Codec))
	}
	if cfg.Timers.StaleTimeout != tandem.DefaultStaleTimeout {
		t.Error(ExpectedActual(tandem.DefaultStaleTimeout, cfg.Timers.StaleTimeout))
	}
	if cfg.Admin.IsValid() {
		t.Error("admin should be disabled by default")
	}
}

func TestDecode(t *testing.T) {
	appKey := randomdata.SillyName()
	data := `
listen = "127.0.0.1:9000"
advertise = "10.0.0.4:9000"
broadcast = ["10.0.0.255:9000", "127.0.0.1:9001"]
app_key = "` + appKey + `"
codec = "Binary"
max_packet_size = 1200
tick_rate = 30
smoothing = "250ms"
admin = "127.0.0.1:8080"
log_level = "DEBUG"
templates = [" cube ", "", "lantern"]

[timers]
heartbeat = "1s"
stale_timeout = "4s"
`
	cfg, err := config.Decode(data)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Listen != netip.MustParseAddrPort("127.0.0.1:9000") {
		t.Error(ExpectedActual(netip.MustParseAddrPort("127.0.0.1:9000"), cfg.Listen))
	}
	if cfg.Advertise != netip.MustParseAddrPort("10.0.0.4:9000") {
		t.Error(ExpectedActual(netip.MustParseAddrPort("10.0.0.4:9000"), cfg.Advertise))
	}
	if !SlicesUnorderedEqual(cfg.Broadcast, []netip.AddrPort{
		netip.MustParseAddrPort("10.0.0.255:9000"), netip.MustParseAddrPort("127.0.0.1:9001"),
	}) {
		t.Errorf("unexpected broadcast targets %v", cfg.Broadcast)
	}
	if cfg.AppKey != appKey || cfg.PrivateKey != "" {
		t.Errorf("unexpected keys %q/%q", cfg.AppKey, cfg.PrivateKey)
	}
	if cfg.Codec != "binary" {
		t.Error(ExpectedActual("binary", cfg.Codec))
	}
	if cfg.MaxPacketSize != 1200 || cfg.TickRate != 30 || cfg.Smoothing != 250*time.Millisecond {
		t.Errorf("unexpected numeric values %+v", cfg)
	}
	if cfg.LogLevel != zerolog.DebugLevel {
		t.Error(ExpectedActual(zerolog.DebugLevel, cfg.LogLevel))
	}
	if !SlicesUnorderedEqual(cfg.Templates, []string{"cube", "lantern"}) {
		t.Errorf("unexpected templates %v", cfg.Templates)
	}
	// set timers overwrite, others keep defaults
	want := session.Timers{
		Heartbeat:      time.Second,
		Resend:         tandem.DefaultResendInterval,
		MaxResend:      tandem.DefaultMaxResendDuration,
		StaleTimeout:   4 * time.Second,
		OldestDebounce: tandem.DefaultOldestDebounce,
	}
	if cfg.Timers != want {
		t.Error(ExpectedActual(want, cfg.Timers))
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		errHint string
	}{
		{"syntax", `listen = `, "decode config"},
		{"unknown key", `colour = "blue"`, "unknown keys"},
		{"bad address", `listen = "localhost"`, "parse listen"},
		{"bad codec", `codec = "xml"`, "parse codec"},
		{"bad duration", "[timers]\nheartbeat = \"soon\"", "parse timers.heartbeat"},
		{"negative duration", `smoothing = "-1s"`, "parse smoothing"},
		{"bad level", `log_level = "loud"`, "parse log_level"},
		{"stale under heartbeat", "[timers]\nheartbeat = \"5s\"\nstale_timeout = \"4s\"", "stale timeout"},
		{"zero packet size", `max_packet_size = 0`, "max_packet_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Decode(tt.data)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.errHint) {
				t.Errorf("error %q does not mention %q", err, tt.errHint)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peer.toml")
	if err := os.WriteFile(path, []byte("codec = \"binary\"\ntemplates = [\"cube\"]\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Codec != "binary" {
		t.Error(ExpectedActual("binary", cfg.Codec))
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected an error loading a missing file")
	}
}

// The translated options must produce a session the configuration describes.
func TestOptions(t *testing.T) {
	cfg, err := config.Decode(`
codec = "binary"
app_key = "shared"
templates = ["cube"]
`)
	if err != nil {
		t.Fatal(err)
	}
	nop := zerolog.Nop()
	codec, err := cfg.CodecImpl()
	if err != nil {
		t.Fatal(err)
	}
	if codec != protocol.Binary {
		t.Error(ExpectedActual(protocol.Binary.Name(), codec.Name()))
	}

	tr, err := transport.NewNetwork().Join(RandomLocalhostAddrPort(), codec, cfg.TransportOptions(&nop)...)
	if err != nil {
		t.Fatal(err)
	}
	opts, err := cfg.SessionOptions(&nop)
	if err != nil {
		t.Fatal(err)
	}
	s, err := session.New(tr, opts...)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if s.Status().Codec != "binary" {
		t.Error(ExpectedActual("binary", s.Status().Codec))
	}
	if _, err := s.Spawn("cube", spatial.NewTransform(spatial.Vector3{})); err != nil {
		t.Errorf("configured template did not resolve: %v", err)
	}
}
