package protocol_test

import (
	"encoding/json"
	"errors"
	"net/netip"
	"reflect"
	"testing"
	"time"

	"github.com/Pallinder/go-randomdata"
	. "github.com/rflandau/tandem/internal/testsupport"
	"github.com/rflandau/tandem/tandem/protocol"
	"github.com/rflandau/tandem/tandem/protocol/mt"
	"github.com/rflandau/tandem/tandem/protocol/version"
	"github.com/rflandau/tandem/tandem/spatial"
)

var codecs = []protocol.Codec{protocol.JSON, protocol.Binary}

func reliableEnvelope(p protocol.Payload) *protocol.Envelope {
	env := protocol.New(RandomLocalhostAddrPort(), protocol.ToAll, p)
	env.Reliable = true
	env.ID = randomdata.Alphanumeric(16)
	env.RemainingTargets = 3
	env.SentAt = time.UnixMilli(1_700_000_000_123)
	env.AppKey = randomdata.SillyName()
	env.PrivateKey = randomdata.Alphanumeric(8)
	return env
}

// Envelopes must survive both codecs with every header field and a representative set of payloads intact.
func TestCodec_RoundTrip(t *testing.T) {
	payloads := []protocol.Payload{
		protocol.Heartbeat{Age: time.Now().UnixNano()},
		protocol.Ack{ID: "abc"},
		protocol.GlobalRequest[spatial.Vector3]{},
		protocol.GlobalChanged[float64]{Key: "score", Value: 1.5},
		protocol.GlobalRecap[string]{Keys: []string{"a", "b"}, Values: []string{"x", "y"}},
		protocol.Spawn{
			ID:       "5c0c6f4e-8c3b-4a5b-9b1e-7f3c5d0f1a2b",
			Template: "cube",
			Transform: spatial.Transform{
				Pose:  spatial.Pose{Position: spatial.Vector3{X: 1.25, Y: -3}, Rotation: spatial.Identity},
				Scale: spatial.One,
			},
			Active: true,
		},
		protocol.SpawnRecap{ID: "id", Template: "sphere", Owner: "10.0.0.2:7777", Creator: "10.0.0.3:7777", Locked: true},
		protocol.OwnershipChanged{ID: "id", Owner: "10.0.0.2:7777"},
		protocol.Value[[]byte]{Tag: "blob", Value: []byte{0, 1, 2, 255}},
		protocol.Values[spatial.Color]{Tag: "palette", Values: []spatial.Color{{R: 1, A: 1}, {G: 0.5, A: 0.25}}},
		protocol.Invoke{Method: "Explode", Args: []any{"now", "loudly"}},
	}
	for _, c := range codecs {
		for _, p := range payloads {
			t.Run(c.Name()+"/"+p.Type().String(), func(t *testing.T) {
				want := reliableEnvelope(p)
				b, err := c.Marshal(want)
				if err != nil {
					t.Fatal(err)
				}
				got, err := c.Unmarshal(b)
				if err != nil {
					t.Fatal(err)
				}
				if !reflect.DeepEqual(want, got) {
					t.Fatal(ExpectedActual(*want, *got))
				}
			})
		}
	}
}

func TestCodec_Peek(t *testing.T) {
	for _, c := range codecs {
		t.Run(c.Name(), func(t *testing.T) {
			env := reliableEnvelope(protocol.Despawn{ID: "gone"})
			b, err := c.Marshal(env)
			if err != nil {
				t.Fatal(err)
			}
			h, err := c.Peek(b)
			if err != nil {
				t.Fatal(err)
			}
			if h != env.Header() {
				t.Fatal(ExpectedActual(env.Header(), h))
			}
		})
	}
	t.Run("json rejects binary", func(t *testing.T) {
		b, err := protocol.Binary.Marshal(reliableEnvelope(protocol.Ack{ID: "x"}))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := protocol.JSON.Peek(b); err == nil {
			t.Fatal("expected an error peeking a binary envelope as json")
		}
	})
	t.Run("binary rejects truncation", func(t *testing.T) {
		b, err := protocol.Binary.Marshal(reliableEnvelope(protocol.Ack{ID: "x"}))
		if err != nil {
			t.Fatal(err)
		}
		// field 12, length-delimited, claims 5 bytes that never arrive
		b = append(b, 0x62, 0x05)
		if _, err := protocol.Binary.Peek(b); !errors.Is(err, protocol.ErrTruncated) {
			t.Fatal(ExpectedActual(protocol.ErrTruncated, err))
		}
	})
}

// The JSON codec must keep the schema 1.0 short field names.
func TestJSON_ShortNames(t *testing.T) {
	env := reliableEnvelope(protocol.GlobalChanged[bool]{Key: "door", Value: true})
	b, err := protocol.JSON.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"v", "y", "f", "t", "i", "r", "n", "s", "p", "a", "k"} {
		if _, found := m[k]; !found {
			t.Errorf("missing field %q in %s", k, b)
		}
	}
	if m["r"] != float64(1) {
		t.Error("reliable flag", ExpectedActual[any](float64(1), m["r"]))
	}
	if m["v"] != float64(version.Current.Byte()) {
		t.Error("version", ExpectedActual[any](float64(version.Current.Byte()), m["v"]))
	}
	if m["y"] != float64(mt.BoolChanged) {
		t.Error("type", ExpectedActual[any](float64(mt.BoolChanged), m["y"]))
	}
}

func TestCodec_Errors(t *testing.T) {
	t.Run("unsupported version", func(t *testing.T) {
		if _, err := protocol.JSON.Unmarshal([]byte(`{"v":32,"y":1,"p":{}}`)); !errors.Is(err, protocol.ErrUnsupportedVersion) {
			t.Fatal(ExpectedActual(protocol.ErrUnsupportedVersion, err))
		}
		env := protocol.New(netip.AddrPort{}, protocol.ToBroadcast, protocol.Awake{})
		env.Version = version.Version{Major: 2}
		for _, c := range codecs {
			if _, err := c.Marshal(env); !errors.Is(err, protocol.ErrUnsupportedVersion) {
				t.Error(c.Name(), ExpectedActual(protocol.ErrUnsupportedVersion, err))
			}
		}
	})
	t.Run("unknown type", func(t *testing.T) {
		if _, err := protocol.JSON.Unmarshal([]byte(`{"v":16,"y":99,"p":{}}`)); !errors.Is(err, protocol.ErrUnknownType) {
			t.Fatal(ExpectedActual(protocol.ErrUnknownType, err))
		}
	})
	t.Run("missing payload", func(t *testing.T) {
		if _, err := protocol.JSON.Unmarshal([]byte(`{"v":16,"y":1}`)); !errors.Is(err, protocol.ErrNilPayload) {
			t.Fatal(ExpectedActual(protocol.ErrNilPayload, err))
		}
	})
	t.Run("type mismatch", func(t *testing.T) {
		env := protocol.New(netip.AddrPort{}, protocol.ToAll, protocol.Heartbeat{})
		env.Type = mt.Awake
		for _, c := range codecs {
			if _, err := c.Marshal(env); !errors.Is(err, protocol.ErrTypeMismatch) {
				t.Error(c.Name(), ExpectedActual(protocol.ErrTypeMismatch, err))
			}
		}
	})
}

func TestKind(t *testing.T) {
	for i, k := range protocol.Kinds {
		parsed, err := protocol.ParseKind(k.String())
		if err != nil || parsed != k {
			t.Errorf("failed to parse %v: %v", k, err)
		}
		if k.RequestType() != mt.StringRequest+mt.MessageType(i) ||
			k.ChangedType() != mt.StringChanged+mt.MessageType(i) ||
			k.RecapType() != mt.StringRecap+mt.MessageType(i) {
			t.Errorf("bad message types for %v", k)
		}
	}
	if _, err := protocol.ParseKind("quaternion"); err == nil {
		t.Error("expected quaternion to be rejected as a global kind")
	}
	if k := protocol.KindFor[spatial.Vector3](); k != protocol.KindVector3 {
		t.Error(ExpectedActual(protocol.KindVector3, k))
	}
	if typ := (protocol.GlobalRecap[float64]{}).Type(); typ != mt.FloatRecap {
		t.Error(ExpectedActual(mt.FloatRecap, typ))
	}
	if typ := (protocol.Values[spatial.Color]{}).Type(); typ != mt.ColorArray {
		t.Error(ExpectedActual(mt.ColorArray, typ))
	}
	if typ := (protocol.Value[spatial.Pose]{}).Type(); typ != mt.PoseValue {
		t.Error(ExpectedActual(mt.PoseValue, typ))
	}
}

func TestRecap(t *testing.T) {
	in := map[string]float64{"a": 1, "b": -2.5, randomdata.Noun(): 3}
	out, err := protocol.NewRecap(in).Map()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatal(ExpectedActual(in, out))
	}
	if _, err := (protocol.GlobalRecap[bool]{Keys: []string{"x"}}).Map(); err == nil {
		t.Fatal("expected mismatched recap to error")
	}
}
