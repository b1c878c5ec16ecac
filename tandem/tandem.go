// Package tandem is the parent package of the Tandem replication protocol.
// It contains child packages transport (datagram I/O), protocol (envelope and payload handling), peers, reliable, globals and objects (the replicated state machines)
// and session, which ties them together on a single logical goroutine.
// Child packages are mostly self-contained, the tandem parent package provides the few shared utilities.
package tandem

import (
	"errors"
	"time"
)

// DefaultPort is the UDP port sessions listen on when none is configured.
const DefaultPort uint16 = 7777

// DefaultMaxPacketSize specifies the buffer size used to hold UDP payloads.
// UDP can theoretically support payloads nearing 65535 bytes, but 1500B is a common MTU and Tandem assumes that each envelope fits into a single datagram.
// Recaps of large global maps are the usual reason to raise it.
const DefaultMaxPacketSize uint16 = 4096

// Timer defaults shared by the session and its components.
// Records are not guaranteed be pruned at exactly these times, but survival cannot be guaranteed after them.
const (
	DefaultHeartbeatInterval time.Duration = 2 * time.Second
	DefaultResendInterval    time.Duration = 500 * time.Millisecond
	DefaultMaxResendDuration time.Duration = 7 * time.Second
	DefaultStaleTimeout      time.Duration = 8 * time.Second
	DefaultOldestDebounce    time.Duration = 3 * time.Second
)

// TransformPrecision is the number of decimal digits position, rotation and scale values are truncated to before transmission.
const TransformPrecision = 3

var (
	ErrNilCtx = errors.New("do not pass nil contexts; use context.TODO or context.Background instead")
	ErrClosed = errors.New("session is closed")
)
