// Package transport implements the pluggable send/receive channels the
// pubsub control plane opens against a Connection's configured profile
// URI: udp-uadp, eth-uadp, mqtt-uadp and mqtt-json.
//
// The control plane never imports a concrete profile directly — it
// resolves one by URI scheme through Resolve and talks to the result
// exclusively through the Channel interface.
package transport

import (
	"context"
	"fmt"
	"net/url"

	"github.com/gauravks/open62541/errors"
)

// Channel is a single logical transport endpoint: one send path plus,
// for push transports, a receive path the event loop drains.
type Channel interface {
	// Send writes one already-encoded frame.
	Send(ctx context.Context, frame []byte) error

	// Recv blocks for the next inbound frame, or returns ctx.Err() when
	// ctx is cancelled. Pull transports (nothing arrives unsolicited)
	// implement it as a no-op channel that only unblocks on cancellation.
	Recv(ctx context.Context) ([]byte, error)

	// Subscribe binds the channel to a topic/group address. No-op for
	// transports without topic semantics (UDP, Ethernet).
	Subscribe(ctx context.Context, topic string) error

	// Close releases the underlying socket or connection. Idempotent.
	Close() error
}

// Settings carries the transport-specific connection settings a
// Connection config supplies alongside the profile URI: network
// address, MQTT broker options, Ethernet interface name, and so on.
type Settings struct {
	Address      string
	Interface    string
	MQTTBroker   string
	MQTTClientID string
	QueueName    string
	Raw          map[string]string
}

// Profile opens channels for one transport kind.
type Profile interface {
	// Open returns a new channel used both to send and to receive. A
	// Connection opens one shared channel, plus one per ReaderGroup
	// that binds its own topic.
	Open(ctx context.Context, settings Settings) (Channel, error)
}

// Resolve maps a connection's transport profile URI to a concrete
// Profile. Recognized schemes: udp-uadp, eth-uadp, mqtt-uadp, mqtt-json.
func Resolve(profileURI string) (Profile, string, error) {
	u, err := url.Parse(profileURI)
	if err != nil {
		return nil, "", errors.Wrap(err, errors.KindInvalidArgument, "transport", "Resolve")
	}

	switch u.Scheme {
	case "udp-uadp":
		return &UDPProfile{}, "uadp", nil
	case "eth-uadp":
		return &EthernetProfile{}, "uadp", nil
	case "mqtt-uadp":
		return &MQTTProfile{}, "uadp", nil
	case "mqtt-json":
		return &MQTTProfile{}, "json", nil
	default:
		return nil, "", errors.Wrap(
			fmt.Errorf("unsupported transport profile scheme %q", u.Scheme),
			errors.KindNotSupported, "transport", "Resolve")
	}
}
