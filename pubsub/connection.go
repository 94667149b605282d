package pubsub

import (
	"context"
	"log/slog"
	"time"

	"github.com/gauravks/open62541/codec"
	"github.com/gauravks/open62541/errors"
	"github.com/gauravks/open62541/eventloop"
	"github.com/gauravks/open62541/transport"
)

// Connection owns one transport endpoint (a send channel plus zero or
// more receive channels) and parents the ReaderGroups that demultiplex
// its inbound traffic.
type Connection struct {
	id     Identifier
	config ConnectionConfig

	state State
	cause Cause

	// readerGroups is kept newest-first: new groups are prepended, so
	// iteration order for reader-group selection in the receive
	// pipeline matches the "insertion order, newest first" first-match
	// rule.
	readerGroups []*ReaderGroup

	// freezeCounter is the number of frozen ReaderGroups parented to
	// this Connection. While > 0, no new ReaderGroup may be added.
	freezeCounter int

	profile  transport.Profile
	encoding codec.Encoding
	send     transport.Channel
	recvs    map[Identifier]transport.Channel // per-group recv channels, keyed by owning ReaderGroup id

	loop *eventloop.Loop

	deleteFlag bool

	manager *Manager
	logger  *slog.Logger
}

func newConnection(id Identifier, cfg ConnectionConfig, mgr *Manager, logger *slog.Logger) *Connection {
	loop := cfg.EventLoopOverride
	if loop == nil {
		loop = mgr.loop
	}
	return &Connection{
		id:      id,
		config:  cfg,
		state:   StateDisabled,
		loop:    loop,
		recvs:   make(map[Identifier]transport.Channel),
		manager: mgr,
		logger:  logger,
	}
}

// ID returns the connection's Manager-minted identifier.
func (c *Connection) ID() Identifier { return c.id }

// State returns the connection's current lifecycle state.
func (c *Connection) State() State { return c.state }

// Config returns a deep copy of the connection's configuration.
func (c *Connection) Config() ConnectionConfig { return c.config.clone() }

// ReaderGroups returns the connection's ReaderGroups in selection
// order (newest first).
func (c *Connection) ReaderGroups() []*ReaderGroup {
	out := make([]*ReaderGroup, len(c.readerGroups))
	copy(out, c.readerGroups)
	return out
}

// connect resolves the transport profile, opens the send channel, and
// registers the event-loop readiness callback for push transports.
// Idempotent: calling it again (e.g. because a new ReaderGroup needs a
// recv channel) only opens what is missing.
func (c *Connection) connect(ctx context.Context) error {
	if c.profile == nil {
		profile, encodingName, err := transport.Resolve(c.config.TransportProfileURI)
		if err != nil {
			c.transitionTo(StateError, CauseConfigurationError, nil)
			return errors.Wrap(err, errors.KindConfigurationErr, "Connection", "connect")
		}
		c.profile = profile
		if encodingName == "json" {
			c.encoding = codec.EncodingJSON
		} else {
			c.encoding = codec.EncodingUADP
		}
	}

	if c.send == nil {
		ch, err := c.profile.Open(ctx, c.config.Settings)
		if err != nil {
			c.transitionTo(StateError, CauseConfigurationError, nil)
			return errors.Wrap(err, errors.KindResourceUnavail, "Connection", "connect")
		}
		c.send = ch
	}

	for _, g := range c.readerGroups {
		if err := c.ensureGroupChannel(ctx, g); err != nil {
			c.transitionTo(StateError, CauseConfigurationError, nil)
			return err
		}
	}

	return nil
}

// ensureGroupChannel opens a dedicated recv channel for groups whose
// transport requires per-group topic binding (MQTT), and wires it into
// the event loop's readiness path. UDP/Ethernet groups share the
// connection's single channel and need no per-group channel.
func (c *Connection) ensureGroupChannel(ctx context.Context, g *ReaderGroup) error {
	if g.config.QueueName == "" {
		return nil
	}
	if _, ok := c.recvs[g.id]; ok {
		return nil
	}

	ch, err := c.profile.Open(ctx, c.config.Settings)
	if err != nil {
		return errors.Wrap(err, errors.KindResourceUnavail, "Connection", "ensureGroupChannel")
	}
	if err := ch.Subscribe(ctx, g.config.QueueName); err != nil {
		_ = ch.Close()
		return errors.Wrap(err, errors.KindConfigurationErr, "Connection", "ensureGroupChannel")
	}
	c.recvs[g.id] = ch

	if c.loop != nil {
		queueName := g.config.QueueName
		c.loop.RegisterReader(ctx,
			func(ctx context.Context) ([]byte, error) { return ch.Recv(ctx) },
			func(frame []byte) { c.manager.onInboundFrameForTopic(c, queueName, frame) },
		)
	}
	return nil
}

// recvChannelFor returns the channel a ReaderGroup pulls buffered
// frames from on a subscribe tick: its own channel if it opened one,
// otherwise the connection's shared channel.
func (c *Connection) recvChannelFor(g *ReaderGroup) transport.Channel {
	if ch, ok := c.recvs[g.id]; ok {
		return ch
	}
	return c.send
}

// transitionTo drives the connection to a new state and cascades to
// children per the Connection state machine (spec §4.2): entering
// Disabled/Paused/Error drives every child ReaderGroup (and its
// readers) to the same state with CauseResourceUnavailable; entering
// PreOperational/Operational never auto-promotes children.
func (c *Connection) transitionTo(target State, cause Cause, cb StateChangeCallback) {
	if c.state == target && target != StateError {
		return
	}

	from := c.state
	c.state = target
	c.cause = cause

	if cb != nil {
		cb(c.id, EntityConnection, target, cause)
	}
	if c.manager != nil && c.manager.metrics != nil {
		c.manager.metrics.RecordStateTransition("connection", from.String(), target.String())
	}

	switch target {
	case StateDisabled, StatePaused, StateError:
		for _, g := range c.readerGroups {
			g.cascadeFrom(target, CauseResourceUnavailable, cb)
		}
	}
}

// setState is the public entry point behind Manager.SetConnectionState
// — it implements the set_state(target, cause) transition matrix.
func (c *Connection) setState(ctx context.Context, target State, cause Cause, cb StateChangeCallback) error {
	switch target {
	case StateDisabled, StatePaused:
		c.closeChannels()
		c.transitionTo(target, cause, cb)
		return nil

	case StateError:
		c.transitionTo(target, cause, cb)
		return nil

	case StatePreOperational:
		if err := c.connect(ctx); err != nil {
			return err
		}
		c.transitionTo(target, CauseGood, cb)
		return nil

	case StateOperational:
		if c.state != StatePreOperational && c.state != StateOperational {
			return errors.New(errors.KindNotSupported, "Connection", "setState", "Operational is only reachable from PreOperational")
		}
		if err := c.connect(ctx); err != nil {
			return err
		}
		c.transitionTo(target, CauseGood, cb)
		return nil

	default:
		return errors.New(errors.KindInvalidArgument, "Connection", "setState", "unknown target state")
	}
}

func (c *Connection) closeChannels() {
	if c.send != nil {
		_ = c.send.Close()
		c.send = nil
	}
	for id, ch := range c.recvs {
		_ = ch.Close()
		delete(c.recvs, id)
	}
	c.profile = nil
}

// openRecvCount reports how many of this connection's channels are
// still open — used by the delete protocol to decide when it is safe
// to enqueue the delayed free.
func (c *Connection) openRecvCount() int {
	n := len(c.recvs)
	if c.send != nil {
		n++
	}
	return n
}

// subscribeTick drains buffered frames from g's recv channel and feeds
// them to the receive pipeline. Registered by ReaderGroup.registerSubscribe
// as the pull-mode cyclic callback.
func (c *Connection) subscribeTick(g *ReaderGroup) {
	ch := c.recvChannelFor(g)
	if ch == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	for {
		frame, err := ch.Recv(ctx)
		if err != nil {
			return
		}
		if len(frame) == 0 {
			return
		}
		c.manager.onInboundFrame(c, frame)
	}
}
