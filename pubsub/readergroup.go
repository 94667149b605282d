package pubsub

import (
	"context"
	"log/slog"

	"github.com/gauravks/open62541/codec"
	"github.com/gauravks/open62541/errors"
	"github.com/gauravks/open62541/eventloop"
	"github.com/gauravks/open62541/security"
)

// ReaderGroup groups DataSetReaders that share a subscription cadence
// and, optionally, a security context.
type ReaderGroup struct {
	id     Identifier
	parent *Connection
	config ReaderGroupConfig

	state State
	cause Cause

	// readers is kept newest-first, matching Connection.readerGroups.
	readers []*DataSetReader

	configurationFrozen bool

	keyStorage *security.KeyStorage

	subscribeCallback eventloop.CallbackID
	hasSubscribe      bool

	manager *Manager
	logger  *slog.Logger
}

func newReaderGroup(id Identifier, parent *Connection, cfg ReaderGroupConfig, mgr *Manager, logger *slog.Logger) *ReaderGroup {
	return &ReaderGroup{
		id:      id,
		parent:  parent,
		config:  cfg,
		state:   StateDisabled,
		manager: mgr,
		logger:  logger,
	}
}

// ID returns the group's Manager-minted identifier.
func (g *ReaderGroup) ID() Identifier { return g.id }

// State returns the group's current lifecycle state.
func (g *ReaderGroup) State() State { return g.state }

// Config returns a deep copy of the group's configuration. SecurityPolicy
// is shared, not copied — it is a stateless algorithm suite.
func (g *ReaderGroup) Config() ReaderGroupConfig { return g.config }

// Readers returns the group's DataSetReaders in selection order
// (newest first).
func (g *ReaderGroup) Readers() []*DataSetReader {
	out := make([]*DataSetReader, len(g.readers))
	copy(out, g.readers)
	return out
}

// cascadeFrom drives the group and every child reader to target with
// cause, called when the parent Connection enters
// Disabled/Paused/Error. Cascading bypasses the normal transition
// gates (e.g. Paused is ordinarily only reachable from Disabled) since
// the parent, not the group, decided this transition.
func (g *ReaderGroup) cascadeFrom(target State, cause Cause, cb StateChangeCallback) {
	g.unregisterSubscribe()
	g.transition(target, cause, cb)
	for _, r := range g.readers {
		r.setState(target, cause, cb)
	}
}

// unregisterSubscribe cancels the group's cyclic subscribe callback,
// if one is registered. Safe to call unconditionally.
func (g *ReaderGroup) unregisterSubscribe() {
	if !g.hasSubscribe {
		return
	}
	loop := g.loop()
	if loop != nil {
		loop.RemoveCyclicCallback(g.subscribeCallback)
	}
	g.hasSubscribe = false
}

func (g *ReaderGroup) loop() *eventloop.Loop {
	if g.parent == nil {
		return nil
	}
	return g.parent.loop
}

// registerSubscribe registers the pull-mode cyclic callback.
// Double-registration is a safe no-op rather than a panic: it returns
// early when hasSubscribe is already set, so setState may call it on
// every entry to PreOperational.
func (g *ReaderGroup) registerSubscribe() {
	if g.hasSubscribe {
		return
	}
	loop := g.loop()
	if loop == nil {
		return
	}
	conn := g.parent
	grp := g
	g.subscribeCallback = loop.AddCyclicCallback(g.config.SubscribingInterval, func() {
		conn.subscribeTick(grp)
	})
	g.hasSubscribe = true
}

// setState implements the ReaderGroup state machine (spec §4.3).
func (g *ReaderGroup) setState(ctx context.Context, target State, cause Cause, cb StateChangeCallback) error {
	switch target {
	case StateDisabled:
		g.unregisterSubscribe()
		g.transition(target, cause, cb)
		for _, r := range g.readers {
			r.setState(StateDisabled, cause, cb)
		}
		return nil

	case StatePaused:
		if g.state != StateDisabled {
			return errors.New(errors.KindNotSupported, "ReaderGroup", "setState", "Paused is only reachable from Disabled")
		}
		g.transition(target, cause, cb)
		return nil

	case StatePreOperational:
		if g.parent.state != StatePreOperational && g.parent.state != StateOperational {
			return errors.New(errors.KindResourceUnavail, "ReaderGroup", "setState", "parent connection is not Pre/Operational")
		}
		if err := g.parent.ensureGroupChannel(ctx, g); err != nil {
			return err
		}
		g.registerSubscribe()
		g.transition(target, CauseGood, cb)
		return nil

	case StateOperational:
		if g.state != StatePreOperational {
			return errors.New(errors.KindNotSupported, "ReaderGroup", "setState", "Operational is only reachable from PreOperational")
		}
		g.transition(target, CauseGood, cb)
		for _, r := range g.readers {
			r.setState(StateOperational, CauseGood, cb)
		}
		return nil

	case StateError:
		g.unregisterSubscribe()
		g.transition(target, cause, cb)
		for _, r := range g.readers {
			r.setState(StateError, cause, cb)
		}
		return nil

	default:
		return errors.New(errors.KindInvalidArgument, "ReaderGroup", "setState", "unknown target state")
	}
}

func (g *ReaderGroup) transition(target State, cause Cause, cb StateChangeCallback) {
	if g.state == target && target != StateError {
		return
	}
	from := g.state
	g.state = target
	g.cause = cause
	if cb != nil {
		cb(g.id, EntityReaderGroup, target, cause)
	}
	if g.manager != nil && g.manager.metrics != nil {
		g.manager.metrics.RecordStateTransition("readergroup", from.String(), target.String())
	}
}

// promoteOnFirstDispatch promotes the group to Operational the first
// time any of its readers successfully decodes a frame, mirroring
// DataSetReader.promoteOnFirstDispatch.
func (g *ReaderGroup) promoteOnFirstDispatch(cb StateChangeCallback) {
	if g.state == StatePreOperational {
		g.transition(StateOperational, CauseGood, cb)
	}
}

// freeze applies the real-time freeze protocol (spec §4.3). In
// FIXED_SIZE mode it additionally enforces the four eligibility rules
// before mutating any state, so a rejected freeze leaves the group
// untouched.
func (g *ReaderGroup) freeze() error {
	if g.config.RTLevel == RTFixedSize {
		if err := g.validateFixedSize(); err != nil {
			return err
		}
	}

	g.configurationFrozen = true
	g.parent.freezeCounter++

	fast := g.config.RTLevel == RTFixedSize
	for _, r := range g.readers {
		r.freeze(fast)
	}
	return nil
}

// validateFixedSize enforces freeze rules 1-4 for FIXED_SIZE groups.
func (g *ReaderGroup) validateFixedSize() error {
	if len(g.readers) != 1 {
		return errors.New(errors.KindNotSupported, "ReaderGroup", "freeze", "FIXED_SIZE requires exactly one DataSetReader")
	}
	if g.config.Encoding != codec.EncodingUADP {
		return errors.New(errors.KindNotSupported, "ReaderGroup", "freeze", "FIXED_SIZE requires UADP encoding")
	}

	r := g.readers[0]
	if r.config.PublisherID.IsString {
		return errors.New(errors.KindNotSupported, "ReaderGroup", "freeze", "FIXED_SIZE requires a pointer-free (numeric) PublisherId")
	}
	if err := ValidateFixedSize(r.config.Fields); err != nil {
		return errors.Wrap(err, errors.KindNotSupported, "ReaderGroup", "freeze")
	}
	return nil
}

// unfreeze decrements the parent's freeze counter, clears every
// child's offset buffer, and clears configurationFrozen.
func (g *ReaderGroup) unfreeze() {
	if !g.configurationFrozen {
		return
	}
	g.configurationFrozen = false
	g.parent.freezeCounter--
	for _, r := range g.readers {
		r.unfreeze()
	}
}

// setEncryptionKeys installs a rolled-over key set on the group's
// shared KeyStorage (spec §4.3 "Encryption key installation").
func (g *ReaderGroup) setEncryptionKeys(ks security.KeySet) error {
	if g.config.Encoding == codec.EncodingJSON {
		return errors.New(errors.KindInternalError, "ReaderGroup", "setEncryptionKeys", "message security is defined only for UADP")
	}
	if g.config.SecurityPolicy == nil {
		return errors.New(errors.KindInternalError, "ReaderGroup", "setEncryptionKeys", "no security policy configured")
	}
	if g.keyStorage == nil {
		return errors.New(errors.KindInternalError, "ReaderGroup", "setEncryptionKeys", "no security group attached")
	}

	if err := g.keyStorage.InstallKeys(g.config.SecurityPolicy, ks); err != nil {
		return err
	}
	if g.manager != nil && g.manager.metrics != nil {
		g.manager.metrics.RecordKeyRollover(g.config.SecurityGroupID)
	}
	return nil
}
