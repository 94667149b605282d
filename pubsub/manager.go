package pubsub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gauravks/open62541/errors"
	"github.com/gauravks/open62541/eventloop"
	"github.com/gauravks/open62541/metric"
	"github.com/gauravks/open62541/security"
)

// Manager is the process-wide PubSub registry: the ordered sequence of
// Connections, unique-identifier minting, and lookup by identifier.
// Every mutation of the Connection/ReaderGroup/DataSetReader graph —
// whether from a configuration RPC or an event-loop callback — runs
// under Manager.mu, the single service mutex spec §5 requires.
type Manager struct {
	mu sync.Mutex

	// connections is kept newest-first (prepend on add), so the
	// receive pipeline's per-connection scan is not order-dependent on
	// Manager iteration — only a single connection is ever addressed
	// directly by identifier lookup.
	connections []*Connection

	ids    map[Identifier]struct{}
	minter idMinter

	// topics maps an MQTT queueName to the ReaderGroup subscribed to
	// it, registered at group-creation time and consulted by
	// onInboundFrameForTopic to resolve a frame's owning group without
	// a header scan.
	topics map[string]Identifier

	loop     *eventloop.Loop
	metrics  *metric.Metrics
	callback StateChangeCallback
	logger   *slog.Logger
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithMetrics records state transitions, pipeline stages and security
// events on m.
func WithMetrics(m *metric.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithStateChangeCallback registers the user callback invoked on every
// observable state transition.
func WithStateChangeCallback(cb StateChangeCallback) Option {
	return func(mgr *Manager) { mgr.callback = cb }
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(mgr *Manager) { mgr.logger = logger }
}

// NewManager creates a Manager driven by loop's cyclic callbacks and
// readiness notifications.
func NewManager(loop *eventloop.Loop, opts ...Option) *Manager {
	m := &Manager{
		ids:    make(map[Identifier]struct{}),
		topics: make(map[string]Identifier),
		loop:   loop,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// withLock runs fn with the service mutex held — the entry point every
// event-loop callback must go through before touching PubSub state.
func (m *Manager) withLock(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}

// mintUniqueID returns an identifier not currently held by any live
// Connection, ReaderGroup or DataSetReader (P4). Callers must hold
// m.mu.
func (m *Manager) mintUniqueID() Identifier {
	for {
		id := m.minter.mint()
		if _, taken := m.ids[id]; !taken {
			m.ids[id] = struct{}{}
			return id
		}
	}
}

// MintUniqueID is the public form of mintUniqueID, for callers that
// need to reserve an identifier outside the normal create path (e.g.
// tests asserting P4).
func (m *Manager) MintUniqueID() Identifier {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mintUniqueID()
}

func (m *Manager) releaseID(id Identifier) {
	delete(m.ids, id)
}

// AddConnection creates a Connection from cfg and returns its minted
// identifier. The Connection starts Disabled; callers drive it with
// SetConnectionState.
func (m *Manager) AddConnection(cfg ConnectionConfig) (Identifier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.mintUniqueID()
	conn := newConnection(id, cfg.clone(), m, m.logger.With("connection", id.String()))
	m.connections = append([]*Connection{conn}, m.connections...)
	return id, nil
}

// findConnectionLocked returns the Connection for id. Callers must
// hold m.mu.
func (m *Manager) findConnectionLocked(id Identifier) (*Connection, error) {
	for _, c := range m.connections {
		if c.id == id {
			return c, nil
		}
	}
	return nil, errors.New(errors.KindNotFound, "Manager", "findConnection", id.String())
}

// FindConnection looks up a Connection by identifier.
func (m *Manager) FindConnection(id Identifier) (*Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findConnectionLocked(id)
}

// GetConnectionConfig returns a deep copy of a Connection's config.
func (m *Manager) GetConnectionConfig(id Identifier) (ConnectionConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.findConnectionLocked(id)
	if err != nil {
		return ConnectionConfig{}, err
	}
	return c.Config(), nil
}

// SetConnectionState drives a Connection's state machine.
func (m *Manager) SetConnectionState(ctx context.Context, id Identifier, target State, cause Cause) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.findConnectionLocked(id)
	if err != nil {
		return err
	}
	return c.setState(ctx, target, cause, m.callback)
}

// RemoveConnection implements the delete protocol of spec §4.2: cascade
// -stop and remove every child ReaderGroup, close transport, unlink
// from the Manager, and enqueue a delayed free once no transport
// channel references remain.
func (m *Manager) RemoveConnection(id Identifier) error {
	m.mu.Lock()
	conn, err := m.findConnectionLocked(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	groups := append([]*ReaderGroup(nil), conn.readerGroups...)
	for _, g := range groups {
		m.removeReaderGroupLocked(g)
	}
	conn.readerGroups = nil

	conn.closeChannels()
	m.unlinkConnectionLocked(conn)
	conn.deleteFlag = true
	pending := conn.openRecvCount()
	m.mu.Unlock()

	if pending == 0 {
		m.freeConnection(conn)
	}
	// A non-zero pending count means a transport channel close is
	// still in flight; the owning Profile's Close already ran
	// synchronously above in this implementation (no async socket
	// teardown), so in practice pending is always 0 here. The delayed
	// free path exists for profiles that need it.
	return nil
}

func (m *Manager) unlinkConnectionLocked(conn *Connection) {
	out := m.connections[:0]
	for _, c := range m.connections {
		if c != conn {
			out = append(out, c)
		}
	}
	m.connections = out
}

// freeConnection enqueues the final deallocation on the event loop's
// delayed-callback facility, guaranteeing no in-flight callback can
// still hold a reference to conn — it was already unlinked from the
// Manager graph before this runs.
func (m *Manager) freeConnection(conn *Connection) {
	m.mu.Lock()
	m.releaseID(conn.id)
	m.mu.Unlock()

	if m.loop != nil {
		m.loop.AddDelayedCallback(func() {})
	}
}

// AddReaderGroup creates a ReaderGroup under connID. Rejected if the
// parent is unknown, frozen (any non-zero freeze counter), or requests
// a blocking socket without a custom scheduler.
func (m *Manager) AddReaderGroup(connID Identifier, cfg ReaderGroupConfig) (Identifier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, err := m.findConnectionLocked(connID)
	if err != nil {
		return 0, err
	}
	if conn.freezeCounter > 0 {
		return 0, errors.New(errors.KindConfigurationErr, "Manager", "AddReaderGroup", "parent connection has a frozen reader group")
	}
	if cfg.EnableBlockingSocket && !cfg.CustomScheduler {
		return 0, errors.New(errors.KindNotSupported, "Manager", "AddReaderGroup", "blocking sockets require a custom scheduler")
	}

	cfg = cfg.withDefaults()
	id := m.mintUniqueID()
	group := newReaderGroup(id, conn, cfg, m, m.logger.With("readergroup", id.String()))

	if cfg.SecurityGroupID != "" {
		group.keyStorage = security.NewKeyStorage(cfg.SecurityGroupID)
		group.keyStorage.Attach()
	}

	conn.readerGroups = append([]*ReaderGroup{group}, conn.readerGroups...)

	if cfg.QueueName != "" {
		m.topics[cfg.QueueName] = id
	}

	if err := conn.connect(context.Background()); err != nil {
		m.removeReaderGroupLocked(group)
		return 0, err
	}

	return id, nil
}

func (m *Manager) findReaderGroupLocked(id Identifier) (*ReaderGroup, error) {
	for _, conn := range m.connections {
		for _, g := range conn.readerGroups {
			if g.id == id {
				return g, nil
			}
		}
	}
	return nil, errors.New(errors.KindNotFound, "Manager", "findReaderGroup", id.String())
}

// FindReaderGroup looks up a ReaderGroup by identifier.
func (m *Manager) FindReaderGroup(id Identifier) (*ReaderGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findReaderGroupLocked(id)
}

// GetReaderGroupConfig returns a deep copy of a ReaderGroup's config.
func (m *Manager) GetReaderGroupConfig(id Identifier) (ReaderGroupConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.findReaderGroupLocked(id)
	if err != nil {
		return ReaderGroupConfig{}, err
	}
	return g.Config(), nil
}

// EnableReaderGroup drives a ReaderGroup to PreOperational.
func (m *Manager) EnableReaderGroup(ctx context.Context, id Identifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.findReaderGroupLocked(id)
	if err != nil {
		return err
	}
	return g.setState(ctx, StatePreOperational, CauseGood, m.callback)
}

// DisableReaderGroup drives a ReaderGroup to Disabled.
func (m *Manager) DisableReaderGroup(id Identifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.findReaderGroupLocked(id)
	if err != nil {
		return err
	}
	return g.setState(context.Background(), StateDisabled, CauseGood, m.callback)
}

// FreezeReaderGroup applies the real-time freeze protocol.
func (m *Manager) FreezeReaderGroup(id Identifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.findReaderGroupLocked(id)
	if err != nil {
		return err
	}
	return g.freeze()
}

// UnfreezeReaderGroup reverses FreezeReaderGroup.
func (m *Manager) UnfreezeReaderGroup(id Identifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.findReaderGroupLocked(id)
	if err != nil {
		return err
	}
	g.unfreeze()
	return nil
}

// SetEncryptionKeys installs a rolled-over key set on a ReaderGroup.
func (m *Manager) SetEncryptionKeys(id Identifier, ks security.KeySet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.findReaderGroupLocked(id)
	if err != nil {
		return err
	}
	return g.setEncryptionKeys(ks)
}

// ActivateKeyRollover installs a rolled-over key set on every
// ReaderGroup configured with the given security-group id, across every
// Connection. It is the security.ActivateFunc a SKSClient is wired
// against: one KV bucket update may fan out to several groups sharing a
// security group.
func (m *Manager) ActivateKeyRollover(_ context.Context, securityGroupID string, ks security.KeySet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched bool
	for _, conn := range m.connections {
		for _, g := range conn.readerGroups {
			if g.config.SecurityGroupID != securityGroupID {
				continue
			}
			matched = true
			if err := g.setEncryptionKeys(ks); err != nil {
				return err
			}
		}
	}
	if !matched {
		m.logger.Warn("key rollover activated for unknown security group", "securitygroup", securityGroupID)
	}
	return nil
}

// RemoveReaderGroup is rejected while the group is frozen; otherwise it
// stops the subscribe callback, removes all DataSetReaders, detaches
// KeyStorage, and unlinks from the parent.
func (m *Manager) RemoveReaderGroup(id Identifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.findReaderGroupLocked(id)
	if err != nil {
		return err
	}
	if g.configurationFrozen {
		return errors.New(errors.KindConfigurationErr, "Manager", "RemoveReaderGroup", "reader group is frozen")
	}
	m.removeReaderGroupLocked(g)
	return nil
}

func (m *Manager) removeReaderGroupLocked(g *ReaderGroup) {
	g.unregisterSubscribe()
	for _, r := range g.readers {
		m.releaseID(r.id)
	}
	g.readers = nil

	if g.keyStorage != nil {
		g.keyStorage.Detach()
		g.keyStorage = nil
	}

	if g.config.QueueName != "" {
		delete(m.topics, g.config.QueueName)
	}

	if g.parent != nil {
		out := g.parent.readerGroups[:0]
		for _, existing := range g.parent.readerGroups {
			if existing != g {
				out = append(out, existing)
			}
		}
		g.parent.readerGroups = out
		delete(g.parent.recvs, g.id)
	}

	m.releaseID(g.id)
}

// AddDataSetReader creates a DataSetReader under groupID, inserted at
// the head of the group's readers sequence.
func (m *Manager) AddDataSetReader(groupID Identifier, cfg DataSetReaderConfig) (Identifier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, err := m.findReaderGroupLocked(groupID)
	if err != nil {
		return 0, err
	}
	if g.configurationFrozen {
		return 0, errors.New(errors.KindConfigurationErr, "Manager", "AddDataSetReader", "parent reader group is frozen")
	}

	id := m.mintUniqueID()
	reader := newDataSetReader(id, g, cfg.clone(), m.logger.With("reader", id.String()))
	g.readers = append([]*DataSetReader{reader}, g.readers...)
	return id, nil
}

func (m *Manager) findDataSetReaderLocked(id Identifier) (*DataSetReader, error) {
	for _, conn := range m.connections {
		for _, g := range conn.readerGroups {
			for _, r := range g.readers {
				if r.id == id {
					return r, nil
				}
			}
		}
	}
	return nil, errors.New(errors.KindNotFound, "Manager", "findDataSetReader", id.String())
}

// FindDataSetReader looks up a DataSetReader by identifier.
func (m *Manager) FindDataSetReader(id Identifier) (*DataSetReader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findDataSetReaderLocked(id)
}

// RemoveDataSetReader unlinks a DataSetReader from its parent group.
func (m *Manager) RemoveDataSetReader(id Identifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, err := m.findDataSetReaderLocked(id)
	if err != nil {
		return err
	}
	g := r.group
	out := g.readers[:0]
	for _, existing := range g.readers {
		if existing != r {
			out = append(out, existing)
		}
	}
	g.readers = out
	m.releaseID(id)
	return nil
}
