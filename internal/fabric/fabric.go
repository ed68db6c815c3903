package fabric

import (
	"context"
	"sync"
	"time"

	"github.com/agentfabric/fabric/internal/ae"
	"github.com/agentfabric/fabric/internal/arh"
	"github.com/agentfabric/fabric/internal/config"
	"github.com/agentfabric/fabric/internal/kis"
	"github.com/agentfabric/fabric/internal/persist"
	"github.com/agentfabric/fabric/internal/prf"
	"github.com/agentfabric/fabric/internal/rpe"
	"github.com/agentfabric/fabric/internal/wire"
	"github.com/agentfabric/fabric/pkg/logger"
	"github.com/agentfabric/fabric/pkg/util"
)

// Fabric is the boot-time value wiring KIS, AE, PRF, RPE, and the ARH agent
// set into one reference, passed down instead of process-wide globals
// (spec §9 re-architecture note).
type Fabric struct {
	cfg *config.Config

	Identity      *kis.Store
	Envelope      *ae.Envelope
	Registry      *rpe.Registry
	Router        *rpe.Router
	Subscriptions *rpe.SubscriptionTable
	Metrics       *Metrics
	Audit         *ResilientAuditSink

	mu     sync.RWMutex
	agents map[wire.AgentID]*arh.Agent

	// consumerSem bounds how many agents' handlers may run concurrently
	// fabric-wide. Each agent still runs exactly one consumer goroutine
	// against its own inbox (spec: private SPMC ring, one consumer) —
	// this only throttles total concurrent dispatch, it never lets more
	// than one goroutine drain the same inbox.
	consumerSem chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// Deps carries the optional collaborators Boot wires in when configured;
// every field may be nil (no Postgres collaborator configured at all).
type Deps struct {
	AuditStore   *persist.AuditStore
	PendingStore *persist.PendingStore
}

// Boot constructs a Fabric: loads the master key, builds KIS/AE/RPE, starts
// the audit sink's recovery loop, and restores any saved identity snapshot.
// The one fatal Invariant this layer enforces is a missing/malformed master
// key (spec §7) — every other failure is reported, not panicked.
func Boot(ctx context.Context, cfg *config.Config, deps Deps) (*Fabric, error) {
	masterKey, err := loadMasterKey(cfg)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)

	f := &Fabric{
		cfg:           cfg,
		Registry:      rpe.NewRegistry(),
		Subscriptions: rpe.NewSubscriptionTable(),
		Metrics:       NewMetrics(),
		agents:        make(map[wire.AgentID]*arh.Agent),
		consumerSem:   make(chan struct{}, util.ClampInt(cfg.ConsumerWorkers, 1, 1<<20)),
		ctx:           runCtx,
		cancel:        cancel,
	}
	f.Router = rpe.NewRouter(f.Registry, f.Subscriptions)
	f.Audit = NewResilientAuditSink(deps.AuditStore, deps.PendingStore, 1000)
	f.Audit.Start(runCtx)

	f.Identity = kis.NewStore(masterKey, f.Audit)
	f.Envelope = ae.New(f.secretLookup, f.revokedChecker, f.permissionChecker)

	if cfg.IdentitySnapshot != "" {
		if err := f.Identity.LoadSnapshot(cfg.IdentitySnapshot); err != nil {
			logger.Warnw("fabric: failed to load identity snapshot", "path", cfg.IdentitySnapshot, "error", err)
		}
	}

	// Re-admit every surviving identity into the RPE registry and start its
	// runtime, so a restart restores exactly the agent set a prior Shutdown
	// snapshotted (spec §4.1: "recovery after restart needs only the master
	// key plus persisted role assignments").
	for _, b := range f.Identity.Snapshot() {
		if b.Revoked {
			continue
		}
		id := wire.AgentID(b.ID)
		var setup func(*arh.Agent) error
		if id == wire.AdminAgentID {
			setup = f.bindAdminHandler
		}
		if _, err := f.admitAgent(id, setup); err != nil {
			logger.Warnw("fabric: failed to restore agent from snapshot", "agent_id", id, "error", err)
		}
	}

	if f.Registry.Lookup(wire.AdminAgentID) == nil {
		if _, err := f.RegisterAgentWithSetup("admin", kis.RoleAdmin, f.bindAdminHandler); err != nil {
			cancel()
			return nil, err
		}
	}

	if cfg.RosterPath != "" {
		f.applyRoster(cfg.RosterPath)
	}

	return f, nil
}

// applyRoster auto-registers every agent declared in roster.json that isn't
// already bound (from a prior boot's identity snapshot), subscribing each to
// its declared topics before it starts consuming. A missing or unparsable
// roster file is not fatal — config.LoadRosterSnapshot already treats that
// as "no declared agents".
func (f *Fabric) applyRoster(path string) {
	snap, err := config.LoadRosterSnapshot(path)
	if err != nil {
		logger.Warnw("fabric: roster load failed", "path", path, "error", err)
		return
	}

	if err := snap.Raw.Validate(); err != nil {
		logger.Warnw("fabric: roster failed validation, skipping entire file", "path", path, "error", err)
		return
	}

	for _, spec := range snap.Raw.Agents {
		role, ok := kis.ParseRole(spec.Role)
		if !ok {
			logger.Warnw("fabric: roster entry has unknown role", "name", spec.Name, "role", spec.Role)
			continue
		}

		topics := spec.Subscribe
		setup := func(agent *arh.Agent) error {
			for _, topic := range topics {
				f.Subscriptions.Subscribe(topic, agent.ID())
			}
			return nil
		}

		if _, err := f.RegisterAgentWithSetup(spec.Name, role, setup); err != nil {
			if err == kis.ErrNameInUse {
				continue
			}
			logger.Warnw("fabric: roster agent registration failed", "name", spec.Name, "error", err)
		}
	}
}

func (f *Fabric) secretLookup(source wire.AgentID) (*[ae.SecretSize]byte, error) {
	return f.Identity.SessionSecret(uint16(source))
}

func (f *Fabric) revokedChecker(source wire.AgentID) bool {
	b := f.Identity.Binding(uint16(source))
	return b == nil || b.Revoked
}

func (f *Fabric) permissionChecker(source wire.AgentID, permission uint8, resource string) bool {
	return f.Identity.CheckResourcePermission(uint16(source), kis.Permission(permission), "", resource)
}

// ringConfigs builds the six-priority RingConfig array an agent's private
// inbox uses, derived from cfg (spec §4.3/§5 defaults, overridden by the
// configured capacity/quanta/block-sender timeout).
func (f *Fabric) ringConfigs() [wire.NumPriorities]prf.RingConfig {
	var configs [wire.NumPriorities]prf.RingConfig
	blockTimeout := time.Duration(f.cfg.BlockSenderTimeoutMS) * time.Millisecond
	for class := wire.Priority(0); int(class) < wire.NumPriorities; class++ {
		cfg := prf.DefaultRingConfig(class)
		cfg.Capacity = f.cfg.RingCapacity
		cfg.BlockSenderTimeout = blockTimeout
		switch class {
		case wire.PriorityCritical:
			cfg.Quantum = f.cfg.QuantumCritical
		case wire.PriorityHigh:
			cfg.Quantum = f.cfg.QuantumHigh
		case wire.PriorityMedium:
			cfg.Quantum = f.cfg.QuantumMedium
		case wire.PriorityLow:
			cfg.Quantum = f.cfg.QuantumLow
		case wire.PriorityBulk:
			cfg.Quantum = f.cfg.QuantumBulk
		}
		configs[class] = cfg
	}
	return configs
}

// RegisterAgent provisions a new identity via KIS, an inbox via the RPE
// registry, and an Agent Runtime Host handle bound to both, then starts its
// consumer fiber. This is the one path through which every agent enters
// the fabric, whether called directly (embedding use) or via the control
// plane's RegisterAgent admin command.
func (f *Fabric) RegisterAgent(name string, role kis.Role) (*arh.Agent, error) {
	return f.RegisterAgentWithSetup(name, role, nil)
}

// RegisterAgentWithSetup is RegisterAgent with a setup hook run after the
// Agent is constructed but before its consumer fiber starts, so callers can
// RegisterHandler/Subscribe while the entry is still Starting (spec §4.5:
// handlers "must be called before Start"). Used internally to bind the
// reserved admin agent's control-command handler.
func (f *Fabric) RegisterAgentWithSetup(name string, role kis.Role, setup func(*arh.Agent) error) (*arh.Agent, error) {
	name = util.FirstNonEmpty(name, "agent-"+role.String())
	id, _, err := f.Identity.Register(name, role)
	if err != nil {
		return nil, err
	}

	agent, err := f.admitAgent(wire.AgentID(id), setup)
	if err != nil {
		f.Identity.Revoke(id)
		return nil, err
	}

	logger.Infow("fabric: agent registered", "agent_id", id, "name", name, "role", role.String())
	return agent, nil
}

// admitAgent builds the RPE registry entry and Agent Runtime Host handle for
// an id that already has a KIS binding (either just-issued by
// RegisterAgentWithSetup or restored from an identity snapshot at Boot), runs
// setup before the agent starts consuming, and records it in the running set.
func (f *Fabric) admitAgent(id wire.AgentID, setup func(*arh.Agent) error) (*arh.Agent, error) {
	entry, err := f.Registry.Register(id, f.ringConfigs(), f.Metrics)
	if err != nil {
		return nil, err
	}

	replayWindow := uint64(f.cfg.ReplayWindowSize)
	shutdownGrace := time.Duration(f.cfg.ShutdownGraceSec) * time.Second
	agent := arh.New(entry, f.Router, f.Envelope, f.Subscriptions, replayWindow, shutdownGrace, f.Audit)
	agent.SetMetrics(f.Metrics)

	if setup != nil {
		if err := setup(agent); err != nil {
			return nil, err
		}
	}

	agent.Start(f.ctx, f.consumerSem)

	f.mu.Lock()
	f.agents[id] = agent
	f.mu.Unlock()
	return agent, nil
}

// Agent returns the running Agent handle for id, or nil if unregistered.
func (f *Fabric) Agent(id wire.AgentID) *arh.Agent {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.agents[id]
}

// RevokeAgent revokes id's identity, stops its runtime, and removes it from
// the subscription table. The registry entry itself is left Stopped rather
// than deregistered, so late in-flight deliveries resolve to NoRoute instead
// of silently vanishing (spec §4.4 state model).
func (f *Fabric) RevokeAgent(id wire.AgentID) error {
	f.mu.Lock()
	agent, ok := f.agents[id]
	f.mu.Unlock()
	if !ok {
		return ErrAgentNotFound
	}

	f.Identity.Revoke(uint16(id))
	f.Subscriptions.UnsubscribeAll(id)
	agent.Stop()

	f.mu.Lock()
	delete(f.agents, id)
	f.mu.Unlock()

	logger.Infow("fabric: agent revoked", "agent_id", id)
	return nil
}

// RotateKey rotates id's session secret in place via KIS, without affecting
// its runtime state or pending RPCs.
func (f *Fabric) RotateKey(id wire.AgentID) error {
	_, err := f.Identity.RotateKey(uint16(id))
	return err
}

// Shutdown stops every registered agent (draining within its configured
// grace period), saves the identity snapshot, and stops the audit sink's
// recovery loop.
func (f *Fabric) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	agents := make([]*arh.Agent, 0, len(f.agents))
	for _, a := range f.agents {
		agents = append(agents, a)
	}
	f.mu.Unlock()

	var wg sync.WaitGroup
	for _, a := range agents {
		wg.Add(1)
		go func(a *arh.Agent) {
			defer wg.Done()
			a.Stop()
		}(a)
	}
	wg.Wait()

	f.cancel()

	if f.cfg.IdentitySnapshot != "" {
		if err := f.Identity.SaveSnapshot(f.cfg.IdentitySnapshot); err != nil {
			logger.Errorw("fabric: failed to save identity snapshot", "path", f.cfg.IdentitySnapshot, "error", err)
		}
	}

	f.Audit.Stop()
	logger.Infow("fabric: shutdown complete")
	return nil
}
