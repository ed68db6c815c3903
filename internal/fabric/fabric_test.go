package fabric

import (
	"context"
	"testing"

	"github.com/agentfabric/fabric/internal/config"
	"github.com/agentfabric/fabric/internal/kis"
	"github.com/agentfabric/fabric/internal/wire"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	key, err := GenerateMasterKeyHex()
	if err != nil {
		t.Fatalf("generate master key: %v", err)
	}
	t.Setenv("AGENTFABRIC_MASTER_KEY", key)

	return &config.Config{
		MasterKeyEnv:     "AGENTFABRIC_MASTER_KEY",
		RingCapacity:     64,
		QuantumCritical:  1024,
		QuantumHigh:      512,
		QuantumMedium:    256,
		QuantumLow:       128,
		QuantumBulk:      64,
		ConsumerWorkers:  4,
		ReplayWindowSize: 1024,
		ShutdownGraceSec: 1,
		// IdentitySnapshot and RosterPath left empty: no on-disk state.
	}
}

func bootTest(t *testing.T) *Fabric {
	t.Helper()
	f, err := Boot(context.Background(), testConfig(t), Deps{})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		_ = f.Shutdown(ctx)
	})
	return f
}

func TestBootRegistersReservedAdminAgent(t *testing.T) {
	f := bootTest(t)
	if f.Registry.Lookup(wire.AdminAgentID) == nil {
		t.Fatal("expected the reserved admin agent to be registered at boot")
	}
	if f.Agent(wire.AdminAgentID) == nil {
		t.Fatal("expected a running Agent handle for the admin agent")
	}
}

func TestBootFailsOnMissingMasterKey(t *testing.T) {
	cfg := &config.Config{MasterKeyEnv: "AGENTFABRIC_MASTER_KEY_MISSING_FOR_TEST"}
	if _, err := Boot(context.Background(), cfg, Deps{}); err != ErrMasterKeyMissing {
		t.Fatalf("expected ErrMasterKeyMissing, got %v", err)
	}
}

func TestRegisterAgentThenRevoke(t *testing.T) {
	f := bootTest(t)

	agent, err := f.RegisterAgent("worker", kis.RoleAgent)
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	id := agent.ID()

	if f.Agent(id) == nil {
		t.Fatal("expected a running Agent handle right after registration")
	}

	if err := f.RevokeAgent(id); err != nil {
		t.Fatalf("RevokeAgent: %v", err)
	}
	if f.Agent(id) != nil {
		t.Fatal("expected no running Agent handle after revocation")
	}
	if !f.Identity.Binding(uint16(id)).Revoked {
		t.Fatal("expected the KIS binding to be marked revoked")
	}
}

func TestRevokeAgentUnknownID(t *testing.T) {
	f := bootTest(t)
	if err := f.RevokeAgent(wire.AgentID(9999)); err != ErrAgentNotFound {
		t.Fatalf("expected ErrAgentNotFound, got %v", err)
	}
}

func TestRotateKeyChangesSessionSecret(t *testing.T) {
	f := bootTest(t)
	agent, err := f.RegisterAgent("worker", kis.RoleAgent)
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	id := agent.ID()

	before, err := f.Identity.SessionSecret(uint16(id))
	if err != nil {
		t.Fatalf("SessionSecret: %v", err)
	}
	if err := f.RotateKey(id); err != nil {
		t.Fatalf("RotateKey: %v", err)
	}
	after, err := f.Identity.SessionSecret(uint16(id))
	if err != nil {
		t.Fatalf("SessionSecret after rotate: %v", err)
	}
	if *before == *after {
		t.Fatal("expected session secret to change after RotateKey")
	}
}

func TestHandleAdminCommandDeniedForNonAdmin(t *testing.T) {
	f := bootTest(t)
	agent, err := f.RegisterAgent("plain", kis.RoleAgent)
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}

	_, err = f.HandleAdminCommand(agent.ID(), AdminCommand{Command: "DumpMetrics"})
	if err != ErrCommandDenied {
		t.Fatalf("expected ErrCommandDenied, got %v", err)
	}
}

func TestHandleAdminCommandUnknown(t *testing.T) {
	f := bootTest(t)
	_, err := f.HandleAdminCommand(wire.AdminAgentID, AdminCommand{Command: "DoesNotExist"})
	if err != ErrUnknownCommand {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestHandleAdminCommandDumpMetrics(t *testing.T) {
	f := bootTest(t)
	res, err := f.HandleAdminCommand(wire.AdminAgentID, AdminCommand{Command: "DumpMetrics"})
	if err != nil {
		t.Fatalf("HandleAdminCommand: %v", err)
	}
	if !res.OK || res.Metrics == nil {
		t.Fatalf("expected OK result with metrics, got %+v", res)
	}
}

func TestHandleAdminCommandRegisterAndRevokeAgent(t *testing.T) {
	f := bootTest(t)

	res, err := f.HandleAdminCommand(wire.AdminAgentID, AdminCommand{Command: "RegisterAgent", Name: "ops", Role: "Agent"})
	if err != nil {
		t.Fatalf("RegisterAgent command: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected OK, got %+v", res)
	}

	res, err = f.HandleAdminCommand(wire.AdminAgentID, AdminCommand{Command: "RevokeAgent", AgentID: res.AgentID})
	if err != nil {
		t.Fatalf("RevokeAgent command: %v", err)
	}
	if !res.OK {
		t.Fatalf("expected OK, got %+v", res)
	}
}

func TestAuditRecordsAdminCommands(t *testing.T) {
	f := bootTest(t)
	if _, err := f.HandleAdminCommand(wire.AdminAgentID, AdminCommand{Command: "DumpMetrics"}); err != nil {
		t.Fatalf("HandleAdminCommand: %v", err)
	}

	recent := f.Audit.Recent(10)
	found := false
	for _, rec := range recent {
		if rec.EventType == "admin_command" && rec.Action == "DumpMetrics" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected an admin_command audit event for DumpMetrics")
	}
}
