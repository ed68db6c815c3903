package fabric

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/agentfabric/fabric/internal/arh"
	"github.com/agentfabric/fabric/internal/kis"
	"github.com/agentfabric/fabric/internal/wire"
	"github.com/agentfabric/fabric/pkg/util"
)

// AdminCommand is the JSON payload carried by a MsgRequest addressed to the
// reserved admin agent (wire.AdminAgentID), one of the five control commands
// named in spec §6 ("RegisterAgent, RevokeAgent, RotateKey, Shutdown,
// DumpMetrics"). Every command requires Admin permission in the caller's
// binding.
type AdminCommand struct {
	Command string `json:"command"`
	Name    string `json:"name,omitempty"`
	Role    string `json:"role,omitempty"`
	AgentID uint16 `json:"agent_id,omitempty"`
}

// AdminResult is the JSON payload returned in the Response/Result to an
// AdminCommand.
type AdminResult struct {
	OK      bool      `json:"ok"`
	Error   string    `json:"error,omitempty"`
	AgentID uint16    `json:"agent_id,omitempty"`
	Metrics *Snapshot `json:"metrics,omitempty"`
}

// bindAdminHandler registers the control-command dispatch handler on the
// reserved admin agent. Installed as the setup hook passed to
// RegisterAgentWithSetup/admitAgent so it runs before the agent starts.
func (f *Fabric) bindAdminHandler(agent *arh.Agent) error {
	return agent.RegisterHandler(wire.MsgRequest, f.handleAdminRequest)
}

func (f *Fabric) handleAdminRequest(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	var cmd AdminCommand
	result := AdminResult{}

	if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
		result.Error = "malformed admin command: " + err.Error()
		return &wire.Message{Payload: mustMarshal(result)}, nil
	}

	res, err := f.HandleAdminCommand(msg.Header.Source, cmd)
	if err != nil {
		res.Error = err.Error()
	}
	return &wire.Message{Payload: mustMarshal(res)}, nil
}

// HandleAdminCommand authorizes source against the Admin permission bit and
// dispatches cmd. Exported so internal/control can invoke it directly for
// callers it has already authenticated via the fabric's own KIS/AE path,
// without round-tripping through the admin agent's inbox.
func (f *Fabric) HandleAdminCommand(source wire.AgentID, cmd AdminCommand) (AdminResult, error) {
	if !f.Identity.CheckPermission(uint16(source), kis.PermAdmin) {
		f.Audit.Audit("admin_command", cmd.Command, "denied", strconv.Itoa(int(source)), cmd.Name, "")
		return AdminResult{}, ErrCommandDenied
	}

	result, err := f.dispatchAdminCommand(source, cmd)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	detail := util.ToMapAny(cmd)
	detailJSON, _ := json.Marshal(detail)
	f.Audit.Audit("admin_command", cmd.Command, outcome, strconv.Itoa(int(source)), cmd.Name, string(detailJSON))

	return result, err
}

func (f *Fabric) dispatchAdminCommand(source wire.AgentID, cmd AdminCommand) (AdminResult, error) {
	switch cmd.Command {
	case "RegisterAgent":
		role, _ := kis.ParseRole(cmd.Role)
		agent, err := f.RegisterAgent(cmd.Name, role)
		if err != nil {
			return AdminResult{}, err
		}
		return AdminResult{OK: true, AgentID: uint16(agent.ID())}, nil

	case "RevokeAgent":
		if err := f.RevokeAgent(wire.AgentID(cmd.AgentID)); err != nil {
			return AdminResult{}, err
		}
		return AdminResult{OK: true, AgentID: cmd.AgentID}, nil

	case "RotateKey":
		if err := f.RotateKey(wire.AgentID(cmd.AgentID)); err != nil {
			return AdminResult{}, err
		}
		return AdminResult{OK: true, AgentID: cmd.AgentID}, nil

	case "Shutdown":
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = f.Shutdown(ctx)
		}()
		return AdminResult{OK: true}, nil

	case "DumpMetrics":
		snap := f.Metrics.Dump()
		return AdminResult{OK: true, Metrics: &snap}, nil

	default:
		return AdminResult{}, ErrUnknownCommand
	}
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"ok":false,"error":"internal: failed to marshal result"}`)
	}
	return data
}
