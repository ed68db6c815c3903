// Package arh implements the Agent Runtime Host: the per-agent handler
// dispatch loop, outbox batching, RPC calling convention, and
// start/drain/stop lifecycle that sits on top of KIS, AE, PRF, and RPE.
package arh

import pkgerr "github.com/agentfabric/fabric/pkg/errors"

// Sentinel errors surfaced by the Agent Runtime Host (spec §4.5).
var (
	ErrAlreadyActive  = pkgerr.New("ARH.RegisterHandler", "handlers must be registered before Active")
	ErrNotActive      = pkgerr.New("ARH.Send", "agent is not Active")
	ErrNoHandler      = pkgerr.New("ARH.Dispatch", "no handler registered for msg_type")
	ErrCancelled      = pkgerr.New("ARH.Call", "rpc cancelled")
)
