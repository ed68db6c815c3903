// Package rpe implements the Router & Pattern Engine: the Agent Registry,
// the Subscription Table, and the six addressing patterns (direct,
// multicast, broadcast, pub/sub, RPC request/response, work queue) that sit
// between the Priority Ring Fabric and each agent's own inbox.
package rpe

import pkgerr "github.com/agentfabric/fabric/pkg/errors"

// Sentinel errors surfaced by the Router & Pattern Engine (spec §4.4).
var (
	ErrNoRoute        = pkgerr.New("RPE.Route", "unknown or stopped target")
	ErrAlreadyExists  = pkgerr.New("RPE.Register", "agent already registered in routing tables")
	ErrRpcTimeout     = pkgerr.New("RPE.Call", "rpc deadline exceeded")
	ErrOrphanResponse = pkgerr.New("RPE.Route", "response received for an unknown or expired correlation id")
)
