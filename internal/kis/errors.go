package kis

import pkgerr "github.com/agentfabric/fabric/pkg/errors"

// Sentinel errors surfaced by the Key & Identity Store (spec §4.1, §7).
var (
	ErrNameInUse       = pkgerr.New("KIS.Register", "agent name already in use")
	ErrOutOfIDs        = pkgerr.New("KIS.Register", "agent id space exhausted")
	ErrUnknownAgent    = pkgerr.New("KIS.Lookup", "unknown agent id")
	ErrIdentityRevoked = pkgerr.New("KIS.Verify", "identity revoked")
	ErrExpired         = pkgerr.New("KIS.VerifyToken", "token expired")
	ErrBadMac          = pkgerr.New("KIS.VerifyToken", "token MAC mismatch")
	ErrRevoked         = pkgerr.New("KIS.VerifyToken", "token subject revoked")
)
