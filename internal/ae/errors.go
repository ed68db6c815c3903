package ae

import pkgerr "github.com/agentfabric/fabric/pkg/errors"

// Sentinel errors surfaced by the Auth Envelope (spec §4.2).
var (
	ErrUnknownSource   = pkgerr.New("AE.Stamp", "unknown source agent")
	ErrHeaderTooLarge  = pkgerr.New("AE.Stamp", "header exceeds fixed size")
	ErrBadMac          = pkgerr.New("AE.Verify", "auth tag mismatch")
	ErrRevoked         = pkgerr.New("AE.Verify", "source identity revoked")
	ErrReplayDetected  = pkgerr.New("AE.Verify", "duplicate or stale msg_id")
	ErrPermissionDenied = pkgerr.New("AE.Authorize", "required permission not held")
)
