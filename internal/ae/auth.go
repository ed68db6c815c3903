package ae

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentfabric/fabric/internal/wire"
)

// PermissionChecker queries KIS for a capability bit, optionally scoped to a
// resource pattern. Supplied by internal/fabric, backed by
// kis.Store.CheckResourcePermission.
type PermissionChecker func(source wire.AgentID, permission uint8, resource string) bool

// RevokedChecker reports whether source's identity is currently revoked.
// Verify uses this independently of SecretLookup so a revoked-but-cached
// secret never passes (SecretLookup itself already returns an error for a
// revoked identity in the kis.Store implementation, but Envelope does not
// assume that of every SecretLookup implementation).
type RevokedChecker func(source wire.AgentID) bool

// Envelope implements stamp/verify/authorize against a pluggable identity
// backend (spec §4.2). It holds no per-receiver state: replay windows are
// a receiving ARH's own state (spec §4.2 "each receiving ARH keeps a
// per-source sliding window"), since the same msg_id legitimately reaches
// several different agents during multicast/broadcast fan-out and must not
// be flagged as a replay at every recipient but the first.
type Envelope struct {
	secrets    SecretLookup
	revoked    RevokedChecker
	permission PermissionChecker

	mu         sync.Mutex
	msgCounter map[wire.AgentID]*uint64
}

// New builds an Envelope.
func New(secrets SecretLookup, revoked RevokedChecker, permission PermissionChecker) *Envelope {
	return &Envelope{
		secrets:    secrets,
		revoked:    revoked,
		permission: permission,
		msgCounter: make(map[wire.AgentID]*uint64),
	}
}

func (e *Envelope) counterFor(source wire.AgentID) *uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.msgCounter[source]
	if !ok {
		c = new(uint64)
		e.msgCounter[source] = c
	}
	return c
}

// Stamp populates timestamp_ns and msg_id from source's monotonic counter,
// then computes the canonical auth_tag with source's session secret.
func (e *Envelope) Stamp(header *wire.Header, payload []byte, source wire.AgentID) error {
	if len(payload) > wire.MaxPayload {
		return ErrHeaderTooLarge
	}
	secret, err := e.secrets(source)
	if err != nil {
		return ErrUnknownSource
	}

	header.Source = source
	header.TimestampNS = uint64(time.Now().UnixNano())
	header.MsgID = atomic.AddUint64(e.counterFor(source), 1)
	header.PayloadLen = uint32(len(payload))

	Stamp(header, payload, secret)
	return nil
}

// VerifyMac recomputes and checks the auth_tag for header+payload. It does
// not check replay or permissions — callers check replay against their own
// receiver-scoped ReplayGuard, and call Authorize separately for
// permissions.
func (e *Envelope) VerifyMac(header wire.Header, payload []byte) error {
	if e.revoked != nil && e.revoked(header.Source) {
		return ErrRevoked
	}
	secret, err := e.secrets(header.Source)
	if err != nil {
		return ErrUnknownSource
	}
	if !Verify(header, payload, secret) {
		return ErrBadMac
	}
	return nil
}

// VerifyEnvelope is VerifyMac followed by a replay check against guard, the
// replay window owned by the receiving agent.
func (e *Envelope) VerifyEnvelope(header wire.Header, payload []byte, guard *ReplayGuard) error {
	if err := e.VerifyMac(header, payload); err != nil {
		return err
	}
	if !guard.Check(uint16(header.Source), header.MsgID) {
		return ErrReplayDetected
	}
	return nil
}

// Authorize queries the permission backend for (source, permission,
// resource). Fails ErrPermissionDenied.
func (e *Envelope) Authorize(source wire.AgentID, permission uint8, resource string) error {
	if e.permission == nil || !e.permission(source, permission, resource) {
		return ErrPermissionDenied
	}
	return nil
}
