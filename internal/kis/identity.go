// Package kis implements the Key & Identity Store: agent registration, role
// bindings, session-secret derivation, and token issuance/verification
// (spec §4.1). It is the fabric's only single-writer component — all
// registration/revocation calls serialize through one mutex, while reads
// (session_secret, check_permission) are wait-free via atomic.Pointer
// copy-on-write publication, mirroring the teacher corpus's
// keymgr.PubKeyCache pattern.
package kis

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/agentfabric/fabric/pkg/logger"
)

// SessionSecretSize is the HMAC key size used for per-message authentication.
const SessionSecretSize = 32

// MaxDisplayNameBytes bounds the human-readable name (spec §3).
const MaxDisplayNameBytes = 31

// Binding is the identity record owned exclusively by the KIS (spec §3).
// Exactly one binding is active per AgentID at a time; rotation replaces it
// atomically via copy-on-write, preserving the stable AgentID.
type Binding struct {
	ID            AgentID
	DisplayName   string
	Role          Role
	Permissions   Permissions
	rotation      uint32
	sessionSecret [SessionSecretSize]byte
	PublicKey     []byte
	IssuedAt      time.Time
	ExpiresAt     time.Time
	Revoked       bool
}

// AgentID re-exports wire.AgentID's width without importing internal/wire,
// to keep KIS usable standalone; internal/ae and internal/fabric convert at
// the boundary.
type AgentID = uint16

// Store is the fabric's identity registry.
type Store struct {
	mu         sync.Mutex // single-writer path: register/revoke/rotate
	bindings   atomic.Pointer[[]*Binding]
	names      atomic.Pointer[map[string]AgentID]
	masterKey  [32]byte
	nextID     uint32
	auditSink  AuditSink
}

// AuditSink receives authentication/authorization audit events. It is a
// typed boundary — KIS never blocks on it and never routes failures back
// into the fabric beyond the caller's error return (spec §4.1 failure
// policy).
type AuditSink interface {
	Audit(eventType, action, result, actor, target, detail string)
}

// noopAuditSink discards events; used when no sink is configured.
type noopAuditSink struct{}

func (noopAuditSink) Audit(string, string, string, string, string, string) {}

// NewStore creates an identity store seeded with a process master key. The
// master key is the sole secret that must survive a restart — session
// secrets are re-derived from it via HKDF, never persisted (spec §4.1, §6).
func NewStore(masterKey [32]byte, sink AuditSink) *Store {
	if sink == nil {
		sink = noopAuditSink{}
	}
	s := &Store{masterKey: masterKey, auditSink: sink}
	empty := make([]*Binding, 0)
	s.bindings.Store(&empty)
	emptyNames := make(map[string]AgentID)
	s.names.Store(&emptyNames)
	return s
}

// deriveSessionSecret derives a per-agent HMAC key from the master key via
// HKDF-SHA256, keyed on the agent's stable id and rotation counter (spec
// §4.1: "Session secrets derived via HKDF from a process master key and
// AgentId"). Bumping rotation re-derives a fresh, unrelated secret without
// touching the master key or the stable AgentID.
func (s *Store) deriveSessionSecret(id AgentID, rotation uint32) [SessionSecretSize]byte {
	info := make([]byte, 6)
	binary.LittleEndian.PutUint16(info[0:2], id)
	binary.LittleEndian.PutUint32(info[2:6], rotation)
	r := hkdf.New(sha256.New, s.masterKey[:], nil, info)
	var out [SessionSecretSize]byte
	if _, err := io.ReadFull(r, out[:]); err != nil {
		// HKDF over SHA-256 can only fail to produce 32 bytes if the
		// expansion limit (255*32B) is exceeded, which never happens here.
		panic("kis: hkdf expansion failed: " + err.Error())
	}
	return out
}

// Register creates a new identity binding. Fails ErrNameInUse if the name is
// already taken, ErrOutOfIDs if the 16-bit id space is exhausted.
func (s *Store) Register(name string, role Role) (AgentID, [SessionSecretSize]byte, error) {
	if len(name) > MaxDisplayNameBytes {
		name = name[:MaxDisplayNameBytes]
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	names := *s.names.Load()
	if _, exists := names[name]; exists {
		s.auditSink.Audit("kis.register", "register", "denied", name, "", "name in use")
		return 0, [SessionSecretSize]byte{}, ErrNameInUse
	}
	if s.nextID > 0xFFFF {
		s.auditSink.Audit("kis.register", "register", "denied", name, "", "id space exhausted")
		return 0, [SessionSecretSize]byte{}, ErrOutOfIDs
	}

	id := AgentID(s.nextID)
	s.nextID++

	now := time.Now()
	b := &Binding{
		ID:          id,
		DisplayName: name,
		Role:        role,
		Permissions: defaultPermissions(role),
		IssuedAt:    now,
		// Bindings have no fixed expiry; tokens carry the ttl instead.
		ExpiresAt: now.AddDate(100, 0, 0),
	}
	b.sessionSecret = s.deriveSessionSecret(id, 0)

	old := *s.bindings.Load()
	updated := append(append([]*Binding{}, old...), b)
	s.bindings.Store(&updated)

	newNames := make(map[string]AgentID, len(names)+1)
	for k, v := range names {
		newNames[k] = v
	}
	newNames[name] = id
	s.names.Store(&newNames)

	logger.Infow("kis: agent registered", "agent_id", id, "name", name, "role", role.String())
	s.auditSink.Audit("kis.register", "register", "ok", name, "", "")
	return id, b.sessionSecret, nil
}

// Revoke marks an identity's binding revoked. Idempotent: revoking an
// already-revoked or unknown id is not an error (spec §4.1 state model:
// revoked is terminal).
func (s *Store) Revoke(id AgentID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := *s.bindings.Load()
	idx := findBindingIndex(old, id)
	if idx < 0 || old[idx].Revoked {
		return
	}

	updated := append([]*Binding{}, old...)
	clone := *updated[idx]
	clone.Revoked = true
	clone.sessionSecret = [SessionSecretSize]byte{} // zeroized on replacement
	updated[idx] = &clone
	s.bindings.Store(&updated)

	logger.Infow("kis: agent revoked", "agent_id", id)
	s.auditSink.Audit("kis.revoke", "revoke", "ok", "", bindingTargetName(id), "")
}

// RotateKey replaces an agent's session secret in place (copy-on-write),
// without changing its AgentID, name, role, or permissions. Used by the
// admin RotateKey control command (spec §4.6).
func (s *Store) RotateKey(id AgentID) (*[SessionSecretSize]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := *s.bindings.Load()
	idx := findBindingIndex(old, id)
	if idx < 0 {
		return nil, ErrUnknownAgent
	}
	if old[idx].Revoked {
		return nil, ErrIdentityRevoked
	}

	updated := append([]*Binding{}, old...)
	clone := *updated[idx]
	clone.rotation++
	clone.sessionSecret = s.deriveSessionSecret(id, clone.rotation)
	updated[idx] = &clone
	s.bindings.Store(&updated)

	logger.Infow("kis: session key rotated", "agent_id", id, "rotation", clone.rotation)
	s.auditSink.Audit("kis.rotate_key", "rotate_key", "ok", "", bindingTargetName(id), "")
	secret := clone.sessionSecret
	return &secret, nil
}

// lookup returns the current binding for id, or nil.
func (s *Store) lookup(id AgentID) *Binding {
	bindings := *s.bindings.Load()
	idx := findBindingIndex(bindings, id)
	if idx < 0 {
		return nil
	}
	return bindings[idx]
}

func findBindingIndex(bindings []*Binding, id AgentID) int {
	// Ids are assigned sequentially from 0, so the common case is a direct
	// index hit; fall back to a scan if bindings were ever reordered.
	if int(id) < len(bindings) && bindings[id] != nil && bindings[id].ID == id {
		return int(id)
	}
	for i, b := range bindings {
		if b != nil && b.ID == id {
			return i
		}
	}
	return -1
}

func bindingTargetName(id AgentID) string {
	return "agent:" + strconv.FormatUint(uint64(id), 10)
}

// SessionSecret does a constant-time-shaped lookup of an agent's HMAC key.
// The branch on "found vs not found" is on the public AgentID, not on the
// secret bytes, so it satisfies the "must not branch on secret data"
// requirement for the MAC itself (spec §4.2).
func (s *Store) SessionSecret(id AgentID) (*[SessionSecretSize]byte, error) {
	b := s.lookup(id)
	if b == nil {
		return nil, ErrUnknownAgent
	}
	if b.Revoked {
		return nil, ErrIdentityRevoked
	}
	secret := b.sessionSecret
	return &secret, nil
}

// CheckPermission evaluates a pure bitmask AND, with no resource scoping
// (spec §4.1).
func (s *Store) CheckPermission(id AgentID, permission Permission) bool {
	b := s.lookup(id)
	if b == nil || b.Revoked {
		return false
	}
	return b.Permissions.Has(permission)
}

// CheckResourcePermission is the full form: permission bit AND an anchored
// glob match of `pattern` against `resource`.
func (s *Store) CheckResourcePermission(id AgentID, permission Permission, pattern, resource string) bool {
	b := s.lookup(id)
	if b == nil || b.Revoked {
		return false
	}
	if !b.Permissions.Has(permission) {
		return false
	}
	return matchResource(pattern, resource)
}

// Binding returns a copy of the current binding for id, or nil if unknown.
// The session secret is never exposed through this accessor.
func (s *Store) Binding(id AgentID) *Binding {
	b := s.lookup(id)
	if b == nil {
		return nil
	}
	cp := *b
	cp.sessionSecret = [SessionSecretSize]byte{}
	return &cp
}

// Snapshot returns a point-in-time copy of all bindings, for persistence or
// the admin DumpMetrics/roster surfaces.
func (s *Store) Snapshot() []Binding {
	bindings := *s.bindings.Load()
	out := make([]Binding, 0, len(bindings))
	for _, b := range bindings {
		if b == nil {
			continue
		}
		cp := *b
		cp.sessionSecret = [SessionSecretSize]byte{}
		out = append(out, cp)
	}
	return out
}

// randomMasterKey returns a throwaway master key for this package's tests,
// which need one not loaded from the environment.
func randomMasterKey() [32]byte {
	var k [32]byte
	if _, err := rand.Read(k[:]); err != nil {
		panic("kis: failed to generate random master key: " + err.Error())
	}
	return k
}
