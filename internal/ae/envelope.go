// Package ae implements the Auth Envelope: per-message stamping and
// verification atop the Key & Identity Store's session secrets, plus
// per-source replay protection. It sits directly on the hot path (every
// message crosses it exactly once on send and once on receive), so it does
// no allocation beyond the MAC itself and never touches a registry lock.
package ae

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"

	"github.com/agentfabric/fabric/internal/wire"
)

// SecretSize matches kis.SessionSecretSize; duplicated here to avoid an
// import cycle (ae is a collaborator of kis, not a dependent).
const SecretSize = 32

// SecretLookup resolves a source agent's current session secret. Supplied
// by internal/fabric, backed by kis.Store.SessionSecret.
type SecretLookup func(source wire.AgentID) (*[SecretSize]byte, error)

// Stamp computes the canonical MAC for a header+payload pair and writes it
// into header.AuthTag. The canonical form is HMAC-SHA-256 keyed with the
// session secret, truncated to 16 bytes, over (header with AuthTag zeroed)
// || payload.
func Stamp(header *wire.Header, payload []byte, secret *[SecretSize]byte) {
	header.AuthTag = computeTag(*header, payload, secret)
}

// Verify recomputes the MAC for header+payload and compares it in constant
// time against header.AuthTag.
func Verify(header wire.Header, payload []byte, secret *[SecretSize]byte) bool {
	want := computeTag(header, payload, secret)
	return subtle.ConstantTimeCompare(want[:], header.AuthTag[:]) == 1
}

func computeTag(header wire.Header, payload []byte, secret *[SecretSize]byte) [16]byte {
	canonical := header.ZeroedAuthTagCopy()
	mac := hmac.New(sha256.New, secret[:])
	mac.Write(canonical.Encode())
	mac.Write(payload)
	sum := mac.Sum(nil)
	var tag [16]byte
	copy(tag[:], sum[:16])
	return tag
}
