package kis

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Claims is the payload of an issued token (spec §6 token format).
type Claims struct {
	Subject     AgentID     `json:"sub"`
	Role        Role        `json:"role"`
	Permissions Permissions `json:"perm"`
	IssuedAt    int64       `json:"iat"`
	ExpiresAt   int64       `json:"exp"`
	JTI         string      `json:"jti"`
}

// tokenMACSize is the truncated HMAC length carried in the token, matching
// the wire AuthTag width so both paths share one crypto posture.
const tokenMACSize = 16

var b64 = base64.RawURLEncoding

// IssueToken mints a token for an already-registered agent: a 3-segment
// base64url string "header.claims.mac", HMAC-SHA-256 signed with the
// process master key (spec §6).
func (s *Store) IssueToken(id AgentID, ttl time.Duration) (string, error) {
	b := s.lookup(id)
	if b == nil {
		return "", ErrUnknownAgent
	}
	if b.Revoked {
		return "", ErrIdentityRevoked
	}

	now := time.Now()
	claims := Claims{
		Subject:     id,
		Role:        b.Role,
		Permissions: b.Permissions,
		IssuedAt:    now.Unix(),
		ExpiresAt:   now.Add(ttl).Unix(),
		JTI:         uuid.NewString(),
	}
	return s.encodeToken(claims)
}

func (s *Store) encodeToken(claims Claims) (string, error) {
	header := []byte(`{"alg":"HS256-16","typ":"AFT"}`)
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("kis: marshal claims: %w", err)
	}

	headerSeg := b64.EncodeToString(header)
	claimsSeg := b64.EncodeToString(claimsJSON)
	mac := s.signSegments(headerSeg, claimsSeg)
	macSeg := b64.EncodeToString(mac)

	return headerSeg + "." + claimsSeg + "." + macSeg, nil
}

func (s *Store) signSegments(headerSeg, claimsSeg string) []byte {
	mac := hmac.New(sha256.New, s.masterKey[:])
	mac.Write([]byte(headerSeg))
	mac.Write([]byte("."))
	mac.Write([]byte(claimsSeg))
	sum := mac.Sum(nil)
	return sum[:tokenMACSize]
}

// VerifyToken validates a token's MAC, expiry, and subject revocation
// status, returning its Claims on success.
func (s *Store) VerifyToken(token string) (Claims, error) {
	parts := splitToken(token)
	if parts == nil {
		return Claims{}, fmt.Errorf("kis: malformed token")
	}
	headerSeg, claimsSeg, macSeg := parts[0], parts[1], parts[2]

	gotMAC, err := b64.DecodeString(macSeg)
	if err != nil || len(gotMAC) != tokenMACSize {
		return Claims{}, ErrBadMac
	}
	wantMAC := s.signSegments(headerSeg, claimsSeg)
	if subtle.ConstantTimeCompare(gotMAC, wantMAC) != 1 {
		return Claims{}, ErrBadMac
	}

	claimsJSON, err := b64.DecodeString(claimsSeg)
	if err != nil {
		return Claims{}, fmt.Errorf("kis: malformed claims segment: %w", err)
	}
	var claims Claims
	if err := json.Unmarshal(claimsJSON, &claims); err != nil {
		return Claims{}, fmt.Errorf("kis: malformed claims: %w", err)
	}

	if time.Now().Unix() > claims.ExpiresAt {
		return Claims{}, ErrExpired
	}

	b := s.lookup(claims.Subject)
	if b == nil {
		return Claims{}, ErrUnknownAgent
	}
	if b.Revoked {
		return Claims{}, ErrRevoked
	}

	return claims, nil
}

func splitToken(token string) []string {
	var segs []string
	start := 0
	for i := 0; i < len(token); i++ {
		if token[i] == '.' {
			segs = append(segs, token[start:i])
			start = i + 1
		}
	}
	segs = append(segs, token[start:])
	if len(segs) != 3 {
		return nil
	}
	for _, seg := range segs {
		if seg == "" {
			return nil
		}
	}
	return segs
}
