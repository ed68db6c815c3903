package kis

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(randomMasterKey(), nil)
}

func TestRegisterAssignsSequentialIDs(t *testing.T) {
	s := testStore(t)
	id1, secret1, err := s.Register("alpha", RoleAgent)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	id2, secret2, err := s.Register("beta", RoleAgent)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id2 != id1+1 {
		t.Fatalf("expected sequential agent ids, got %d then %d", id1, id2)
	}
	if secret1 == secret2 {
		t.Fatal("expected distinct session secrets")
	}
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	s := testStore(t)
	if _, _, err := s.Register("dup", RoleAgent); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, _, err := s.Register("dup", RoleAgent); err != ErrNameInUse {
		t.Fatalf("expected ErrNameInUse, got %v", err)
	}
}

func TestRevokeIsIdempotentAndTerminal(t *testing.T) {
	s := testStore(t)
	id, _, _ := s.Register("gamma", RoleAgent)
	s.Revoke(id)
	s.Revoke(id) // must not panic or error

	if _, err := s.SessionSecret(id); err != ErrIdentityRevoked {
		t.Fatalf("expected ErrIdentityRevoked, got %v", err)
	}
	if s.CheckPermission(id, PermRead) {
		t.Fatal("revoked identity must fail every permission check")
	}
}

func TestSessionSecretUnknownAgent(t *testing.T) {
	s := testStore(t)
	if _, err := s.SessionSecret(9999); err != ErrUnknownAgent {
		t.Fatalf("expected ErrUnknownAgent, got %v", err)
	}
}

func TestCheckPermissionByRole(t *testing.T) {
	s := testStore(t)
	admin, _, _ := s.Register("admin-1", RoleAdmin)
	guest, _, _ := s.Register("guest-1", RoleGuest)

	if !s.CheckPermission(admin, PermAdmin) {
		t.Fatal("admin should have PermAdmin")
	}
	if s.CheckPermission(guest, PermAdmin) {
		t.Fatal("guest should not have PermAdmin")
	}
	if !s.CheckPermission(guest, PermRead) {
		t.Fatal("guest should have PermRead")
	}
}

func TestCheckResourcePermissionGlob(t *testing.T) {
	s := testStore(t)
	id, _, _ := s.Register("scoped", RoleMonitor)
	if !s.CheckResourcePermission(id, PermMonitor, "metrics.*", "metrics.cpu") {
		t.Fatal("expected glob match to pass")
	}
	if s.CheckResourcePermission(id, PermMonitor, "metrics.*", "other.cpu") {
		t.Fatal("expected glob mismatch to fail")
	}
}

func TestRotateKeyChangesSecretKeepsID(t *testing.T) {
	s := testStore(t)
	id, original, _ := s.Register("rotator", RoleAgent)

	rotated, err := s.RotateKey(id)
	if err != nil {
		t.Fatalf("RotateKey: %v", err)
	}
	if *rotated == original {
		t.Fatal("rotated secret should differ from original")
	}

	current, err := s.SessionSecret(id)
	if err != nil {
		t.Fatalf("SessionSecret: %v", err)
	}
	if *current != *rotated {
		t.Fatal("SessionSecret should reflect the rotated value")
	}
}

func TestRotateKeyUnknownAgent(t *testing.T) {
	s := testStore(t)
	if _, err := s.RotateKey(1234); err != ErrUnknownAgent {
		t.Fatalf("expected ErrUnknownAgent, got %v", err)
	}
}

func TestSnapshotSaveLoadPreservesSecrets(t *testing.T) {
	key := randomMasterKey()
	s := NewStore(key, nil)
	id, original, _ := s.Register("persisted", RoleSystem)

	dir := t.TempDir()
	path := filepath.Join(dir, "identities.snap")
	if err := s.SaveSnapshot(path); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if contains(raw, original[:]) {
		t.Fatal("session secret must never be written to the snapshot file")
	}

	s2 := NewStore(key, nil)
	if err := s2.LoadSnapshot(path); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	restored, err := s2.SessionSecret(id)
	if err != nil {
		t.Fatalf("SessionSecret after load: %v", err)
	}
	if *restored != original {
		t.Fatal("restored session secret should match the original derivation")
	}
}

func TestLoadSnapshotMissingFileIsNotError(t *testing.T) {
	s := testStore(t)
	if err := s.LoadSnapshot(filepath.Join(t.TempDir(), "absent.snap")); err != nil {
		t.Fatalf("missing snapshot file should not error, got %v", err)
	}
}

func TestIssueAndVerifyToken(t *testing.T) {
	s := testStore(t)
	id, _, _ := s.Register("caller", RoleAgent)

	token, err := s.IssueToken(id, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	claims, err := s.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.Subject != id {
		t.Fatalf("claims.Subject = %d, want %d", claims.Subject, id)
	}
}

func TestVerifyTokenExpired(t *testing.T) {
	s := testStore(t)
	id, _, _ := s.Register("expiring", RoleAgent)

	token, err := s.IssueToken(id, -time.Second)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := s.VerifyToken(token); err != ErrExpired {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestVerifyTokenRevokedSubject(t *testing.T) {
	s := testStore(t)
	id, _, _ := s.Register("revokee", RoleAgent)
	token, _ := s.IssueToken(id, time.Minute)
	s.Revoke(id)

	if _, err := s.VerifyToken(token); err != ErrRevoked {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
}

func TestVerifyTokenBadMac(t *testing.T) {
	s := testStore(t)
	id, _, _ := s.Register("tamperee", RoleAgent)
	token, _ := s.IssueToken(id, time.Minute)

	tampered := token[:len(token)-1] + "x"
	if _, err := s.VerifyToken(tampered); err != ErrBadMac {
		t.Fatalf("expected ErrBadMac, got %v", err)
	}
}

func contains(haystack, needle []byte) bool {
	if len(needle) == 0 || len(haystack) < len(needle) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
