package kis

import (
	"encoding/json"
	"os"
	"time"

	"github.com/agentfabric/fabric/pkg/logger"
)

// persistedBinding is the on-disk form of a Binding. SessionSecret is
// deliberately absent: secrets are re-derived from the master key on load,
// never written to the snapshot file (spec §4.1, §6).
type persistedBinding struct {
	ID          AgentID     `json:"id"`
	DisplayName string      `json:"display_name"`
	Role        Role        `json:"role"`
	Permissions Permissions `json:"permissions"`
	Rotation    uint32      `json:"rotation"`
	PublicKey   []byte      `json:"public_key,omitempty"`
	IssuedAt    time.Time   `json:"issued_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
	Revoked     bool        `json:"revoked"`
}

// persistedSnapshot is the top-level snapshot file shape.
type persistedSnapshot struct {
	NextID   uint32             `json:"next_id"`
	Bindings []persistedBinding `json:"bindings"`
}

// SaveSnapshot writes the current registry to path atomically (tmp file +
// rename), in the style of config.SaveRoster.
func (s *Store) SaveSnapshot(path string) error {
	s.mu.Lock()
	bindings := *s.bindings.Load()
	nextID := s.nextID
	s.mu.Unlock()

	snap := persistedSnapshot{NextID: nextID}
	for _, b := range bindings {
		if b == nil {
			continue
		}
		snap.Bindings = append(snap.Bindings, persistedBinding{
			ID:          b.ID,
			DisplayName: b.DisplayName,
			Role:        b.Role,
			Permissions: b.Permissions,
			Rotation:    b.rotation,
			PublicKey:   b.PublicKey,
			IssuedAt:    b.IssuedAt,
			ExpiresAt:   b.ExpiresAt,
			Revoked:     b.Revoked,
		})
	}

	encoded, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, encoded, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// LoadSnapshot restores bindings from path, re-deriving each session secret
// from the current master key. A missing file is not an error — it means a
// fresh registry with no prior identities.
func (s *Store) LoadSnapshot(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var snap persistedSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bindings := make([]*Binding, 0, len(snap.Bindings))
	names := make(map[string]AgentID, len(snap.Bindings))
	for _, pb := range snap.Bindings {
		b := &Binding{
			ID:          pb.ID,
			DisplayName: pb.DisplayName,
			Role:        pb.Role,
			Permissions: pb.Permissions,
			rotation:    pb.Rotation,
			PublicKey:   pb.PublicKey,
			IssuedAt:    pb.IssuedAt,
			ExpiresAt:   pb.ExpiresAt,
			Revoked:     pb.Revoked,
		}
		if !b.Revoked {
			b.sessionSecret = s.deriveSessionSecret(b.ID, b.rotation)
		}
		bindings = append(bindings, b)
		names[b.DisplayName] = b.ID
	}

	s.bindings.Store(&bindings)
	s.names.Store(&names)
	if snap.NextID > s.nextID {
		s.nextID = snap.NextID
	}

	logger.Infow("kis: snapshot loaded", "path", path, "count", len(bindings))
	return nil
}
