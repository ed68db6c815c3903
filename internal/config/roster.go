package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/agentfabric/fabric/pkg/logger"
)

// rosterMu guards concurrent reads/writes of roster.json.
var rosterMu sync.Mutex

// AgentSpec describes one agent to auto-register at boot.
type AgentSpec struct {
	Name        string   `json:"name"`
	Role        string   `json:"role"` // Admin/System/Agent/Monitor/Guest, see internal/kis
	Subscribe   []string `json:"subscribe,omitempty"`
	Description string   `json:"description,omitempty"`
}

// RosterRaw is the top-level shape of roster.json.
type RosterRaw struct {
	Agents []AgentSpec `json:"agents"`
}

// RosterSnapshot is a roster plus a content hash and timestamp, used to
// detect changes between boots without diffing the whole structure.
type RosterSnapshot struct {
	Raw       *RosterRaw `json:"raw"`
	Hash      string     `json:"hash"`
	CreatedAt string     `json:"created_at"`
}

// Validate checks the roster for structural problems that would make
// applying it unsafe to run against admitAgent: a name colliding with the
// reserved admin identity, or the same name declared twice. Unknown roles
// are left to the caller to skip per-entry, since one bad role shouldn't
// block every other valid entry in the file.
func (r *RosterRaw) Validate() error {
	seen := make(map[string]bool, len(r.Agents))
	for _, spec := range r.Agents {
		if spec.Name == "" {
			return fmt.Errorf("roster: agent entry missing name")
		}
		if spec.Name == "admin" {
			return fmt.Errorf("roster: agent name %q collides with the reserved admin identity", spec.Name)
		}
		if seen[spec.Name] {
			return fmt.Errorf("roster: duplicate agent name %q", spec.Name)
		}
		seen[spec.Name] = true
	}
	return nil
}

// LoadRosterRaw loads roster.json. A missing file is not an error — it means
// no agents are auto-registered and the admin control interface must
// register them at runtime.
func LoadRosterRaw(path string) (*RosterRaw, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &RosterRaw{}, nil
		}
		return nil, err
	}

	var raw RosterRaw
	if err := json.Unmarshal(data, &raw); err != nil {
		logger.Warn("roster.json parse failed", logger.FieldError, err)
		return &RosterRaw{}, nil
	}
	return &raw, nil
}

// SaveRoster writes roster.json atomically (tmp file + rename).
func SaveRoster(path string, data *RosterRaw) error {
	rosterMu.Lock()
	defer rosterMu.Unlock()

	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, encoded, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// LoadRosterSnapshot loads the roster and stamps it with a content hash.
func LoadRosterSnapshot(path string) (*RosterSnapshot, error) {
	raw, err := LoadRosterRaw(path)
	if err != nil {
		return nil, err
	}

	normalized, _ := json.Marshal(raw)
	hash := fmt.Sprintf("sha256:%x", sha256.Sum256(normalized))

	return &RosterSnapshot{
		Raw:       raw,
		Hash:      hash,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}, nil
}
