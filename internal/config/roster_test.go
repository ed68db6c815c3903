// roster_test.go — load/save/validate behavior for roster.json.
package config

import (
	"path/filepath"
	"testing"
)

func TestLoadRosterRawMissingFileReturnsEmpty(t *testing.T) {
	raw, err := LoadRosterRaw(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("LoadRosterRaw: %v", err)
	}
	if len(raw.Agents) != 0 {
		t.Errorf("Agents = %v, want empty", raw.Agents)
	}
}

func TestSaveAndLoadRosterRaw(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.json")
	raw := &RosterRaw{Agents: []AgentSpec{
		{Name: "planner", Role: "Agent", Subscribe: []string{"tasks"}},
	}}

	if err := SaveRoster(path, raw); err != nil {
		t.Fatalf("SaveRoster: %v", err)
	}

	loaded, err := LoadRosterRaw(path)
	if err != nil {
		t.Fatalf("LoadRosterRaw: %v", err)
	}
	if len(loaded.Agents) != 1 || loaded.Agents[0].Name != "planner" {
		t.Errorf("loaded = %+v, want one agent named planner", loaded.Agents)
	}
}

func TestLoadRosterSnapshotStampsHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.json")
	raw := &RosterRaw{Agents: []AgentSpec{{Name: "worker", Role: "Agent"}}}
	if err := SaveRoster(path, raw); err != nil {
		t.Fatalf("SaveRoster: %v", err)
	}

	snap, err := LoadRosterSnapshot(path)
	if err != nil {
		t.Fatalf("LoadRosterSnapshot: %v", err)
	}
	if snap.Hash == "" {
		t.Error("Hash should not be empty")
	}
	if snap.CreatedAt == "" {
		t.Error("CreatedAt should not be empty")
	}
	if len(snap.Raw.Agents) != 1 {
		t.Errorf("Raw.Agents = %v, want one entry", snap.Raw.Agents)
	}
}

func TestRosterValidateAcceptsWellFormedRoster(t *testing.T) {
	raw := &RosterRaw{Agents: []AgentSpec{
		{Name: "planner", Role: "Agent"},
		{Name: "monitor", Role: "Monitor"},
	}}
	if err := raw.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestRosterValidateRejectsDuplicateName(t *testing.T) {
	raw := &RosterRaw{Agents: []AgentSpec{
		{Name: "planner", Role: "Agent"},
		{Name: "planner", Role: "Monitor"},
	}}
	if err := raw.Validate(); err == nil {
		t.Error("Validate() = nil, want error for duplicate name")
	}
}

func TestRosterValidateRejectsReservedAdminName(t *testing.T) {
	raw := &RosterRaw{Agents: []AgentSpec{
		{Name: "admin", Role: "Agent"},
	}}
	if err := raw.Validate(); err == nil {
		t.Error("Validate() = nil, want error for reserved admin name")
	}
}

func TestRosterValidateRejectsMissingName(t *testing.T) {
	raw := &RosterRaw{Agents: []AgentSpec{
		{Name: "", Role: "Agent"},
	}}
	if err := raw.Validate(); err == nil {
		t.Error("Validate() = nil, want error for missing name")
	}
}
