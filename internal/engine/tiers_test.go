package engine

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultTiersCoverAllDifficulties(t *testing.T) {
	tiers := defaultTiers()
	for _, name := range []string{"easy", "medium", "hard"} {
		tier, ok := tiers[name]
		if !ok {
			t.Fatalf("missing tier %s", name)
		}
		if tier.MoveTimeMillis <= 0 {
			t.Fatalf("tier %s has no move time", name)
		}
		if tier.SkillLevel < 0 || tier.SkillLevel > 20 {
			t.Fatalf("tier %s skill out of range: %d", name, tier.SkillLevel)
		}
	}
	if tiers["easy"].SkillLevel >= tiers["hard"].SkillLevel {
		t.Fatalf("easy is not weaker than hard")
	}
}

func TestLoadTiersNoFile(t *testing.T) {
	tiers, err := loadTiers("")
	if err != nil {
		t.Fatalf("loadTiers: %v", err)
	}
	if len(tiers) != 3 {
		t.Fatalf("tiers = %d, want 3 defaults", len(tiers))
	}
}

func TestLoadTiersOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	data := []byte(`
medium:
  skill_level: 10
  hash_mb: 64
  move_time_ms: 250
grandmaster:
  skill_level: 20
  threads: 4
  hash_mb: 512
  move_time_ms: 2000
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write tiers file: %v", err)
	}

	tiers, err := loadTiers(path)
	if err != nil {
		t.Fatalf("loadTiers: %v", err)
	}
	if tiers["medium"].SkillLevel != 10 || tiers["medium"].MoveTimeMillis != 250 {
		t.Fatalf("override not applied: %+v", tiers["medium"])
	}
	if tiers["grandmaster"].Threads != 4 {
		t.Fatalf("new tier not added: %+v", tiers["grandmaster"])
	}
	// Untouched defaults survive.
	if tiers["easy"].SkillLevel != defaultTiers()["easy"].SkillLevel {
		t.Fatalf("easy default lost: %+v", tiers["easy"])
	}
}

func TestLoadTiersRejectsBadTier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	data := []byte(`
broken:
  skill_level: 99
  move_time_ms: 100
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write tiers file: %v", err)
	}
	if _, err := loadTiers(path); err == nil {
		t.Fatalf("expected error for out-of-range skill level")
	}
}

func TestLoadTiersRejectsNoLimits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	if err := os.WriteFile(path, []byte("idle:\n  skill_level: 5\n"), 0o644); err != nil {
		t.Fatalf("write tiers file: %v", err)
	}
	if _, err := loadTiers(path); err == nil {
		t.Fatalf("expected error for tier without limits")
	}
}
