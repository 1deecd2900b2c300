package engine

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v3"
)

// Tier is one named strength preset. MoveTimeMillis is a ceiling; the
// serving move budget may shorten the actual search.
type Tier struct {
	SkillLevel     int `yaml:"skill_level"`
	Elo            int `yaml:"elo"`
	Threads        int `yaml:"threads"`
	HashMB         int `yaml:"hash_mb"`
	MoveTimeMillis int `yaml:"move_time_ms"`
	Depth          int `yaml:"depth"`
}

func defaultTiers() map[string]Tier {
	return map[string]Tier{
		"easy":   {SkillLevel: 2, Elo: 1350, Threads: 1, HashMB: 64, MoveTimeMillis: 300},
		"medium": {SkillLevel: 12, Threads: 1, HashMB: 128, MoveTimeMillis: 500},
		"hard":   {SkillLevel: 20, Threads: 2, HashMB: 256, MoveTimeMillis: 800},
	}
}

// loadTiers starts from the built-in presets and applies overrides from
// the yaml file if one is given. Override files may redefine existing
// tiers or add new ones.
func loadTiers(path string) (map[string]Tier, error) {
	tiers := defaultTiers()
	if path == "" {
		return tiers, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tiers file: %w", err)
	}
	var overrides map[string]Tier
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("parse tiers file: %w", err)
	}
	for name, t := range overrides {
		if err := validateTier(name, t); err != nil {
			return nil, err
		}
		tiers[name] = t
	}
	return tiers, nil
}

func validateTier(name string, t Tier) error {
	if t.SkillLevel < 0 || t.SkillLevel > 20 {
		return fmt.Errorf("tier %s: skill level %d out of range 0-20", name, t.SkillLevel)
	}
	if t.MoveTimeMillis <= 0 && t.Depth <= 0 {
		return fmt.Errorf("tier %s: needs move_time_ms or depth", name)
	}
	return nil
}
