package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RuleFile is the on-disk shape of a rule table.
type RuleFile struct {
	Version string  `yaml:"version"`
	Rules   RuleSet `yaml:"rules"`
}

// LoadedRules is a validated rule table with the digest of its source bytes.
type LoadedRules struct {
	Version string
	Rules   RuleSet
	Hash    string
	Bytes   []byte
}

// LoadRules reads and validates a YAML rule table.
func LoadRules(path string) (LoadedRules, error) {
	// #nosec G304 -- path comes from operator-configured rule file.
	data, err := os.ReadFile(path)
	if err != nil {
		return LoadedRules{}, err
	}
	return ParseRules(data)
}

// ParseRules decodes and validates a YAML rule table.
func ParseRules(data []byte) (LoadedRules, error) {
	var f RuleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return LoadedRules{}, fmt.Errorf("decode rules: %w", err)
	}
	if len(f.Rules) == 0 {
		return LoadedRules{}, fmt.Errorf("rule file has no rules")
	}
	if err := f.Rules.Validate(); err != nil {
		return LoadedRules{}, err
	}
	return LoadedRules{
		Version: f.Version,
		Rules:   f.Rules,
		Hash:    digest(data),
		Bytes:   data,
	}, nil
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}
