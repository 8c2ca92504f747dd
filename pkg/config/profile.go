package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// profileSchema validates the shape of a run profile before any value is
// applied. Numeric bounds here mirror Config.Validate.
const profileSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"min_engine_version": {"type": "string"},
		"agents": {"type": "integer", "minimum": 2},
		"rounds": {"type": "integer", "minimum": 1},
		"threshold": {"type": "number", "minimum": 0, "maximum": 1},
		"expiry_rounds": {"type": "integer", "minimum": 1},
		"max_pending": {"type": "integer", "minimum": 1},
		"vote_budget": {"type": "integer", "minimum": 0},
		"proposal_budget": {"type": "integer", "minimum": 0},
		"backend": {"enum": ["file", "redis"]},
		"genesis": {"type": "string"},
		"vote_rule": {"type": "string"}
	},
	"required": ["name"],
	"additionalProperties": false
}`

// Profile is a named run configuration loaded from YAML. Zero values mean
// "keep the environment default"; MinEngineVersion gates profiles written
// for a newer engine.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Profile struct {
	Name             string  `yaml:"name" json:"name"`
	MinEngineVersion string  `yaml:"min_engine_version,omitempty" json:"min_engine_version,omitempty"`
	Agents           int     `yaml:"agents,omitempty" json:"agents,omitempty"`
	Rounds           int     `yaml:"rounds,omitempty" json:"rounds,omitempty"`
	Threshold        float64 `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	ExpiryRounds     int     `yaml:"expiry_rounds,omitempty" json:"expiry_rounds,omitempty"`
	MaxPending       int     `yaml:"max_pending,omitempty" json:"max_pending,omitempty"`
	VoteBudget       int     `yaml:"vote_budget,omitempty" json:"vote_budget,omitempty"`
	ProposalBudget   int     `yaml:"proposal_budget,omitempty" json:"proposal_budget,omitempty"`
	Backend          string  `yaml:"backend,omitempty" json:"backend,omitempty"`
	Genesis          string  `yaml:"genesis,omitempty" json:"genesis,omitempty"`
	VoteRule         string  `yaml:"vote_rule,omitempty" json:"vote_rule,omitempty"`
}

// LoadProfile reads, schema-validates, and version-gates a profile file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	// YAML to canonical JSON form first so the schema sees the raw document.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", path, err)
	}
	doc, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("profile %q: %w", path, err)
	}
	var generic any
	if err := json.Unmarshal(doc, &generic); err != nil {
		return nil, fmt.Errorf("profile %q: %w", path, err)
	}
	if err := compiledProfileSchema().Validate(generic); err != nil {
		return nil, fmt.Errorf("invalid profile %q: %w", path, err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", path, err)
	}

	if profile.MinEngineVersion != "" {
		constraint, err := semver.NewConstraint(">= " + profile.MinEngineVersion)
		if err != nil {
			return nil, fmt.Errorf("profile %q: bad min_engine_version: %w", profile.Name, err)
		}
		if !constraint.Check(semver.MustParse(Version)) {
			return nil, fmt.Errorf("profile %q requires engine >= %s, running %s",
				profile.Name, profile.MinEngineVersion, Version)
		}
	}
	return &profile, nil
}

// Apply overlays the profile's non-zero values onto cfg.
func (p *Profile) Apply(cfg *Config) {
	if p.Agents > 0 {
		cfg.AgentCount = p.Agents
	}
	if p.Rounds > 0 {
		cfg.Rounds = p.Rounds
	}
	if p.Threshold > 0 {
		cfg.Threshold = p.Threshold
	}
	if p.ExpiryRounds > 0 {
		cfg.ExpiryRounds = p.ExpiryRounds
	}
	if p.MaxPending > 0 {
		cfg.MaxPending = p.MaxPending
	}
	if p.VoteBudget > 0 {
		cfg.VoteBudget = p.VoteBudget
	}
	if p.ProposalBudget > 0 {
		cfg.ProposalBudget = p.ProposalBudget
	}
	if p.Backend != "" {
		cfg.Backend = p.Backend
	}
	if p.Genesis != "" {
		cfg.GenesisText = p.Genesis
	}
	if p.VoteRule != "" {
		cfg.VoteRule = p.VoteRule
	}
}

func compiledProfileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	const url = "https://accord.schemas.local/profile.schema.json"
	if err := c.AddResource(url, strings.NewReader(profileSchema)); err != nil {
		panic(fmt.Sprintf("profile schema load failed: %v", err))
	}
	schema, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("profile schema compile failed: %v", err))
	}
	return schema
}
