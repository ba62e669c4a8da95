package agent

import (
	"bytes"
	"context"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/teranos/missionctl/errors"
	"github.com/teranos/missionctl/pulse/async"
)

// Roster is the agents seed file
//
//	agents:
//	  - name: kirby
//	    role: coder
//	    default_engine: shell
//	    cost_tier: free
//	    department: platform
type Roster struct {
	Agents []RosterEntry `yaml:"agents"`
}

// RosterEntry is one agent in a roster file. Active defaults to true.
type RosterEntry struct {
	Name          string `yaml:"name"`
	Role          string `yaml:"role"`
	DefaultEngine string `yaml:"default_engine"`
	CostTier      string `yaml:"cost_tier"`
	Department    string `yaml:"department"`
	Active        *bool  `yaml:"active"`
}

// ImportResult counts what an import changed
type ImportResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// ParseRoster decodes roster YAML. Unknown fields are rejected.
func ParseRoster(data []byte) (*Roster, error) {
	var roster Roster
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&roster); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "failed to parse roster")
	}
	seen := make(map[string]bool, len(roster.Agents))
	for i, e := range roster.Agents {
		if e.Name == "" {
			return nil, errors.NewInvalidRequestError("roster entry %d has no name", i)
		}
		if seen[e.Name] {
			return nil, errors.NewInvalidRequestError("agent %q appears twice in roster", e.Name)
		}
		seen[e.Name] = true
	}
	return &roster, nil
}

// ImportRosterFile reads path and upserts every agent in it
func (s *Store) ImportRosterFile(ctx context.Context, path string) (*ImportResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read roster %s", path)
	}
	roster, err := ParseRoster(data)
	if err != nil {
		return nil, errors.WithDetail(err, "Roster: "+path)
	}
	return s.ImportRoster(ctx, roster)
}

// ImportRoster upserts roster agents by name. Performance fields and the
// paused/active status of existing agents are preserved.
func (s *Store) ImportRoster(ctx context.Context, roster *Roster) (*ImportResult, error) {
	var result ImportResult
	for _, e := range roster.Agents {
		active := true
		if e.Active != nil {
			active = *e.Active
		}
		created, err := s.Upsert(ctx, &Agent{
			Name:          e.Name,
			Role:          Role(e.Role),
			DefaultEngine: async.EngineName(e.DefaultEngine),
			CostTier:      CostTier(e.CostTier),
			DepartmentID:  e.Department,
			Active:        active,
		})
		if err != nil {
			return &result, err
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
	}
	return &result, nil
}
