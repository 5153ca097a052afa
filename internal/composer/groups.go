package composer

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Band is the discrete instruction level a target value maps into.
type Band string

const (
	BandHigh         Band = "high"
	BandModerateHigh Band = "moderate_high"
	BandBalanced     Band = "balanced"
	BandModerateLow  Band = "moderate_low"
	BandLow          Band = "low"
)

// Default band edges: value >= 0.8 is high, >= 0.6 moderate-high, >= 0.4
// balanced, >= 0.2 moderate-low, else low.
var defaultBandEdges = []float64{0.8, 0.6, 0.4, 0.2}

// BandFor maps a target value onto a band using the given descending edges.
func BandFor(value float64, edges []float64) Band {
	if len(edges) != 4 {
		edges = defaultBandEdges
	}
	switch {
	case value >= edges[0]:
		return BandHigh
	case value >= edges[1]:
		return BandModerateHigh
	case value >= edges[2]:
		return BandBalanced
	case value >= edges[3]:
		return BandModerateLow
	default:
		return BandLow
	}
}

// Group collects related parameters under one prompt section with its own
// phrasing per band. Phrasing templates take the parameter display name as
// their single %s argument.
type Group struct {
	Name       string          `yaml:"name"`
	Label      string          `yaml:"label"`
	Parameters []string        `yaml:"parameters"`
	Phrasing   map[Band]string `yaml:"phrasing"`
	BandEdges  []float64       `yaml:"band_edges,omitempty"`
}

// GroupsFile is the YAML shape of an external group definition.
type GroupsFile struct {
	Groups []Group `yaml:"groups"`
}

// LoadGroups reads group definitions from a YAML file.
func LoadGroups(path string) ([]Group, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "composer: read groups file")
	}
	var file GroupsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrap(err, "composer: parse groups file")
	}
	if len(file.Groups) == 0 {
		return nil, eris.New("composer: groups file defines no groups")
	}
	for _, g := range file.Groups {
		if g.Name == "" || len(g.Parameters) == 0 {
			return nil, eris.Errorf("composer: group %q missing name or parameters", g.Name)
		}
	}
	return file.Groups, nil
}

// DefaultGroups returns the built-in grouping used when no groups file is
// configured. It covers the parameters shipped in the default seed.
func DefaultGroups() []Group {
	return []Group{
		{
			Name:       "communication_style",
			Label:      "Communication style",
			Parameters: []string{"empathy", "formality", "conciseness"},
			Phrasing: map[Band]string{
				BandHigh:         "Lead with %s; make it a defining feature of how you speak.",
				BandModerateHigh: "Favor %s in most of your responses.",
				BandBalanced:     "Keep %s balanced; match the caller's register.",
				BandModerateLow:  "Dial back %s; only bring it in when the caller invites it.",
				BandLow:          "Keep %s to a minimum in this conversation.",
			},
		},
		{
			Name:       "engagement_approach",
			Label:      "Engagement approach",
			Parameters: []string{"proactivity", "patience"},
			Phrasing: map[Band]string{
				BandHigh:         "Be strongly %s-driven; anticipate needs before they are voiced.",
				BandModerateHigh: "Lean into %s when openings appear.",
				BandBalanced:     "Apply %s in moderation, following the caller's pace.",
				BandModerateLow:  "Show %s sparingly; let the caller steer.",
				BandLow:          "Hold back on %s; respond to what is asked and little more.",
			},
		},
		{
			Name:       "adaptability",
			Label:      "Adaptability",
			Parameters: []string{"adaptability"},
			Phrasing: map[Band]string{
				BandHigh:         "Maximize %s; reshape your approach the moment something isn't landing.",
				BandModerateHigh: "Stay high on %s and offer alternatives readily.",
				BandBalanced:     "Keep %s moderate; adjust when clearly needed.",
				BandModerateLow:  "Limit %s; stick with the established approach unless it fails.",
				BandLow:          "Minimize %s; consistency matters more here than flexibility.",
			},
		},
	}
}
