// Package memext mines durable memories out of session summaries. A fixed
// table of bilingual regex patterns plus two structural extractors produce
// candidates; post-processing dedupes, floors, and caps them; persistence
// merges each candidate into a similar existing memory instead of inserting
// a duplicate row.
package memext

import (
	_ "embed"
	"fmt"
	"regexp"

	"sage/pkg/protocol"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var patternsYAML []byte

// pattern is one compiled entry of the extraction table.
type pattern struct {
	Name       string
	Type       protocol.MemoryType
	Importance float64
	ExpiryDays int
	re         *regexp.Regexp
}

type patternFile struct {
	Patterns []struct {
		Name       string  `yaml:"name"`
		Regexp     string  `yaml:"regexp"`
		Type       string  `yaml:"type"`
		Importance float64 `yaml:"importance"`
		ExpiryDays int     `yaml:"expiry_days"`
		Locale     string  `yaml:"locale"`
	} `yaml:"patterns"`
}

// loadPatterns parses and compiles the embedded pattern table.
func loadPatterns() ([]pattern, error) {
	var pf patternFile
	if err := yaml.Unmarshal(patternsYAML, &pf); err != nil {
		return nil, fmt.Errorf("parse patterns.yaml: %w", err)
	}
	out := make([]pattern, 0, len(pf.Patterns))
	for _, p := range pf.Patterns {
		re, err := regexp.Compile(p.Regexp)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %s: %w", p.Name, err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("pattern %s has no capture group", p.Name)
		}
		out = append(out, pattern{
			Name:       p.Name,
			Type:       protocol.MemoryType(p.Type),
			Importance: p.Importance,
			ExpiryDays: p.ExpiryDays,
			re:         re,
		})
	}
	return out, nil
}
