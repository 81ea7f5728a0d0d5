// Package insights serves the static treatment-advice table shown alongside
// predictions. The data ships embedded in the binary; it is reference text,
// not medical-grade guidance, and classes without an entry fall back to a
// generic record.
package insights

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/krishimitra/pdr-api/internal/labels"
)

//go:embed insights.yaml
var insightsYAML []byte

// Insight is the advice record for one disease class.
type Insight struct {
	Severity          string `yaml:"severity" json:"severity"`
	CureTimeline      string `yaml:"cure_timeline" json:"cure_timeline"`
	Description       string `yaml:"description" json:"description"`
	Symptoms          string `yaml:"symptoms" json:"symptoms,omitempty"`
	ChemicalTreatment string `yaml:"chemical_treatment" json:"chemical_treatment"`
	OrganicTreatment  string `yaml:"organic_treatment" json:"organic_treatment"`
	Prevention        string `yaml:"prevention" json:"prevention"`
}

// Table is the loaded advice table.
type Table struct {
	entries map[string]Insight
}

// Load parses the embedded table.
func Load() (*Table, error) {
	entries := map[string]Insight{}
	if err := yaml.Unmarshal(insightsYAML, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse insights table: %w", err)
	}
	return &Table{entries: entries}, nil
}

var healthyInsight = Insight{
	Severity:          "none",
	CureTimeline:      "n/a",
	Description:       "The plant appears to be healthy.",
	ChemicalTreatment: "No treatment necessary.",
	OrganicTreatment:  "No treatment necessary.",
	Prevention:        "Continue good watering practices, ensure proper nutrients, and monitor for any signs of pests or disease.",
}

// Lookup returns the advice for a class name. Healthy classes get the shared
// healthy record; unknown diseased classes report ok=false.
func (t *Table) Lookup(class string) (Insight, bool) {
	if in, ok := t.entries[class]; ok {
		return in, true
	}
	if labels.IsHealthy(class) {
		return healthyInsight, true
	}
	return Insight{}, false
}

// Len reports how many disease classes carry a dedicated entry.
func (t *Table) Len() int { return len(t.entries) }
