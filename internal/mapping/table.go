// Package mapping turns a StructuredProfile into the CRM update payload using
// a declared field table. Mapping is pure; all I/O happens in the callers.
package mapping

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/org-enricher/internal/model"
)

// Transforms applied to a source value before it is written.
const (
	TransformVerbatim      = "verbatim"
	TransformTrim          = "trim"
	TransformEmployeeCount = "employee_count"
)

// DefaultNarrativeFieldKey is the Pipedrive custom field holding the
// geothermal narrative on the reference account.
const DefaultNarrativeFieldKey = "48fb74b3799b461f0153614366a1c589bf1a2fb0"

// DefaultVisibleTo is Pipedrive's "entire company" visibility.
const DefaultVisibleTo = 3

// Row maps one profile key to one CRM field.
type Row struct {
	Source    string `yaml:"source"`
	Target    string `yaml:"target"`
	Transform string `yaml:"transform"`
}

// Table is the full mapping: profile rows plus constant fields.
type Table struct {
	Rows      []Row          `yaml:"rows"`
	Constants map[string]any `yaml:"constants"`
}

// DefaultTable returns the standard organization mapping with the given
// narrative custom field key and visibility constant.
func DefaultTable(narrativeFieldKey string, visibleTo int) Table {
	if narrativeFieldKey == "" {
		narrativeFieldKey = DefaultNarrativeFieldKey
	}
	if visibleTo == 0 {
		visibleTo = DefaultVisibleTo
	}
	return Table{
		Rows: []Row{
			{Source: model.KeyIndustry, Target: "industry"},
			{Source: model.KeyLocation, Target: "address"},
			{Source: model.KeyEmployees, Target: "employee_count", Transform: TransformEmployeeCount},
			{Source: model.KeyWebsite, Target: "website"},
			{Source: model.KeyLinkedIn, Target: "linkedin"},
			{Source: model.KeyGeothermalActivity, Target: narrativeFieldKey},
		},
		Constants: map[string]any{"visible_to": visibleTo},
	}
}

// LoadTable reads a YAML mapping table from path.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, eris.Wrapf(err, "mapping: read table %s", path)
	}

	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, eris.Wrapf(err, "mapping: parse table %s", path)
	}
	if err := t.Validate(); err != nil {
		return Table{}, err
	}
	return t, nil
}

// Validate checks the table without contacting the CRM.
func (t Table) Validate() error {
	if len(t.Rows) == 0 {
		return eris.New("mapping: table has no rows")
	}

	seen := make(map[string]bool, len(t.Rows)+len(t.Constants))
	for i, r := range t.Rows {
		if !model.IsProfileKey(r.Source) {
			return eris.Errorf("mapping: row %d: unknown source %q", i, r.Source)
		}
		if strings.TrimSpace(r.Target) == "" {
			return eris.Errorf("mapping: row %d: target is required", i)
		}
		if !knownTransform(r.Transform) {
			return eris.Errorf("mapping: row %d: unknown transform %q", i, r.Transform)
		}
		if seen[r.Target] {
			return eris.Errorf("mapping: duplicate target %q", r.Target)
		}
		seen[r.Target] = true
	}
	for k := range t.Constants {
		if seen[k] {
			return eris.Errorf("mapping: duplicate target %q", k)
		}
		seen[k] = true
	}
	return nil
}

// ValidateAgainst checks that every target exists in the CRM field set.
// It returns all missing keys in one error.
func (t Table) ValidateAgainst(fieldKeys []string) error {
	known := make(map[string]bool, len(fieldKeys))
	for _, k := range fieldKeys {
		known[k] = true
	}

	var missing []string
	for _, k := range t.Targets() {
		if !known[k] {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return eris.Errorf("mapping: targets missing from CRM organization fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Targets lists row targets followed by constant keys.
func (t Table) Targets() []string {
	out := make([]string, 0, len(t.Rows)+len(t.Constants))
	for _, r := range t.Rows {
		out = append(out, r.Target)
	}
	for k := range t.Constants {
		out = append(out, k)
	}
	return out
}

func knownTransform(name string) bool {
	switch name {
	case "", TransformVerbatim, TransformTrim, TransformEmployeeCount:
		return true
	}
	return false
}
