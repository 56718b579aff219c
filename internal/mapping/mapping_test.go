package mapping

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/org-enricher/internal/model"
)

func TestNormalizeEmployeeCount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"12,345", "12345"},
		{"1,200", "1200"},
		{"", "0"},
		{"   ", "0"},
		{" 87 ", "87"},
		{"1 200", "1200"},
		{"1\u202f200", "1200"},
		{"1\u00a0200", "1200"},
		{"10_000", "10000"},
		{"approx. 500", "0"},
		{"5000+", "0"},
		{"1.200", "0"},
		{",", "0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeEmployeeCount(tt.in), "input %q", tt.in)
	}
}

func TestDefaultTable_Map(t *testing.T) {
	table := DefaultTable("custom_geo", 0)
	require.NoError(t, table.Validate())

	got := table.Map(model.StructuredProfile{
		Industry:           "9",
		Location:           "Reykjavik, Iceland",
		Employees:          "1,200",
		Website:            "acme.example",
		LinkedInURL:        "https://linkedin.com/company/acme",
		Summary:            "ignored by the field map",
		GeothermalActivity: "Drilling in Iceland",
	})

	assert.Equal(t, model.UpdatePayload{
		"industry":       "9",
		"address":        "Reykjavik, Iceland",
		"employee_count": "1200",
		"website":        "acme.example",
		"linkedin":       "https://linkedin.com/company/acme",
		"custom_geo":     "Drilling in Iceland",
		"visible_to":     DefaultVisibleTo,
	}, got)
}

func TestMap_EmptyProfileIsComplete(t *testing.T) {
	table := DefaultTable("", 1)
	got := table.Map(model.StructuredProfile{})

	assert.Len(t, got, 7)
	assert.Equal(t, "", got["industry"])
	assert.Equal(t, "0", got["employee_count"])
	assert.Equal(t, "", got[DefaultNarrativeFieldKey])
	assert.Equal(t, 1, got["visible_to"])
}

func TestMap_Trim(t *testing.T) {
	table := Table{Rows: []Row{{Source: model.KeyWebsite, Target: "website", Transform: TransformTrim}}}
	got := table.Map(model.StructuredProfile{Website: "  acme.example\n"})
	assert.Equal(t, "acme.example", got["website"])
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		table   Table
		wantErr string
	}{
		{name: "empty", table: Table{}, wantErr: "no rows"},
		{name: "unknown_source", table: Table{Rows: []Row{{Source: "headquarters", Target: "address"}}}, wantErr: "unknown source"},
		{name: "blank_target", table: Table{Rows: []Row{{Source: model.KeyWebsite, Target: " "}}}, wantErr: "target is required"},
		{name: "unknown_transform", table: Table{Rows: []Row{{Source: model.KeyWebsite, Target: "website", Transform: "upper"}}}, wantErr: "unknown transform"},
		{name: "duplicate_target", table: Table{Rows: []Row{
			{Source: model.KeyWebsite, Target: "website"},
			{Source: model.KeyLinkedIn, Target: "website"},
		}}, wantErr: "duplicate target"},
		{name: "constant_collides", table: Table{
			Rows:      []Row{{Source: model.KeyWebsite, Target: "visible_to"}},
			Constants: map[string]any{"visible_to": 3},
		}, wantErr: "duplicate target"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.table.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateAgainst(t *testing.T) {
	table := DefaultTable("geo_key", 3)

	fields := []string{"name", "industry", "address", "employee_count", "website", "linkedin", "geo_key", "visible_to"}
	require.NoError(t, table.ValidateAgainst(fields))

	err := table.ValidateAgainst([]string{"name", "industry", "address"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "employee_count")
	assert.Contains(t, err.Error(), "geo_key")
	assert.Contains(t, err.Error(), "visible_to")
	assert.NotContains(t, err.Error(), "address,")
}

func TestLoadTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mapping.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rows:
  - source: industry
    target: industry
  - source: estimated_number_of_employees
    target: employee_count
    transform: employee_count
  - source: website
    target: website
    transform: trim
constants:
  visible_to: 1
`), 0o600))

	table, err := LoadTable(path)
	require.NoError(t, err)
	require.Len(t, table.Rows, 3)
	assert.Equal(t, TransformTrim, table.Rows[2].Transform)
	assert.Equal(t, 1, table.Constants["visible_to"])
}

func TestLoadTable_Errors(t *testing.T) {
	_, err := LoadTable(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rows:\n  - source: nope\n    target: x\n"), 0o600))
	_, err = LoadTable(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown source")
}
