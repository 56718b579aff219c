package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/org-enricher/internal/llm"
	"github.com/sells-group/org-enricher/internal/mapping"
	"github.com/sells-group/org-enricher/internal/model"
	"github.com/sells-group/org-enricher/pkg/pipedrive"
)

const acmeResponse = `Here is the research you asked for:
{"industry":"Renewables","estimated_number_of_employees":"1,200","website":"acme.example","summary_of_what_they_do":"Builds geothermal plants."}
Hope this helps.`

func testOptions() Options {
	return Options{Temperature: 0.5, MaxTokens: 1024}
}

func newTestPipeline(crm *mockCRM, ai *mockLLM) *Pipeline {
	return New(crm, ai, mapping.DefaultTable("geo_key", 3), testOptions(), zap.NewNop())
}

func TestEnrich_AcmeScenario(t *testing.T) {
	crm := new(mockCRM)
	ai := new(mockLLM)

	crm.On("SearchOrganizations", mock.Anything, "Acme Co").
		Return([]pipedrive.OrganizationMatch{{ID: 42, Name: "Acme Co"}}, nil)
	ai.On("Complete", mock.Anything, mock.MatchedBy(func(p llm.Prompt) bool {
		return p.Temperature == 0.5 && p.MaxTokens == 1024 && p.System != ""
	})).Return(acmeResponse, nil).Once()
	crm.On("OrganizationFields", mock.Anything).
		Return(industryFields(model.EnumerationOption{ID: "9", Label: "Renewables"}), nil)
	crm.On("UpdateOrganization", mock.Anything, int64(42), mock.Anything).Return(nil)
	crm.On("CreateNote", mock.Anything, pipedrive.Note{OrganizationID: 42, Content: "Summary:\nBuilds geothermal plants."}).
		Return(1, nil)

	res, err := newTestPipeline(crm, ai).Enrich(context.Background(), "Acme Co", "Reykjavik")
	require.NoError(t, err)

	assert.Equal(t, int64(42), res.OrganizationID)
	assert.Equal(t, "9", res.Applied["industry"])
	assert.Equal(t, "1200", res.Applied["employee_count"])
	assert.Equal(t, "acme.example", res.Applied["website"])
	assert.Equal(t, 3, res.Applied["visible_to"])
	assert.Equal(t, "Renewables", res.IndustryLabel)
	assert.True(t, res.IndustryResolved)
	assert.True(t, res.FieldsUpdated)
	assert.True(t, res.SummaryNoteWritten)
	assert.Nil(t, res.FallbackNote)
	assert.False(t, res.FallbackNoteWritten)
	assert.Empty(t, res.WriteErrors)

	// The raw profile keeps the model's values.
	assert.Equal(t, "1,200", res.Profile.Employees)

	crm.AssertCalled(t, "UpdateOrganization", mock.Anything, int64(42), map[string]any(res.Applied))
	crm.AssertNumberOfCalls(t, "CreateNote", 1)
	ai.AssertExpectations(t)
}

func TestEnrich_IndustryMissWritesFallbackNote(t *testing.T) {
	crm := new(mockCRM)
	ai := new(mockLLM)

	crm.On("SearchOrganizations", mock.Anything, "Acme Co").
		Return([]pipedrive.OrganizationMatch{{ID: 42}}, nil)
	ai.On("Complete", mock.Anything, mock.Anything).Return(acmeResponse, nil)
	crm.On("OrganizationFields", mock.Anything).
		Return(industryFields(model.EnumerationOption{ID: "3", Label: "Mining"}), nil)
	crm.On("UpdateOrganization", mock.Anything, int64(42), mock.MatchedBy(func(f map[string]any) bool {
		return f["industry"] == "" && f["employee_count"] == "1200"
	})).Return(nil)
	crm.On("CreateNote", mock.Anything, mock.Anything).Return(1, nil)

	res, err := newTestPipeline(crm, ai).Enrich(context.Background(), "Acme Co", "")
	require.NoError(t, err)

	assert.Equal(t, "", res.Applied["industry"])
	assert.False(t, res.IndustryResolved)
	require.NotNil(t, res.FallbackNote)
	assert.Equal(t, int64(42), res.FallbackNote.OrganizationID)
	assert.Contains(t, res.FallbackNote.Content, "'Renewables'")
	assert.True(t, res.FallbackNoteWritten)
	assert.True(t, res.SummaryNoteWritten)

	crm.AssertNumberOfCalls(t, "CreateNote", 2)
	crm.AssertCalled(t, "CreateNote", mock.Anything, pipedrive.Note{OrganizationID: 42, Content: res.FallbackNote.Content})
	crm.AssertCalled(t, "CreateNote", mock.Anything, pipedrive.Note{OrganizationID: 42, Content: "Summary:\nBuilds geothermal plants."})
}

func TestEnrich_FieldFetchErrorIsSoftMiss(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	crm := new(mockCRM)
	ai := new(mockLLM)

	crm.On("SearchOrganizations", mock.Anything, "Acme Co").Return([]pipedrive.OrganizationMatch{{ID: 42}}, nil)
	ai.On("Complete", mock.Anything, mock.Anything).Return(acmeResponse, nil)
	crm.On("OrganizationFields", mock.Anything).Return(nil, errors.New("pipedrive down"))
	crm.On("UpdateOrganization", mock.Anything, int64(42), mock.Anything).Return(nil)
	crm.On("CreateNote", mock.Anything, mock.Anything).Return(1, nil)

	p := New(crm, ai, mapping.DefaultTable("", 0), testOptions(), zap.New(core))
	res, err := p.Enrich(context.Background(), "Acme Co", "")
	require.NoError(t, err)
	assert.Equal(t, "", res.Applied["industry"])
	require.NotNil(t, res.FallbackNote)
	assert.Equal(t, 1, logs.FilterMessage("pipeline: industry lookup failed, treating as unresolved").Len())
}

func TestEnrich_BlankIndustryStillQueuesNote(t *testing.T) {
	crm := new(mockCRM)
	ai := new(mockLLM)

	crm.On("SearchOrganizations", mock.Anything, "Acme Co").Return([]pipedrive.OrganizationMatch{{ID: 42}}, nil)
	ai.On("Complete", mock.Anything, mock.Anything).Return(`{"industry": "  ", "summary_of_what_they_do": "x"}`, nil)
	crm.On("UpdateOrganization", mock.Anything, int64(42), mock.Anything).Return(nil)
	crm.On("CreateNote", mock.Anything, mock.Anything).Return(1, nil)

	res, err := newTestPipeline(crm, ai).Enrich(context.Background(), "Acme Co", "")
	require.NoError(t, err)
	require.NotNil(t, res.FallbackNote)
	assert.Equal(t, "0", res.Applied["employee_count"])
	crm.AssertNotCalled(t, "OrganizationFields", mock.Anything)
}

func TestEnrich_NonStringIndustryIsMiss(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		label  string
	}{
		{name: "array", answer: `{"industry": ["Renewables"], "summary_of_what_they_do": "x"}`, label: "Renewables"},
		{name: "number", answer: `{"industry": 9, "summary_of_what_they_do": "x"}`, label: "9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			crm := new(mockCRM)
			ai := new(mockLLM)

			crm.On("SearchOrganizations", mock.Anything, "Acme Co").Return([]pipedrive.OrganizationMatch{{ID: 42}}, nil)
			ai.On("Complete", mock.Anything, mock.Anything).Return(tt.answer, nil)
			crm.On("OrganizationFields", mock.Anything).Return(industryFields(
				model.EnumerationOption{ID: "3", Label: "Renewables"},
				model.EnumerationOption{ID: "9", Label: "9"},
			), nil).Maybe()
			crm.On("UpdateOrganization", mock.Anything, int64(42), mock.Anything).Return(nil)
			crm.On("CreateNote", mock.Anything, mock.Anything).Return(1, nil)

			core, logs := observer.New(zap.WarnLevel)
			p := New(crm, ai, mapping.DefaultTable("geo_key", 3), testOptions(), zap.New(core))

			res, err := p.Enrich(context.Background(), "Acme Co", "")
			require.NoError(t, err)

			assert.False(t, res.IndustryResolved)
			assert.Equal(t, "", res.Applied["industry"])
			require.NotNil(t, res.FallbackNote)
			assert.Contains(t, res.FallbackNote.Content, "'"+tt.label+"'")
			assert.True(t, res.FallbackNoteWritten)
			assert.Equal(t, 1, logs.FilterMessage("pipeline: industry is not a string, skipping lookup").Len())
			crm.AssertNotCalled(t, "OrganizationFields", mock.Anything)
		})
	}
}

func TestEnrich_LookupError(t *testing.T) {
	crm := new(mockCRM)
	ai := new(mockLLM)
	crm.On("SearchOrganizations", mock.Anything, "Nobody Inc").Return([]pipedrive.OrganizationMatch{}, nil)

	_, err := newTestPipeline(crm, ai).Enrich(context.Background(), "Nobody Inc", "")
	require.Error(t, err)
	var le *LookupError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "Nobody Inc", le.CompanyName)

	ai.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
	crm.AssertNotCalled(t, "UpdateOrganization", mock.Anything, mock.Anything, mock.Anything)
	crm.AssertNotCalled(t, "CreateNote", mock.Anything, mock.Anything)
}

func TestEnrich_BlankNameIsLookupError(t *testing.T) {
	crm := new(mockCRM)
	_, err := newTestPipeline(crm, new(mockLLM)).Enrich(context.Background(), "  ", "")
	var le *LookupError
	require.True(t, errors.As(err, &le))
	crm.AssertNotCalled(t, "SearchOrganizations", mock.Anything, mock.Anything)
}

func TestEnrich_SearchError(t *testing.T) {
	crm := new(mockCRM)
	crm.On("SearchOrganizations", mock.Anything, "Acme Co").Return(nil, errors.New("timeout"))

	_, err := newTestPipeline(crm, new(mockLLM)).Enrich(context.Background(), "Acme Co", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: search organization")
	var le *LookupError
	assert.False(t, errors.As(err, &le))
}

func TestEnrich_ModelErrorIsFatal(t *testing.T) {
	crm := new(mockCRM)
	ai := new(mockLLM)
	crm.On("SearchOrganizations", mock.Anything, "Acme Co").Return([]pipedrive.OrganizationMatch{{ID: 42}}, nil)
	ai.On("Complete", mock.Anything, mock.Anything).Return("", errors.New("rate limited"))

	_, err := newTestPipeline(crm, ai).Enrich(context.Background(), "Acme Co", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")

	ai.AssertNumberOfCalls(t, "Complete", 1)
	crm.AssertNotCalled(t, "UpdateOrganization", mock.Anything, mock.Anything, mock.Anything)
	crm.AssertNotCalled(t, "CreateNote", mock.Anything, mock.Anything)
}

func TestEnrich_ParseErrorIsFatal(t *testing.T) {
	crm := new(mockCRM)
	ai := new(mockLLM)
	crm.On("SearchOrganizations", mock.Anything, "Acme Co").Return([]pipedrive.OrganizationMatch{{ID: 42}}, nil)
	ai.On("Complete", mock.Anything, mock.Anything).Return("I'm sorry, I don't know that company.", nil)

	_, err := newTestPipeline(crm, ai).Enrich(context.Background(), "Acme Co", "")
	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Contains(t, pe.Raw, "don't know")

	crm.AssertNotCalled(t, "OrganizationFields", mock.Anything)
	crm.AssertNotCalled(t, "UpdateOrganization", mock.Anything, mock.Anything, mock.Anything)
	crm.AssertNotCalled(t, "CreateNote", mock.Anything, mock.Anything)
}

func TestEnrich_WriteFailuresDoNotStopLaterWrites(t *testing.T) {
	crm := new(mockCRM)
	ai := new(mockLLM)
	crm.On("SearchOrganizations", mock.Anything, "Acme Co").Return([]pipedrive.OrganizationMatch{{ID: 42}}, nil)
	ai.On("Complete", mock.Anything, mock.Anything).Return(acmeResponse, nil)
	crm.On("OrganizationFields", mock.Anything).Return(industryFields(), nil)
	crm.On("UpdateOrganization", mock.Anything, int64(42), mock.Anything).Return(errors.New("422 invalid field"))
	crm.On("CreateNote", mock.Anything, mock.MatchedBy(func(n pipedrive.Note) bool {
		return n.Content == "Summary:\nBuilds geothermal plants."
	})).Return(0, errors.New("503"))
	crm.On("CreateNote", mock.Anything, mock.Anything).Return(7, nil)

	res, err := newTestPipeline(crm, ai).Enrich(context.Background(), "Acme Co", "")
	require.NoError(t, err)

	assert.False(t, res.FieldsUpdated)
	assert.False(t, res.SummaryNoteWritten)
	assert.True(t, res.FallbackNoteWritten)
	require.Len(t, res.WriteErrors, 2)
	assert.Contains(t, res.WriteErrors[0], "update organization")
	assert.Contains(t, res.WriteErrors[1], "summary note")
	crm.AssertNumberOfCalls(t, "UpdateOrganization", 1)
	crm.AssertNumberOfCalls(t, "CreateNote", 2)
}

func TestEnrich_TwiceWritesTwoSummaryNotes(t *testing.T) {
	crm := new(mockCRM)
	ai := new(mockLLM)
	crm.On("SearchOrganizations", mock.Anything, "Acme Co").Return([]pipedrive.OrganizationMatch{{ID: 42}}, nil)
	ai.On("Complete", mock.Anything, mock.Anything).Return(acmeResponse, nil)
	crm.On("OrganizationFields", mock.Anything).
		Return(industryFields(model.EnumerationOption{ID: "9", Label: "Renewables"}), nil)
	crm.On("UpdateOrganization", mock.Anything, int64(42), mock.Anything).Return(nil)
	crm.On("CreateNote", mock.Anything, mock.Anything).Return(1, nil)

	p := newTestPipeline(crm, ai)
	for range 2 {
		_, err := p.Enrich(context.Background(), "Acme Co", "")
		require.NoError(t, err)
	}

	// Notes are not deduplicated across runs.
	summary := pipedrive.Note{OrganizationID: 42, Content: "Summary:\nBuilds geothermal plants."}
	calls := 0
	for _, c := range crm.Calls {
		if c.Method == "CreateNote" && c.Arguments.Get(1) == summary {
			calls++
		}
	}
	assert.Equal(t, 2, calls)
}

func TestEnrichEvent_IDMismatchWarns(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	crm := new(mockCRM)
	ai := new(mockLLM)
	crm.On("SearchOrganizations", mock.Anything, "Acme Co").Return([]pipedrive.OrganizationMatch{{ID: 42}}, nil)
	ai.On("Complete", mock.Anything, mock.Anything).Return(acmeResponse, nil)
	crm.On("OrganizationFields", mock.Anything).
		Return(industryFields(model.EnumerationOption{ID: "9", Label: "Renewables"}), nil)
	crm.On("UpdateOrganization", mock.Anything, int64(42), mock.Anything).Return(nil)
	crm.On("CreateNote", mock.Anything, mock.Anything).Return(1, nil)

	ev := &model.WebhookEvent{
		Data: map[string]any{"id": float64(77), "name": "Acme Co", "address": "Reykjavik"},
		Meta: map[string]any{"entity": "organization", "action": "create"},
	}
	p := New(crm, ai, mapping.DefaultTable("", 0), testOptions(), zap.New(core))
	res, err := p.EnrichEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, int64(42), res.OrganizationID)
	assert.Equal(t, 1, logs.FilterMessage("pipeline: search hit differs from event organization").Len())
	crm.AssertNotCalled(t, "UpdateOrganization", mock.Anything, int64(77), mock.Anything)
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("Acme Co", "Reykjavik, Iceland", 0.5, 1024)
	assert.NotEmpty(t, p.System)
	assert.Equal(t, 0.5, p.Temperature)
	assert.Equal(t, 1024, p.MaxTokens)
	assert.Contains(t, p.User, `"Acme Co" located in Reykjavik, Iceland`)
	for _, key := range model.ProfileKeys {
		assert.Contains(t, p.User, key)
	}
	assert.Contains(t, p.User, "valid JSON")

	p = BuildPrompt("Acme Co", "", 0.2, 10)
	assert.NotContains(t, p.User, "located in")
}
