package model

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Profile JSON keys requested from the model.
const (
	KeyIndustry           = "industry"
	KeyLocation           = "location"
	KeyEmployees          = "estimated_number_of_employees"
	KeyWebsite            = "website"
	KeyLinkedIn           = "linkedin_profile_url"
	KeySummary            = "summary_of_what_they_do"
	KeyGeothermalActivity = "geothermal_activity"
)

// ProfileKeys lists every StructuredProfile key in prompt order.
var ProfileKeys = []string{
	KeyIndustry,
	KeyLocation,
	KeyEmployees,
	KeyWebsite,
	KeyLinkedIn,
	KeySummary,
	KeyGeothermalActivity,
}

// StructuredProfile is the record extracted from the model's answer. Every
// field is present; missing values are empty strings.
type StructuredProfile struct {
	Industry           string `json:"industry"`
	Location           string `json:"location"`
	Employees          string `json:"estimated_number_of_employees"`
	Website            string `json:"website"`
	LinkedInURL        string `json:"linkedin_profile_url"`
	Summary            string `json:"summary_of_what_they_do"`
	GeothermalActivity string `json:"geothermal_activity"`

	// IndustryNotString is set when the model sent a non-string industry
	// value (number, array, object). Such a label is never looked up.
	IndustryNotString bool `json:"-"`
}

// Get returns the profile value for a JSON key.
func (p StructuredProfile) Get(key string) (string, bool) {
	switch key {
	case KeyIndustry:
		return p.Industry, true
	case KeyLocation:
		return p.Location, true
	case KeyEmployees:
		return p.Employees, true
	case KeyWebsite:
		return p.Website, true
	case KeyLinkedIn:
		return p.LinkedInURL, true
	case KeySummary:
		return p.Summary, true
	case KeyGeothermalActivity:
		return p.GeothermalActivity, true
	default:
		return "", false
	}
}

// IsProfileKey reports whether key names a StructuredProfile field.
func IsProfileKey(key string) bool {
	_, ok := StructuredProfile{}.Get(key)
	return ok
}

// EnumerationOption is one (id, label) pair of a CRM enumeration field.
type EnumerationOption struct {
	ID    OptionID `json:"id"`
	Label string   `json:"label"`
}

// OptionID is an enumeration option identifier. Pipedrive returns numbers,
// other sources return strings; both decode to the same string form.
type OptionID string

// UnmarshalJSON accepts a JSON string or number.
func (o *OptionID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*o = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*o = OptionID(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*o = OptionID(n.String())
	return nil
}

// UpdatePayload is the CRM field map written to the organization record.
type UpdatePayload map[string]any

// FallbackNote records a value that could not be written as a field.
type FallbackNote struct {
	OrganizationID int64  `json:"organization_id"`
	Content        string `json:"content"`
}

// Result is the outcome of one enrichment run. The worker prints it as JSON.
type Result struct {
	OrganizationID      int64             `json:"organization_id"`
	CompanyName         string            `json:"company_name"`
	Profile             StructuredProfile `json:"profile"`
	IndustryLabel       string            `json:"industry_label"`
	IndustryResolved    bool              `json:"industry_resolved"`
	Applied             UpdatePayload     `json:"applied_payload"`
	FieldsUpdated       bool              `json:"fields_updated"`
	SummaryNoteWritten  bool              `json:"summary_note_written"`
	FallbackNote        *FallbackNote     `json:"fallback_note,omitempty"`
	FallbackNoteWritten bool              `json:"fallback_note_written"`
	WriteErrors         []string          `json:"write_errors,omitempty"`
}

// FormatID renders an organization id for logs and URLs.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
