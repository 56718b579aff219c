package pipeline

import (
	"fmt"
	"unicode/utf8"
)

// maxRawInError bounds how much of a model response is echoed in errors.
const maxRawInError = 500

// LookupError means the organization named in the event does not exist in
// the CRM. Nothing is written.
type LookupError struct {
	CompanyName string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("pipeline: no organization found in Pipedrive with name %q", e.CompanyName)
}

// ParseError means no structured profile could be extracted from the model
// response. Nothing is written.
type ParseError struct {
	Reason string
	Raw    string
	Err    error
}

func (e *ParseError) Error() string {
	raw := e.Raw
	if len(raw) > maxRawInError {
		cut := maxRawInError
		for cut > 0 && !utf8.RuneStart(raw[cut]) {
			cut--
		}
		raw = raw[:cut] + "..."
	}
	msg := "pipeline: parse model response: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg + "\nraw response: " + raw
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
