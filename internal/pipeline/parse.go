package pipeline

import (
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/sells-group/org-enricher/internal/model"
)

// ParseProfile extracts the profile object from a model completion. The
// object is the span from the first '{' to the last '}', so prose and code
// fences around it are ignored. Two separate objects in one response make
// the span invalid JSON.
func ParseProfile(text string) (model.StructuredProfile, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return model.StructuredProfile{}, &ParseError{Reason: "no JSON object found", Raw: text}
	}
	span := text[start : end+1]

	dec := json.NewDecoder(strings.NewReader(span))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return model.StructuredProfile{}, &ParseError{Reason: "invalid JSON", Raw: text, Err: err}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return model.StructuredProfile{}, &ParseError{Reason: "unexpected data after JSON object", Raw: text, Err: err}
	}

	industry, present := obj[model.KeyIndustry]
	_, isString := industry.(string)

	return model.StructuredProfile{
		IndustryNotString:  present && industry != nil && !isString,
		Industry:           stringify(obj[model.KeyIndustry]),
		Location:           stringify(obj[model.KeyLocation]),
		Employees:          stringify(obj[model.KeyEmployees]),
		Website:            stringify(obj[model.KeyWebsite]),
		LinkedInURL:        stringify(obj[model.KeyLinkedIn]),
		Summary:            stringify(obj[model.KeySummary]),
		GeothermalActivity: stringify(obj[model.KeyGeothermalActivity]),
	}, nil
}

// stringify renders a decoded JSON value as field text.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := stringify(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
