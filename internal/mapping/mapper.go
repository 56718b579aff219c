package mapping

import (
	"strings"

	"github.com/sells-group/org-enricher/internal/model"
)

// Map builds the full update payload for a profile. Every row and constant
// is always present in the result.
func (t Table) Map(p model.StructuredProfile) model.UpdatePayload {
	out := make(model.UpdatePayload, len(t.Rows)+len(t.Constants))
	for _, r := range t.Rows {
		v, _ := p.Get(r.Source)
		out[r.Target] = apply(r.Transform, v)
	}
	for k, v := range t.Constants {
		out[k] = v
	}
	return out
}

func apply(transform, v string) string {
	switch transform {
	case TransformTrim:
		return strings.TrimSpace(v)
	case TransformEmployeeCount:
		return NormalizeEmployeeCount(v)
	default:
		return v
	}
}

// NormalizeEmployeeCount strips thousands separators. Anything that is not
// then a plain run of digits becomes "0".
func NormalizeEmployeeCount(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch r {
		case ',', ' ', '_', '\u00a0', '\u202f':
			continue
		}
		if r < '0' || r > '9' {
			return "0"
		}
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return "0"
	}
	return b.String()
}
