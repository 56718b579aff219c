package pipeline

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/sells-group/org-enricher/pkg/pipedrive"
)

// DefaultIndustryFieldKey is the organization field holding the industry
// enumeration.
const DefaultIndustryFieldKey = "industry"

// FieldLister reads the CRM organization field definitions.
type FieldLister interface {
	OrganizationFields(ctx context.Context) ([]pipedrive.Field, error)
}

// Resolver maps a free-text label onto an enumeration option id.
type Resolver struct {
	fields   FieldLister
	fieldKey string
	log      *zap.Logger
}

// NewResolver creates a Resolver for the enumeration field fieldKey.
func NewResolver(fields FieldLister, fieldKey string, log *zap.Logger) *Resolver {
	if fieldKey == "" {
		fieldKey = DefaultIndustryFieldKey
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{fields: fields, fieldKey: fieldKey, log: log}
}

// Resolve returns the id of the first option whose label equals label under
// Unicode case folding. Options are fetched on every call. A blank label is
// a miss without any CRM call.
func (r *Resolver) Resolve(ctx context.Context, label string) (string, bool, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		r.log.Warn("resolver: blank label, skipping lookup", zap.String("field", r.fieldKey))
		return "", false, nil
	}

	fields, err := r.fields.OrganizationFields(ctx)
	if err != nil {
		return "", false, eris.Wrap(err, "resolver: fetch organization fields")
	}

	fold := cases.Fold()
	want := fold.String(label)
	for _, f := range fields {
		if f.Key != r.fieldKey {
			continue
		}
		for _, opt := range f.Options {
			if fold.String(opt.Label) == want {
				return string(opt.ID), true, nil
			}
		}
		r.log.Info("resolver: label not among options",
			zap.String("field", r.fieldKey),
			zap.String("label", label),
			zap.Int("options", len(f.Options)),
		)
		return "", false, nil
	}

	r.log.Warn("resolver: enumeration field not found", zap.String("field", r.fieldKey))
	return "", false, nil
}
