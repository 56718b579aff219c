// Package pipeline enriches one CRM organization: search, model call, parse,
// industry resolution, mapping and write-back.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/org-enricher/internal/llm"
	"github.com/sells-group/org-enricher/internal/mapping"
	"github.com/sells-group/org-enricher/internal/model"
	"github.com/sells-group/org-enricher/pkg/pipedrive"
)

// Options holds the sampling parameters and CRM field keys.
type Options struct {
	Temperature      float64
	MaxTokens        int
	IndustryFieldKey string
}

// Pipeline runs the enrichment for one organization at a time. It holds no
// state between runs.
type Pipeline struct {
	crm      pipedrive.Client
	model    llm.Client
	table    mapping.Table
	resolver *Resolver
	opts     Options
	log      *zap.Logger
}

// New creates a Pipeline.
func New(crm pipedrive.Client, modelClient llm.Client, table mapping.Table, opts Options, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		crm:      crm,
		model:    modelClient,
		table:    table,
		resolver: NewResolver(crm, opts.IndustryFieldKey, log),
		opts:     opts,
		log:      log,
	}
}

// EnrichEvent runs Enrich for the organization named in a webhook event.
// The search hit decides which record is written; a differing data.id is
// only logged.
func (p *Pipeline) EnrichEvent(ctx context.Context, ev *model.WebhookEvent) (*model.Result, error) {
	res, err := p.Enrich(ctx, ev.CompanyName(), ev.Location())
	if err != nil {
		return nil, err
	}
	if eventID, idErr := ev.OrganizationID(); idErr == nil && eventID != res.OrganizationID {
		p.log.Warn("pipeline: search hit differs from event organization",
			zap.Int64("event_org_id", eventID),
			zap.Int64("search_org_id", res.OrganizationID),
		)
	}
	return res, nil
}

// Enrich looks up the organization by name, asks the model for a profile and
// writes the mapped fields and notes back. Lookup, model and parse failures
// abort before any write. Write failures are collected in Result.WriteErrors
// and do not stop later writes.
func (p *Pipeline) Enrich(ctx context.Context, companyName, location string) (*model.Result, error) {
	companyName = strings.TrimSpace(companyName)
	log := p.log.With(zap.String("company", companyName))
	log.Info("pipeline: starting enrichment", zap.String("location", location))

	if companyName == "" {
		return nil, &LookupError{CompanyName: companyName}
	}

	// Step 1: organization lookup. First hit wins.
	matches, err := p.crm.SearchOrganizations(ctx, companyName)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: search organization")
	}
	if len(matches) == 0 {
		return nil, &LookupError{CompanyName: companyName}
	}
	orgID := matches[0].ID
	log = log.With(zap.Int64("org_id", orgID))
	log.Debug("pipeline: organization found", zap.String("match", matches[0].Name), zap.Int("candidates", len(matches)))

	res := &model.Result{OrganizationID: orgID, CompanyName: companyName}

	// Steps 2-4: prompt, single model call, parse.
	text, err := p.model.Complete(ctx, BuildPrompt(companyName, location, p.opts.Temperature, p.opts.MaxTokens))
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: model call")
	}
	profile, err := ParseProfile(text)
	if err != nil {
		return nil, err
	}
	res.Profile = profile
	res.IndustryLabel = strings.TrimSpace(profile.Industry)

	// Step 5: industry resolution. A miss degrades the payload and queues a note.
	mapped := profile
	var (
		id    string
		found bool
	)
	if profile.IndustryNotString {
		log.Warn("pipeline: industry is not a string, skipping lookup", zap.String("label", res.IndustryLabel))
	} else {
		id, found, err = p.resolver.Resolve(ctx, profile.Industry)
		if err != nil {
			log.Warn("pipeline: industry lookup failed, treating as unresolved", zap.Error(err))
		}
	}
	if found {
		mapped.Industry = id
		res.IndustryResolved = true
	} else {
		mapped.Industry = ""
		res.FallbackNote = &model.FallbackNote{
			OrganizationID: orgID,
			Content:        fallbackContent(res.IndustryLabel),
		}
	}

	// Steps 6-7: normalization and mapping.
	mapped.Employees = mapping.NormalizeEmployeeCount(profile.Employees)
	res.Applied = p.table.Map(mapped)

	// Step 8: writes, each independent of the others.
	if err := p.crm.UpdateOrganization(ctx, orgID, res.Applied); err != nil {
		p.writeFailed(log, res, "update organization", err)
	} else {
		res.FieldsUpdated = true
	}

	summary := pipedrive.Note{OrganizationID: orgID, Content: "Summary:\n" + profile.Summary}
	if _, err := p.crm.CreateNote(ctx, summary); err != nil {
		p.writeFailed(log, res, "summary note", err)
	} else {
		res.SummaryNoteWritten = true
	}

	if res.FallbackNote != nil {
		note := pipedrive.Note{OrganizationID: orgID, Content: res.FallbackNote.Content}
		if _, err := p.crm.CreateNote(ctx, note); err != nil {
			p.writeFailed(log, res, "fallback note", err)
		} else {
			res.FallbackNoteWritten = true
		}
	}

	log.Info("pipeline: enrichment complete",
		zap.Bool("industry_resolved", res.IndustryResolved),
		zap.Bool("fields_updated", res.FieldsUpdated),
		zap.Int("write_errors", len(res.WriteErrors)),
	)
	return res, nil
}

func (p *Pipeline) writeFailed(log *zap.Logger, res *model.Result, what string, err error) {
	log.Error("pipeline: write failed", zap.String("write", what), zap.Error(err))
	res.WriteErrors = append(res.WriteErrors, what+": "+err.Error())
}

func fallbackContent(label string) string {
	return fmt.Sprintf("Unable to set 'Industry' field: '%s' not found in Pipedrive dropdown options.", label)
}
