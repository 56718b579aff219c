package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/org-enricher/internal/dispatch"
	"github.com/sells-group/org-enricher/internal/llm"
	"github.com/sells-group/org-enricher/internal/mapping"
	"github.com/sells-group/org-enricher/internal/model"
	"github.com/sells-group/org-enricher/internal/pipeline"
	"github.com/sells-group/org-enricher/internal/resilience"
	"github.com/sells-group/org-enricher/pkg/pipedrive"
)

// pipelineEnv holds the clients and the Pipeline needed by the enrich
// command and the in-process worker.
type pipelineEnv struct {
	CRM      pipedrive.Client
	Model    llm.Client
	Table    mapping.Table
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the model client.
func (pe *pipelineEnv) Close() {
	if c, ok := pe.Model.(io.Closer); ok {
		_ = c.Close()
	}
}

// initPipedrive builds the CRM client from config.
func initPipedrive() pipedrive.Client {
	p := cfg.Pipedrive
	policy := resilience.PolicyFromConfig(p.Retry.MaxAttempts, p.Retry.InitialBackoffMs, p.Retry.MaxBackoffMs)
	policy.Logger = logger
	return pipedrive.NewClient(p.Key,
		pipedrive.WithBaseURL(p.BaseURL),
		pipedrive.WithTimeout(p.Timeout()),
		pipedrive.WithRateLimit(p.RateLimit),
		pipedrive.WithRetryPolicy(policy),
		pipedrive.WithLogger(logger),
	)
}

// loadTable returns the mapping table from mapping.table_path, or the
// built-in table when no path is set.
func loadTable() (mapping.Table, error) {
	if cfg.Mapping.TablePath == "" {
		return mapping.DefaultTable(cfg.Pipedrive.NarrativeFieldKey, cfg.Pipedrive.VisibleTo), nil
	}
	t, err := mapping.LoadTable(cfg.Mapping.TablePath)
	if err != nil {
		return mapping.Table{}, eris.Wrap(err, "load mapping table")
	}
	return t, nil
}

// fieldKeys lists every organization field key known to the CRM.
func fieldKeys(ctx context.Context, crm pipedrive.Client) ([]string, error) {
	fields, err := crm.OrganizationFields(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "fetch organization fields")
	}
	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, f.Key)
	}
	return keys, nil
}

// validateMapping checks that every mapping target exists in the CRM.
func validateMapping(ctx context.Context, crm pipedrive.Client, table mapping.Table) error {
	keys, err := fieldKeys(ctx, crm)
	if err != nil {
		return err
	}
	return table.ValidateAgainst(keys)
}

// initPipeline validates config for mode, builds all clients and the
// Pipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	table, err := loadTable()
	if err != nil {
		return nil, err
	}

	modelClient, err := llm.New(ctx, cfg.LLM.ClientConfig(), logger)
	if err != nil {
		return nil, eris.Wrap(err, "init llm client")
	}

	crm := initPipedrive()
	p := pipeline.New(crm, modelClient, table, pipeline.Options{
		Temperature:      cfg.LLM.Temperature,
		MaxTokens:        cfg.LLM.MaxTokens,
		IndustryFieldKey: cfg.Pipedrive.IndustryFieldKey,
	}, logger)

	logger.Debug("pipeline initialized",
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", cfg.LLM.ClientConfig().ModelName()),
		zap.Int("mapping_rows", len(table.Rows)),
	)

	return &pipelineEnv{CRM: crm, Model: modelClient, Table: table, Pipeline: p}, nil
}

// enrichFromArtifact runs the pipeline on a transfer artifact written by
// the gateway.
func enrichFromArtifact(ctx context.Context, p *pipeline.Pipeline, path string) (*model.Result, error) {
	ev, err := dispatch.ReadArtifact(path)
	if err != nil {
		return nil, err
	}
	return p.EnrichEvent(ctx, ev)
}

// inProcessWorker runs enrichments on goroutines of the server process.
func inProcessWorker(p *pipeline.Pipeline) dispatch.FuncWorker {
	return func(ctx context.Context, path string) (string, error) {
		res, err := enrichFromArtifact(ctx, p, path)
		if err != nil {
			return "", err
		}
		out, err := json.Marshal(res)
		if err != nil {
			return "", eris.Wrap(err, "encode result")
		}
		return string(out), nil
	}
}
