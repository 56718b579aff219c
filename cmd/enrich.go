package main

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/org-enricher/internal/config"
	"github.com/sells-group/org-enricher/internal/model"
)

var (
	enrichEvent    string
	enrichName     string
	enrichLocation string
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich one organization and print the result as JSON",
	Long: "Runs one enrichment. With --event it reads a webhook artifact (this is how the " +
		"server's worker processes are started); otherwise --name and --location are used directly. " +
		"The result goes to stdout, logs go to stderr.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if enrichEvent == "" && enrichName == "" {
			return eris.New("enrich: --event or --name is required")
		}

		ctx := cmd.Context()
		env, err := initPipeline(ctx, config.ModeEnrich)
		if err != nil {
			return err
		}
		defer env.Close()

		var res *model.Result
		if enrichEvent != "" {
			res, err = enrichFromArtifact(ctx, env.Pipeline, enrichEvent)
		} else {
			res, err = env.Pipeline.Enrich(ctx, enrichName, enrichLocation)
		}
		if err != nil {
			return err
		}

		logger.Info("enrichment complete",
			zap.Int64("org_id", res.OrganizationID),
			zap.Bool("industry_resolved", res.IndustryResolved),
			zap.Int("write_errors", len(res.WriteErrors)),
		)
		return writeResult(cmd.OutOrStdout(), res)
	},
}

func writeResult(w io.Writer, res *model.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(res), "enrich: write result")
}

func init() {
	enrichCmd.Flags().StringVar(&enrichEvent, "event", "", "path to a webhook event artifact")
	enrichCmd.Flags().StringVar(&enrichName, "name", "", "organization name to search for")
	enrichCmd.Flags().StringVar(&enrichLocation, "location", "", "organization location hint")
	enrichCmd.MarkFlagsMutuallyExclusive("event", "name")
	rootCmd.AddCommand(enrichCmd)
}
