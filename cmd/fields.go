package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/org-enricher/internal/config"
	"github.com/sells-group/org-enricher/pkg/pipedrive"
)

var fieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "List Pipedrive organization fields and check the mapping table",
	Long: "Prints every organization field key with its type and enumeration options, " +
		"then verifies that each mapping target exists among them.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(config.ModeFields); err != nil {
			return err
		}

		table, err := loadTable()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		fields, err := initPipedrive().OrganizationFields(ctx)
		if err != nil {
			return err
		}
		if err := printFields(cmd.OutOrStdout(), fields); err != nil {
			return err
		}

		keys := make([]string, 0, len(fields))
		for _, f := range fields {
			keys = append(keys, f.Key)
		}
		if err := table.ValidateAgainst(keys); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\nmapping ok: %d targets present\n", len(table.Targets()))
		return nil
	},
}

func printFields(w io.Writer, fields []pipedrive.Field) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tNAME\tTYPE\tOPTIONS")
	for _, f := range fields {
		opts := make([]string, 0, len(f.Options))
		for _, o := range f.Options {
			opts = append(opts, string(o.ID)+"="+o.Label)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Key, f.Name, f.FieldType, strings.Join(opts, ", "))
	}
	return tw.Flush()
}

func init() {
	rootCmd.AddCommand(fieldsCmd)
}
