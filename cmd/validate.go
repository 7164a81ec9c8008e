package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <batch>",
	Short: "Re-run validation rules over a batch's stored records",
	Long:  "Validates every stored record of the batch, corrections applied, against the current rule set and replaces the stored results.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		b, err := resolveBatch(ctx, env.Store, args[0])
		if err != nil {
			return err
		}
		summary, err := env.Orch.Revalidate(ctx, b.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Batch %s: %d pass, %d warning, %d fail (%d documents with issues)\n",
			b.Name, summary.Pass, summary.Warning, summary.Fail, summary.DocumentsWithIssues)
		return nil
	},
}

var correctCmd = &cobra.Command{
	Use:   "correct <record-id>",
	Short: "Record a manual correction of one extracted field",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		field, _ := cmd.Flags().GetString("field")
		value, _ := cmd.Flags().GetString("value")
		reason, _ := cmd.Flags().GetString("reason")
		if field == "" {
			return eris.New("--field is required")
		}

		env, err := initPipeline(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.Orch.Correct(ctx, args[0], field, value, reason)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Corrected %s: %q -> %q\n", c.Field, c.OldValue, c.NewValue)
		return nil
	},
}

func init() {
	correctCmd.Flags().String("field", "", "canonical field name")
	correctCmd.Flags().String("value", "", "new value; empty clears the field")
	correctCmd.Flags().String("reason", "", "why the value was corrected")

	rootCmd.AddCommand(validateCmd, correctCmd)
}
