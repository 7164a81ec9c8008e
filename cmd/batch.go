package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/invoice-cli/internal/model"
	"github.com/sells-group/invoice-cli/internal/pipeline"
	"github.com/sells-group/invoice-cli/internal/store"
)

// -- submit --

var submitCmd = &cobra.Command{
	Use:   "submit <name> <file-or-dir>...",
	Short: "Register a batch of invoice files",
	Long:  "Registers a named batch of invoice documents for one vendor. Directories contribute their .pdf and .txt files. With --run the batch is processed immediately.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		files, err := collectFiles(args[1:])
		if err != nil {
			return err
		}

		vendorID, _ := cmd.Flags().GetString("vendor")
		templateID, _ := cmd.Flags().GetString("template")
		b, err := env.Orch.Submit(ctx, pipeline.SubmitRequest{
			Name:       args[0],
			VendorID:   vendorID,
			TemplateID: templateID,
			Files:      files,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Submitted batch %s (%s): %d documents\n", b.Name, b.ID, b.TotalFiles)

		if run, _ := cmd.Flags().GetBool("run"); !run {
			return nil
		}
		return runWithProgress(ctx, env, func(ctx context.Context) (*pipeline.Report, error) {
			return env.Orch.Run(ctx, b.ID)
		})
	},
}

// -- run --

var runCmd = &cobra.Command{
	Use:   "run <batch>",
	Short: "Process the pending documents of a batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		b, err := resolveBatch(ctx, env.Store, args[0])
		if err != nil {
			return err
		}
		return runWithProgress(ctx, env, func(ctx context.Context) (*pipeline.Report, error) {
			return env.Orch.Run(ctx, b.ID)
		})
	},
}

// -- retry --

var retryCmd = &cobra.Command{
	Use:   "retry <batch> [document-id...]",
	Short: "Re-run failed documents of a batch",
	Long:  "Resets failed documents (all, or only the given ids) to pending and processes them again. Completed documents are left alone.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		b, err := resolveBatch(ctx, env.Store, args[0])
		if err != nil {
			return err
		}
		return runWithProgress(ctx, env, func(ctx context.Context) (*pipeline.Report, error) {
			return env.Orch.Retry(ctx, b.ID, args[1:]...)
		})
	},
}

// -- cancel --

var cancelCmd = &cobra.Command{
	Use:   "cancel <batch>",
	Short: "Cancel a batch before its next chunk",
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
		if err := env.Orch.Cancel(ctx, b.ID); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Cancellation requested for batch %s\n", b.Name)
		return nil
	},
}

// -- status --

var statusCmd = &cobra.Command{
	Use:   "status [batch]",
	Short: "List batches or show one batch in detail",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		asJSON, _ := cmd.Flags().GetBool("json")

		if len(args) == 0 {
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")
			batches, err := env.Store.ListBatches(ctx, store.BatchFilter{
				Status: model.BatchStatus(status),
				Limit:  limit,
			})
			if err != nil {
				return eris.Wrap(err, "status")
			}
			if asJSON {
				return writeJSON(os.Stdout, batches)
			}
			if len(batches) == 0 {
				fmt.Fprintln(os.Stderr, "No batches found.")
				return nil
			}
			formatBatchList(os.Stdout, batches)
			return nil
		}

		b, err := resolveBatch(ctx, env.Store, args[0])
		if err != nil {
			return err
		}
		report, err := env.Orch.Report(ctx, b.ID)
		if err != nil {
			return err
		}
		docs, err := env.Store.ListDocuments(ctx, b.ID)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		if asJSON {
			return writeJSON(os.Stdout, map[string]any{
				"report":    report,
				"documents": docs,
			})
		}
		formatReport(os.Stdout, report)
		formatDocuments(os.Stdout, docs)
		return nil
	},
}

// runWithProgress drives fn with a progress bar on stderr and prints the
// resulting report.
func runWithProgress(ctx context.Context, env *pipelineEnv, fn func(context.Context) (*pipeline.Report, error)) error {
	env.Orch.OnProgress(newProgressReporter(os.Stderr).update)
	report, err := fn(ctx)
	if err != nil {
		if eris.Is(err, pipeline.ErrInterrupted) {
			fmt.Fprintln(os.Stderr, "Interrupted; unstarted documents remain pending. Resume with: invoice-cli run <batch>")
		}
		return err
	}
	formatReport(os.Stdout, report)
	return nil
}

// resolveBatch looks a batch up by id, then by name.
func resolveBatch(ctx context.Context, st store.Store, ref string) (*model.Batch, error) {
	b, err := st.GetBatch(ctx, ref)
	if err == nil {
		return b, nil
	}
	if !store.IsNotFound(err) {
		return nil, eris.Wrapf(err, "load batch %s", ref)
	}
	b, err = st.GetBatchByName(ctx, ref)
	if err != nil {
		return nil, eris.Wrapf(err, "load batch %s", ref)
	}
	return b, nil
}

// collectFiles expands directories into their invoice files, sorted by name.
func collectFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, eris.Wrapf(err, "stat %s", arg)
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, eris.Wrapf(err, "read dir %s", arg)
		}
		var found []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".pdf", ".txt":
				found = append(found, filepath.Join(arg, e.Name()))
			}
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatBatchList(w io.Writer, batches []model.Batch) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tVENDOR\tSTATUS\tDONE\tFAILED\tTOTAL\tCREATED")
	for _, b := range batches {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			b.ID, b.Name, b.VendorID, b.Status,
			b.ProcessedFiles, b.FailedFiles, b.TotalFiles,
			b.CreatedAt.Format(time.DateTime),
		)
	}
	_ = tw.Flush()
}

func formatReport(w io.Writer, r *pipeline.Report) {
	b := r.Batch
	fmt.Fprintf(w, "Batch:      %s (%s)\n", b.Name, b.ID)
	fmt.Fprintf(w, "Vendor:     %s\n", b.VendorID)
	fmt.Fprintf(w, "Status:     %s\n", b.Status)
	if b.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", b.Error)
	}
	fmt.Fprintf(w, "Progress:   %d processed, %d failed of %d (%.0f%%)\n",
		b.ProcessedFiles, b.FailedFiles, b.TotalFiles, b.Percent())
	v := r.Validation
	fmt.Fprintf(w, "Validation: %d pass, %d warning, %d fail (%d documents with issues)\n",
		v.Pass, v.Warning, v.Fail, v.DocumentsWithIssues)
	fmt.Fprintf(w, "Alerts:     %d\n", len(r.Alerts))
	for _, a := range r.Alerts {
		fmt.Fprintf(w, "  [%s] %s: %s\n", a.Severity, a.Type, a.Message)
	}
}

func formatDocuments(w io.Writer, docs []model.Document) {
	if len(docs) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tFILE\tSTATUS\tPAGES\tERROR")
	for _, d := range docs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", d.ID, d.Filename, d.Status, d.PageCount, d.Error)
	}
	_ = tw.Flush()
}

func init() {
	submitCmd.Flags().String("vendor", "", "vendor profile id (see 'invoice-cli vendors')")
	submitCmd.Flags().String("template", "", "saved template id or name")
	submitCmd.Flags().Bool("run", false, "process the batch right after submitting")
	_ = submitCmd.MarkFlagRequired("vendor")

	statusCmd.Flags().String("status", "", "filter batches by status")
	statusCmd.Flags().Int("limit", 50, "max batches to list")
	statusCmd.Flags().Bool("json", false, "print JSON")

	rootCmd.AddCommand(submitCmd, runCmd, retryCmd, cancelCmd, statusCmd)
}
