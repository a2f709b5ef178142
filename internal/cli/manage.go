package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/veranemoloko/era5-downloader/internal/service"
)

func init() {
	statusCmd.Flags().BoolVar(&statusDetails, "details", false, "List every task")
	rootCmd.AddCommand(retryCmd, statusCmd, verifyCmd, cleanCmd, usageCmd, exportCmd)
}

var statusDetails bool

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Download again every task recorded as failed",
	RunE:  runRetry,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show how many tasks completed and failed",
	RunE:  runStatus,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Re-verify completed files; invalid ones are deleted and marked failed",
	RunE:  runVerify,
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove leftovers from the temp directory",
	RunE:  runClean,
}

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Report disk usage of downloaded files",
	RunE:  runUsage,
}

var exportCmd = &cobra.Command{
	Use:   "export [FILE]",
	Short: "Write the list of downloaded files",
	Long: `Write every completed task with its variables, file, timestamp, period
and area to FILE (default: downloaded_files.txt in the output directory).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExport,
}

func runRetry(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.CredentialsErr != nil {
		return fmt.Errorf("%w (run 'era5ctl credentials' for details)", a.CredentialsErr)
	}

	failed := a.Store.GetFailed()
	if len(failed) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No failed tasks.")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Retrying %d failed task(s)...\n", len(failed))

	res := a.Orchestrator.RetryFailed(ctx)
	printResult(cmd.OutOrStdout(), res)
	return failedErr(ctx, res)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	sum := a.Orchestrator.Status()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Total:     %d\n", sum.Total)
	fmt.Fprintf(out, "Completed: %d\n", sum.Completed)
	fmt.Fprintf(out, "Failed:    %d\n", sum.Failed)

	if !statusDetails || sum.Total == 0 {
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nTASK\tSTATUS\tUPDATED\tDETAIL")
	for _, rec := range sum.Records {
		detail := rec.OutputPath
		if rec.Error != "" {
			detail = rec.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			rec.TaskID,
			rec.Status,
			rec.Timestamp.Format("2006-01-02 15:04"),
			detail,
		)
	}
	return w.Flush()
}

func runVerify(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Orchestrator.VerifyCompleted()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Checked %d completed file(s): %d valid, %d invalid\n", res.Checked, res.Valid, len(res.Invalid))
	for _, f := range res.Invalid {
		fmt.Fprintf(out, "  - %s: %s\n", f.TaskID, f.Error)
	}
	if len(res.Invalid) > 0 {
		fmt.Fprintln(out, "Invalid files were deleted; run 'era5ctl retry' to download them again.")
	}
	return nil
}

func runClean(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	files, freed, err := a.Files.CleanTemp()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed %d temporary file(s), freed %s\n", files, humanSize(freed))
	return nil
}

func runUsage(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	u, err := a.Files.DiskUsage()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Files:   %d\n", u.Files)
	fmt.Fprintf(out, "Total:   %s\n", humanSize(u.Total))
	fmt.Fprintf(out, "Average: %s\n", humanSize(u.Average))
	if len(u.Largest) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nLARGEST\tSIZE")
	for _, f := range u.Largest {
		fmt.Fprintf(w, "%s\t%s\n", f.Name, humanSize(f.Size))
	}
	return w.Flush()
}

func runExport(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if len(a.Store.Completed()) == 0 {
		fmt.Fprintln(out, "No completed downloads.")
		return nil
	}

	path := filepath.Join(a.Config.OutputDir, service.FileListName)
	if len(args) == 1 {
		path = args[0]
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	n, err := a.Orchestrator.ExportFileList(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Exported %d file(s) to %s\n", n, path)
	return nil
}
