package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/veranemoloko/era5-downloader/internal/domain"
	"github.com/veranemoloko/era5-downloader/internal/service"
)

func init() {
	f := downloadCmd.Flags()
	f.StringSliceVarP(&downloadFlags.variables, "variables", "v", nil, "Variables to download, e.g. 2m_temperature,total_precipitation")
	f.StringVar(&downloadFlags.start, "start", "", "First day, YYYY-MM-DD")
	f.StringVar(&downloadFlags.end, "end", "", "Last day, YYYY-MM-DD")
	f.Float64SliceVar(&downloadFlags.area, "area", nil, "Region as N,W,S,E (default global)")
	f.StringSliceVar(&downloadFlags.hours, "hours", nil, "Hours as HH:MM (default all 24)")
	f.StringVar(&downloadFlags.split, "split", "", "Split by month or year (overrides ERA5_SPLIT_BY)")
	f.BoolVar(&downloadFlags.merge, "merge", false, "Merge the task files into one along time")
	f.StringVar(&downloadFlags.mergedName, "merged-name", "", "Merged file name (default ERA5_Land_merged_<start>_<end>.nc)")
	_ = downloadCmd.MarkFlagRequired("variables")
	_ = downloadCmd.MarkFlagRequired("start")
	_ = downloadCmd.MarkFlagRequired("end")
	rootCmd.AddCommand(downloadCmd)
}

var downloadFlags struct {
	variables  []string
	start      string
	end        string
	area       []float64
	hours      []string
	split      string
	merge      bool
	mergedName string
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download a variable set over a date range",
	Example: `  era5ctl download -v 2m_temperature,surface_solar_radiation_downwards \
    --start 2014-01-01 --end 2014-12-31 --area 60,70,10,140 --merge`,
	RunE: runDownload,
}

func runDownload(cmd *cobra.Command, args []string) error {
	req := domain.DownloadRequest{
		Variables:  downloadFlags.variables,
		StartDate:  downloadFlags.start,
		EndDate:    downloadFlags.end,
		Area:       downloadFlags.area,
		Hours:      downloadFlags.hours,
		SplitBy:    domain.SplitMode(downloadFlags.split),
		Merge:      downloadFlags.merge,
		MergedName: downloadFlags.mergedName,
	}

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

	res, err := a.Orchestrator.Download(ctx, req)
	if err != nil {
		return err
	}
	printResult(cmd.OutOrStdout(), res)
	return failedErr(ctx, res)
}

func printResult(w io.Writer, res service.Result) {
	fmt.Fprintf(w, "Succeeded: %d (skipped %d)\n", len(res.Succeeded), res.Skipped)
	fmt.Fprintf(w, "Failed:    %d\n", len(res.Failed))
	for _, f := range res.Failed {
		fmt.Fprintf(w, "  - %s: %s\n", f.TaskID, f.Error)
	}
	if res.Merged != "" {
		fmt.Fprintf(w, "Merged into %s\n", res.Merged)
	}
	for _, p := range res.Files() {
		fmt.Fprintf(w, "  %s\n", filepath.Base(p))
	}
}

func failedErr(ctx context.Context, res service.Result) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("interrupted: %w", err)
	}
	if len(res.Failed) > 0 {
		return fmt.Errorf("%d task(s) failed; run 'era5ctl retry' to try again", len(res.Failed))
	}
	return nil
}
