package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/veranemoloko/era5-downloader/internal/config"
	"github.com/veranemoloko/era5-downloader/internal/planner"
)

func init() {
	rootCmd.AddCommand(jobsCmd)
}

var jobsCmd = &cobra.Command{
	Use:   "jobs FILE",
	Short: "Run every enabled job in a YAML, TOML or JSON job file",
	Long: `Run the download_tasks of a job file in order. Disabled jobs are skipped,
and so are jobs whose request is invalid. downloader_settings in the file
override the environment.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobs,
}

func runJobs(cmd *cobra.Command, args []string) error {
	jf, err := config.LoadJobFile(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := openApp(ctx, func(c *config.Config) {
		*c = jf.Settings.Apply(*c)
	})
	if err != nil {
		return err
	}
	defer a.Close()

	if a.CredentialsErr != nil {
		return fmt.Errorf("%w (run 'era5ctl credentials' for details)", a.CredentialsErr)
	}

	out := cmd.OutOrStdout()
	jobs := jf.Enabled()
	fmt.Fprintf(out, "%d of %d job(s) enabled\n", len(jobs), len(jf.Jobs))

	var failed []string
	for i, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		name := job.Name
		if name == "" {
			name = fmt.Sprintf("job %d", i+1)
		}
		fmt.Fprintf(out, "\n== %s ==\n", name)

		start := time.Now()
		res, err := a.Orchestrator.Download(ctx, job)
		if err != nil {
			if planner.IsPlanningError(err) {
				fmt.Fprintf(out, "skipped invalid job: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "error: %v\n", err)
			failed = append(failed, name)
			continue
		}
		printResult(out, res)
		fmt.Fprintf(out, "took %s\n", time.Since(start).Round(time.Second))
		if len(res.Failed) > 0 {
			failed = append(failed, name)
		}
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("interrupted: %w", err)
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d job(s) incomplete: %v", len(failed), failed)
	}
	return nil
}
