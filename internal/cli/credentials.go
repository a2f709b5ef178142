package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/veranemoloko/era5-downloader/internal/archive"
)

func init() {
	rootCmd.AddCommand(credentialsCmd)
}

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Check that Climate Data Store credentials are configured",
	Long: `Check ~/.cdsapirc (or ERA5_CREDENTIALS_FILE) for a url and key.
ERA5_ARCHIVE_URL and ERA5_ARCHIVE_KEY override the file.`,
	RunE: runCredentials,
}

func runCredentials(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := cfg.CredentialsFile
	if path == "" {
		path = archive.DefaultCredentialsPath()
	}

	out := cmd.OutOrStdout()
	creds, err := archive.ResolveCredentials(path, cfg.ArchiveURL, cfg.ArchiveKey)
	if err != nil {
		fmt.Fprintf(out, "Credentials file: %s\n", path)
		fmt.Fprintln(out, "Expected contents:")
		fmt.Fprintln(out, "  url: https://cds.climate.copernicus.eu/api")
		fmt.Fprintln(out, "  key: <your-api-key>")
		return err
	}

	fmt.Fprintf(out, "Credentials file: %s\n", path)
	fmt.Fprintf(out, "URL: %s\n", creds.URL)
	fmt.Fprintf(out, "Key: %s\n", creds.Masked())
	fmt.Fprintln(out, "Credentials OK.")
	return nil
}
