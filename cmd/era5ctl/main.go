// Command era5ctl downloads ERA5-Land data from the Climate Data Store.
package main

import "github.com/veranemoloko/era5-downloader/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
