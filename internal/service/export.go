package service

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/veranemoloko/era5-downloader/internal/domain"
)

// FileListName is the default name of the exported file list.
const FileListName = "downloaded_files.txt"

const (
	heavyRule = "============================================================"
	lightRule = "------------------------------------------------------------"
)

// ExportFileList writes a plain-text listing of every completed task to w
// and returns the number of entries written.
func (o *Orchestrator) ExportFileList(w io.Writer) (int, error) {
	recs := o.store.Completed()
	if err := writeFileList(w, recs, time.Now()); err != nil {
		return 0, fmt.Errorf("export file list: %w", err)
	}
	o.logger.Info("file list exported", "entries", len(recs))
	return len(recs), nil
}

func writeFileList(w io.Writer, recs []domain.StatusRecord, generated time.Time) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, "ERA5-Land downloaded files")
	fmt.Fprintf(bw, "Generated: %s\n", generated.Format(time.RFC3339))
	fmt.Fprintf(bw, "%s\n\n", heavyRule)

	for _, rec := range recs {
		file := rec.OutputPath
		if file == "" {
			file = "unknown"
		}

		fmt.Fprintf(bw, "Task ID: %s\n", rec.TaskID)
		fmt.Fprintf(bw, "Variables: %s\n", strings.Join(rec.Variables, ", "))
		fmt.Fprintf(bw, "File: %s\n", file)
		fmt.Fprintf(bw, "Timestamp: %s\n", rec.Timestamp.Format(time.RFC3339))
		if rec.Task.ID != "" {
			fmt.Fprintf(bw, "Period: %s\n", period(rec.Task))
			if rec.Task.Region != nil {
				fmt.Fprintf(bw, "Area: %v\n", rec.Task.Region.Area())
			}
		}
		fmt.Fprintf(bw, "%s\n\n", lightRule)
	}

	return bw.Flush()
}

func period(t domain.Task) string {
	if t.Month > 0 {
		return fmt.Sprintf("%04d-%02d", t.Year, t.Month)
	}
	return fmt.Sprintf("%04d-all", t.Year)
}
