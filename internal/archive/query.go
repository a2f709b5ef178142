package archive

import (
	"context"
	"fmt"
	"strconv"

	"github.com/veranemoloko/era5-downloader/internal/domain"
)

// Client retrieves the artifact for a query into dst.
type Client interface {
	Fetch(ctx context.Context, q Query, dst string) error
}

// Query is the archive request inputs for one task.
type Query struct {
	Dataset        string    `json:"-"`
	Product        string    `json:"product_type"`
	Variables      []string  `json:"variable"`
	Year           string    `json:"year"`
	Months         []string  `json:"month"`
	Days           []string  `json:"day"`
	Hours          []string  `json:"time"`
	Area           []float64 `json:"area,omitempty"`
	Format         string    `json:"data_format"`
	DownloadFormat string    `json:"download_format"`
}

// FromTask builds the query for task against dataset.
func FromTask(dataset string, t domain.Task) Query {
	q := Query{
		Dataset:        dataset,
		Product:        "reanalysis",
		Variables:      append([]string(nil), t.Variables...),
		Year:           strconv.Itoa(t.Year),
		Hours:          append([]string(nil), t.Hours...),
		Format:         "netcdf",
		DownloadFormat: "unarchived",
	}
	for _, m := range t.MonthList() {
		q.Months = append(q.Months, fmt.Sprintf("%02d", m))
	}
	for _, d := range t.Days {
		q.Days = append(q.Days, fmt.Sprintf("%02d", d))
	}
	if t.Region != nil {
		q.Area = t.Region.Area()
	}
	return q
}
