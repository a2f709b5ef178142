package storage

import (
	"archive/zip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	errpkg "github.com/veranemoloko/era5-downloader/internal/errors"
)

// IsZip sniffs the content of path for a zip container.
func IsZip(path string) (bool, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return false, fmt.Errorf("detect content type: %w", err)
	}
	return mtype.Is("application/zip"), nil
}

// ExtractPayload unpacks the zip at archivePath into destDir and returns the
// payload .nc file. Entries are flattened into destDir. With several
// payloads the lexically first is chosen.
func ExtractPayload(archivePath, destDir string, logger *slog.Logger) (string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", errpkg.NewTransient("extract", fmt.Errorf("open zip: %w", err))
	}
	defer r.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", errpkg.NewFatal("extract", err)
	}

	var payloads []string
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(f.Name)
		if name == "" || name == "." || strings.HasPrefix(name, ".") || strings.HasPrefix(f.Name, "__MACOSX") {
			continue
		}

		dst := filepath.Join(destDir, name)
		if err := extractFile(f, dst); err != nil {
			return "", errpkg.NewTransient("extract", fmt.Errorf("extract %s: %w", f.Name, err))
		}
		if strings.EqualFold(filepath.Ext(name), ".nc") {
			payloads = append(payloads, dst)
		}
	}

	if len(payloads) == 0 {
		return "", errpkg.NewTransient("extract", fmt.Errorf("%w: %s", errpkg.ErrNoPayload, filepath.Base(archivePath)))
	}

	sort.Strings(payloads)
	if len(payloads) > 1 {
		logger.Warn("container holds several payloads, using the first",
			"archive", filepath.Base(archivePath),
			"chosen", filepath.Base(payloads[0]),
			"count", len(payloads))
	}
	return payloads[0], nil
}

func extractFile(f *zip.File, dst string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, rc)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}
