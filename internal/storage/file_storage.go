package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileStorage owns the output layout: verified artifacts in the output
// directory and in-flight files under temp/.
type FileStorage struct {
	dir     string
	tempDir string
}

// NewFileStorage creates a new FileStorage rooted at the output directory.
func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{dir: dir, tempDir: filepath.Join(dir, "temp")}
}

// TempDir is the scratch directory.
func (s *FileStorage) TempDir() string {
	return s.tempDir
}

// OutputPath is where a verified artifact named name lives.
func (s *FileStorage) OutputPath(name string) string {
	return filepath.Join(s.dir, name)
}

// TempPath is the download target for name.
func (s *FileStorage) TempPath(name string) string {
	return filepath.Join(s.tempDir, name+".tmp")
}

// ScratchDir is the extraction directory for name.
func (s *FileStorage) ScratchDir(name string) string {
	return filepath.Join(s.tempDir, strings.TrimSuffix(name, filepath.Ext(name))+"_extracted")
}

// EnsureDirs creates the output and temp directories.
func (s *FileStorage) EnsureDirs() error {
	for _, dir := range []string{s.dir, s.tempDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// FileExists checks whether a regular file exists at path.
func (s *FileStorage) FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Place moves src to dst. dst only ever appears complete: a cross-device
// move copies to a hidden sibling first and renames it into place.
func (s *FileStorage) Place(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	partial := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+".partial")
	if _, err := s.copyFile(src, partial); err != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := os.Rename(partial, dst); err != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("rename %s: %w", partial, err)
	}
	return os.Remove(src)
}

// Remove deletes files or directories, ignoring ones already gone.
func (s *FileStorage) Remove(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.RemoveAll(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CleanTemp empties the temp directory and reports what was removed.
func (s *FileStorage) CleanTemp() (files int, freed int64, err error) {
	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("read temp dir: %w", err)
	}

	for _, e := range entries {
		p := filepath.Join(s.tempDir, e.Name())
		n, size := treeSize(p)
		if err := os.RemoveAll(p); err != nil {
			return files, freed, fmt.Errorf("remove %s: %w", p, err)
		}
		files += n
		freed += size
	}
	return files, freed, nil
}

// FileUsage is one artifact in a usage report.
type FileUsage struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Usage summarises the artifacts in the output directory.
type Usage struct {
	Files   int         `json:"files"`
	Total   int64       `json:"total_bytes"`
	Average int64       `json:"average_bytes"`
	Largest []FileUsage `json:"largest"`
}

// DiskUsage lists the .nc artifacts in the output directory with the ten
// largest first.
func (s *FileStorage) DiskUsage() (Usage, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.nc"))
	if err != nil {
		return Usage{}, err
	}

	var u Usage
	all := make([]FileUsage, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		all = append(all, FileUsage{Name: filepath.Base(m), Size: info.Size()})
		u.Total += info.Size()
	}

	u.Files = len(all)
	if u.Files > 0 {
		u.Average = u.Total / int64(u.Files)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Size > all[j].Size })
	if len(all) > 10 {
		all = all[:10]
	}
	u.Largest = all
	return u, nil
}

func (s *FileStorage) copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func treeSize(root string) (files int, size int64) {
	_ = filepath.WalkDir(root, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			files++
			size += info.Size()
		}
		return nil
	})
	return files, size
}
