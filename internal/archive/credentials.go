package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrNoCredentials = errors.New("archive credentials not configured")
	ErrLegacyKey     = errors.New(`archive key has the retired "uid:apikey" form; use the personal access token from your CDS profile`)
)

// Credentials locate and authenticate against the archive API. Key is a
// personal access token.
type Credentials struct {
	URL string `yaml:"url"`
	Key string `yaml:"key"`
}

// DefaultCredentialsPath is ~/.cdsapirc.
func DefaultCredentialsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cdsapirc"
	}
	return filepath.Join(home, ".cdsapirc")
}

// LoadCredentials parses a .cdsapirc file ("url: ..." and "key: ..." lines).
func LoadCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Credentials{}, fmt.Errorf("%w: %s not found", ErrNoCredentials, path)
		}
		return Credentials{}, fmt.Errorf("read credentials: %w", err)
	}

	var c Credentials
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Credentials{}, fmt.Errorf("parse credentials %s: %w", path, err)
	}
	c.URL = strings.TrimRight(strings.TrimSpace(c.URL), "/")
	c.Key = strings.TrimSpace(c.Key)
	return c, nil
}

// ResolveCredentials loads path (the default file when empty) and applies
// non-empty url and key overrides. A missing file is fine when both
// overrides are given.
func ResolveCredentials(path, url, key string) (Credentials, error) {
	if path == "" {
		path = DefaultCredentialsPath()
	}

	c, err := LoadCredentials(path)
	if err != nil && !(errors.Is(err, ErrNoCredentials) && url != "" && key != "") {
		return Credentials{}, err
	}

	if url != "" {
		c.URL = strings.TrimRight(url, "/")
	}
	if key != "" {
		c.Key = key
	}
	return c, c.Validate()
}

func (c Credentials) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("%w: missing url", ErrNoCredentials)
	}
	if c.Key == "" {
		return fmt.Errorf("%w: missing key", ErrNoCredentials)
	}
	if strings.Contains(c.Key, ":") {
		return ErrLegacyKey
	}
	return nil
}

// Masked returns the key with everything but its first characters hidden.
func (c Credentials) Masked() string {
	if len(c.Key) <= 6 {
		return strings.Repeat("*", len(c.Key))
	}
	return c.Key[:6] + strings.Repeat("*", len(c.Key)-6)
}
