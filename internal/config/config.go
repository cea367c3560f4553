// Manages ghdocs configuration: a JSONC file, a .env file and the process
// environment, in increasing order of precedence. Command line flags are
// applied last by the caller.

package config

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/maruel/ghdocs/internal/paths"
	"github.com/tidwall/jsonc"
	"golang.org/x/time/rate"
)

// DefaultFile is the configuration file looked up in the working directory.
const DefaultFile = "ghdocs.jsonc"

// Config is the complete configuration of a ghdocs run.
type Config struct {
	Owner string `json:"owner" jsonschema:"description=Owner (user or organization) of the repository holding the content"`
	Repo  string `json:"repo" jsonschema:"description=Name of the repository holding the content"`

	PersonalAccessToken string `json:"personal_access_token,omitempty" jsonschema:"description=Personal access token; mutually exclusive with the GitHub App settings"`
	AppID               int64  `json:"app_id,omitempty" jsonschema:"description=GitHub App ID"`
	InstallationID      int64  `json:"installation_id,omitempty" jsonschema:"description=GitHub App installation ID"`
	PrivateKeyPath      string `json:"private_key_path,omitempty" jsonschema:"description=Path to the GitHub App PEM private key"`

	DataBranch   string `json:"data_branch,omitempty" jsonschema:"description=Branch where documents are stored,default=master"`
	DataDir      string `json:"data_dir,omitempty" jsonschema:"description=Directory of the data branch where documents are stored,default=sapphire-cms-data"`
	OutputBranch string `json:"output_branch,omitempty" jsonschema:"description=Branch where rendered artifacts are delivered,default=gh-pages"`
	OutputDir    string `json:"output_dir,omitempty" jsonschema:"description=Directory of the output branch where rendered artifacts are delivered"`

	APIURL            string  `json:"api_url,omitempty" jsonschema:"description=GitHub REST API endpoint,default=https://api.github.com"`
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" jsonschema:"description=Maximum API requests per second; 0 means unlimited,minimum=0"`
}

// Load reads a JSONC file. Comments and trailing commas are allowed; unknown
// fields are rejected. The returned error wraps os.ErrNotExist when the file
// is missing.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // G304: path is an explicit user choice
	if err != nil {
		return nil, err
	}
	d := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(raw)))
	d.DisallowUnknownFields()
	c := &Config{}
	if err := d.Decode(c); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return c, nil
}

// Environment variables understood by ApplyEnv.
const (
	EnvOwner          = "GITHUB_OWNER"
	EnvRepo           = "GITHUB_REPO"
	EnvToken          = "GITHUB_TOKEN"
	EnvAppID          = "GITHUB_APP_ID"
	EnvInstallationID = "GITHUB_INSTALLATION_ID"
	EnvPrivateKeyPath = "GITHUB_PRIVATE_KEY_PATH"
	EnvAPIURL         = "GITHUB_API_URL"
	EnvDataBranch     = "GHDOCS_DATA_BRANCH"
	EnvDataDir        = "GHDOCS_DATA_DIR"
	EnvOutputBranch   = "GHDOCS_OUTPUT_BRANCH"
	EnvOutputDir      = "GHDOCS_OUTPUT_DIR"
	EnvLogLevel       = "GHDOCS_LOG_LEVEL"
)

var envKeys = []string{
	EnvOwner, EnvRepo, EnvToken, EnvAppID, EnvInstallationID, EnvPrivateKeyPath,
	EnvAPIURL, EnvDataBranch, EnvDataDir, EnvOutputBranch, EnvOutputDir, EnvLogLevel,
}

// EnvKeys returns every environment variable read by Environ.
func EnvKeys() []string {
	return slices.Clone(envKeys)
}

// Environ returns the known variables from the .env file in dir, overridden
// by the process environment.
func Environ(dir string) (map[string]string, error) {
	env, err := LoadDotEnv(dir)
	if err != nil {
		return nil, err
	}
	for _, k := range envKeys {
		if v, ok := os.LookupEnv(k); ok && v != "" {
			env[k] = v
		}
	}
	return env, nil
}

// ApplyEnv overrides fields with the non-empty values of env.
func (c *Config) ApplyEnv(env map[string]string) error {
	for k, dst := range map[string]*string{
		EnvOwner:          &c.Owner,
		EnvRepo:           &c.Repo,
		EnvToken:          &c.PersonalAccessToken,
		EnvPrivateKeyPath: &c.PrivateKeyPath,
		EnvAPIURL:         &c.APIURL,
		EnvDataBranch:     &c.DataBranch,
		EnvDataDir:        &c.DataDir,
		EnvOutputBranch:   &c.OutputBranch,
		EnvOutputDir:      &c.OutputDir,
	} {
		if v := env[k]; v != "" {
			*dst = v
		}
	}
	for k, dst := range map[string]*int64{
		EnvAppID:          &c.AppID,
		EnvInstallationID: &c.InstallationID,
	} {
		if v := env[k]; v != "" {
			i, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", k, err)
			}
			*dst = i
		}
	}
	return nil
}

// UsesApp reports whether GitHub App authentication is configured.
func (c *Config) UsesApp() bool {
	return c.AppID != 0 || c.InstallationID != 0 || c.PrivateKeyPath != ""
}

// Validate checks that the repository is named and that exactly one
// authentication method is configured.
func (c *Config) Validate() error {
	if c.Owner == "" {
		return errors.New("owner is required")
	}
	if c.Repo == "" {
		return errors.New("repo is required")
	}
	if strings.Contains(c.Owner, "/") || strings.Contains(c.Repo, "/") {
		return errors.New("owner and repo must not contain '/'")
	}
	switch {
	case c.PersonalAccessToken != "" && c.UsesApp():
		return errors.New("personal_access_token and GitHub App settings are mutually exclusive")
	case c.PersonalAccessToken == "" && !c.UsesApp():
		return errors.New("either personal_access_token or app_id, installation_id and private_key_path is required")
	case c.UsesApp():
		if err := c.ValidateApp(); err != nil {
			return err
		}
		if c.InstallationID == 0 {
			return errors.New("installation_id is required")
		}
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("requests_per_second must be non-negative")
	}
	return nil
}

// ValidateApp checks the settings needed to authenticate as the GitHub App
// itself, without an installation.
func (c *Config) ValidateApp() error {
	if c.AppID == 0 {
		return errors.New("app_id is required")
	}
	if c.PrivateKeyPath == "" {
		return errors.New("private_key_path is required")
	}
	return nil
}

// WorkPaths resolves the storage locations with defaults applied.
func (c *Config) WorkPaths() paths.WorkPaths {
	return paths.Resolve(paths.Params{
		DataBranch:   c.DataBranch,
		DataDir:      c.DataDir,
		OutputBranch: c.OutputBranch,
		OutputDir:    c.OutputDir,
	})
}

// Limiter returns the request pacer, or nil when unlimited.
func (c *Config) Limiter() *rate.Limiter {
	if c.RequestsPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(c.RequestsPerSecond), 1)
}

// Schema returns the JSON Schema of the configuration file.
func Schema() ([]byte, error) {
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	s := r.Reflect(&Config{})
	s.Title = "ghdocs configuration"
	return json.MarshalIndent(s, "", "  ")
}

// LoadDotEnv reads KEY=value lines from dir/.env. A missing file yields an
// empty map.
//
// Lines may start with "export ". Double quoted values use Go escapes;
// single quoted values are taken literally.
func LoadDotEnv(dir string) (map[string]string, error) {
	env := make(map[string]string)
	path := filepath.Join(dir, ".env")
	f, err := os.Open(path) //nolint:gosec // G304: path is constructed from a directory flag
	if err != nil {
		if os.IsNotExist(err) {
			return env, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	s := bufio.NewScanner(f)
	for n := 1; s.Scan(); n++ {
		line := strings.TrimSpace(s.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		key, val, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("%s:%d: missing variable name", path, n)
		}
		v, err := envValue(strings.TrimSpace(val))
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %s: %w", path, n, key, err)
		}
		env[key] = v
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return env, nil
}

func envValue(v string) (string, error) {
	switch {
	case strings.HasPrefix(v, `"`):
		return strconv.Unquote(v)
	case strings.HasPrefix(v, "'") || strings.HasSuffix(v, "'"):
		if len(v) < 2 || v[0] != '\'' || v[len(v)-1] != '\'' {
			return "", errors.New("unbalanced single quotes")
		}
		return v[1 : len(v)-1], nil
	}
	return v, nil
}
