package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"github.com/maruel/ghdocs/internal/codec"
	"github.com/maruel/ghdocs/internal/config"
	"github.com/maruel/ghdocs/internal/contentapi"
	"github.com/maruel/ghdocs/internal/githubapp"
	"github.com/maruel/ghdocs/internal/storage"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// app holds the state shared by every command of one invocation.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	configPath string
	envDir     string
	logLevel   string
	format     string
	flags      config.Config

	env map[string]string
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:           "ghdocs",
		Short:         "Manage CMS documents stored in a GitHub repository",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", config.DefaultFile, "Configuration file (JSONC)")
	pf.StringVar(&a.envDir, "env-dir", ".", "Directory holding the .env file")
	pf.StringVar(&a.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&a.format, "format", "json", "Output format (json, yaml)")
	pf.StringVar(&a.flags.Owner, "owner", "", "Repository owner")
	pf.StringVar(&a.flags.Repo, "repo", "", "Repository name")
	pf.StringVar(&a.flags.PersonalAccessToken, "token", "", "Personal access token")
	pf.StringVar(&a.flags.APIURL, "api-url", "", "GitHub REST API endpoint")
	pf.StringVar(&a.flags.DataBranch, "data-branch", "", "Branch holding documents")
	pf.StringVar(&a.flags.DataDir, "data-dir", "", "Directory holding documents")
	pf.StringVar(&a.flags.OutputBranch, "output-branch", "", "Branch receiving rendered artifacts")
	pf.StringVar(&a.flags.OutputDir, "output-dir", "", "Directory receiving rendered artifacts")
	pf.Float64Var(&a.flags.RequestsPerSecond, "rps", 0, "Maximum API requests per second, 0 for unlimited")

	root.AddCommand(
		newGetCmd(a),
		newPutCmd(a),
		newListCmd(a),
		newDeleteCmd(a),
		newContentMapCmd(a),
		newDeliverCmd(a),
		newReposCmd(a),
		newConfigCmd(a),
		newVersionCmd(a),
	)
	return root
}

// setup loads the environment and installs the logger.
func (a *app) setup(cmd *cobra.Command) error {
	env, err := config.Environ(a.envDir)
	if err != nil {
		return err
	}
	a.env = env
	if !cmd.Flags().Changed("log-level") {
		if v := env[config.EnvLogLevel]; v != "" {
			a.logLevel = v
		}
	}
	level, ok := parseLevel(a.logLevel)
	if !ok {
		return fmt.Errorf("unknown log level: %q", a.logLevel)
	}
	if a.format != "json" && a.format != "yaml" {
		return fmt.Errorf("unknown format: %q", a.format)
	}
	slog.SetDefault(newLogger(a.stderr, level))
	return nil
}

// loadConfig merges the configuration file, the environment and the flags
// explicitly set on cmd. It does not validate the result.
func (a *app) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || cmd.Flags().Changed("config") {
			return nil, err
		}
		cfg = &config.Config{}
	}
	if err := cfg.ApplyEnv(a.env); err != nil {
		return nil, err
	}
	f := cmd.Flags()
	for _, o := range []struct {
		name     string
		dst, src *string
	}{
		{"owner", &cfg.Owner, &a.flags.Owner},
		{"repo", &cfg.Repo, &a.flags.Repo},
		{"token", &cfg.PersonalAccessToken, &a.flags.PersonalAccessToken},
		{"api-url", &cfg.APIURL, &a.flags.APIURL},
		{"data-branch", &cfg.DataBranch, &a.flags.DataBranch},
		{"data-dir", &cfg.DataDir, &a.flags.DataDir},
		{"output-branch", &cfg.OutputBranch, &a.flags.OutputBranch},
		{"output-dir", &cfg.OutputDir, &a.flags.OutputDir},
	} {
		if f.Changed(o.name) {
			*o.dst = *o.src
		}
	}
	if f.Changed("rps") {
		cfg.RequestsPerSecond = a.flags.RequestsPerSecond
	}
	return cfg, nil
}

// contentClient validates the configuration and connects to the repository.
func (a *app) contentClient(cmd *cobra.Command) (*contentapi.Client, *config.Config, error) {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	hc, err := authClient(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	c, err := contentapi.New(hc, contentapi.Options{
		Owner:   cfg.Owner,
		Repo:    cfg.Repo,
		BaseURL: cfg.APIURL,
		Limiter: cfg.Limiter(),
	})
	if err != nil {
		return nil, nil, err
	}
	slog.DebugContext(cmd.Context(), "Connected", "owner", cfg.Owner, "repo", cfg.Repo, "app", cfg.UsesApp())
	return c, cfg, nil
}

func (a *app) store(cmd *cobra.Command) (storage.PersistenceLayer, error) {
	c, cfg, err := a.contentClient(cmd)
	if err != nil {
		return nil, err
	}
	version, _, _, _ := getBuildInfo()
	s, err := storage.New(c, cfg.WorkPaths(), storage.WithVersion(version))
	if err != nil {
		return nil, err
	}
	return s, nil
}

// authClient returns an http.Client authenticated with the configured
// personal access token or GitHub App installation.
func authClient(ctx context.Context, cfg *config.Config) (*http.Client, error) {
	if cfg.PersonalAccessToken != "" {
		ts, err := githubapp.StaticTokenSource(cfg.PersonalAccessToken)
		if err != nil {
			return nil, err
		}
		return githubapp.HTTPClient(ctx, ts), nil
	}
	gh, err := appClient(cfg)
	if err != nil {
		return nil, err
	}
	return githubapp.HTTPClient(ctx, gh.TokenSource(ctx, cfg.InstallationID)), nil
}

func appClient(cfg *config.Config) (*githubapp.Client, error) {
	if err := cfg.ValidateApp(); err != nil {
		return nil, err
	}
	key, err := githubapp.LoadPrivateKey(cfg.PrivateKeyPath)
	if err != nil {
		return nil, err
	}
	return githubapp.NewClient(cfg.AppID, key, cfg.APIURL), nil
}

// print writes v to stdout in the selected format.
func (a *app) print(v any) error {
	raw, err := codec.MarshalJSON(v)
	if err != nil {
		return err
	}
	if a.format == "yaml" {
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(a.stdout)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "  "); err != nil {
		return err
	}
	out.WriteByte('\n')
	_, err = a.stdout.Write(out.Bytes())
	return err
}

// readInput returns the content of the file named by args, or stdin when
// there is none or it is "-".
func (a *app) readInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(a.stdin)
	}
	return os.ReadFile(args[0])
}

// toJSON accepts JSON or YAML and returns JSON.
func toJSON(raw []byte) ([]byte, error) {
	if json.Valid(raw) {
		return raw, nil
	}
	var v any
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("input is neither JSON nor YAML: %w", err)
	}
	out, err := codec.MarshalJSON(v)
	if err != nil {
		return nil, fmt.Errorf("input cannot be represented as JSON: %w", err)
	}
	return out, nil
}
