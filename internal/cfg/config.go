// Package cfg loads the mergetrain configuration file.
package cfg

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml"

	"github.com/simplesurance/mergetrain/internal/provider/github"
	"github.com/simplesurance/mergetrain/internal/worker"
)

const (
	EnvGithubAPIToken      = "MERGETRAIN_GITHUB_API_TOKEN"
	EnvGithubWebhookSecret = "MERGETRAIN_GITHUB_WEBHOOK_SECRET"
)

const (
	DefLogFormat                 = "logfmt"
	DefLogTimeKey                = "time_iso8601"
	DefLogLevel                  = "info"
	DefHTTPGithubWebhookEndpoint = "/listener/github"
	DefHTTPStatusEndpoint        = "/"
	DefHTTPMetricsEndpoint       = "/metrics"
	DefEventBufferSize           = 1000
	DefBranch                    = "main"
)

type Config struct {
	HTTPListenAddr            string `toml:"http_server_listen_addr"`
	HTTPSListenAddr           string `toml:"https_server_listen_addr"`
	HTTPSCertFile             string `toml:"https_ssl_cert_file"`
	HTTPSKeyFile              string `toml:"https_ssl_key_file"`
	HTTPGithubWebhookEndpoint string `toml:"github_webhook_endpoint"`
	HTTPStatusEndpoint        string `toml:"status_endpoint"`
	HTTPMetricsEndpoint       string `toml:"prometheus_metrics_endpoint"`
	GithubWebHookSecret       string `toml:"github_webhook_secret"`
	GithubAPIToken            string `toml:"github_api_token"`
	LogFormat                 string `toml:"log_format"`
	LogTimeKey                string `toml:"log_time_key"`
	LogLevel                  string `toml:"log_level"`
	// DryRun disables all write operations at the provider, comments are
	// logged instead of posted and branches are not fast-forwarded.
	DryRun bool `toml:"dry_run"`
	// EventBufferSize is the maximum number of events that are withheld
	// per repository until its pipeline asks for them.
	EventBufferSize int           `toml:"event_buffer_size"`
	Repositories    []*Repository `toml:"repository"`
}

// Repository configures the merge train of a repository and its base
// branch.
type Repository struct {
	Owner     string   `toml:"owner"`
	Name      string   `toml:"repository"`
	Branch    string   `toml:"branch"`
	Reviewers []string `toml:"reviewers"`

	CommandPrefix    string `toml:"command_prefix"`
	ApproveCommand   string `toml:"approve_command"`
	UnapproveCommand string `toml:"unapprove_command"`
	DefaultPriority  int    `toml:"default_priority"`
	// BuildTimeout is a duration string like "1h30m", empty disables the
	// timeout.
	BuildTimeout string `toml:"build_timeout"`
	// BuildStatusFilter is a jq expression that selects the commit status
	// and check run events that report the result of the build.
	BuildStatusFilter string `toml:"build_status_filter"`
	// BuildStatusContext is a shorthand for a BuildStatusFilter that
	// matches commit statuses with the given context and check runs with
	// the given name.
	BuildStatusContext string         `toml:"build_status_context"`
	Worker             map[string]any `toml:"worker"`
}

// StatusFilter returns the jq expression that selects the build result
// events of the repository, it is empty when every event is accepted.
func (r *Repository) StatusFilter() string {
	if r.BuildStatusFilter != "" || r.BuildStatusContext == "" {
		return r.BuildStatusFilter
	}

	lit, _ := json.Marshal(r.BuildStatusContext)

	return fmt.Sprintf(".context == %s or .check_run.name == %s", lit, lit)
}

func (r *Repository) workerType() string {
	typ, _ := r.Worker["type"].(string)
	return strings.ToLower(typ)
}

func (r *Repository) String() string {
	return fmt.Sprintf("%s/%s:%s", r.Owner, r.Name, r.Branch)
}

// BuildTimeoutDuration returns the parsed BuildTimeout.
func (r *Repository) BuildTimeoutDuration() (time.Duration, error) {
	if r.BuildTimeout == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(r.BuildTimeout)
	if err != nil {
		return 0, fmt.Errorf("build_timeout: %w", err)
	}

	if d < 0 {
		return 0, errors.New("build_timeout: is negative")
	}

	return d, nil
}

// Load reads the configuration from reader, applies defaults and validates
// it.
func Load(reader io.Reader) (*Config, error) {
	var result Config

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	if err := toml.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	result.setDefaults()

	if err := result.Validate(); err != nil {
		return nil, err
	}

	return &result, nil
}

func (c *Config) setDefaults() {
	setDefault := func(val *string, def string) {
		if *val == "" {
			*val = def
		}
	}

	setDefault(&c.LogFormat, DefLogFormat)
	setDefault(&c.LogTimeKey, DefLogTimeKey)
	setDefault(&c.LogLevel, DefLogLevel)
	setDefault(&c.HTTPGithubWebhookEndpoint, DefHTTPGithubWebhookEndpoint)
	setDefault(&c.HTTPStatusEndpoint, DefHTTPStatusEndpoint)
	setDefault(&c.HTTPMetricsEndpoint, DefHTTPMetricsEndpoint)

	if c.EventBufferSize <= 0 {
		c.EventBufferSize = DefEventBufferSize
	}

	for _, repo := range c.Repositories {
		setDefault(&repo.Branch, DefBranch)
	}
}

// Validate returns an error if the configuration is incomplete or
// contradicting.
func (c *Config) Validate() error {
	if c.HTTPListenAddr == "" && c.HTTPSListenAddr == "" {
		return errors.New("https_server_listen_addr or http_server_listen_addr must be defined, both are unset")
	}

	if c.HTTPSListenAddr != "" && (c.HTTPSCertFile == "" || c.HTTPSKeyFile == "") {
		return errors.New("https_server_listen_addr is set, https_ssl_cert_file and https_ssl_key_file must also be set")
	}

	if len(c.Repositories) == 0 {
		return errors.New("no repository is defined, nothing to do")
	}

	seen := make(map[string]struct{}, len(c.Repositories))

	for i, repo := range c.Repositories {
		if err := repo.validate(); err != nil {
			return fmt.Errorf("repository %d (%s): %w", i, repo, err)
		}

		// only one pipeline per repository is supported
		key := strings.ToLower(repo.Owner + "/" + repo.Name)
		if _, exists := seen[key]; exists {
			return fmt.Errorf("repository %d (%s): repository is defined multiple times", i, repo)
		}
		seen[key] = struct{}{}
	}

	return nil
}

func (r *Repository) validate() error {
	if r.Owner == "" {
		return errors.New("owner is empty")
	}

	if r.Name == "" {
		return errors.New("repository is empty")
	}

	if r.Branch == "" {
		return errors.New("branch is empty")
	}

	if r.DefaultPriority < 0 {
		return errors.New("default_priority is negative")
	}

	if _, err := r.BuildTimeoutDuration(); err != nil {
		return err
	}

	if r.BuildStatusFilter != "" && r.BuildStatusContext != "" {
		return errors.New("build_status_filter and build_status_context are mutually exclusive")
	}

	if filter := r.StatusFilter(); filter != "" {
		if _, err := github.NewBuildStatusFilter(filter); err != nil {
			return fmt.Errorf("build_status_filter: %w", err)
		}
	}

	if len(r.Worker) == 0 {
		return errors.New("worker table is missing")
	}

	// statuses of unrelated checks must not decide if a build passed
	if r.workerType() == worker.TypeHTTPRequest && r.StatusFilter() == "" {
		return fmt.Errorf("build_status_filter or build_status_context must be set for %s workers", worker.TypeHTTPRequest)
	}

	if err := worker.ValidateConfig(r.Worker); err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	return nil
}

// LoadEnvFile sets the environment variables defined in the dotenv file
// path. Variables that are already set are not overwritten.
func LoadEnvFile(path string) error {
	return godotenv.Load(path)
}

// OverrideFromEnv replaces the secrets in the configuration with the values
// of the MERGETRAIN_* environment variables when they are set.
func (c *Config) OverrideFromEnv() {
	if val, exists := os.LookupEnv(EnvGithubAPIToken); exists {
		c.GithubAPIToken = val
	}

	if val, exists := os.LookupEnv(EnvGithubWebhookSecret); exists {
		c.GithubWebHookSecret = val
	}
}

func (c *Config) Marshal(writer io.Writer) error {
	return toml.NewEncoder(writer).Encode(c)
}
