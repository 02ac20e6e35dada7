package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	FileName      = "timeline.yml"
	StateDir      = ".timeline"
	DriverSQLite  = "sqlite"
	DriverBadger  = "badger"
	DriverMemory  = "memory"
	defaultOutput = StateDir + "/projects.json"
)

var validate = validator.New()

// Config models timeline.yml.
type Config struct {
	Storage  Storage   `yaml:"storage"`
	Seed     Seed      `yaml:"seed"`
	Fetch    Fetch     `yaml:"fetch"`
	Server   Server    `yaml:"server"`
	Webhooks []Webhook `yaml:"webhooks" validate:"dive"`
}

type Storage struct {
	Driver string `yaml:"driver" validate:"required,oneof=sqlite badger memory"`
	// Path overrides the default location under .timeline/ for sqlite and badger.
	Path string `yaml:"path"`
	Key  string `yaml:"key" validate:"required"`
}

type Seed struct {
	File  string `yaml:"file"`
	Watch bool   `yaml:"watch"`
}

type Fetch struct {
	Filename    string      `yaml:"filename" validate:"required"`
	Output      string      `yaml:"output" validate:"required"`
	TokenEnv    string      `yaml:"token_env"`
	RawBaseURL  string      `yaml:"raw_base_url" validate:"required,url"`
	APIBaseURL  string      `yaml:"api_base_url" validate:"omitempty,url"`
	Concurrency int         `yaml:"concurrency" validate:"gte=1,lte=32"`
	Repos       []FetchRepo `yaml:"repos" validate:"dive"`
}

type FetchRepo struct {
	Owner   string `yaml:"owner" validate:"required"`
	Repo    string `yaml:"repo" validate:"required"`
	Branch  string `yaml:"branch"`
	Private bool   `yaml:"private"`
}

type Server struct {
	Addr         string `yaml:"addr" validate:"required,hostname_port"`
	BasePath     string `yaml:"base_path" validate:"required,startswith=/"`
	JWTSecretEnv string `yaml:"jwt_secret_env"`
}

type Webhook struct {
	ID             string   `yaml:"id"`
	URL            string   `yaml:"url" validate:"required,url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds" validate:"gte=0"`
}

// IsEnabled treats an omitted flag as enabled.
func (w Webhook) IsEnabled() bool { return w.Enabled == nil || *w.Enabled }

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config.%s failed %q validation", yamlPath(fe.Namespace()), fe.Tag())
		}
		return err
	}
	return nil
}

// yamlPath turns "Config.Fetch.Repos[0].Owner" into "fetch.repos[0].owner".
func yamlPath(ns string) string {
	ns = strings.TrimPrefix(ns, "Config.")
	parts := strings.Split(ns, ".")
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && s[i-1] != '[' && !(s[i-1] >= 'A' && s[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("config: default template is invalid: %v", err))
	}
	return cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string { return defaultTemplate }

// Load reads config from workspace. A missing file yields the defaults.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses raw YAML over the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := base()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func base() *Config {
	return &Config{
		Storage: Storage{Driver: DriverSQLite, Key: "timeline-imported-projects"},
		Seed:    Seed{File: defaultOutput},
		Fetch: Fetch{
			Filename:    "timeline.yaml",
			Output:      defaultOutput,
			TokenEnv:    "GITHUB_TOKEN",
			RawBaseURL:  "https://raw.githubusercontent.com",
			Concurrency: 4,
		},
		Server: Server{Addr: "127.0.0.1:8080", BasePath: "/v0", JWTSecretEnv: "TIMELINE_JWT_SECRET"},
	}
}

// Resolve joins a workspace-relative path onto workspace.
func Resolve(workspace, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, path)
}

const defaultTemplate = `storage:
  driver: sqlite
  key: timeline-imported-projects

seed:
  file: .timeline/projects.json
  watch: false

fetch:
  filename: timeline.yaml
  output: .timeline/projects.json
  token_env: GITHUB_TOKEN
  raw_base_url: https://raw.githubusercontent.com
  concurrency: 4
  repos: []
  # - owner: example-org
  #   repo: project-management-app
  #   branch: main
  #   private: false

server:
  addr: 127.0.0.1:8080
  base_path: /v0
  jwt_secret_env: TIMELINE_JWT_SECRET

webhooks: []
`
