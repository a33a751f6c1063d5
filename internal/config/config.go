// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"

	"github.com/cinematch/cinematch/internal/media"
)

// DefaultPath is where the config file is looked for and where first-run
// setup writes it, unless CONFIG_PATH overrides it.
const DefaultPath = "config.yaml"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Server describes one media server the catalog is drawn from.
type Server struct {
	Type               string              `koanf:"type" json:"type,omitempty" yaml:"type,omitempty" validate:"omitempty,eq=plex"`
	URL                string              `koanf:"url" json:"url" yaml:"url" validate:"required,url"`
	Token              string              `koanf:"token" json:"token" yaml:"token" validate:"required"`
	LibraryTitleFilter []string            `koanf:"libraryTitleFilter" json:"libraryTitleFilter,omitempty" yaml:"libraryTitleFilter,omitempty"`
	LibraryTypeFilter  []media.LibraryType `koanf:"libraryTypeFilter" json:"libraryTypeFilter,omitempty" yaml:"libraryTypeFilter,omitempty" validate:"dive,oneof=movie show music photo"`
	LinkType           string              `koanf:"linkType" json:"linkType,omitempty" yaml:"linkType,omitempty" validate:"omitempty,oneof=app webLocal webExternal"`
}

// BasicAuth guards the HTTP surface when set.
type BasicAuth struct {
	UserName string `koanf:"userName" json:"userName" yaml:"userName" validate:"required"`
	Password string `koanf:"password" json:"password" yaml:"password" validate:"required"`
}

// TLS enables HTTPS serving when both files are set.
type TLS struct {
	CertFile string `koanf:"certFile" json:"certFile" yaml:"certFile" validate:"required,file"`
	KeyFile  string `koanf:"keyFile" json:"keyFile" yaml:"keyFile" validate:"required,file"`
}

// Config is the full server configuration. An instance with no servers is
// considered unconfigured and serves the first-run setup flow.
type Config struct {
	Host             string     `koanf:"hostname" json:"hostname" yaml:"hostname" validate:"required"`
	Port             int        `koanf:"port" json:"port" yaml:"port" validate:"required,gte=1,lte=65535"`
	LogLevel         string     `koanf:"logLevel" json:"logLevel" yaml:"logLevel" validate:"required,oneof=DEBUG INFO WARN ERROR CRITICAL"`
	RootPath         string     `koanf:"rootPath" json:"rootPath" yaml:"rootPath"`
	StaticPath       string     `koanf:"staticPath" json:"staticPath,omitempty" yaml:"staticPath,omitempty"`
	Servers          []Server   `koanf:"servers" json:"servers" yaml:"servers" validate:"dive"`
	RequirePlexLogin bool       `koanf:"requirePlexLogin" json:"requirePlexLogin" yaml:"requirePlexLogin"`
	MatchThreshold   int        `koanf:"matchThreshold" json:"matchThreshold,omitempty" yaml:"matchThreshold,omitempty" validate:"gte=2"`
	BasicAuth        *BasicAuth `koanf:"basicAuth" json:"basicAuth,omitempty" yaml:"basicAuth,omitempty"`
	TLS              *TLS       `koanf:"tlsConfig" json:"tlsConfig,omitempty" yaml:"tlsConfig,omitempty"`
}

// Default returns the baseline configuration that file and env layers
// override.
func Default() *Config {
	return &Config{
		Host:           "0.0.0.0",
		Port:           8000,
		LogLevel:       "INFO",
		RootPath:       "",
		StaticPath:     "./web",
		MatchThreshold: 2,
	}
}

// Load layers defaults, an optional YAML file, and environment variables
// into a validated Config. Missing config files are not an error; an
// unreadable or unparsable one is.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = DefaultPath
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// HOST, PORT, LOG_LEVEL, REQUIRE_PLEX_LOGIN, MATCH_THRESHOLD...
	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// PLEX_URL/PLEX_TOKEN configure a single server without a file.
	if url, token := os.Getenv("PLEX_URL"), os.Getenv("PLEX_TOKEN"); url != "" && token != "" {
		if len(cfg.Servers) == 0 {
			cfg.Servers = append(cfg.Servers, Server{Type: "plex"})
		}
		cfg.Servers[0].URL = url
		cfg.Servers[0].Token = token
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps environment variable names onto koanf paths,
// e.g. LOG_LEVEL -> logLevel, REQUIRE_PLEX_LOGIN -> requirePlexLogin.
func envKey(s string) string {
	known := map[string]string{
		"HOST":               "hostname",
		"PORT":               "port",
		"LOG_LEVEL":          "logLevel",
		"ROOT_PATH":          "rootPath",
		"STATIC_PATH":        "staticPath",
		"REQUIRE_PLEX_LOGIN": "requirePlexLogin",
		"MATCH_THRESHOLD":    "matchThreshold",
		"BASIC_AUTH_USER":    "basicAuth.userName",
		"BASIC_AUTH_PASS":    "basicAuth.password",
		"TLS_CERT_FILE":      "tlsConfig.certFile",
		"TLS_KEY_FILE":       "tlsConfig.keyFile",
	}
	if key, ok := known[strings.ToUpper(s)]; ok {
		return key
	}
	return "" // unknown vars are skipped
}

// Parse decodes a setup payload submitted over the protocol, applying the
// same defaults as Load. The result is not yet validated.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config payload: %w", err)
	}
	return cfg, nil
}

// Validate reports the first set of constraint violations, formatted for
// both logs and the setupError message.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var errs validator.ValidationErrors
		if errors.As(err, &errs) {
			msgs := make([]string, 0, len(errs))
			for _, fe := range errs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save writes the configuration as YAML, used by first-run setup.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath
	}
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

// Addr is the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RequiresSetup reports whether the instance has no media servers yet and
// should offer the setup flow.
func (c *Config) RequiresSetup() bool {
	return len(c.Servers) == 0
}
