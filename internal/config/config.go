package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// DefaultServerURL is where a local opencode server listens.
const DefaultServerURL = "http://localhost:4096"

// Config is the client configuration.
type Config struct {
	Server      ServerConfig      `json:"server"`
	LogLevel    string            `json:"logLevel,omitempty"`
	DiffContext DiffContextConfig `json:"diffContext"`
	Theme       string            `json:"theme,omitempty"`
	DiffStyle   string            `json:"diffStyle,omitempty"`
	DefaultMode string            `json:"defaultMode,omitempty"`
	Keybindings map[string]string `json:"keybindings,omitempty"`

	// Sources lists the files that were merged, lowest priority first.
	Sources []string `json:"-"`
}

// ServerConfig locates the opencode server.
type ServerConfig struct {
	URL       string `json:"url,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	Directory string `json:"directory,omitempty"`
}

// DiffContextConfig controls the changed-file block prepended to prompts.
type DiffContextConfig struct {
	Enabled *bool    `json:"enabled,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
}

// IsEnabled reports the effective setting; unset means enabled.
func (d DiffContextConfig) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// fileConfig is the on-disk shape. It also accepts the legacy
// {"opencode": {"serverUrl": ...}} layout.
type fileConfig struct {
	Config
	Opencode *struct {
		ServerURL string `json:"serverUrl"`
	} `json:"opencode,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:      ServerConfig{URL: DefaultServerURL},
		LogLevel:    "info",
		Theme:       "dark",
		DiffStyle:   "unified",
		DefaultMode: "review",
		Keybindings: map[string]string{},
	}
}

// Load merges configuration from, lowest priority first:
//  1. built-in defaults
//  2. ~/.custodian.json
//  3. $XDG_CONFIG_HOME/custodian/config.{json,jsonc,yaml,yml}
//  4. <directory>/.custodian.{json,jsonc,yaml,yml}
//  5. the file named by CUSTODIAN_CONFIG
//  6. CUSTODIAN_* environment variables
//
// Missing files are skipped; a file that exists but does not parse is an
// error.
func Load(directory string) (*Config, error) {
	cfg := Default()
	loaded := make(map[string]bool)

	loadOnce := func(path string) error {
		abs, err := filepath.Abs(path)
		if err != nil || loaded[abs] {
			return nil
		}
		ok, err := loadConfigFile(path, cfg)
		if err != nil {
			return err
		}
		if ok {
			loaded[abs] = true
			cfg.Sources = append(cfg.Sources, abs)
		}
		return nil
	}

	var candidates []string
	if home := os.Getenv("HOME"); home != "" {
		candidates = append(candidates, filepath.Join(home, ".custodian.json"))
	}
	global := GetPaths().Config
	for _, name := range []string{"config.json", "config.jsonc", "config.yaml", "config.yml"} {
		candidates = append(candidates, filepath.Join(global, name))
	}
	if directory != "" {
		for _, name := range []string{".custodian.json", ".custodian.jsonc", ".custodian.yaml", ".custodian.yml"} {
			candidates = append(candidates, filepath.Join(directory, name))
		}
	}
	if path := os.Getenv("CUSTODIAN_CONFIG"); path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("CUSTODIAN_CONFIG: %w", err)
		}
		candidates = append(candidates, path)
	}

	for _, path := range candidates {
		if err := loadOnce(path); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if cfg.Server.Directory == "" {
		cfg.Server.Directory = directory
	}
	cfg.Server.URL = strings.TrimRight(cfg.Server.URL, "/")
	return cfg, nil
}

// loadConfigFile merges one file into cfg. It reports false for a missing
// file.
func loadConfigFile(path string, cfg *Config) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}

	data, err = toJSON(path, data)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	data = interpolate(data, filepath.Dir(path))

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	if fc.Opencode != nil && fc.Server.URL == "" {
		fc.Server.URL = fc.Opencode.ServerURL
	}
	mergeConfig(cfg, &fc.Config)
	return true, nil
}

// toJSON normalizes JSONC and YAML documents to plain JSON.
func toJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		if doc == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(doc)
	default:
		return jsonc.ToJSON(data), nil
	}
}

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// interpolate expands {env:VAR} and {file:path} inside JSON text.
func interpolate(data []byte, baseDir string) []byte {
	str := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		return jsonEscape(os.Getenv(envPattern.FindStringSubmatch(match)[1]))
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		path := filePattern.FindStringSubmatch(match)[1]
		if strings.HasPrefix(path, "~/") {
			path = filepath.Join(os.Getenv("HOME"), path[2:])
		} else if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return match
		}
		return jsonEscape(strings.TrimRight(string(content), "\r\n"))
	})

	return []byte(str)
}

// jsonEscape escapes s for use inside a JSON string literal.
func jsonEscape(s string) string {
	quoted, _ := json.Marshal(s)
	return string(quoted[1 : len(quoted)-1])
}

// mergeConfig overlays the set fields of source onto target.
func mergeConfig(target, source *Config) {
	if source.Server.URL != "" {
		target.Server.URL = source.Server.URL
	}
	if source.Server.APIKey != "" {
		target.Server.APIKey = source.Server.APIKey
	}
	if source.Server.Directory != "" {
		target.Server.Directory = source.Server.Directory
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}
	if source.DiffContext.Enabled != nil {
		enabled := *source.DiffContext.Enabled
		target.DiffContext.Enabled = &enabled
	}
	if len(source.DiffContext.Exclude) > 0 {
		target.DiffContext.Exclude = append(target.DiffContext.Exclude, source.DiffContext.Exclude...)
	}
	if source.Theme != "" {
		target.Theme = source.Theme
	}
	if source.DiffStyle != "" {
		target.DiffStyle = source.DiffStyle
	}
	if source.DefaultMode != "" {
		target.DefaultMode = source.DefaultMode
	}
	if source.Keybindings != nil {
		if target.Keybindings == nil {
			target.Keybindings = make(map[string]string)
		}
		for k, v := range source.Keybindings {
			target.Keybindings[k] = v
		}
	}
}

// applyEnvOverrides applies CUSTODIAN_* variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CUSTODIAN_SERVER_URL"); v != "" {
		cfg.Server.URL = v
	}
	if v := os.Getenv("CUSTODIAN_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("CUSTODIAN_DIRECTORY"); v != "" {
		cfg.Server.Directory = v
	}
	if v := os.Getenv("CUSTODIAN_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Save writes cfg as indented JSON.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
