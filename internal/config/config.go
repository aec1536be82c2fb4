// Package config resolves the cooldown guard configuration from the
// environment and from cooldown.yaml files. The environment wins over the
// workspace file, which wins over the user file. The resolved Config is an
// immutable value; no other package reads the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultRegistryAPI         = "https://crates.io/api/v1/"
	defaultRegistryIndex       = "registry+https://github.com/rust-lang/crates.io-index"
	defaultSparseRegistryIndex = "registry+sparse+https://index.crates.io/"

	// FileName is the configuration file looked up in the workspace and in
	// $HOME/.cargo.
	FileName = "cooldown.yaml"

	maxHTTPRetries = 8
)

// Mode controls what happens when the resolver cannot cool the graph down.
type Mode string

const (
	// ModeEnforce aborts the wrapped command on any guard failure.
	ModeEnforce Mode = "enforce"
	// ModeWarn reports guard failures and lets the wrapped command proceed.
	ModeWarn Mode = "warn"
	// ModeOff disables the guard entirely.
	ModeOff Mode = "off"
)

// ParseMode maps a configuration value to a Mode. Unset defaults to enforce;
// anything unrecognized is an error.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "enforce":
		return ModeEnforce, nil
	case "warn":
		return ModeWarn, nil
	case "off":
		return ModeOff, nil
	default:
		return "", &Error{Key: "mode", Value: value, Reason: "expected enforce, warn, or off"}
	}
}

// Config is the fully resolved guard configuration.
type Config struct {
	CooldownWindow    time.Duration
	Mode              Mode
	TTL               time.Duration
	AllowlistPath     string
	CacheDir          string
	OfflineOK         bool
	HTTPRetries       int
	Verbose           bool
	RegistryAPI       string
	GuardedRegistries []string
}

// Error reports an invalid configuration value.
type Error struct {
	Key    string
	Value  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: invalid %s %q: %s", e.Key, e.Value, e.Reason)
}

// Getenv looks up one environment key. The second result reports presence,
// so an explicitly empty variable can override a file value.
type Getenv func(key string) (string, bool)

// FromEnv resolves the configuration for the current process.
func FromEnv() (Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	home, _ := os.UserHomeDir()
	return Load(os.LookupEnv, cwd, home)
}

// Load resolves the configuration from the given environment and the
// cooldown.yaml files under cwd and home/.cargo.
func Load(getenv Getenv, cwd, home string) (Config, error) {
	file := loadFileConfig(cwd, home)

	cfg := Config{
		Mode:        ModeEnforce,
		TTL:         86_400 * time.Second,
		HTTPRetries: 2,
		RegistryAPI: defaultRegistryAPI,
		GuardedRegistries: []string{
			defaultRegistryIndex,
			defaultSparseRegistryIndex,
		},
	}

	minutes, err := resolveUint(getenv, "COOLDOWN_MINUTES", file.CooldownMinutes)
	if err != nil {
		return Config{}, err
	}
	if minutes != nil {
		cfg.CooldownWindow = time.Duration(*minutes) * time.Minute
	}

	modeRaw, _ := resolveString(getenv, "COOLDOWN_MODE", file.Mode)
	cfg.Mode, err = ParseMode(modeRaw)
	if err != nil {
		return Config{}, err
	}

	ttl, err := resolveUint(getenv, "COOLDOWN_TTL_SECONDS", file.TTLSeconds)
	if err != nil {
		return Config{}, err
	}
	if ttl != nil {
		cfg.TTL = time.Duration(*ttl) * time.Second
	}

	if path, ok := resolveString(getenv, "COOLDOWN_ALLOWLIST_PATH", file.resolvedAllowlistPath()); ok && path != "" {
		cfg.AllowlistPath = path
	} else {
		cfg.AllowlistPath = filepath.Join(cwd, "cooldown-allowlist.yaml")
	}

	if dir, ok := resolveString(getenv, "COOLDOWN_CACHE_DIR", file.resolvedCacheDir()); ok && dir != "" {
		cfg.CacheDir = dir
	} else {
		cfg.CacheDir = defaultCacheDir()
	}

	cfg.OfflineOK, err = resolveBool(getenv, "COOLDOWN_OFFLINE_OK", file.OfflineOK)
	if err != nil {
		return Config{}, err
	}

	retries, err := resolveUint(getenv, "COOLDOWN_HTTP_RETRIES", file.HTTPRetries)
	if err != nil {
		return Config{}, err
	}
	if retries != nil {
		cfg.HTTPRetries = int(*retries)
	}
	if cfg.HTTPRetries > maxHTTPRetries {
		cfg.HTTPRetries = maxHTTPRetries
	}

	cfg.Verbose, err = resolveBool(getenv, "COOLDOWN_VERBOSE", file.Verbose)
	if err != nil {
		return Config{}, err
	}

	if api, ok := resolveString(getenv, "COOLDOWN_REGISTRY_API", file.RegistryAPI); ok && api != "" {
		cfg.RegistryAPI = api
	}

	if raw, ok := resolveString(getenv, "COOLDOWN_REGISTRY_INDEX", file.RegistryIndex); ok && raw != "" {
		cfg.GuardedRegistries = ParseRegistryList(raw)
	}

	return cfg, nil
}

// ParseRegistryList splits a comma-separated registry list and normalizes
// each entry with the registry+ prefix.
func ParseRegistryList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, NormalizeRegistryIndex(part))
	}
	if len(out) == 0 {
		out = []string{defaultRegistryIndex, defaultSparseRegistryIndex}
	}
	return out
}

// NormalizeRegistryIndex prepends the registry+ scheme tag when missing.
func NormalizeRegistryIndex(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultRegistryIndex
	}
	if strings.HasPrefix(trimmed, "registry+") {
		return trimmed
	}
	return "registry+" + trimmed
}

func defaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "cargo-cooldown")
	}
	return filepath.Join(base, "cargo-cooldown")
}

func resolveString(getenv Getenv, key string, fileValue string) (string, bool) {
	if v, ok := getenv(key); ok {
		return v, true
	}
	if fileValue != "" {
		return fileValue, true
	}
	return "", false
}

func resolveUint(getenv Getenv, key string, fileValue *uint64) (*uint64, error) {
	if v, ok := getenv(key); ok {
		parsed, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, &Error{Key: key, Value: v, Reason: "expected a non-negative integer"}
		}
		return &parsed, nil
	}
	return fileValue, nil
}

func resolveBool(getenv Getenv, key string, fileValue *bool) (bool, error) {
	if v, ok := getenv(key); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes":
			return true, nil
		case "", "0", "false", "no":
			return false, nil
		default:
			return false, &Error{Key: key, Value: v, Reason: "expected a boolean"}
		}
	}
	if fileValue != nil {
		return *fileValue, nil
	}
	return false, nil
}

// fileConfig mirrors the cooldown.yaml schema. Paths are resolved relative
// to the file that declared them.
type fileConfig struct {
	CooldownMinutes *uint64 `yaml:"cooldown_minutes"`
	Mode            string  `yaml:"mode"`
	TTLSeconds      *uint64 `yaml:"ttl_seconds"`
	AllowlistPath   string  `yaml:"allowlist_path"`
	CacheDir        string  `yaml:"cache_dir"`
	OfflineOK       *bool   `yaml:"offline_ok"`
	HTTPRetries     *uint64 `yaml:"http_retries"`
	Verbose         *bool   `yaml:"verbose"`
	RegistryAPI     string  `yaml:"registry_api"`
	RegistryIndex   string  `yaml:"registry_index"`

	dir string
}

func (f fileConfig) resolvedAllowlistPath() string { return f.resolvePath(f.AllowlistPath) }
func (f fileConfig) resolvedCacheDir() string      { return f.resolvePath(f.CacheDir) }

func (f fileConfig) resolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || f.dir == "" {
		return p
	}
	return filepath.Join(f.dir, p)
}

func loadFileConfig(cwd, home string) fileConfig {
	candidates := []string{filepath.Join(cwd, FileName)}
	if home != "" {
		candidates = append(candidates, filepath.Join(home, ".cargo", FileName))
	}
	for _, path := range candidates {
		raw, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var file fileConfig
		if err := yaml.Unmarshal(raw, &file); err != nil {
			fmt.Fprintf(os.Stderr, "cargo-cooldown: ignoring %s: %v\n", path, err)
			continue
		}
		file.dir = filepath.Dir(path)
		return file
	}
	return fileConfig{}
}
