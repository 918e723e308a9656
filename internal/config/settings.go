package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sha1n/svn-river/internal/domain"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Auth type constants
const (
	AuthTypeNone   = "none"
	AuthTypeBasic  = "basic"
	AuthTypeAPIKey = "apikey"
)

// Transport constants
const (
	TransportNone  = "none"
	TransportStdio = "stdio"
	TransportSSE   = "sse"
)

// Checkpoint mode constants
const (
	// CheckpointModeConfirm advances the checkpoint after the sink confirmed the batch.
	CheckpointModeConfirm = "confirm"
	// CheckpointModeOptimistic advances the checkpoint before submitting the batch.
	CheckpointModeOptimistic = "optimistic"
)

// EnvPrefix is the prefix of every environment variable.
const EnvPrefix = "SVN_RIVER"

// AuthSettings configuration for authentication
type AuthSettings struct {
	Type    string            `mapstructure:"type"` // AuthTypeNone, AuthTypeBasic, or AuthTypeAPIKey
	Basic   BasicAuthSettings `mapstructure:"basic"`
	APIKeys []string          `mapstructure:"api_keys"`
}

// BasicAuthSettings configuration for basic auth
type BasicAuthSettings struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// SourceSettings configures one synchronized repository path.
type SourceSettings struct {
	URL      string `mapstructure:"url"`
	Path     string `mapstructure:"path"`
	Login    string `mapstructure:"login"`
	Password string `mapstructure:"password"`
	// StartRevision is the first revision indexed, -1 to start at head.
	StartRevision int64 `mapstructure:"start_revision"`
	// EndRevision stops the river at that revision, 0 for no end.
	EndRevision int64 `mapstructure:"end_revision"`
	// MaximumFileSize is a byte count ("80", "1MB", "256KiB"), empty or 0 for no limit.
	MaximumFileSize string   `mapstructure:"maximum_file_size"`
	Excludes        []string `mapstructure:"excludes"`
}

// Identity returns the checkpoint identity of the source.
func (s SourceSettings) Identity() domain.Identity {
	return domain.NewIdentity(s.URL, s.Path)
}

// MaxFileSizeBytes parses MaximumFileSize.
func (s SourceSettings) MaxFileSizeBytes() (int64, error) {
	raw := strings.TrimSpace(s.MaximumFileSize)
	if raw == "" {
		return 0, nil
	}
	size, err := humanize.ParseBytes(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid maximum_file_size %q: %w", s.MaximumFileSize, err)
	}
	return int64(size), nil
}

// RiverSettings configures the synchronization loops.
type RiverSettings struct {
	BaseDir           string           `mapstructure:"base_dir"`
	UpdateRate        time.Duration    `mapstructure:"update_rate"`
	BulkSize          int              `mapstructure:"bulk_size"`
	CheckpointMode    string           `mapstructure:"checkpoint_mode"`
	CheckpointBackend string           `mapstructure:"checkpoint_backend"`
	MaxResults        int              `mapstructure:"max_results"`
	StatCacheSize     int              `mapstructure:"stat_cache_size"`
	Sources           []SourceSettings `mapstructure:"sources"`
}

// Settings application settings
type Settings struct {
	Transport string       `mapstructure:"transport"`
	Host      string       `mapstructure:"host"`
	Port      int          `mapstructure:"port"`
	Auth      AuthSettings `mapstructure:"auth"`
	// Repo is a single source given by flags or environment. It is merged
	// into River.Sources.
	Repo  SourceSettings `mapstructure:"repo"`
	River RiverSettings  `mapstructure:"river"`
}

// LoadSettings loads settings from environment variables and optional .env file
func LoadSettings() (*Settings, error) {
	return LoadSettingsWithFlags(nil)
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > .env file > config file > defaults.
// The config file is given by the "config" flag or SVN_RIVER_CONFIG.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	// Default values
	v.SetDefault("transport", TransportNone)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("auth.type", AuthTypeNone)

	v.SetDefault("repo.path", "/")
	v.SetDefault("repo.start_revision", 1)
	v.SetDefault("repo.end_revision", 0)

	v.SetDefault("river.base_dir", defaultBaseDir())
	v.SetDefault("river.update_rate", 15*time.Minute)
	v.SetDefault("river.bulk_size", 200)
	v.SetDefault("river.checkpoint_mode", CheckpointModeConfirm)
	v.SetDefault("river.checkpoint_backend", "manifest")
	v.SetDefault("river.max_results", 20)
	v.SetDefault("river.stat_cache_size", 1024)

	// Environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range []string{
		"auth.type", "auth.basic.username", "auth.basic.password", "auth.api_keys",
		"repo.url", "repo.path", "repo.login", "repo.password",
		"repo.start_revision", "repo.end_revision", "repo.maximum_file_size", "repo.excludes",
		"river.base_dir", "river.update_rate", "river.bulk_size", "river.checkpoint_mode",
		"river.checkpoint_backend", "river.max_results", "river.stat_cache_size",
	} {
		_ = v.BindEnv(key, envName(key))
	}

	// Bind CLI flags if provided (highest priority)
	if flags != nil {
		for key, flag := range map[string]string{
			"transport":                "transport",
			"host":                     "host",
			"port":                     "port",
			"auth.type":                "auth-type",
			"auth.basic.username":      "auth-basic-username",
			"auth.basic.password":      "auth-basic-password",
			"auth.api_keys":            "auth-api-keys",
			"repo.url":                 "repo-url",
			"repo.path":                "repo-path",
			"repo.login":               "repo-login",
			"repo.password":            "repo-password",
			"repo.start_revision":      "start-revision",
			"repo.end_revision":        "end-revision",
			"repo.maximum_file_size":   "maximum-file-size",
			"repo.excludes":            "excludes",
			"river.base_dir":           "base-dir",
			"river.update_rate":        "update-rate",
			"river.bulk_size":          "bulk-size",
			"river.checkpoint_mode":    "checkpoint-mode",
			"river.checkpoint_backend": "checkpoint-backend",
			"river.max_results":        "max-results",
			"river.stat_cache_size":    "stat-cache-size",
		} {
			if f := flags.Lookup(flag); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}

	// Optional config file (YAML, TOML or JSON by extension)
	if configFile := configFilePath(flags); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// .env file in the working directory
	dotenv := viper.New()
	dotenv.SetConfigName(".env")
	dotenv.SetConfigType("env")
	dotenv.AddConfigPath(".")
	if err := dotenv.ReadInConfig(); err == nil {
		if err := v.MergeConfigMap(dotenv.AllSettings()); err != nil {
			return nil, fmt.Errorf("failed to merge .env file: %w", err)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	// Comma-separated lists given through the environment
	settings.Auth.APIKeys = splitList(settings.Auth.APIKeys, os.Getenv(envName("auth.api_keys")))
	settings.Repo.Excludes = splitList(settings.Repo.Excludes, os.Getenv(envName("repo.excludes")))

	if strings.TrimSpace(settings.Repo.URL) != "" {
		settings.River.Sources = append([]SourceSettings{settings.Repo}, settings.River.Sources...)
	}
	for i := range settings.River.Sources {
		normalizeSource(&settings.River.Sources[i])
	}

	// Expand home directory in base_dir
	settings.River.BaseDir = expandHomeDir(settings.River.BaseDir)

	return &settings, nil
}

// envName returns the environment variable of a settings key.
func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// configFilePath returns the config file named by the "config" flag or the environment.
func configFilePath(flags *pflag.FlagSet) string {
	if flags != nil {
		if f := flags.Lookup("config"); f != nil && f.Value.String() != "" {
			return expandHomeDir(f.Value.String())
		}
	}
	return expandHomeDir(os.Getenv(EnvPrefix + "_CONFIG"))
}

// normalizeSource fills defaults that viper cannot apply to list elements.
func normalizeSource(s *SourceSettings) {
	s.URL = strings.TrimSpace(s.URL)
	s.Path = domain.NormalizePath(s.Path)
	if s.StartRevision == 0 {
		s.StartRevision = 1
	}
	for i := range s.Excludes {
		s.Excludes[i] = strings.TrimSpace(s.Excludes[i])
	}
	s.Excludes = filterEmptyStrings(s.Excludes)
}

// splitList splits a single comma-separated value coming from the environment.
func splitList(values []string, env string) []string {
	if env != "" && (len(values) == 0 || (len(values) == 1 && strings.Contains(values[0], ","))) {
		values = strings.Split(env, ",")
	}
	for i := range values {
		values[i] = strings.TrimSpace(values[i])
	}
	return filterEmptyStrings(values)
}

// defaultBaseDir returns the default directory for indexes, checkpoints and locks
func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".svn-river"
	}
	return filepath.Join(home, ".svn-river")
}

// expandHomeDir expands ~ to the user's home directory
func expandHomeDir(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	return path
}

// filterEmptyStrings removes empty strings from a slice
func filterEmptyStrings(s []string) []string {
	var result []string
	for _, str := range s {
		if str != "" {
			result = append(result, str)
		}
	}
	return result
}

// ValidateSettings checks for conflicting configurations.
func ValidateSettings(s *Settings) error {
	switch s.Transport {
	case TransportNone, TransportStdio, TransportSSE:
		// valid
	default:
		return errors.New("transport must be 'none', 'stdio' or 'sse', got: " + s.Transport)
	}

	hasBasicCreds := s.Auth.Basic.Username != "" || s.Auth.Basic.Password != ""
	hasAPIKeys := len(s.Auth.APIKeys) > 0

	switch s.Auth.Type {
	case AuthTypeNone, "":
		if hasBasicCreds || hasAPIKeys {
			return errors.New("auth-type 'none' is incompatible with auth credentials")
		}
	case AuthTypeBasic:
		if hasAPIKeys {
			return errors.New("auth-type 'basic' is mutually exclusive with auth-api-keys")
		}
		if s.Auth.Basic.Username == "" || s.Auth.Basic.Password == "" {
			return errors.New("auth-type 'basic' requires both username and password")
		}
	case AuthTypeAPIKey:
		if hasBasicCreds {
			return errors.New("auth-type 'apikey' is mutually exclusive with basic auth credentials")
		}
		if !hasAPIKeys {
			return errors.New("auth-type 'apikey' requires at least one API key")
		}
	default:
		return errors.New("unknown auth-type: " + s.Auth.Type)
	}

	return validateRiverSettings(&s.River)
}

// validateRiverSettings validates the river configuration
func validateRiverSettings(r *RiverSettings) error {
	if r.BaseDir == "" {
		return errors.New("base-dir cannot be empty")
	}
	if r.UpdateRate <= 0 {
		return errors.New("update-rate must be positive")
	}
	if r.BulkSize <= 0 {
		return errors.New("bulk-size must be positive")
	}
	if r.MaxResults <= 0 {
		return errors.New("max-results must be positive")
	}
	if r.StatCacheSize < 0 {
		return errors.New("stat-cache-size cannot be negative")
	}

	switch r.CheckpointMode {
	case CheckpointModeConfirm, CheckpointModeOptimistic:
	default:
		return fmt.Errorf("checkpoint-mode must be '%s' or '%s', got: %s",
			CheckpointModeConfirm, CheckpointModeOptimistic, r.CheckpointMode)
	}

	switch r.CheckpointBackend {
	case "manifest", "badger", "index", "memory":
	default:
		return errors.New("unknown checkpoint-backend: " + r.CheckpointBackend)
	}

	if len(r.Sources) == 0 {
		return errors.New("at least one repository source is required (repo-url or river.sources)")
	}

	seen := make(map[string]bool, len(r.Sources))
	for i, src := range r.Sources {
		if err := validateSourceSettings(src); err != nil {
			return fmt.Errorf("source %d: %w", i, err)
		}
		id := src.Identity().ID
		if seen[id] {
			return fmt.Errorf("source %d: duplicate repository %s", i, src.Identity().Display())
		}
		seen[id] = true
	}
	return nil
}

// validateSourceSettings validates one repository source
func validateSourceSettings(s SourceSettings) error {
	if s.URL == "" {
		return errors.New("url cannot be empty")
	}
	if s.StartRevision != domain.HeadRevision && s.StartRevision < 1 {
		return fmt.Errorf("start-revision must be -1 or at least 1, got %d", s.StartRevision)
	}
	if s.EndRevision < 0 {
		return fmt.Errorf("end-revision cannot be negative, got %d", s.EndRevision)
	}
	if s.EndRevision > 0 && s.StartRevision > 0 && s.EndRevision < s.StartRevision {
		return fmt.Errorf("end-revision %d is before start-revision %d", s.EndRevision, s.StartRevision)
	}
	if _, err := s.MaxFileSizeBytes(); err != nil {
		return err
	}
	return nil
}
