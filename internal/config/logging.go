package config

import (
	"context"
	"log/slog"
)

const masked = "****"

// Log logs the resolved settings in a granular way, skipping irrelevant ones
func Log(s *Settings) {
	LogWithLogger(s, slog.Default())
}

// LogWithLogger logs the resolved settings using the provided logger
func LogWithLogger(s *Settings, logger *slog.Logger) {
	ctx := context.Background()
	logger.InfoContext(ctx, "Config: transport", "value", s.Transport)
	if s.Transport == TransportSSE {
		logger.InfoContext(ctx, "Config: host", "value", s.Host)
		logger.InfoContext(ctx, "Config: port", "value", s.Port)
	}

	if s.Transport != TransportNone {
		logger.InfoContext(ctx, "Config: auth.type", "value", s.Auth.Type)
		switch s.Auth.Type {
		case AuthTypeBasic:
			logger.InfoContext(ctx, "Config: auth.basic.username", "value", s.Auth.Basic.Username)
			logger.InfoContext(ctx, "Config: auth.basic.password", "value", masked)
		case AuthTypeAPIKey:
			logger.InfoContext(ctx, "Config: auth.api_keys", "count", len(s.Auth.APIKeys))
		}
		logger.InfoContext(ctx, "Config: river.max_results", "value", s.River.MaxResults)
	}

	r := s.River
	logger.InfoContext(ctx, "Config: river.base_dir", "value", r.BaseDir)
	logger.InfoContext(ctx, "Config: river.update_rate", "value", r.UpdateRate.String())
	logger.InfoContext(ctx, "Config: river.bulk_size", "value", r.BulkSize)
	logger.InfoContext(ctx, "Config: river.checkpoint_mode", "value", r.CheckpointMode)
	logger.InfoContext(ctx, "Config: river.checkpoint_backend", "value", r.CheckpointBackend)
	for i, src := range r.Sources {
		logger.InfoContext(ctx, "Config: river.source", "index", i, "source", SourceSettingsLogValue(src))
	}
}

// AuthSettingsLogValue returns a slog.Value for AuthSettings with masked data
func AuthSettingsLogValue(s AuthSettings) slog.Value {
	keys := make([]string, len(s.APIKeys))
	for i := range s.APIKeys {
		keys[i] = masked
	}
	return slog.GroupValue(
		slog.String("type", s.Type),
		slog.Any("basic", BasicAuthSettingsLogValue(s.Basic)),
		slog.Any("api_keys", keys),
	)
}

// BasicAuthSettingsLogValue returns a slog.Value for BasicAuthSettings with masked data
func BasicAuthSettingsLogValue(s BasicAuthSettings) slog.Value {
	return slog.GroupValue(
		slog.String("username", s.Username),
		slog.String("password", masked),
	)
}

// SourceSettingsLogValue returns a slog.Value for SourceSettings with the password masked
func SourceSettingsLogValue(s SourceSettings) slog.Value {
	password := ""
	if s.Password != "" {
		password = masked
	}
	return slog.GroupValue(
		slog.String("url", s.URL),
		slog.String("path", s.Path),
		slog.String("login", s.Login),
		slog.String("password", password),
		slog.Int64("start_revision", s.StartRevision),
		slog.Int64("end_revision", s.EndRevision),
		slog.String("maximum_file_size", s.MaximumFileSize),
		slog.Any("excludes", s.Excludes),
	)
}

// RiverSettingsLogValue returns a slog.Value for RiverSettings with masked data
func RiverSettingsLogValue(r RiverSettings) slog.Value {
	sources := make([]slog.Value, len(r.Sources))
	for i, src := range r.Sources {
		sources[i] = SourceSettingsLogValue(src)
	}
	return slog.GroupValue(
		slog.String("base_dir", r.BaseDir),
		slog.Duration("update_rate", r.UpdateRate),
		slog.Int("bulk_size", r.BulkSize),
		slog.String("checkpoint_mode", r.CheckpointMode),
		slog.String("checkpoint_backend", r.CheckpointBackend),
		slog.Int("max_results", r.MaxResults),
		slog.Int("stat_cache_size", r.StatCacheSize),
		slog.Any("sources", sources),
	)
}

// SettingsLogValue returns a slog.Value for Settings with masked data
func SettingsLogValue(s Settings) slog.Value {
	return slog.GroupValue(
		slog.String("transport", s.Transport),
		slog.String("host", s.Host),
		slog.Int("port", s.Port),
		slog.Any("auth", AuthSettingsLogValue(s.Auth)),
		slog.Any("river", RiverSettingsLogValue(s.River)),
	)
}
