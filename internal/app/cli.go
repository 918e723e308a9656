package app

import "github.com/spf13/pflag"

// RegisterFlags registers all CLI flags on the given FlagSet
func RegisterFlags(flags *pflag.FlagSet) {
	RegisterSourceFlags(flags)

	flags.StringP("transport", "t", "", "MCP transport: none, stdio or sse")
	flags.StringP("host", "H", "", "Host for SSE transport")
	flags.IntP("port", "p", 0, "Port for SSE transport")
	flags.StringP("auth-type", "a", "", "Authentication type: none, basic, or apikey")
	flags.StringP("auth-basic-username", "u", "", "Basic auth username")
	flags.StringP("auth-basic-password", "P", "", "Basic auth password")
	flags.StringSliceP("auth-api-keys", "k", nil, "API keys (comma-separated)")

	flags.Duration("update-rate", 0, "Pause between two sync ticks (e.g. 15m)")
	flags.Int("bulk-size", 0, "Maximum number of revisions per window")
	flags.String("checkpoint-mode", "", "When the checkpoint advances: confirm or optimistic")
	flags.Int("max-results", 0, "Maximum number of search hits returned by the tools")
	flags.Int("stat-cache-size", 0, "Number of cached entry lookups per repository")
	flags.Bool("once", false, "Sync every repository up to its head revision and exit")
}

// RegisterSourceFlags registers the flags locating the repositories and the
// checkpoints. The checkpoint commands share them with the server.
func RegisterSourceFlags(flags *pflag.FlagSet) {
	flags.StringP("config", "c", "", "Config file (YAML, TOML or JSON)")
	flags.String("repo-url", "", "Repository URL (svn://, http(s)://, file:// or a git URL)")
	flags.String("repo-path", "", "Watched path inside the repository")
	flags.String("repo-login", "", "Repository login")
	flags.String("repo-password", "", "Repository password")
	flags.Int64("start-revision", 0, "First revision to index, -1 for head only")
	flags.Int64("end-revision", 0, "Last revision to index, 0 for no limit")
	flags.String("maximum-file-size", "", "Largest file whose content is indexed (e.g. 10MB)")
	flags.StringSlice("excludes", nil, "Exclusion patterns (glob, or re: prefixed regex)")
	flags.String("base-dir", "", "Directory of indexes, checkpoints and locks")
	flags.String("checkpoint-backend", "", "Checkpoint store: manifest, badger, index or memory")
}
