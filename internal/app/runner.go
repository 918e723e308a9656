package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sha1n/svn-river/internal/config"
	mcputil "github.com/sha1n/svn-river/internal/mcp"
	"github.com/sha1n/svn-river/internal/river"
	"github.com/spf13/pflag"
)

// ServerName is the MCP implementation name.
const ServerName = "svn-river"

// RiverService is the river as run by the application.
type RiverService interface {
	mcputil.HistoryService
	Run(ctx context.Context) error
	CatchUp(ctx context.Context) error
	Close() error
}

// RunParams contains dependencies for the run function
type RunParams struct {
	LoadSettings      func(*pflag.FlagSet) (*config.Settings, error)
	ValidSettings     func(*config.Settings) error
	CreateService     func(*config.Settings) (RiverService, error)
	StartSSEServer    func(context.Context, *mcp.Server, *config.Settings) error
	CustomIOTransport mcp.Transport // Optional: for testing with custom IO
}

// DefaultRunParams returns production dependencies
func DefaultRunParams() RunParams {
	return RunParams{
		LoadSettings:   config.LoadSettingsWithFlags,
		ValidSettings:  config.ValidateSettings,
		CreateService:  CreateRiverService,
		StartSSEServer: StartSSEServer,
	}
}

// CreateRiverService creates the river of the configured sources.
func CreateRiverService(settings *config.Settings) (RiverService, error) {
	svc, err := river.NewService(&settings.River, river.WithLogger(slog.Default()))
	if err != nil {
		return nil, fmt.Errorf("failed to create river service: %w", err)
	}
	return svc, nil
}

// RunWithDeps executes the river and the MCP server with the provided dependencies.
// With the "once" flag it catches every repository up to head and returns.
func RunWithDeps(ctx context.Context, params RunParams, flags *pflag.FlagSet, version string) error {
	// Load settings
	settings, err := params.LoadSettings(flags)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	// Validate settings for conflicting configurations
	if err := params.ValidSettings(settings); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Configure logging - always use stderr to avoid buffering issues
	handler := slog.NewTextHandler(os.Stderr, nil)
	slog.SetDefault(slog.New(handler))

	slog.Info("Starting svn-river", "version", version)
	config.Log(settings)

	svc, err := params.CreateService(settings)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			slog.Error("Failed to close river service", "error", err)
		}
	}()

	if runOnce(flags) {
		return svc.CatchUp(ctx)
	}

	if settings.Transport == config.TransportNone || settings.Transport == "" {
		return svc.Run(ctx)
	}

	riverCtx, stopRiver := context.WithCancel(ctx)
	riverDone := make(chan error, 1)
	go func() {
		riverDone <- svc.Run(riverCtx)
	}()
	defer func() {
		stopRiver()
		if err := <-riverDone; err != nil {
			slog.Error("River stopped", "error", err)
		}
	}()

	mcpServer := mcputil.CreateServer(mcputil.ServerConfig{
		Name:       ServerName,
		Version:    version,
		River:      svc,
		MaxResults: settings.River.MaxResults,
	})

	// Start server
	if settings.Transport == config.TransportStdio {
		// Use custom transport if provided (for testing), otherwise use stdio
		transport := params.CustomIOTransport
		if transport == nil {
			transport = &mcp.StdioTransport{}
		}
		return mcpServer.Run(ctx, transport)
	}

	slog.Info("Starting SSE server", "host", settings.Host, "port", settings.Port)
	return params.StartSSEServer(ctx, mcpServer, settings)
}

func runOnce(flags *pflag.FlagSet) bool {
	if flags == nil || flags.Lookup("once") == nil {
		return false
	}
	once, err := flags.GetBool("once")
	return err == nil && once
}
