package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sha1n/svn-river/internal/app"
	"github.com/sha1n/svn-river/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	// Version is injected at build time
	Version = "dev"
	// Build is injected at build time
	Build = "unknown"
	// ProgramName is injected at build time
	ProgramName = "svn-river"
)

func main() {
	runMain(os.Args, os.Exit)
}

func runMain(args []string, exit func(int)) {
	if err := Execute(Version, Build, ProgramName, args[1:]); err != nil {
		exit(1)
	}
}

// Execute is the entry point for the CLI, extracted for testing
func Execute(version, build, programName string, args []string) error {
	rootCmd := &cobra.Command{
		Use:     programName,
		Short:   "Subversion history river",
		Long:    "Incrementally syncs repository revisions into a searchable index and serves it over MCP",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithFlags(cmd.Context(), cmd.Flags(), version)
		},
	}

	rootCmd.SetVersionTemplate(`{{.Version}}
`)

	app.RegisterFlags(rootCmd.Flags())
	rootCmd.AddCommand(newCheckpointCommand())
	rootCmd.SetArgs(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return rootCmd.ExecuteContext(ctx)
}

func runWithFlags(ctx context.Context, flags *pflag.FlagSet, version string) error {
	return app.RunWithDeps(ctx, app.DefaultRunParams(), flags, version)
}

func newCheckpointCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or override sync checkpoints",
	}
	app.RegisterSourceFlags(cmd.PersistentFlags())
	cmd.PersistentFlags().StringP("repository", "r", "", "Repository ID, URL or URL with watched path")

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the checkpoint of every configured repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAdmin(cmd, func(admin *app.CheckpointAdmin, repository string) error {
				return admin.Print(cmd.Context(), cmd.OutOrStdout(), repository)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set REVISION",
		Short: "Override the checkpoint of a repository; lowering it re-syncs from there",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rev, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid revision %q: %w", args[0], err)
			}
			return withAdmin(cmd, func(admin *app.CheckpointAdmin, repository string) error {
				identity, err := admin.Set(cmd.Context(), repository, rev)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s checkpoint set to %d\n", identity.Display(), rev)
				return nil
			})
		},
	})

	return cmd
}

func withAdmin(cmd *cobra.Command, fn func(*app.CheckpointAdmin, string) error) error {
	settings, err := config.LoadSettingsWithFlags(cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if len(settings.River.Sources) == 0 {
		return fmt.Errorf("no repository sources configured")
	}

	admin, err := app.OpenCheckpointAdmin(&settings.River)
	if err != nil {
		return err
	}
	defer func() { _ = admin.Close() }()

	repository, _ := cmd.Flags().GetString("repository")
	return fn(admin, repository)
}
