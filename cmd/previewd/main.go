// previewd
//
// A runtime environment orchestrator for live previews of cloned
// repositories. Point it at a repo and branch, get a running dev server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/previewlabs/previewd"
	"github.com/previewlabs/previewd/internal/config"
	"github.com/previewlabs/previewd/pkg/filetree"
	"github.com/previewlabs/previewd/pkg/profile"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "previewd",
	Short: "previewd - Live Preview Orchestrator",
	Long: `previewd boots isolated preview environments for repository branches.

  previewd serve                 Start the orchestrator server
  previewd profile <dir>         Classify a local project directory
  previewd version               Print the version`,
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the previewd server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		app, err := previewd.NewBuilder().WithConfig(cfg).Build()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return app.Start(ctx)
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile <dir>",
	Short: "Classify a local project directory",
	Long: `Runs the project detection ladder against a local directory and prints
the resulting profile (family, entry point, install and start commands).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tree, err := filetree.FromDir(args[0])
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}

		var rules *profile.Rules
		if path := os.Getenv("PREVIEWD_RULES_PATH"); path != "" {
			rules, err = profile.LoadRules(path)
			if err != nil {
				return fmt.Errorf("loading rules: %w", err)
			}
		}

		p := profile.New(rules).Profile(tree)
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "previewd", version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
