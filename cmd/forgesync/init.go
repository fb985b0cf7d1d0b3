package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/forgesync/forgesync/internal/types"
)

var (
	initScope string
	initRepos []string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the database and register a scope with its repositories",
	Long: `Initialize the forgesync database, create a scope (a provider
organization or user whose rate budget is shared) and register the
repositories to monitor.

Example:
  forgesync init --scope acme --repo acme/rocket --repo acme/wagon`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if initScope == "" {
			return fmt.Errorf("--scope is required")
		}

		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("failed to create database directory: %w", err)
			}
		}

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		ctx := cmd.Context()
		scope, err := store.GetScopeByName(ctx, initScope)
		if err != nil {
			return err
		}
		if scope == nil {
			scope = &types.Scope{Name: initScope, Provider: types.ProviderGitHub}
			if err := store.CreateScope(ctx, scope); err != nil {
				return fmt.Errorf("failed to create scope: %w", err)
			}
		}

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()

		fmt.Printf("\n%s Initialized forgesync\n\n", green("✓"))
		fmt.Printf("  Database: %s\n", cyan(cfg.DBPath))
		fmt.Printf("  Scope:    %s\n", cyan(scope.Name))

		for _, spec := range initRepos {
			owner, name, ok := strings.Cut(spec, "/")
			if !ok || owner == "" || name == "" {
				return fmt.Errorf("invalid repository %q, expected owner/name", spec)
			}
			if _, err := store.UpsertRepository(ctx, &types.Repository{
				ScopeID:   scope.ID,
				Provider:  scope.Provider,
				Owner:     owner,
				Name:      name,
				Monitored: true,
			}); err != nil {
				return fmt.Errorf("failed to register %s: %w", spec, err)
			}
			fmt.Printf("  Repo:     %s\n", cyan(spec))
		}
		fmt.Println()
		return nil
	},
}

func init() {
	initCmd.Flags().StringVar(&initScope, "scope", "", "scope (organization or user) to sync")
	initCmd.Flags().StringArrayVar(&initRepos, "repo", nil, "repository to monitor, owner/name (repeatable)")
	rootCmd.AddCommand(initCmd)
}
