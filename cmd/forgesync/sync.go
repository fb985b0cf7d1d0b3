package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forgesync/forgesync/internal/bulksync"
	"github.com/forgesync/forgesync/internal/events"
	"github.com/forgesync/forgesync/internal/provider"
	"github.com/forgesync/forgesync/internal/ratelimit"
	"github.com/forgesync/forgesync/internal/reconcile"
)

var (
	syncScope string
	syncForce bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run bulk sync now",
	Long: `Run one bulk sync pass: walk the provider's paginated listings for
every monitored repository and reconcile the results into the database.

Scopes that synced recently are skipped unless --force is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		orchCfg := cfg.Orchestrator()
		if syncForce {
			orchCfg.Cooldown = 0
		}
		if err := orchCfg.Validate(); err != nil {
			return err
		}

		client := provider.NewGitHubClient(cfg.GitHub())
		gov := ratelimit.NewGovernor(cfg.Governor())
		rec := reconcile.New(store, events.NewLogSink(logger), logger)
		orch := bulksync.NewOrchestrator(store, client, rec, gov, cfg.Retry(), orchCfg, logger)

		ctx := cmd.Context()
		if syncScope != "" {
			scope, err := store.GetScopeByName(ctx, syncScope)
			if err != nil {
				return err
			}
			if scope == nil {
				return fmt.Errorf("unknown scope %q", syncScope)
			}
			res := orch.SyncScope(ctx, scope)
			printScopeResult(res)
			return res.Err
		}

		results, err := orch.SyncAll(ctx)
		for _, res := range results {
			if res != nil {
				printScopeResult(res)
			}
		}
		return err
	},
}

func printScopeResult(res *bulksync.ScopeResult) {
	switch res.Status {
	case bulksync.StatusCompleted:
		fmt.Printf("%s: applied %d, skipped %d\n", res.ScopeName, res.Applied, res.Skipped)
	case bulksync.StatusSkippedCooldown:
		fmt.Printf("%s: in cooldown, skipped\n", res.ScopeName)
	default:
		fmt.Printf("%s: %s (applied %d, failed repos %d)\n",
			res.ScopeName, res.Status, res.Applied, res.FailedRepos)
	}
}

func init() {
	syncCmd.Flags().StringVar(&syncScope, "scope", "", "sync only this scope")
	syncCmd.Flags().BoolVar(&syncForce, "force", false, "ignore the cooldown window")
	rootCmd.AddCommand(syncCmd)
}
