package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/forgesync/forgesync/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scopes, repositories and sync freshness",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		ctx := cmd.Context()
		scopes, err := store.ListScopes(ctx)
		if err != nil {
			return err
		}
		if len(scopes) == 0 {
			fmt.Println("No scopes configured. Run 'forgesync init' first.")
			return nil
		}

		bold := color.New(color.Bold).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		for _, scope := range scopes {
			fmt.Printf("\n%s %s (%s)\n", bold("Scope:"), cyan(scope.Name), scope.Provider)

			if scope.RateResetAt.IsZero() {
				fmt.Printf("  Rate budget: %s\n", gray("not yet observed"))
			} else {
				remaining := fmt.Sprintf("%d remaining", scope.RateRemaining)
				if scope.RateRemaining < 500 {
					remaining = yellow(remaining)
				} else {
					remaining = green(remaining)
				}
				fmt.Printf("  Rate budget: %s, resets %s\n",
					remaining, scope.RateResetAt.Format(time.Kitchen))
			}

			repos, err := store.ListRepositories(ctx, scope.ID, false)
			if err != nil {
				return err
			}
			var monitored int
			for _, repo := range repos {
				if repo.Monitored {
					monitored++
				}
			}
			fmt.Printf("  Repositories: %d monitored, %d referenced\n",
				monitored, len(repos)-monitored)

			for _, syncType := range types.AllSyncTypes() {
				state, err := store.GetSyncState(ctx, scope.ID, syncType)
				if err != nil {
					return err
				}
				if state == nil {
					fmt.Printf("  %-13s %s\n", string(syncType)+":", gray("never synced"))
					continue
				}
				age := time.Since(state.LastSyncedAt).Round(time.Second)
				fmt.Printf("  %-13s synced %s ago\n", string(syncType)+":", age)
			}
		}
		fmt.Println()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
