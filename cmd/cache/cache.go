// Package cache implements the cache tier maintenance commands.
package cache

import (
	"context"
	"fmt"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/storykeep/internal/app"
	"github.com/tphakala/storykeep/internal/conf"
)

// Command returns the cache command with its list, activate and purge subcommands.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and maintain the cache tiers",
	}
	cmd.AddCommand(listCommand(settings), activateCommand(settings), purgeCommand(settings))
	return cmd
}

func listCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cache tiers and their entry counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), settings, func(ctx context.Context, a *app.App) error {
				names, err := a.Tiers.Names(ctx)
				if err != nil {
					return err
				}
				current := settings.Cache.TierNames()

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "TIER\tENTRIES\tCURRENT")
				for _, name := range names {
					keys, err := a.Tiers.Keys(ctx, name)
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "%s\t%d\t%t\n", name, len(keys), slices.Contains(current, name))
				}
				return w.Flush()
			})
		},
	}
}

// activateCommand seeds the shell tier and purges obsolete tiers without
// running the proxy.
func activateCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "activate",
		Short: "Install and activate the configured cache version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), settings, func(ctx context.Context, a *app.App) error {
				installed, err := a.Lifecycle.Install(ctx)
				if err != nil {
					return err
				}
				for asset, cause := range installed.Failed {
					fmt.Fprintf(cmd.ErrOrStderr(), "failed to seed %s: %v\n", asset, cause)
				}

				activated, err := a.Lifecycle.Activate(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %d/%d shell assets into %s, purged %d obsolete tiers\n",
					len(installed.Cached), len(settings.Cache.Manifest), settings.Cache.ShellTier(), len(activated.Deleted))
				for _, name := range activated.Deleted {
					fmt.Fprintf(cmd.OutOrStdout(), "  purged %s\n", name)
				}
				return nil
			})
		},
	}
}

func purgeCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "purge <tier>",
		Short: "Delete a cache tier and all of its entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), settings, func(ctx context.Context, a *app.App) error {
				deleted, err := a.Tiers.DeleteTier(ctx, args[0])
				if err != nil {
					return err
				}
				if !deleted {
					return fmt.Errorf("cache tier %q does not exist", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged %s\n", args[0])
				return nil
			})
		},
	}
}

func withApp(ctx context.Context, settings *conf.Settings, fn func(context.Context, *app.App) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return app.Run(ctx, settings, func(a *app.App) error { return fn(ctx, a) })
}
