// Package favorites implements commands for the locally stored favorites.
package favorites

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/storykeep/internal/app"
	"github.com/tphakala/storykeep/internal/conf"
)

// Command returns the favorites command with list and clear subcommands.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "favorites",
		Short: "Manage stories saved for offline reading",
	}
	cmd.AddCommand(listCommand(settings), clearCommand(settings))
	return cmd
}

func listCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List favorited stories, most recently added first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(cmd.Context(), settings, func(a *app.App) error {
				favs, err := a.Stories.Favorites(cmd.Context())
				if err != nil {
					return err
				}
				if len(favs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no favorites")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tADDED\tIMAGE OFFLINE")
				for i := range favs {
					f := &favs[i]
					img, err := a.Store.GetCachedImage(cmd.Context(), f.PhotoURL)
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", f.ID, f.Name, f.AddedAt.Local().Format(time.DateTime), img != nil)
				}
				return w.Flush()
			})
		},
	}
}

func clearCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every favorite and its cached image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(cmd.Context(), settings, func(a *app.App) error {
				removed, err := a.Stories.ClearFavorites(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d favorites\n", removed)
				return nil
			})
		},
	}
}
