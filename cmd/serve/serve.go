package serve

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/storykeep/internal/app"
	"github.com/tphakala/storykeep/internal/conf"
)

// Command creates the command that runs the caching proxy.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the offline-first caching proxy",
		Long:  "Open the stores, install and activate the current cache version and serve the proxy until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Serve(settings)
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Server.Listen, "listen", viper.GetString("server.listen"), "Listen address and port of the proxy")
	cmd.Flags().BoolVar(&settings.Cache.SkipWaiting, "skip-waiting", viper.GetBool("cache.skipwaiting"), "Activate the new cache version right after install")
	cmd.Flags().StringSliceVar(&settings.Push.URLs, "push-url", viper.GetStringSlice("push.urls"), "Shoutrrr URL to deliver push notifications to")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
