package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/storykeep/cmd/cache"
	"github.com/tphakala/storykeep/cmd/favorites"
	"github.com/tphakala/storykeep/cmd/push"
	"github.com/tphakala/storykeep/cmd/serve"
	"github.com/tphakala/storykeep/cmd/version"
	"github.com/tphakala/storykeep/internal/app"
	"github.com/tphakala/storykeep/internal/conf"
	"github.com/tphakala/storykeep/internal/logger"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "storykeep",
		Short:        "Offline-first caching proxy for Dicoding Stories",
		SilenceUsage: true,
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
	}

	versionCmd := version.Command()
	app.Release = version.Version

	rootCmd.AddCommand(
		serve.Command(settings),
		cache.Command(settings),
		favorites.Command(settings),
		push.Command(settings),
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		return initialize(settings)
	}

	return rootCmd
}

// initialize installs the central logger before any subcommand runs.
func initialize(settings *conf.Settings) error {
	if settings.Debug {
		settings.Logging.DefaultLevel = "debug"
		if settings.Logging.Console != nil {
			settings.Logging.Console.Level = "debug"
		}
	}

	cl, err := logger.NewCentralLogger(&settings.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger.SetGlobal(cl)
	return nil
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Upstream.AppOrigin, "app-origin", viper.GetString("upstream.apporigin"), "Origin serving the application shell")
	rootCmd.PersistentFlags().StringVar(&settings.Upstream.APIOrigin, "api-origin", viper.GetString("upstream.apiorigin"), "Origin serving the story API")
	rootCmd.PersistentFlags().StringVar(&settings.Cache.Path, "cache-db", viper.GetString("cache.path"), "SQLite file holding the cache tiers")
	rootCmd.PersistentFlags().StringVar(&settings.Store.Path, "store-db", viper.GetString("store.path"), "SQLite file holding stories and favorites")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}

	return nil
}
