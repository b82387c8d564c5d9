package version

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X github.com/tphakala/storykeep/cmd/version.Version=..."
var (
	Version   = "dev"
	BuildDate = "unknown"
)

// Command creates a new cobra.Command that prints build information.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the storykeep version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "storykeep %s (built %s, %s %s/%s)\n",
				Version, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return err
		},
	}
}
