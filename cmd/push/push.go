// Package push implements the command that previews push payloads.
package push

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tphakala/storykeep/internal/app"
	"github.com/tphakala/storykeep/internal/conf"
	"github.com/tphakala/storykeep/internal/logger"
	"github.com/tphakala/storykeep/internal/push"
)

// Command returns a cobra command that parses a push payload and shows the
// notification it would produce.
func Command(settings *conf.Settings) *cobra.Command {
	var send bool

	cmd := &cobra.Command{
		Use:   "push <payload.json>",
		Short: "Preview the notification for a push payload",
		Long: `Parse a push payload and print the resulting notification. Use "-" to read from stdin.

Examples:
  storykeep push payload.json
  echo '{"title":"Hello","options":{"data":{"url":"/#/stories/1"}}}' | storykeep push -
  storykeep push --send payload.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readPayload(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			n, err := push.ParsePayload(raw)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "malformed payload, using defaults: %v\n", err)
			}
			if settings.Push.Icon != "" {
				n.Icon, n.Badge = settings.Push.Icon, settings.Push.Icon
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(n); err != nil {
				return err
			}

			if !send {
				return nil
			}
			log := logger.Global().Module("push")
			notifier := app.NewNotifier(settings, log)
			if notifier == nil {
				notifier = push.NewLogNotifier(log)
			}
			if err := notifier.Notify(cmd.Context(), &n); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent via %s\n", notifier.Name())
			return nil
		},
	}

	cmd.Flags().BoolVar(&send, "send", false, "Deliver the notification through the configured push URLs")
	return cmd
}

func readPayload(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading payload: %w", err)
	}
	return data, nil
}
