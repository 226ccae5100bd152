// Command concierge runs the assistant gateway and administers its
// scheduled tasks.
//
// Exit codes: 0 on success, 2 on validation errors, 3 when a referenced
// entity does not exist, 1 otherwise.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/cron"
)

func main() {
	cmd := newRootCmd()
	cmd.SilenceUsage = true
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "concierge",
		Short: "Personal assistant gateway",
		Long: "concierge multiplexes chat channels into a per-session reasoning loop " +
			"with tool dispatch and scheduled reminders.",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	cmd.AddCommand(
		newServeCmd(&configPath),
		newSendCmd(&configPath),
		newCronCmd(&configPath),
	)
	return cmd
}

func exitCode(err error) int {
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		return 2
	}
	if errors.Is(err, cron.ErrTaskNotFound) {
		return 3
	}
	return 1
}
