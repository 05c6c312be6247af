// stop.go implements the "slipway stop" command.
package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/slipway-dev/slipway/internal/engine"
)

var stopCmd = &cobra.Command{
	Use:   "stop <session-id>",
	Short: "Request a graceful stop of a running session",
	Long: `Request a graceful stop of a session's worker. Sessions run inside the
process that started them, so this acts on sessions started by the
current process; a session left "running" by a crashed process is
corrected to failed during boot reconciliation instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.close()

	id := args[0]
	if err := env.sup.StopSession(id); err != nil {
		if errors.Is(err, engine.ErrNotRunning) {
			return fmt.Errorf("session %s is not running", id)
		}
		return err
	}

	fmt.Printf("Stop requested for session %s\n", id)
	return nil
}
