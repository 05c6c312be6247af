// sessions.go implements the "slipway sessions" command listing recent runs.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recent sessions",
	RunE:  runSessions,
}

var limitFlag int

func init() {
	sessionsCmd.Flags().IntVar(&limitFlag, "limit", 20, "Maximum number of sessions to list")
}

func runSessions(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.close()

	sessions, err := env.st.ListSessions(limitFlag)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions yet. Start one with: slipway run \"your task description\"")
		return nil
	}

	fmt.Printf("%-36s  %-9s  %-19s  %s\n", "SESSION", "STATUS", "STARTED", "EXIT")
	for _, s := range sessions {
		started := "-"
		if s.StartedAt != nil {
			started = s.StartedAt.Format("2006-01-02 15:04:05")
		}
		exit := "-"
		if s.ExitCode != nil {
			exit = fmt.Sprintf("%d", *s.ExitCode)
		}
		fmt.Printf("%-36s  %-9s  %-19s  %s\n", s.ID, s.Status, started, exit)
	}

	return nil
}
