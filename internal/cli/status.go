// status.go implements the "slipway status" command.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show the state of a session",
	Long: `Display the recorded state of a session: lifecycle status, timestamps,
exit code, and transcript size.`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.close()

	id := args[0]
	sess, err := env.st.GetSession(id)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	if sess == nil {
		return fmt.Errorf("session %s not found", id)
	}

	msgs, err := env.st.Messages(id)
	if err != nil {
		return fmt.Errorf("loading messages: %w", err)
	}

	fmt.Printf("Session:  %s\n", sess.ID)
	fmt.Printf("Task:     %s\n", sess.TaskID)
	fmt.Printf("Status:   %s\n", sess.Status)
	fmt.Printf("Worker:   %s\n", env.sup.Status(id))
	if sess.StartedAt != nil {
		fmt.Printf("Started:  %s\n", sess.StartedAt.Format("2006-01-02 15:04:05"))
	}
	if sess.FinishedAt != nil {
		fmt.Printf("Finished: %s\n", sess.FinishedAt.Format("2006-01-02 15:04:05"))
	}
	if sess.ExitCode != nil {
		fmt.Printf("Exit:     %d\n", *sess.ExitCode)
	}
	fmt.Printf("Messages: %d\n", len(msgs))

	return nil
}
