// run.go implements the "slipway run" command which creates a task and
// drives one session from spawn to terminal state.
package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/slipway-dev/slipway/internal/bus"
	"github.com/slipway-dev/slipway/internal/engine"
	"github.com/slipway-dev/slipway/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run [description]",
	Short: "Run a task as a supervised Claude session",
	Long: `Run a task as a supervised Claude session: spawn the Claude process,
stream its output, persist the transcript, and record the outcome.
Provide a task description, or --task to re-run an existing task.
Ctrl-C requests a graceful stop.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var (
	taskFlag   string
	resumeFlag string
)

func init() {
	runCmd.Flags().StringVar(&taskFlag, "task", "", "Existing task ID to run instead of creating a new task")
	runCmd.Flags().StringVar(&resumeFlag, "resume", "", "Resume a previous Claude conversation by its session identifier")
}

func runRun(cmd *cobra.Command, args []string) error {
	var description string
	if len(args) > 0 {
		description = strings.TrimSpace(args[0])
	}
	if description == "" && taskFlag == "" {
		return fmt.Errorf("provide a task description or use --task")
	}

	env, err := openEnv()
	if err != nil {
		return err
	}
	defer env.close()

	task, err := resolveTask(env, description)
	if err != nil {
		return err
	}

	sess, err := env.st.CreateSession(task.ID)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	events, cancel := env.bus.Subscribe(sess.ID)
	defer cancel()

	w, err := env.sup.StartSession(sess.ID, engine.StartOptions{ResumeID: resumeFlag})
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	fmt.Printf("Session %s\n", sess.ID)
	fmt.Printf("Task: %s\n\n", task.Title)

	// First Ctrl-C asks for a graceful stop; a second one abandons the wait.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nStopping session...")
		env.sup.StopSession(sess.ID)
		<-sigCh
		os.Exit(1)
	}()

	isTTY := term.IsTerminal(int(os.Stdout.Fd()))
	streamEvents(events, isTTY)

	select {
	case <-w.Done():
	case <-time.After(10 * time.Second):
		return fmt.Errorf("session %s did not finish tearing down", sess.ID)
	}

	final, err := env.st.GetSession(sess.ID)
	if err != nil {
		return fmt.Errorf("reading final session state: %w", err)
	}

	fmt.Println()
	if final.ExitCode != nil {
		fmt.Printf("Session %s: %s (exit %d)\n", sess.ID, final.Status, *final.ExitCode)
	} else {
		fmt.Printf("Session %s: %s\n", sess.ID, final.Status)
	}
	if final.Status == store.StatusFailed {
		return fmt.Errorf("session failed")
	}
	return nil
}

// resolveTask loads the task named by --task, or creates one from the
// description under a project for the current directory.
func resolveTask(e *env, description string) (*store.Task, error) {
	if taskFlag != "" {
		task, err := e.st.GetTask(taskFlag)
		if err != nil {
			return nil, fmt.Errorf("loading task: %w", err)
		}
		if task == nil {
			return nil, fmt.Errorf("task %s not found", taskFlag)
		}
		return task, nil
	}

	proj, err := e.st.FindProjectByPath(e.root)
	if err != nil {
		return nil, fmt.Errorf("looking up project: %w", err)
	}
	if proj == nil {
		proj, err = e.st.CreateProject(filepath.Base(e.root), e.root)
		if err != nil {
			return nil, fmt.Errorf("creating project: %w", err)
		}
	}

	title := description
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	if len(title) > 80 {
		title = title[:80]
	}

	task, err := e.st.CreateTask(proj.ID, title, description)
	if err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}
	return task, nil
}

// streamEvents prints bus events until the session terminates. Verbose mode
// dumps the raw stream lines; otherwise messages and tool activity are
// formatted, and ephemeral delta traffic is skipped.
func streamEvents(events <-chan bus.Event, isTTY bool) {
	for ev := range events {
		switch ev.Type {
		case bus.EventSessionStarted:
			// Header already printed.
		case bus.EventMessage:
			if verbose {
				fmt.Println(string(ev.Raw))
			} else if ev.Content != "" {
				fmt.Printf("[%s] %s\n", ev.Role, ev.Content)
			}
		case bus.EventToolUse:
			if verbose {
				fmt.Println(string(ev.Raw))
			} else if isTTY {
				fmt.Printf("  tool: %s\n", ev.Content)
			}
		case bus.EventSessionCompleted, bus.EventSessionFailed:
			if verbose && len(ev.Raw) > 0 {
				fmt.Println(string(ev.Raw))
			}
			if ev.Type == bus.EventSessionFailed && ev.Reason != "" {
				fmt.Fprintf(os.Stderr, "Session failed: %s\n", ev.Reason)
			}
		case bus.EventSessionTerminated:
			return
		default:
			if verbose && len(ev.Raw) > 0 {
				fmt.Println(string(ev.Raw))
			}
		}
	}
}
