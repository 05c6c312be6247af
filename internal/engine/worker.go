package engine

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/slipway-dev/slipway/internal/bus"
	"github.com/slipway-dev/slipway/internal/config"
	"github.com/slipway-dev/slipway/internal/log"
	"github.com/slipway-dev/slipway/internal/store"
	"github.com/slipway-dev/slipway/internal/stream"
)

// Worker lifecycle states as reported by Status. A session with no live
// worker has no state; the supervisor reports StateNotRunning for it.
const (
	StateStarting   = "starting"
	StateRunning    = "running"
	StateStopping   = "stopping"
	StateTerminated = "terminated"
	StateNotRunning = "not_running"
)

// StartOptions tunes one session run. The zero value derives everything from
// the task record and engine configuration.
type StartOptions struct {
	// Prompt overrides the prompt built from the task title and description.
	Prompt string
	// ResumeID resumes a previous remote conversation via --resume.
	ResumeID string
	// CLIPath overrides PATH resolution of the configured binary.
	CLIPath string
	// Args replaces the entire argument vector. Intended for tests that
	// substitute a script for the real CLI.
	Args []string
}

// Worker owns one session: it spawns the subprocess, funnels every output
// event and control request through a single loop, and guarantees the
// persisted session reaches a terminal state no matter how the run ends.
type Worker struct {
	sessionID string
	cfg       config.EngineConfig
	opts      StartOptions
	st        Store
	bus       Bus
	logger    *log.Logger
	reg       *Registry

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu       sync.Mutex
	state    string
	resumeID string
}

func newWorker(sessionID string, cfg config.EngineConfig, opts StartOptions, st Store, b Bus, logger *log.Logger, reg *Registry) *Worker {
	return &Worker{
		sessionID: sessionID,
		cfg:       cfg,
		opts:      opts,
		st:        st,
		bus:       b,
		logger:    logger,
		reg:       reg,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		state:     StateStarting,
	}
}

// SessionID returns the session this worker owns.
func (w *Worker) SessionID() string { return w.sessionID }

// Status reports the worker's current lifecycle state. It never blocks, even
// while the worker is mid-spawn.
func (w *Worker) Status() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// ResumeID returns the remote conversation identifier captured from the
// stream's system init event, or "" if none has arrived.
func (w *Worker) ResumeID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.resumeID
}

// Stop requests a graceful stop. It is idempotent and returns immediately.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Done is closed when the worker has fully torn down.
func (w *Worker) Done() <-chan struct{} { return w.done }

func (w *Worker) setStatus(s string) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// logEvent appends to the event log. A log write failure is warned, never
// fatal; the session's correctness does not depend on the log.
func (w *Worker) logEvent(ev log.LogEvent) {
	if err := w.logger.Append(ev); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to append log event: %v\n", err)
	}
}

func (w *Worker) setResumeID(id string) {
	w.mu.Lock()
	if w.resumeID == "" {
		w.resumeID = id
	}
	w.mu.Unlock()
}

func (w *Worker) run() {
	defer close(w.done)
	defer w.reg.Unregister(w.sessionID)

	p, err := w.start()
	if err != nil {
		w.failStarting(err)
		return
	}
	w.loop(p)
}

// start resolves the spawn contract and launches the subprocess, then records
// the session as running.
func (w *Worker) start() (*proc, error) {
	sess, err := w.st.GetSession(w.sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s not found", w.sessionID)
	}

	task, err := w.st.GetTask(sess.TaskID)
	if err != nil {
		return nil, fmt.Errorf("loading task: %w", err)
	}
	if task == nil {
		return nil, fmt.Errorf("task %s not found", sess.TaskID)
	}

	project, err := w.st.GetProject(task.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}
	if project == nil {
		return nil, fmt.Errorf("project %s not found", task.ProjectID)
	}

	bin := w.opts.CLIPath
	if bin == "" {
		bin, err = exec.LookPath(w.cfg.ClaudeBinary)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", w.cfg.ClaudeBinary, err)
		}
	}

	dir := project.Path
	if dir != "" {
		if _, statErr := os.Stat(dir); statErr != nil {
			w.logEvent(log.LogEvent{
				Event:     log.EventSpawnWarning,
				SessionID: w.sessionID,
				TaskID:    task.ID,
				Reason:    "project path missing, spawning without working directory",
				Error:     statErr.Error(),
			})
			dir = ""
		}
	}

	p, err := spawnProc(bin, w.buildArgs(task), dir)
	if err != nil {
		return nil, err
	}

	if err := w.st.MarkStarted(w.sessionID); err != nil {
		p.kill()
		p.close()
		return nil, fmt.Errorf("marking session started: %w", err)
	}
	if err := w.st.SetTaskStatus(task.ID, store.StatusRunning); err != nil {
		p.kill()
		p.close()
		return nil, fmt.Errorf("marking task running: %w", err)
	}

	w.setStatus(StateRunning)
	w.publish(bus.Event{Type: bus.EventSessionStarted, SessionID: w.sessionID})
	w.logEvent(log.LogEvent{
		Event:     log.EventSessionStarted,
		SessionID: w.sessionID,
		TaskID:    task.ID,
	})
	return p, nil
}

func (w *Worker) buildArgs(task *store.Task) []string {
	if w.opts.Args != nil {
		return w.opts.Args
	}

	prompt := w.opts.Prompt
	if prompt == "" {
		prompt = task.Title
		if task.Description != "" {
			prompt += "\n\n" + task.Description
		}
	}

	args := []string{"-p", prompt, "--output-format", "stream-json", "--verbose"}
	if len(w.cfg.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(w.cfg.AllowedTools, ","))
	}
	if w.opts.ResumeID != "" {
		args = append(args, "--resume", w.opts.ResumeID)
	}
	return args
}

// failStarting handles a failure before the subprocess is usefully running:
// the session goes straight to failed with exit code 1.
func (w *Worker) failStarting(err error) {
	w.st.MarkCompleted(w.sessionID, 1)
	if sess, gerr := w.st.GetSession(w.sessionID); gerr == nil && sess != nil {
		w.st.SetTaskStatus(sess.TaskID, store.StatusFailed)
	}
	w.publish(bus.Event{
		Type:      bus.EventSessionFailed,
		SessionID: w.sessionID,
		Reason:    err.Error(),
	})
	w.publish(bus.Event{
		Type:      bus.EventSessionTerminated,
		SessionID: w.sessionID,
		Reason:    "spawn_failed",
	})
	w.logEvent(log.LogEvent{
		Event:     log.EventSessionFailed,
		SessionID: w.sessionID,
		Reason:    "spawn_failed",
		Error:     err.Error(),
	})
	w.setStatus(StateTerminated)
}

// loop is the worker's single control loop: subprocess output, the exit
// notice, stop requests, and the stop grace timer are all serviced here, one
// at a time. No other goroutine mutates session state.
func (w *Worker) loop(p *proc) {
	var (
		carry      string
		out        = p.out
		exit       = p.exit
		stopCh     <-chan struct{} = w.stopCh
		graceCh    <-chan time.Time
		graceTimer *time.Timer
		notice     exitNotice
		exitSeen   bool
		stopping   bool
		reason     string
	)

	defer func() {
		if graceTimer != nil {
			graceTimer.Stop()
		}
		if !exitSeen {
			p.kill()
		}
		p.close()
		// Let the read pump finish; it may be mid-send.
		if out != nil {
			for range out {
			}
		}
		if !exitSeen {
			<-exit
		}
		w.teardown(reason)
	}()

	for out != nil || !exitSeen {
		select {
		case <-stopCh:
			stopCh = nil
			stopping = true
			w.setStatus(StateStopping)
			p.terminate()
			graceTimer = time.NewTimer(w.gracePeriod())
			graceCh = graceTimer.C

		case chunk, ok := <-out:
			if !ok {
				out = nil
				continue
			}
			var events []stream.Event
			carry, events = stream.ProcessChunk(carry, chunk)
			for _, ev := range events {
				if err := w.dispatch(ev); err != nil {
					w.logEvent(log.LogEvent{
						Event:     log.EventSessionFailed,
						SessionID: w.sessionID,
						Reason:    "persistence error",
						Error:     err.Error(),
					})
					reason = "error"
					return
				}
			}

		case notice = <-exit:
			exitSeen = true
			exit = nil

		case <-graceCh:
			graceCh = nil
			p.kill()
		}
	}

	// A final line without a trailing newline is still a complete event once
	// the stream has closed.
	if strings.TrimSpace(carry) != "" {
		_, events := stream.ProcessChunk(carry, []byte("\n"))
		for _, ev := range events {
			if err := w.dispatch(ev); err != nil {
				reason = "error"
				return
			}
		}
	}

	reason = w.finalize(notice, stopping)
}

// finalize records the terminal transition once output is drained and the
// exit notice has arrived. Returns the termination reason.
func (w *Worker) finalize(n exitNotice, stopping bool) string {
	var sess *store.Session
	if s, err := w.st.GetSession(w.sessionID); err == nil {
		sess = s
	}

	switch {
	case stopping:
		// A requested stop is a success regardless of how the process chose
		// to exit.
		if err := w.markTerminal(sess, 0); err != nil {
			return "error"
		}
		w.publish(bus.Event{
			Type:      bus.EventSessionCompleted,
			SessionID: w.sessionID,
			ExitCode:  0,
		})
		w.logEvent(log.LogEvent{
			Event:     log.EventSessionCompleted,
			SessionID: w.sessionID,
			ExitCode:  0,
		})
		return "stopped"

	case n.crashed:
		if err := w.markTerminal(sess, 1); err != nil {
			return "error"
		}
		w.publish(bus.Event{
			Type:      bus.EventSessionFailed,
			SessionID: w.sessionID,
			Reason:    "crashed",
			ExitCode:  1,
		})
		w.logEvent(log.LogEvent{
			Event:     log.EventSessionFailed,
			SessionID: w.sessionID,
			Reason:    "crashed",
			ExitCode:  1,
		})
		return "crashed"

	default:
		if err := w.markTerminal(sess, n.code); err != nil {
			return "error"
		}
		w.publish(bus.Event{
			Type:      bus.EventSessionCompleted,
			SessionID: w.sessionID,
			ExitCode:  n.code,
		})
		w.logEvent(log.LogEvent{
			Event:     log.EventSessionCompleted,
			SessionID: w.sessionID,
			ExitCode:  n.code,
		})
		if n.code == 0 {
			return "completed"
		}
		return "failed"
	}
}

func (w *Worker) markTerminal(sess *store.Session, exitCode int) error {
	if err := w.st.MarkCompleted(w.sessionID, exitCode); err != nil {
		return err
	}
	if sess == nil {
		return nil
	}
	taskStatus := store.StatusCompleted
	if exitCode != 0 {
		taskStatus = store.StatusFailed
	}
	return w.st.SetTaskStatus(sess.TaskID, taskStatus)
}

// teardown runs on every exit path. If the persisted session still claims to
// be running, no terminal transition fired (the worker hit a fatal error
// mid-flight), so it is corrected here.
func (w *Worker) teardown(reason string) {
	sess, err := w.st.GetSession(w.sessionID)
	if err == nil && sess != nil && sess.Status == store.StatusRunning {
		w.st.MarkCompleted(w.sessionID, -1)
		w.st.SetTaskStatus(sess.TaskID, store.StatusFailed)
		w.publish(bus.Event{
			Type:      bus.EventSessionFailed,
			SessionID: w.sessionID,
			Reason:    reason,
			ExitCode:  -1,
		})
	}

	w.publish(bus.Event{
		Type:      bus.EventSessionTerminated,
		SessionID: w.sessionID,
		Reason:    reason,
	})
	w.logEvent(log.LogEvent{
		Event:     log.EventSessionTerminated,
		SessionID: w.sessionID,
		Reason:    reason,
	})
	w.setStatus(StateTerminated)
}

func (w *Worker) gracePeriod() time.Duration {
	if w.cfg.StopGracePeriod <= 0 {
		return 5 * time.Second
	}
	return time.Duration(w.cfg.StopGracePeriod) * time.Second
}
