package engine

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// exitNotice reports how the subprocess ended. crashed is set when the
// process was killed by a signal or failed in a way that produced no exit
// code, as opposed to exiting on its own.
type exitNotice struct {
	code    int
	crashed bool
}

// proc wraps a running CLI subprocess. Stdout and stderr share one pipe so
// the stream arrives in a single ordered sequence of chunks.
type proc struct {
	cmd  *exec.Cmd
	out  chan []byte
	exit chan exitNotice
	r    *os.File
}

// spawnProc starts bin with args in dir (process default when dir is empty)
// and begins pumping its combined output. The out channel closes on EOF; the
// exit channel delivers exactly one notice when the process ends.
func spawnProc(bin string, args []string, dir string) (*proc, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating output pipe: %w", err)
	}

	cmd := exec.Command(bin, args...)
	cmd.Dir = dir
	cmd.Stdout = w
	cmd.Stderr = w
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("starting %s: %w", bin, err)
	}
	// The child holds its own copy of the write end; closing ours lets the
	// read loop see EOF when the child exits.
	w.Close()

	p := &proc{
		cmd:  cmd,
		out:  make(chan []byte, 16),
		exit: make(chan exitNotice, 1),
		r:    r,
	}
	go p.readLoop()
	go p.waitLoop()
	return p, nil
}

func (p *proc) readLoop() {
	defer close(p.out)
	buf := make([]byte, 32*1024)
	for {
		n, err := p.r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			p.out <- chunk
		}
		if err != nil {
			return
		}
	}
}

func (p *proc) waitLoop() {
	err := p.cmd.Wait()
	if err == nil {
		p.exit <- exitNotice{code: 0}
		return
	}
	if ee, ok := err.(*exec.ExitError); ok {
		code := ee.ExitCode()
		if code < 0 {
			// Killed by a signal; there is no real exit code.
			p.exit <- exitNotice{code: 1, crashed: true}
			return
		}
		p.exit <- exitNotice{code: code}
		return
	}
	p.exit <- exitNotice{code: 1, crashed: true}
}

// terminate sends SIGTERM, asking the process to wind down on its own.
func (p *proc) terminate() {
	if p.cmd.Process != nil {
		p.cmd.Process.Signal(syscall.SIGTERM)
	}
}

// kill forcibly ends the process.
func (p *proc) kill() {
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
}

// close releases the read end of the output pipe.
func (p *proc) close() {
	p.r.Close()
}
