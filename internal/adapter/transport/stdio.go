package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Zeeeepa/graph-sitter-lsp/internal/domain/lsp"
)

const defaultKillGrace = 2 * time.Second

// stdioTransport spawns the analysis server as a subprocess and frames
// payloads over its stdin/stdout pipes.
type stdioTransport struct {
	opts Options

	mu     sync.Mutex // guards writes and connect/close transitions
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	reader *bufio.Reader

	connected atomic.Bool
	closeOnce sync.Once
}

func newStdio(opts Options) *stdioTransport {
	if opts.KillGrace == 0 {
		opts.KillGrace = defaultKillGrace
	}
	return &stdioTransport{opts: opts}
}

func (t *stdioTransport) Kind() lsp.ConnectionKind { return lsp.ConnStdio }

func (t *stdioTransport) Connected() bool { return t.connected.Load() }

// Connect spawns the configured command. Any failure releases everything
// acquired so far: pipes are closed and a started process is killed.
func (t *stdioTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected.Load() {
		return nil
	}
	if len(t.opts.Command) == 0 {
		return fmt.Errorf("stdio transport: no command configured")
	}

	name := t.opts.Command[0]
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("stdio transport: binary not found: %s", name)
	}

	cmd := exec.Command(name, t.opts.Command[1:]...) //nolint:gosec // command from trusted config
	cmd.Dir = t.opts.Dir
	cmd.Stderr = os.Stderr // let server stderr pass through for debugging
	if len(t.opts.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range t.opts.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return fmt.Errorf("start process: %w", err)
	}

	// Respect a context that expired during spawn.
	if ctx.Err() != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return ctx.Err()
	}

	t.cmd = cmd
	t.stdin = stdin
	t.stdout = stdout
	t.reader = bufio.NewReaderSize(stdout, 64*1024)
	t.closeOnce = sync.Once{}
	t.connected.Store(true)

	slog.Debug("stdio transport connected", "command", name, "pid", cmd.Process.Pid)
	return nil
}

func (t *stdioTransport) Send(_ context.Context, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected.Load() {
		return fmt.Errorf("stdio transport: not connected")
	}
	return WriteFrame(t.stdin, payload)
}

func (t *stdioTransport) Receive(_ context.Context) ([]byte, error) {
	reader := t.reader
	if !t.connected.Load() || reader == nil {
		return nil, io.EOF
	}
	return ReadFrame(reader)
}

// Close tears down the pipes and the process: terminate first, then kill
// after the grace period. Safe to call repeatedly.
func (t *stdioTransport) Close() error {
	t.closeOnce.Do(func() {
		t.connected.Store(false)

		t.mu.Lock()
		cmd := t.cmd
		stdin := t.stdin
		stdout := t.stdout
		t.cmd = nil
		t.stdin = nil
		t.stdout = nil
		t.mu.Unlock()

		if stdin != nil {
			_ = stdin.Close()
		}
		if stdout != nil {
			_ = stdout.Close()
		}

		if cmd != nil && cmd.Process != nil {
			done := make(chan struct{})
			go func() {
				_ = cmd.Wait()
				close(done)
			}()

			_ = cmd.Process.Signal(os.Interrupt)
			select {
			case <-done:
			case <-time.After(t.opts.KillGrace):
				slog.Warn("analysis server did not exit, killing", "pid", cmd.Process.Pid)
				_ = cmd.Process.Kill()
				<-done
			}
		}
	})
	return nil
}

// PID returns the subprocess pid, or 0 when not running.
func (t *stdioTransport) PID() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd != nil && t.cmd.Process != nil {
		return t.cmd.Process.Pid
	}
	return 0
}

// Alive reports whether the subprocess is still running.
func (t *stdioTransport) Alive() bool {
	t.mu.Lock()
	cmd := t.cmd
	t.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return false
	}
	// Signal 0 probes liveness without delivering anything.
	return cmd.Process.Signal(syscall.Signal(0)) == nil
}
