package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"
)

// AddrEnv tells gpttools-service which address to listen on.
const AddrEnv = "GPTTOOLS_SERVICE_ADDR"

// Errors
var (
	ErrNotRunning = errors.New("service process not running")
)

// Config configures a Launcher.
type Config struct {
	BinaryPath  string        // empty = attach to an externally managed service
	Args        []string      // extra command line arguments
	Env         []string      // extra environment entries (KEY=VALUE)
	StopTimeout time.Duration // grace period before the process is killed
}

// Launcher supervises a local gpttools-service process.
type Launcher struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	cmd  *exec.Cmd
	addr string
	done chan struct{}
}

// New creates a Launcher.
func New(cfg Config, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	return &Launcher{cfg: cfg, logger: logger}
}

// Attached reports whether the launcher only attaches to an existing service.
func (l *Launcher) Attached() bool {
	return l.cfg.BinaryPath == ""
}

// Start launches the service listening on addr. It is a no-op when the
// process already runs on addr; a process on another address is stopped
// first. In attach mode it only records addr.
func (l *Launcher) Start(ctx context.Context, addr string) error {
	if l.Attached() {
		l.mu.Lock()
		l.addr = addr
		l.mu.Unlock()
		l.logger.Debug("attach mode, not launching service", "addr", addr)
		return nil
	}

	l.mu.Lock()
	if l.runningLocked() {
		if l.addr == addr {
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()
		l.logger.Info("service address changed, restarting", "addr", addr)
		if err := l.Stop(ctx); err != nil {
			return fmt.Errorf("stop previous service: %w", err)
		}
		l.mu.Lock()
	}
	defer l.mu.Unlock()

	// #nosec G204 -- binary path comes from the desk's own config file.
	cmd := exec.Command(l.cfg.BinaryPath, l.cfg.Args...)
	cmd.Env = append(os.Environ(), l.cfg.Env...)
	cmd.Env = append(cmd.Env, AddrEnv+"="+addr)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start service process: %w", err)
	}

	done := make(chan struct{})
	l.cmd = cmd
	l.addr = addr
	l.done = done

	go func() {
		err := cmd.Wait()
		close(done)
		l.logger.Info("service process exited", "pid", cmd.Process.Pid, "error", err)
	}()

	l.logger.Info("service process started",
		"pid", cmd.Process.Pid,
		"binary", l.cfg.BinaryPath,
		"addr", addr,
	)
	return nil
}

// Stop interrupts the process and kills it when it has not exited after the
// stop timeout or ctx is done. Stopping a stopped service is a no-op.
func (l *Launcher) Stop(ctx context.Context) error {
	if l.Attached() {
		return nil
	}

	l.mu.Lock()
	cmd, done := l.cmd, l.done
	running := l.runningLocked()
	l.mu.Unlock()

	if !running {
		return nil
	}

	if err := interrupt(cmd.Process); err != nil {
		l.logger.Debug("interrupt failed, killing", "error", err)
		if kerr := cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			return fmt.Errorf("kill service process: %w", kerr)
		}
	}

	timer := time.NewTimer(l.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		l.logger.Warn("service did not exit in time, killing", "timeout", l.cfg.StopTimeout)
		l.kill(cmd, done)
	case <-ctx.Done():
		l.kill(cmd, done)
	}

	l.mu.Lock()
	if l.cmd == cmd {
		l.cmd = nil
	}
	l.mu.Unlock()
	return nil
}

func (l *Launcher) kill(cmd *exec.Cmd, done <-chan struct{}) {
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		l.logger.Error("failed to kill service process", "error", err)
		return
	}
	<-done
}

// Running reports whether a launched process is alive.
func (l *Launcher) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runningLocked()
}

// PID returns the process id of the running service.
func (l *Launcher) PID() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.runningLocked() {
		return 0, ErrNotRunning
	}
	return l.cmd.Process.Pid, nil
}

// Addr returns the address the service was last started on.
func (l *Launcher) Addr() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr
}

func (l *Launcher) runningLocked() bool {
	if l.cmd == nil || l.done == nil {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

func interrupt(p *os.Process) error {
	if runtime.GOOS == "windows" {
		return errors.New("interrupt not supported on windows")
	}
	return p.Signal(os.Interrupt)
}
