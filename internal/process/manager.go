// Package process tracks the background adapter process and the number of
// client sessions that depend on it.
package process

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	PIDFilename = ".cc-adapter.pid"
	RefFilename = ".cc-adapter.refs"

	stopTimeout    = 5 * time.Second
	startupTimeout = 10 * time.Second
	pollInterval   = 100 * time.Millisecond
)

var ErrStartupTimeout = errors.New("service startup timeout")

type Manager struct {
	pidFile string
	refFile string
	logger  *slog.Logger
	mu      sync.RWMutex
}

func NewManager(baseDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		pidFile: filepath.Join(baseDir, PIDFilename),
		refFile: filepath.Join(baseDir, RefFilename),
		logger:  logger,
	}
}

func (m *Manager) PIDFile() string {
	return m.pidFile
}

func (m *Manager) WritePID() error {
	return m.writeInt(m.pidFile, os.Getpid())
}

// ReadPID returns 0 when no valid pid file exists.
func (m *Manager) ReadPID() int {
	return m.readInt(m.pidFile)
}

// IsRunning reports whether the recorded process is alive. A stale pid file
// is removed.
func (m *Manager) IsRunning() bool {
	pid := m.ReadPID()
	if pid == 0 {
		return false
	}

	if err := syscall.Kill(pid, 0); err != nil {
		m.CleanupPID()
		return false
	}

	return true
}

// Stop sends SIGTERM to the recorded process and waits for it to exit. The
// pid file is kept when the process outlives the wait.
func (m *Manager) Stop() error {
	pid := m.ReadPID()
	if pid == 0 {
		return nil
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			m.CleanupPID()
			return nil
		}
		return fmt.Errorf("send SIGTERM to process %d: %w", pid, err)
	}

	deadline := time.Now().Add(stopTimeout)
	for time.Now().Before(deadline) {
		// IsRunning removes the pid file once the process is gone.
		if !m.IsRunning() {
			return nil
		}
		time.Sleep(pollInterval)
	}

	return fmt.Errorf("process %d did not exit within %s", pid, stopTimeout)
}

func (m *Manager) CleanupPID() {
	m.remove(m.pidFile)
}

func (m *Manager) IncrementRef() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeIntLocked(m.refFile, m.readIntLocked(m.refFile)+1)
}

// DecrementRef lowers the count and returns the new value. It never goes below zero.
func (m *Manager) DecrementRef() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.readIntLocked(m.refFile)
	if c > 0 {
		c--
		m.writeIntLocked(m.refFile, c)
	}
	return c
}

func (m *Manager) ReadRef() int {
	return m.readInt(m.refFile)
}

func (m *Manager) CleanupRef() {
	m.remove(m.refFile)
}

// WaitForService polls until the recorded process is alive or timeout passes.
func (m *Manager) WaitForService(timeout time.Duration) bool {
	expire := time.Now().Add(timeout)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for time.Now().Before(expire) {
		if m.IsRunning() {
			return true
		}

		<-ticker.C
	}

	return false
}

// StartServiceIfNeeded launches "start" in the background unless a service
// is already running. It reports whether this call started it.
func (m *Manager) StartServiceIfNeeded(args ...string) (bool, error) {
	if m.IsRunning() {
		return false, nil
	}

	if _, err := StartDaemon(append([]string{"start"}, args...)); err != nil {
		return false, err
	}

	if !m.WaitForService(startupTimeout) {
		return false, ErrStartupTimeout
	}

	return true, nil
}

// StartDaemon re-executes the current binary with args in a new session,
// detached from the terminal. It returns the child pid.
func StartDaemon(args []string) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("resolve executable: %w", err)
	}

	cmd := exec.Command(exe, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	// nil stdio is connected to the null device.
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, nil, nil

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start background service: %w", err)
	}

	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("release background service: %w", err)
	}

	return pid, nil
}

// PortAvailable reports whether host:port can be bound right now.
func PortAvailable(host string, port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()

	return true
}

func (m *Manager) readInt(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.readIntLocked(path)
}

func (m *Manager) readIntLocked(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}

	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}

	return n
}

func (m *Manager) writeInt(path string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.writeIntLocked(path, n)
}

func (m *Manager) writeIntLocked(path string, n int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(n)), 0600); err != nil {
		m.logger.Warn("Failed to write state file", "path", path, "error", err)
		return err
	}

	return nil
}

func (m *Manager) remove(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("Failed to remove state file", "path", path, "error", err)
	}
}
