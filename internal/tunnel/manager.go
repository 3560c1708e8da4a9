package tunnel

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"screenroom/internal/config"
)

var (
	ErrTunnelStarting = errors.New("tunnel: still starting")
	ErrStartTimeout   = errors.New("tunnel: no public URL before timeout")
	ErrProcessExited  = errors.New("tunnel: relay exited before reporting a URL")
)

// The relay prints other https URLs before the assigned address (cloudflared
// leads with its terms-of-service banner), so the match is pinned to the
// quick-tunnel hostname shape rather than any https URL.
var publicURLPattern = regexp.MustCompile(`https://[a-z0-9-]+\.trycloudflare\.com`)

// Manager supervises the outbound relay process that maps the local server
// to a public address. At most one tunnel is active at a time.
type Manager struct {
	cfg    config.TunnelConfig
	logger zerolog.Logger

	mu        sync.Mutex
	proc      *exec.Cmd
	publicURL string
	starting  bool
}

func NewManager(cfg config.TunnelConfig, logger zerolog.Logger) *Manager {
	return &Manager{cfg: cfg, logger: logger}
}

// Start spawns the relay for localPort and blocks until its output yields a
// public URL, the startup timeout elapses, or the process exits. A second
// call while a tunnel is active returns the resolved URL immediately, or
// ErrTunnelStarting if resolution is still in flight.
func (m *Manager) Start(localPort int) (string, error) {
	m.mu.Lock()
	if m.proc != nil {
		url := m.publicURL
		starting := m.starting
		m.mu.Unlock()
		if starting {
			return "", ErrTunnelStarting
		}
		return url, nil
	}

	args := append([]string{}, m.cfg.ExtraArgs...)
	args = append(args, "tunnel", "--url", fmt.Sprintf("http://localhost:%d", localPort))

	proc := exec.Command(m.cfg.Binary, args...)
	stdout, err := proc.StdoutPipe()
	if err != nil {
		m.mu.Unlock()
		return "", fmt.Errorf("relay stdout: %w", err)
	}
	stderr, err := proc.StderrPipe()
	if err != nil {
		m.mu.Unlock()
		return "", fmt.Errorf("relay stderr: %w", err)
	}

	if err := proc.Start(); err != nil {
		m.mu.Unlock()
		return "", fmt.Errorf("spawn relay: %w", err)
	}

	m.proc = proc
	m.starting = true
	m.publicURL = ""
	m.mu.Unlock()

	m.logger.Info().Int("port", localPort).Int("pid", proc.Process.Pid).Msg("tunnel starting")

	urlCh := make(chan string, 2)
	go scanForURL(stdout, urlCh)
	go scanForURL(stderr, urlCh)

	exitCh := make(chan error, 1)
	go func() {
		err := proc.Wait()
		exitCh <- err
		m.reap(proc, err)
	}()

	timeout := time.NewTimer(m.cfg.StartupTimeout)
	defer timeout.Stop()

	select {
	case url := <-urlCh:
		m.mu.Lock()
		m.publicURL = url
		m.starting = false
		m.mu.Unlock()
		m.logger.Info().Str("url", url).Msg("tunnel established")
		return url, nil

	case err := <-exitCh:
		m.clear()
		m.logger.Warn().Err(err).Msg("relay exited during startup")
		return "", ErrProcessExited

	case <-timeout.C:
		m.Stop()
		return "", ErrStartTimeout
	}
}

// Stop kills the relay process and clears cached URL state. Idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	proc := m.proc
	m.proc = nil
	m.publicURL = ""
	m.starting = false
	m.mu.Unlock()

	if proc != nil && proc.Process != nil {
		proc.Process.Kill()
		m.logger.Info().Msg("tunnel stopped")
	}
}

// PublicURL returns the resolved public address, if any.
func (m *Manager) PublicURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.publicURL
}

func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.proc != nil && !m.starting
}

func (m *Manager) clear() {
	m.mu.Lock()
	m.proc = nil
	m.publicURL = ""
	m.starting = false
	m.mu.Unlock()
}

// reap clears cached state when the relay dies after a successful start, so
// Active() and PublicURL() never report a tunnel that is gone. A proc that has
// already been replaced or stopped is someone else's state to manage.
func (m *Manager) reap(proc *exec.Cmd, err error) {
	m.mu.Lock()
	if m.proc != proc {
		m.mu.Unlock()
		return
	}
	m.proc = nil
	m.publicURL = ""
	m.starting = false
	m.mu.Unlock()

	m.logger.Warn().Err(err).Msg("tunnel relay exited")
}

// scanForURL reads relay output line by line and reports the first public
// https address it recognizes.
func scanForURL(r io.Reader, urlCh chan<- string) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if url := extractPublicURL(scanner.Text()); url != "" {
			select {
			case urlCh <- url:
			default:
			}
			return
		}
	}
}

func extractPublicURL(line string) string {
	return publicURLPattern.FindString(line)
}
