package player

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"screenroom/internal/config"
	"screenroom/internal/state"
)

const commandQueueLimit = 128

// aspectEpsilon gates window resizes so sub-percent dimension reports from
// the engine do not cause jitter.
const aspectEpsilon = 0.01

// WindowState lets the supervisor skip aspect-ratio adjustments while the
// host window is maximized or fullscreen. Provided by the UI shell.
type WindowState interface {
	Maximized() bool
	Fullscreen() bool
}

// Supervisor owns the external playback engine process and its control
// channel. Commands submitted before the channel connects are queued and
// flushed in order; a lost channel is redialed forever at a fixed interval,
// while a dead engine process is reported and left down until the user
// reloads.
type Supervisor struct {
	cfg    config.PlayerConfig
	logger zerolog.Logger
	store  *state.Store

	// Optional hooks wired by the UI shell.
	OnAudioOnly  func(audioOnly bool)
	OnVideoSize  func(width, height int)
	OnEngineExit func(err error)
	WindowState  WindowState

	queue *cmdQueue
	dial  func(path string) (net.Conn, error)

	mu         sync.Mutex
	proc       *exec.Cmd
	conn       net.Conn
	socketPath string
	running    bool
	stopping   bool
	stopCh     chan struct{}

	lastAspect    float64
	videoW        int
	videoH        int
	trackListSeen bool
	sawVideoTrack bool
}

func NewSupervisor(cfg config.PlayerConfig, store *state.Store, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		logger: logger,
		store:  store,
		queue:  newCmdQueue(commandQueueLimit),
		dial: func(path string) (net.Conn, error) {
			return net.Dial("unix", path)
		},
	}
}

// Start spawns the engine bound to the given window handle. Calling it while
// the engine is already running is a no-op. The control socket path embeds
// the process id so concurrent instances never collide.
func (s *Supervisor) Start(windowHandle int64) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}

	s.socketPath = filepath.Join(s.cfg.SocketDir, fmt.Sprintf("screenroom-engine-%d.sock", os.Getpid()))
	os.Remove(s.socketPath)

	args := []string{
		"--idle=yes",
		"--no-terminal",
		"--force-window=yes",
		"--input-ipc-server=" + s.socketPath,
		fmt.Sprintf("--wid=%d", windowHandle),
	}
	args = append(args, s.cfg.ExtraArgs...)

	proc := exec.Command(s.cfg.Binary, args...)
	if err := proc.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("spawn engine: %w", err)
	}

	s.proc = proc
	s.running = true
	s.stopping = false
	s.stopCh = make(chan struct{})
	s.queue.SetState(stateConnecting)
	stopCh := s.stopCh
	s.mu.Unlock()

	s.logger.Info().
		Str("binary", s.cfg.Binary).
		Str("socket", s.socketPath).
		Int("pid", proc.Process.Pid).
		Msg("engine started")

	go s.watchExit(proc)
	go s.connectLoop(stopCh)

	return nil
}

// SendCommand dispatches an ordered argument list to the engine, buffering
// it if the control channel is not yet connected. The engine is the authority
// on command legality; nothing is validated here beyond encodability.
func (s *Supervisor) SendCommand(args ...any) error {
	payload, err := encodeCommand(args)
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}

	connected, err := s.queue.Offer(args)
	if err != nil {
		return err
	}
	if !connected {
		return nil
	}

	return s.write(args, payload)
}

// Quit terminates the engine: a quit command if the channel is up, then the
// channel closed and the process killed. Safe to call when not running.
func (s *Supervisor) Quit() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	close(s.stopCh)
	conn := s.conn
	proc := s.proc
	s.conn = nil
	s.running = false
	s.mu.Unlock()

	if conn != nil {
		if payload, err := encodeCommand([]any{"quit"}); err == nil {
			conn.Write(payload)
		}
		conn.Close()
	}
	if proc != nil && proc.Process != nil {
		proc.Process.Kill()
	}
	s.queue.SetState(stateDisconnected)
	os.Remove(s.socketPath)

	s.logger.Info().Msg("engine stopped")
}

func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Supervisor) write(args []any, payload []byte) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		// Raced a disconnect; requeue for the next flush.
		_, err := s.queue.Offer(args)
		return err
	}

	if _, err := conn.Write(payload); err != nil {
		s.logger.Warn().Err(err).Msg("control channel write failed")
		s.handleDisconnect(conn)
		_, qerr := s.queue.Offer(args)
		if qerr != nil {
			return qerr
		}
		return nil
	}
	return nil
}

// connectLoop waits out the engine's socket creation delay, then dials until
// it succeeds. No backoff cap: the supervisor keeps trying for the life of
// the process.
func (s *Supervisor) connectLoop(stopCh chan struct{}) {
	timer := newStoppableSleep(stopCh)
	if !timer.sleep(s.cfg.ConnectDelay) {
		return
	}

	for {
		conn, err := s.dial(s.socketPath)
		if err == nil {
			s.attach(conn)
			return
		}
		s.logger.Debug().Err(err).Msg("control channel connect failed, retrying")
		if !timer.sleep(s.cfg.RetryInterval) {
			return
		}
	}
}

// attach transitions to Connected: observe subscriptions first, then the
// buffered commands in submission order. The backlog flush and the switch to
// direct sending are one atomic step inside the queue, so commands issued
// while the flush runs stay behind it.
func (s *Supervisor) attach(conn net.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	for _, prop := range observedProperties {
		payload, err := encodeCommand([]any{"observe_property", prop.id, prop.name})
		if err != nil {
			continue
		}
		if _, err := conn.Write(payload); err != nil {
			s.handleDisconnect(conn)
			return
		}
	}

	flushed, err := s.queue.Connect(func(args []any) error {
		payload, err := encodeCommand(args)
		if err != nil {
			// Unencodable entries are dropped, not fatal to the flush.
			return nil
		}
		_, werr := conn.Write(payload)
		return werr
	})
	if err != nil {
		s.handleDisconnect(conn)
		return
	}

	s.logger.Info().Int("flushed", flushed).Msg("control channel connected")

	go s.readLoop(conn)
}

func (s *Supervisor) readLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev wireEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			// One corrupt line must never break the stream.
			s.logger.Debug().Err(err).Msg("discarding malformed channel line")
			continue
		}

		s.handleEvent(ev)
	}

	s.handleDisconnect(conn)
}

// handleDisconnect tears down the current channel and redials. The engine
// process itself is left alone; only its exit ends the session.
func (s *Supervisor) handleDisconnect(conn net.Conn) {
	s.mu.Lock()
	if s.conn != conn || s.stopping {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	stopCh := s.stopCh
	s.mu.Unlock()

	conn.Close()
	s.queue.SetState(stateConnecting)
	s.logger.Warn().Msg("control channel lost, reconnecting")

	go s.connectLoop(stopCh)
}

func (s *Supervisor) watchExit(proc *exec.Cmd) {
	err := proc.Wait()

	s.mu.Lock()
	stopping := s.stopping
	if !stopping {
		s.running = false
		if s.stopCh != nil {
			close(s.stopCh)
		}
		if s.conn != nil {
			s.conn.Close()
			s.conn = nil
		}
	}
	s.mu.Unlock()

	if stopping {
		return
	}

	s.queue.SetState(stateDisconnected)
	s.logger.Error().Err(err).Msg("engine process exited")

	if s.OnEngineExit != nil {
		s.OnEngineExit(err)
	}
}

func (s *Supervisor) handleEvent(ev wireEvent) {
	switch ev.Event {
	case "property-change":
		s.handleProperty(ev)
	case "end-file":
		s.logger.Debug().Str("reason", ev.Reason).Msg("engine end-file")
	default:
	}
}

func (s *Supervisor) handleProperty(ev wireEvent) {
	switch ev.ID {
	case obsTimePos:
		if v, ok := decodeFloat(ev.Data); ok {
			s.store.Apply(state.Partial{Time: state.Float64(v)})
		}
	case obsDuration:
		if v, ok := decodeFloat(ev.Data); ok {
			s.store.Apply(state.Partial{Duration: state.Float64(v)})
		}
	case obsPause:
		if v, ok := decodeBool(ev.Data); ok {
			s.store.Apply(state.Partial{Paused: state.Bool(v)})
		}
	case obsVolume:
		if v, ok := decodeFloat(ev.Data); ok {
			s.store.Apply(state.Partial{Volume: state.Int(int(math.Round(v)))})
		}
	case obsMute:
		if v, ok := decodeBool(ev.Data); ok {
			s.store.Apply(state.Partial{Muted: state.Bool(v)})
		}
	case obsTrackList:
		s.handleTrackList(ev.Data)
	case obsVideoWidth:
		if v, ok := decodeFloat(ev.Data); ok {
			s.handleVideoSize(int(v), -1)
		}
	case obsVideoHeight:
		if v, ok := decodeFloat(ev.Data); ok {
			s.handleVideoSize(-1, int(v))
		}
	case obsFilename:
		if v, ok := decodeString(ev.Data); ok {
			s.store.Apply(state.Partial{Filename: state.String(v)})
		}
	case obsPath:
		if v, ok := decodeString(ev.Data); ok {
			s.store.Apply(state.Partial{Path: state.String(v)})
		}
	case obsAudioTrack, obsSubTrack:
		// Selection is reflected in the track-list property; nothing extra.
	default:
	}
}

func (s *Supervisor) handleTrackList(data json.RawMessage) {
	var wire []wireTrack
	if err := json.Unmarshal(data, &wire); err != nil {
		s.logger.Debug().Err(err).Msg("discarding malformed track list")
		return
	}

	tracks := make([]state.Track, 0, len(wire))
	hasVideo := false
	for _, t := range wire {
		kind := t.Type
		if kind == "sub" {
			kind = "subtitle"
		}
		if kind == "video" {
			hasVideo = true
		}
		tracks = append(tracks, state.Track{
			ID:       t.ID,
			Kind:     kind,
			Language: t.Lang,
			Title:    t.Title,
			Selected: t.Selected,
		})
	}

	s.store.Apply(state.Partial{Tracks: tracks})

	if len(wire) == 0 {
		return
	}

	s.mu.Lock()
	changed := !s.trackListSeen || s.sawVideoTrack != hasVideo
	s.trackListSeen = true
	s.sawVideoTrack = hasVideo
	s.mu.Unlock()

	if s.OnAudioOnly != nil && changed {
		s.OnAudioOnly(!hasVideo)
	}
}

// handleVideoSize accumulates the two dimension properties and fires the
// aspect callback only when the ratio moved past epsilon, and never while
// the window is maximized or fullscreen.
func (s *Supervisor) handleVideoSize(w, h int) {
	s.mu.Lock()
	if w >= 0 {
		s.videoW = w
	}
	if h >= 0 {
		s.videoH = h
	}
	vw, vh := s.videoW, s.videoH
	last := s.lastAspect
	s.mu.Unlock()

	if vw <= 0 || vh <= 0 {
		return
	}
	if s.WindowState != nil && (s.WindowState.Maximized() || s.WindowState.Fullscreen()) {
		return
	}

	aspect := float64(vw) / float64(vh)
	if math.Abs(aspect-last) <= aspectEpsilon {
		return
	}

	s.mu.Lock()
	s.lastAspect = aspect
	s.mu.Unlock()

	if s.OnVideoSize != nil {
		s.OnVideoSize(vw, vh)
	}
}

func decodeFloat(data json.RawMessage) (float64, bool) {
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return 0, false
	}
	return v, true
}

func decodeBool(data json.RawMessage) (bool, bool) {
	var v bool
	if err := json.Unmarshal(data, &v); err != nil {
		return false, false
	}
	return v, true
}

func decodeString(data json.RawMessage) (string, bool) {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return "", false
	}
	return v, true
}
