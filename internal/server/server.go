package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"screenroom/internal/cache"
	"screenroom/internal/config"
	"screenroom/internal/media"
	"screenroom/internal/party"
	"screenroom/internal/state"
	"screenroom/internal/storage"
	"screenroom/internal/transcode"
)

const heartbeatInterval = 3 * time.Second

// Engine is the slice of the engine supervisor the server drives.
type Engine interface {
	SendCommand(args ...any) error
	Quit()
}

// UINotifier pushes connectivity and toast notifications to the window
// shell. Its internals are out of scope here.
type UINotifier interface {
	ConnectivityChanged(clients int)
	Toast(level, message string)
}

type NopNotifier struct{}

func (NopNotifier) ConnectivityChanged(int) {}
func (NopNotifier) Toast(string, string)    {}

// Server is the control plane's network surface: it accepts control and
// watch-party clients, routes commands to the engine, fans playback state
// out to subscribers, and serves the media itself.
type Server struct {
	cfg      *config.Config
	logger   zerolog.Logger
	store    *state.Store
	engine   Engine
	pipeline *transcode.Pipeline
	party    *party.Manager
	storage  *storage.SQLiteStorage
	prober   *media.Prober
	probes   *cache.ProbeCache
	notifier UINotifier

	httpServer *http.Server
	router     *chi.Mux
	listener   net.Listener
	port       int

	mu            sync.Mutex
	clients       map[string]*wsClient
	remoteClients int

	stopCh chan struct{}
}

func New(
	cfg *config.Config,
	store *state.Store,
	engine Engine,
	pipeline *transcode.Pipeline,
	partyMgr *party.Manager,
	store2 *storage.SQLiteStorage,
	logger zerolog.Logger,
) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		engine:   engine,
		pipeline: pipeline,
		party:    partyMgr,
		storage:  store2,
		prober:   media.NewProber(logger),
		probes:   cache.NewProbeCache(64),
		notifier: NopNotifier{},
		clients:  make(map[string]*wsClient),
		stopCh:   make(chan struct{}),
	}

	partyMgr.OnParticipant = s.markParticipant

	s.router = chi.NewRouter()
	s.router.Use(CORSMiddleware)
	s.router.Use(LoggingMiddleware(logger))
	s.setupRoutes()

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s
}

func (s *Server) SetNotifier(n UINotifier) {
	if n != nil {
		s.notifier = n
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/stream-info", s.handleStreamInfo)
	s.router.Get("/stream", s.handleStream)
	s.router.Get("/stream-transcode", s.handleStreamTranscode)
	s.router.Handle("/hls/*", http.StripPrefix("/hls/",
		http.FileServer(http.Dir(s.cfg.Transcode.OutputDir))))

	s.router.Get("/api/files", s.handleFiles)
	s.router.Get("/api/drives", s.handleDrives)
	s.router.Get("/api/continue", s.handleContinueWatching)

	s.router.Get("/ws", s.handleWS)

	if info, err := os.Stat(s.cfg.Server.WebDir); err == nil && info.IsDir() {
		s.router.Handle("/*", http.FileServer(http.Dir(s.cfg.Server.WebDir)))
	}
}

// Start binds the listener and serves until Shutdown. If the configured port
// is taken the next one is tried, up to the configured retry bound; the port
// actually bound is what Port() and the party share URLs report.
func (s *Server) Start() error {
	port := s.cfg.Server.Port
	var listener net.Listener

	for attempt := 0; attempt <= s.cfg.Server.PortRetries; attempt++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.cfg.Server.Host, port))
		if err == nil {
			listener = ln
			break
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return err
		}
		s.logger.Warn().Int("port", port).Msg("port in use, trying next")
		port++
	}

	if listener == nil {
		return fmt.Errorf("no free port in %d..%d", s.cfg.Server.Port, port-1)
	}

	s.mu.Lock()
	s.listener = listener
	s.port = port
	s.mu.Unlock()

	s.party.SetLocalEndpoint(s.LocalBaseURL(), port)

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("control server listening")

	go s.heartbeatLoop()
	go s.fanOutLoop()

	if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down control server")
	close(s.stopCh)

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}

// Port returns the port actually bound, which may differ from the configured
// one after bind retries.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// LocalBaseURL is the address companion devices on the LAN should use.
func (s *Server) LocalBaseURL() string {
	return fmt.Sprintf("http://%s:%d", lanIP(), s.Port())
}

// fanOutLoop forwards every state partial to the connected clients, in the
// order the store generated them. Pause transitions also persist the resume
// position.
func (s *Server) fanOutLoop() {
	id, ch := s.store.Subscribe()
	defer s.store.Unsubscribe(id)

	for {
		select {
		case <-s.stopCh:
			return
		case p := <-ch:
			s.broadcast("state-update", p)
			if p.Paused != nil && *p.Paused {
				s.saveResume()
			}
		}
	}
}

// heartbeatLoop broadcasts the bare time position while playback is active,
// keeping remote seek bars smooth without resending whole state objects.
func (s *Server) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if s.clientCount() == 0 {
				continue
			}
			snap := s.store.Snapshot()
			if snap.Paused || snap.Duration <= 0 {
				continue
			}
			s.broadcast("state-update", state.Partial{Time: state.Float64(snap.Time)})
			s.saveResume()
		}
	}
}

// EngineExited pushes a playback-engine crash to every connected client. The
// engine stays down until the user reloads, so remotes must learn that
// playback is gone rather than time out against a dead state stream.
func (s *Server) EngineExited(err error) {
	msg := "Playback engine exited"
	if err != nil {
		msg = fmt.Sprintf("Playback engine exited: %v", err)
	}
	s.broadcast("error", map[string]any{
		"code":    "ENGINE_EXITED",
		"message": msg,
	})
	s.notifier.Toast("error", msg)
}

func (s *Server) saveResume() {
	snap := s.store.Snapshot()
	if snap.Path == "" || snap.Duration <= 0 {
		return
	}
	err := s.storage.SaveResumePosition(&storage.ResumePosition{
		Path:     snap.Path,
		Filename: snap.Filename,
		Position: snap.Time,
		Duration: snap.Duration,
		Progress: snap.Time / snap.Duration,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to save resume position")
	}
}

func (s *Server) clientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// markParticipant reverses the remote-client count for a connection the
// first time it becomes a watch-party member, so party peers are never
// double-counted as remote controls.
func (s *Server) markParticipant(connID string) {
	s.mu.Lock()
	c := s.clients[connID]
	if c == nil || !c.countedRemote {
		s.mu.Unlock()
		return
	}
	c.countedRemote = false
	c.isParty = true
	s.remoteClients--
	count := s.remoteClients
	s.mu.Unlock()

	s.store.SetClients(count)
	s.notifier.ConnectivityChanged(count)
}

func lanIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "127.0.0.1"
}
