package party

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"screenroom/internal/config"
)

// TunnelStarter is the slice of the tunnel manager the party layer uses.
type TunnelStarter interface {
	Start(localPort int) (string, error)
	Stop()
}

// MediaDescriptor is the host's playback context at room creation.
type MediaDescriptor struct {
	Filename       string  `json:"filename"`
	Duration       float64 `json:"duration"`
	Time           float64 `json:"time"`
	Paused         bool    `json:"paused"`
	NeedsTranscode bool    `json:"needsTranscode"`
}

// Action is a discrete host control relayed to guests.
type Action struct {
	Type string  `json:"type"` // play, pause, seek
	Time float64 `json:"time,omitempty"`
}

type CreateResult struct {
	Success        bool    `json:"success"`
	Code           string  `json:"code,omitempty"`
	ShareURL       string  `json:"shareUrl,omitempty"`
	PublicShareURL *string `json:"publicShareUrl"`
	TunnelActive   bool    `json:"tunnelActive"`
	Error          string  `json:"error,omitempty"`
}

type JoinResult struct {
	Success        bool    `json:"success"`
	Error          string  `json:"error,omitempty"`
	Code           string  `json:"code,omitempty"`
	HostName       string  `json:"hostName,omitempty"`
	Filename       string  `json:"filename,omitempty"`
	Duration       float64 `json:"duration,omitempty"`
	Time           float64 `json:"time"`
	Paused         bool    `json:"paused"`
	StreamURL      string  `json:"streamUrl,omitempty"`
	NeedsTranscode bool    `json:"needsTranscode"`
	GuestCount     int     `json:"guestCount"`
}

type RoomInfo struct {
	Code       string   `json:"code"`
	HostName   string   `json:"hostName"`
	Filename   string   `json:"filename"`
	Duration   float64  `json:"duration"`
	Time       float64  `json:"time"`
	Paused     bool     `json:"paused"`
	GuestCount int      `json:"guestCount"`
	Guests     []string `json:"guests"`
	CreatedAt  int64    `json:"createdAt"`
}

// Manager owns the room registry and the connection-to-room index. No other
// component mutates rooms directly.
type Manager struct {
	cfg    config.PartyConfig
	logger zerolog.Logger
	tunnel TunnelStarter

	// OnParticipant fires the first time a connection becomes a party member,
	// so the server can reverse its remote-client accounting for it.
	OnParticipant func(connID string)

	mu           sync.Mutex
	rooms        map[string]*Room
	byConn       map[string]*Room // conn id -> room, hosts and guests alike
	localBaseURL string
	localPort    int
}

func NewManager(cfg config.PartyConfig, tunnel TunnelStarter, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger,
		tunnel: tunnel,
		rooms:  make(map[string]*Room),
		byConn: make(map[string]*Room),
	}
}

// SetLocalEndpoint records the server's final bound address once known, so
// share URLs always carry the real port even after bind retries.
func (m *Manager) SetLocalEndpoint(baseURL string, port int) {
	m.mu.Lock()
	m.localBaseURL = baseURL
	m.localPort = port
	m.mu.Unlock()
}

// CreateRoom registers host's connection as the authority of a new room and
// returns share URLs. Tunnel failure degrades to local-only sharing; it never
// fails room creation.
func (m *Manager) CreateRoom(host Conn, hostName string, media MediaDescriptor, enableInternet bool) CreateResult {
	// Membership check comes before the tunnel spawn; a refused create must
	// not leave an ownerless relay running.
	m.mu.Lock()
	if existing, ok := m.byConn[host.ID()]; ok {
		m.mu.Unlock()
		return CreateResult{
			Success:        false,
			PublicShareURL: nil,
			Error:          fmt.Sprintf("Already in room %s", existing.Code),
		}
	}
	m.mu.Unlock()

	var publicURL string
	tunnelActive := false

	if enableInternet {
		url, err := m.tunnel.Start(m.currentPort())
		if err != nil {
			m.logger.Warn().Err(err).Msg("tunnel unavailable, sharing locally only")
		} else {
			publicURL = url
			tunnelActive = true
		}
	}

	m.mu.Lock()

	code := newCode(m.cfg.CodeLength)
	for m.rooms[code] != nil {
		code = newCode(m.cfg.CodeLength)
	}

	room := &Room{
		Code:             code,
		HostName:         hostName,
		CreatedAt:        time.Now(),
		Filename:         media.Filename,
		Duration:         media.Duration,
		CurrentTime:      media.Time,
		Paused:           media.Paused,
		NeedsTranscode:   media.NeedsTranscode,
		StreamURL:        m.localBaseURL + "/stream",
		TunnelActive:     tunnelActive,
		host:             host,
		guests:           make(map[string]*guestEntry),
		driftToleranceMs: m.cfg.DriftToleranceMs,
	}
	if publicURL != "" {
		room.PublicStreamURL = publicURL + "/stream"
	}

	m.rooms[code] = room
	m.byConn[host.ID()] = room
	shareURL := fmt.Sprintf("%s/watch/%s", m.localBaseURL, code)

	var publicShareURL *string
	if publicURL != "" {
		u := fmt.Sprintf("%s/watch/%s", publicURL, code)
		publicShareURL = &u
	}
	m.mu.Unlock()

	m.notifyParticipant(host.ID())

	m.logger.Info().
		Str("code", code).
		Str("host", hostName).
		Str("file", media.Filename).
		Bool("tunnel", tunnelActive).
		Msg("room created")

	return CreateResult{
		Success:        true,
		Code:           code,
		ShareURL:       shareURL,
		PublicShareURL: publicShareURL,
		TunnelActive:   tunnelActive,
	}
}

// JoinRoom admits a guest, notifies the host and existing guests, and hands
// the new guest its initial sync payload.
func (m *Manager) JoinRoom(code string, guest Conn, guestName string) JoinResult {
	m.mu.Lock()

	room, ok := m.rooms[code]
	if !ok {
		m.mu.Unlock()
		return JoinResult{Success: false, Error: "Room not found"}
	}

	if _, member := room.guests[guest.ID()]; member || room.host.ID() == guest.ID() {
		m.mu.Unlock()
		return JoinResult{Success: false, Error: "Already joined this room"}
	}

	if len(room.guests) >= m.cfg.MaxGuests {
		m.mu.Unlock()
		return JoinResult{Success: false, Error: fmt.Sprintf("Room is full (max %d guests)", m.cfg.MaxGuests)}
	}

	room.guests[guest.ID()] = &guestEntry{conn: guest, name: guestName, joinedAt: time.Now()}
	m.byConn[guest.ID()] = room

	count := len(room.guests)
	arrival := map[string]any{"name": guestName, "guestCount": count}

	streamURL := room.StreamURL
	if !guest.IsLocal() && room.PublicStreamURL != "" {
		streamURL = room.PublicStreamURL
	}

	result := JoinResult{
		Success:        true,
		Code:           code,
		HostName:       room.HostName,
		Filename:       room.Filename,
		Duration:       room.Duration,
		Time:           room.CurrentTime,
		Paused:         room.Paused,
		StreamURL:      streamURL,
		NeedsTranscode: room.NeedsTranscode,
		GuestCount:     count,
	}

	room.host.Send("party:guest-joined", arrival)
	for id, g := range room.guests {
		if id != guest.ID() {
			g.conn.Send("party:guest-joined", arrival)
		}
	}
	m.mu.Unlock()

	m.notifyParticipant(guest.ID())

	m.logger.Info().Str("code", code).Str("guest", guestName).Int("guests", count).Msg("guest joined")

	return result
}

// LeaveRoom handles a departing connection. A departing host tears the whole
// room down; a departing guest leaves the room intact.
func (m *Manager) LeaveRoom(connID string) {
	m.mu.Lock()
	room, ok := m.byConn[connID]
	if !ok {
		m.mu.Unlock()
		return
	}

	if room.host.ID() == connID {
		m.closeLocked(room, "Host left the party")
		m.mu.Unlock()
		return
	}

	g := room.guests[connID]
	delete(room.guests, connID)
	delete(m.byConn, connID)

	if g != nil {
		departure := map[string]any{"name": g.name, "guestCount": len(room.guests)}
		room.host.Send("party:guest-left", departure)
		room.broadcast("party:guest-left", departure)
		m.logger.Info().Str("code", room.Code).Str("guest", g.name).Msg("guest left")
	}
	m.mu.Unlock()
}

// CloseRoom ends a room explicitly, delivering reason to every guest.
func (m *Manager) CloseRoom(code, reason string) {
	m.mu.Lock()
	if room, ok := m.rooms[code]; ok {
		m.closeLocked(room, reason)
	}
	m.mu.Unlock()
}

func (m *Manager) closeLocked(room *Room, reason string) {
	room.broadcast("party:closed", map[string]any{"reason": reason})

	for id := range room.guests {
		delete(m.byConn, id)
	}
	delete(m.byConn, room.host.ID())
	delete(m.rooms, room.Code)

	if room.TunnelActive {
		m.tunnel.Stop()
	}

	m.logger.Info().Str("code", room.Code).Str("reason", reason).Msg("room closed")
}

// BroadcastAction relays a discrete host control to every guest. The cached
// sync state is updated before the relay, so a heartbeat issued right after
// reflects the action. Non-host senders are logged and ignored.
func (m *Manager) BroadcastAction(code, senderID string, action Action) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[code]
	if !ok {
		return
	}
	if room.host.ID() != senderID {
		m.logger.Debug().Str("code", code).Str("conn", senderID).Msg("ignoring action from non-host")
		return
	}

	switch action.Type {
	case "play":
		room.Paused = false
	case "pause":
		room.Paused = true
	case "seek":
		room.CurrentTime = action.Time
	}

	room.broadcast("party:action", action)
}

// Heartbeat is the host's periodic drift-correction report.
func (m *Manager) Heartbeat(code, senderID string, timePos float64, paused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[code]
	if !ok {
		return
	}
	if room.host.ID() != senderID {
		m.logger.Debug().Str("code", code).Str("conn", senderID).Msg("ignoring heartbeat from non-host")
		return
	}

	room.CurrentTime = timePos
	room.Paused = paused

	room.broadcast("party:heartbeat", map[string]any{"time": timePos, "paused": paused})
}

// Info returns a snapshot of a room for the party:info request.
func (m *Manager) Info(code string) (RoomInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[code]
	if !ok {
		return RoomInfo{}, false
	}

	return RoomInfo{
		Code:       room.Code,
		HostName:   room.HostName,
		Filename:   room.Filename,
		Duration:   room.Duration,
		Time:       room.CurrentTime,
		Paused:     room.Paused,
		GuestCount: len(room.guests),
		Guests:     room.GuestNames(),
		CreatedAt:  room.CreatedAt.Unix(),
	}, true
}

// RoomFor returns the room a connection participates in, if any.
func (m *Manager) RoomFor(connID string) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	room, ok := m.byConn[connID]
	return room, ok
}

func (m *Manager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

func (m *Manager) currentPort() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.localPort
}

func (m *Manager) notifyParticipant(connID string) {
	if m.OnParticipant != nil {
		m.OnParticipant(connID)
	}
}
