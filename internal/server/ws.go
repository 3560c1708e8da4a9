package server

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"screenroom/internal/media"
	"screenroom/internal/party"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Trusted local-network tool; companion apps connect from arbitrary
	// origins including file://.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type outMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type inMessage struct {
	Type   string          `json:"type"`
	Action string          `json:"action,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type wsClient struct {
	id     string
	name   string
	conn   *websocket.Conn
	send   chan outMessage
	done   chan struct{}
	server *Server
	local  bool

	// Guarded by server.mu.
	isParty       bool
	countedRemote bool
}

// wsClient satisfies party.Conn.

func (c *wsClient) ID() string    { return c.id }
func (c *wsClient) Name() string  { return c.name }
func (c *wsClient) IsLocal() bool { return c.local }

func (c *wsClient) Send(event string, payload any) {
	select {
	case c.send <- outMessage{Event: event, Data: payload}:
	default:
		// Slow consumer; drop rather than stall the control plane.
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{
		id:            uuid.NewString(),
		name:          "Guest",
		conn:          conn,
		send:          make(chan outMessage, 64),
		done:          make(chan struct{}),
		server:        s,
		local:         isPrivateAddr(r.RemoteAddr),
		countedRemote: true,
	}

	s.register(client)

	go client.writePump()
	client.readPump()
}

func (s *Server) register(c *wsClient) {
	s.mu.Lock()
	s.clients[c.id] = c
	s.remoteClients++
	count := s.remoteClients
	s.mu.Unlock()

	s.store.SetClients(count)
	s.notifier.ConnectivityChanged(count)

	c.Send("full-state", s.store.Snapshot())
	c.Send("connected", map[string]any{
		"device": s.store.Snapshot().DeviceName,
		"port":   s.Port(),
	})

	s.logger.Info().Str("conn", c.id).Bool("local", c.local).Int("clients", count).Msg("client connected")
}

// unregister removes a client. A disconnect never affects other clients;
// room-level consequences (host cascade, guest eviction) are the party
// manager's call.
func (s *Server) unregister(c *wsClient) {
	s.party.LeaveRoom(c.id)

	s.mu.Lock()
	if _, ok := s.clients[c.id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, c.id)
	if c.countedRemote {
		s.remoteClients--
	}
	count := s.remoteClients
	s.mu.Unlock()

	s.store.SetClients(count)
	s.notifier.ConnectivityChanged(count)

	s.logger.Info().Str("conn", c.id).Int("clients", count).Msg("client disconnected")
}

func (s *Server) broadcast(event string, payload any) {
	s.mu.Lock()
	targets := make([]*wsClient, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		c.Send(event, payload)
	}
}

func (c *wsClient) writePump() {
	for {
		select {
		case msg := <-c.send:
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.server.unregister(c)
		close(c.done)
		c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg inMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.server.logger.Debug().Err(err).Msg("discarding malformed client message")
			continue
		}

		c.server.dispatch(c, msg)
	}
}

func (s *Server) dispatch(c *wsClient, msg inMessage) {
	switch msg.Type {
	case "cmd":
		s.handleCommand(c, msg.Action, msg.Value)
	case "request-state":
		c.Send("full-state", s.store.Snapshot())
	case "party:create":
		s.handlePartyCreate(c, msg.Data)
	case "party:join":
		s.handlePartyJoin(c, msg.Data)
	case "party:leave":
		s.party.LeaveRoom(c.id)
	case "party:close":
		s.handlePartyClose(c, msg.Data)
	case "party:action":
		s.handlePartyAction(c, msg.Data)
	case "party:heartbeat":
		s.handlePartyHeartbeat(c, msg.Data)
	case "party:info":
		s.handlePartyInfo(c, msg.Data)
	default:
		s.logger.Warn().Str("type", msg.Type).Msg("unknown message type ignored")
	}
}

func (s *Server) handlePartyCreate(c *wsClient, data json.RawMessage) {
	var req struct {
		Name           string `json:"name"`
		EnableInternet bool   `json:"enableInternet"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		s.logger.Debug().Err(err).Msg("malformed party:create")
		return
	}
	if req.Name != "" {
		c.name = req.Name
	}

	snap := s.store.Snapshot()
	desc := party.MediaDescriptor{
		Filename:       snap.Filename,
		Duration:       snap.Duration,
		Time:           snap.Time,
		Paused:         snap.Paused,
		NeedsTranscode: media.NeedsTranscode(snap.Path),
	}

	result := s.party.CreateRoom(c, c.name, desc, req.EnableInternet)
	c.Send("party:created", result)
}

func (s *Server) handlePartyJoin(c *wsClient, data json.RawMessage) {
	var req struct {
		Code string `json:"code"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		s.logger.Debug().Err(err).Msg("malformed party:join")
		return
	}
	if req.Name != "" {
		c.name = req.Name
	}

	result := s.party.JoinRoom(strings.ToUpper(req.Code), c, c.name)
	c.Send("party:sync", result)
}

func (s *Server) handlePartyClose(c *wsClient, data json.RawMessage) {
	var req struct {
		Reason string `json:"reason"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			s.logger.Debug().Err(err).Msg("malformed party:close")
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "Party closed by host"
	}

	room, ok := s.party.RoomFor(c.id)
	if !ok || room.HostID() != c.id {
		s.logger.Debug().Str("conn", c.id).Msg("ignoring party:close from non-host")
		return
	}
	s.party.CloseRoom(room.Code, req.Reason)
}

func (s *Server) handlePartyAction(c *wsClient, data json.RawMessage) {
	var action party.Action
	if err := json.Unmarshal(data, &action); err != nil {
		s.logger.Debug().Err(err).Msg("malformed party:action")
		return
	}

	room, ok := s.party.RoomFor(c.id)
	if !ok {
		return
	}
	s.party.BroadcastAction(room.Code, c.id, action)
}

func (s *Server) handlePartyHeartbeat(c *wsClient, data json.RawMessage) {
	var hb struct {
		Time   float64 `json:"time"`
		Paused bool    `json:"paused"`
	}
	if err := json.Unmarshal(data, &hb); err != nil {
		s.logger.Debug().Err(err).Msg("malformed party:heartbeat")
		return
	}

	room, ok := s.party.RoomFor(c.id)
	if !ok {
		return
	}
	s.party.Heartbeat(room.Code, c.id, hb.Time, hb.Paused)
}

func (s *Server) handlePartyInfo(c *wsClient, data json.RawMessage) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}

	info, ok := s.party.Info(strings.ToUpper(req.Code))
	if !ok {
		c.Send("party:info", map[string]any{"success": false, "error": "Room not found"})
		return
	}
	c.Send("party:info", info)
}

func isPrivateAddr(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}
