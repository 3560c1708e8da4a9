package party

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"screenroom/internal/config"
)

type fakeEvent struct {
	event   string
	payload any
}

type fakeConn struct {
	id    string
	name  string
	local bool

	mu     sync.Mutex
	events []fakeEvent
}

func (c *fakeConn) ID() string    { return c.id }
func (c *fakeConn) Name() string  { return c.name }
func (c *fakeConn) IsLocal() bool { return c.local }

func (c *fakeConn) Send(event string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, fakeEvent{event: event, payload: payload})
}

func (c *fakeConn) received(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.event == event {
			n++
		}
	}
	return n
}

func (c *fakeConn) lastPayload(event string) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].event == event {
			return c.events[i].payload
		}
	}
	return nil
}

type fakeTunnel struct {
	url     string
	err     error
	started int
	stopped int
}

func (t *fakeTunnel) Start(localPort int) (string, error) {
	t.started++
	return t.url, t.err
}

func (t *fakeTunnel) Stop() { t.stopped++ }

func testConfig() config.PartyConfig {
	return config.PartyConfig{MaxGuests: 5, DriftToleranceMs: 2000, CodeLength: 6}
}

func newTestManager(t *testing.T, tun TunnelStarter) *Manager {
	t.Helper()
	if tun == nil {
		tun = &fakeTunnel{}
	}
	m := NewManager(testConfig(), tun, zerolog.Nop())
	m.SetLocalEndpoint("http://192.168.1.10:8765", 8765)
	return m
}

func testMedia() MediaDescriptor {
	return MediaDescriptor{Filename: "movie.mkv", Duration: 5400, Time: 120, Paused: false, NeedsTranscode: true}
}

func TestCreateRoomLocalOnly(t *testing.T) {
	m := newTestManager(t, nil)
	host := &fakeConn{id: "host-1", name: "Alice", local: true}

	res := m.CreateRoom(host, "Alice", testMedia(), false)

	require.True(t, res.Success)
	require.Len(t, res.Code, 6)
	for _, ch := range res.Code {
		require.Contains(t, codeAlphabet, string(ch), "code must only use unambiguous characters")
	}
	require.Equal(t, "http://192.168.1.10:8765/watch/"+res.Code, res.ShareURL)
	require.Nil(t, res.PublicShareURL)
	require.False(t, res.TunnelActive)
	require.Equal(t, 1, m.RoomCount())
}

func TestCreateResultSerializesNullPublicURL(t *testing.T) {
	m := newTestManager(t, nil)
	host := &fakeConn{id: "host-1", name: "Alice", local: true}

	res := m.CreateRoom(host, "Alice", testMedia(), false)

	data, err := json.Marshal(res)
	require.NoError(t, err)
	require.Contains(t, string(data), `"publicShareUrl":null`)
}

func TestCreateRoomWithTunnel(t *testing.T) {
	tun := &fakeTunnel{url: "https://witty-otter-example.trycloudflare.com"}
	m := newTestManager(t, tun)
	host := &fakeConn{id: "host-1", name: "Alice", local: true}

	res := m.CreateRoom(host, "Alice", testMedia(), true)

	require.True(t, res.Success)
	require.True(t, res.TunnelActive)
	require.NotNil(t, res.PublicShareURL)
	require.Equal(t, tun.url+"/watch/"+res.Code, *res.PublicShareURL)
	require.Equal(t, 1, tun.started)
}

func TestCreateRoomTunnelFailureDegradesToLocal(t *testing.T) {
	tun := &fakeTunnel{err: errors.New("relay unavailable")}
	m := newTestManager(t, tun)
	host := &fakeConn{id: "host-1", name: "Alice", local: true}

	res := m.CreateRoom(host, "Alice", testMedia(), true)

	require.True(t, res.Success, "tunnel failure must not fail room creation")
	require.False(t, res.TunnelActive)
	require.Nil(t, res.PublicShareURL)
	require.NotEmpty(t, res.ShareURL)
}

func TestCreateRoomWhileAlreadyHosting(t *testing.T) {
	m := newTestManager(t, nil)
	host := &fakeConn{id: "host-1", name: "Alice", local: true}

	first := m.CreateRoom(host, "Alice", testMedia(), false)
	require.True(t, first.Success)

	second := m.CreateRoom(host, "Alice", testMedia(), false)
	require.False(t, second.Success)
	require.Equal(t, 1, m.RoomCount())
}

func TestDuplicateCreateDoesNotStartTunnel(t *testing.T) {
	tun := &fakeTunnel{url: "https://witty-otter-example.trycloudflare.com"}
	m := newTestManager(t, tun)
	host := &fakeConn{id: "host-1", name: "Alice", local: true}

	require.True(t, m.CreateRoom(host, "Alice", testMedia(), false).Success)

	second := m.CreateRoom(host, "Alice", testMedia(), true)
	require.False(t, second.Success)
	require.Equal(t, 0, tun.started, "a refused create must not leave a tunnel running")
}

func TestRoomCodesAreDistinct(t *testing.T) {
	m := newTestManager(t, nil)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		host := &fakeConn{id: fmt.Sprintf("host-%d", i), local: true}
		res := m.CreateRoom(host, "Host", testMedia(), false)
		require.True(t, res.Success)
		require.False(t, seen[res.Code], "duplicate room code %s", res.Code)
		seen[res.Code] = true
	}
}

func TestJoinRoom(t *testing.T) {
	m := newTestManager(t, nil)
	host := &fakeConn{id: "host-1", name: "Alice", local: true}
	created := m.CreateRoom(host, "Alice", testMedia(), false)

	guest := &fakeConn{id: "guest-1", name: "Bob", local: true}
	res := m.JoinRoom(created.Code, guest, "Bob")

	require.True(t, res.Success)
	require.Equal(t, "Alice", res.HostName)
	require.Equal(t, "movie.mkv", res.Filename)
	require.Equal(t, 120.0, res.Time)
	require.False(t, res.Paused)
	require.True(t, res.NeedsTranscode)
	require.Equal(t, 1, res.GuestCount)
	require.Equal(t, "http://192.168.1.10:8765/stream", res.StreamURL)

	require.Equal(t, 1, host.received("party:guest-joined"))
}

func TestJoinRoomErrors(t *testing.T) {
	m := newTestManager(t, nil)
	host := &fakeConn{id: "host-1", name: "Alice", local: true}
	created := m.CreateRoom(host, "Alice", testMedia(), false)

	guest := &fakeConn{id: "guest-1", name: "Bob", local: true}
	require.True(t, m.JoinRoom(created.Code, guest, "Bob").Success)

	tests := []struct {
		desc    string
		code    string
		conn    Conn
		wantErr string
	}{
		{
			desc:    "unknown code",
			code:    "ZZZZZZ",
			conn:    &fakeConn{id: "guest-2"},
			wantErr: "Room not found",
		},
		{
			desc:    "duplicate join",
			code:    created.Code,
			conn:    guest,
			wantErr: "Already joined this room",
		},
		{
			desc:    "host joining own room",
			code:    created.Code,
			conn:    host,
			wantErr: "Already joined this room",
		},
	}

	for _, tc := range tests {
		t.Run(tc.desc, func(t *testing.T) {
			res := m.JoinRoom(tc.code, tc.conn, "Someone")
			require.False(t, res.Success)
			require.Equal(t, tc.wantErr, res.Error)
		})
	}
}

func TestJoinRoomCapacity(t *testing.T) {
	m := newTestManager(t, nil)
	host := &fakeConn{id: "host-1", name: "Alice", local: true}
	created := m.CreateRoom(host, "Alice", testMedia(), false)

	for i := 0; i < 5; i++ {
		g := &fakeConn{id: fmt.Sprintf("guest-%d", i), local: true}
		res := m.JoinRoom(created.Code, g, fmt.Sprintf("Guest%d", i))
		require.True(t, res.Success, "guest %d should be admitted", i)
	}

	overflow := &fakeConn{id: "guest-overflow", name: "Bob", local: true}
	res := m.JoinRoom(created.Code, overflow, "Bob")

	require.False(t, res.Success)
	require.Equal(t, "Room is full (max 5 guests)", res.Error)

	room, ok := m.RoomFor(host.ID())
	require.True(t, ok)
	require.Equal(t, 5, room.GuestCount(), "failed join must not change room size")

	_, member := m.RoomFor(overflow.ID())
	require.False(t, member)
}

func TestRemoteGuestGetsPublicStreamURL(t *testing.T) {
	tun := &fakeTunnel{url: "https://witty-otter-example.trycloudflare.com"}
	m := newTestManager(t, tun)
	host := &fakeConn{id: "host-1", name: "Alice", local: true}
	created := m.CreateRoom(host, "Alice", testMedia(), true)

	local := &fakeConn{id: "guest-local", local: true}
	remote := &fakeConn{id: "guest-remote", local: false}

	localRes := m.JoinRoom(created.Code, local, "Carol")
	remoteRes := m.JoinRoom(created.Code, remote, "Dave")

	require.Equal(t, "http://192.168.1.10:8765/stream", localRes.StreamURL)
	require.Equal(t, tun.url+"/stream", remoteRes.StreamURL)
}

func TestGuestJoinNotifiesExistingMembers(t *testing.T) {
	m := newTestManager(t, nil)
	host := &fakeConn{id: "host-1", name: "Alice", local: true}
	created := m.CreateRoom(host, "Alice", testMedia(), false)

	first := &fakeConn{id: "guest-1", local: true}
	m.JoinRoom(created.Code, first, "Bob")

	second := &fakeConn{id: "guest-2", local: true}
	m.JoinRoom(created.Code, second, "Carol")

	require.Equal(t, 2, host.received("party:guest-joined"))
	require.Equal(t, 1, first.received("party:guest-joined"))
	require.Equal(t, 0, second.received("party:guest-joined"), "a joiner does not get its own arrival")
}

func TestGuestLeaveKeepsRoomOpen(t *testing.T) {
	m := newTestManager(t, nil)
	host := &fakeConn{id: "host-1", name: "Alice", local: true}
	created := m.CreateRoom(host, "Alice", testMedia(), false)

	guest := &fakeConn{id: "guest-1", local: true}
	m.JoinRoom(created.Code, guest, "Bob")

	m.LeaveRoom(guest.ID())

	require.Equal(t, 1, m.RoomCount())
	require.Equal(t, 1, host.received("party:guest-left"))

	_, member := m.RoomFor(guest.ID())
	require.False(t, member)

	room, ok := m.RoomFor(host.ID())
	require.True(t, ok)
	require.Equal(t, 0, room.GuestCount())
}

func TestHostLeaveCascadesToAllGuests(t *testing.T) {
	tun := &fakeTunnel{url: "https://witty-otter-example.trycloudflare.com"}
	m := newTestManager(t, tun)
	host := &fakeConn{id: "host-1", name: "Alice", local: true}
	created := m.CreateRoom(host, "Alice", testMedia(), true)

	guests := make([]*fakeConn, 3)
	for i := range guests {
		guests[i] = &fakeConn{id: fmt.Sprintf("guest-%d", i), local: true}
		m.JoinRoom(created.Code, guests[i], fmt.Sprintf("Guest%d", i))
	}

	m.LeaveRoom(host.ID())

	require.Equal(t, 0, m.RoomCount())
	for _, g := range guests {
		require.Equal(t, 1, g.received("party:closed"))
		payload, ok := g.lastPayload("party:closed").(map[string]any)
		require.True(t, ok)
		require.Equal(t, "Host left the party", payload["reason"])

		_, member := m.RoomFor(g.ID())
		require.False(t, member)
	}
	require.Equal(t, 1, tun.stopped, "tunnel must be torn down with the room")
}

func TestCloseRoomDeliversReason(t *testing.T) {
	m := newTestManager(t, nil)
	host := &fakeConn{id: "host-1", name: "Alice", local: true}
	created := m.CreateRoom(host, "Alice", testMedia(), false)

	guest := &fakeConn{id: "guest-1", local: true}
	m.JoinRoom(created.Code, guest, "Bob")

	m.CloseRoom(created.Code, "Movie night is over")

	require.Equal(t, 0, m.RoomCount())
	payload, ok := guest.lastPayload("party:closed").(map[string]any)
	require.True(t, ok)
	require.Equal(t, "Movie night is over", payload["reason"])
}

func TestBroadcastActionHostOnly(t *testing.T) {
	m := newTestManager(t, nil)
	host := &fakeConn{id: "host-1", name: "Alice", local: true}
	created := m.CreateRoom(host, "Alice", testMedia(), false)

	guest := &fakeConn{id: "guest-1", local: true}
	m.JoinRoom(created.Code, guest, "Bob")

	m.BroadcastAction(created.Code, guest.ID(), Action{Type: "pause"})
	require.Equal(t, 0, guest.received("party:action"), "guest actions must be ignored")

	m.BroadcastAction(created.Code, host.ID(), Action{Type: "seek", Time: 900})
	require.Equal(t, 1, guest.received("party:action"))

	room, _ := m.RoomFor(host.ID())
	require.Equal(t, 900.0, room.CurrentTime, "cached time must reflect the seek before relay")
}

func TestBroadcastActionUpdatesCachedState(t *testing.T) {
	m := newTestManager(t, nil)
	host := &fakeConn{id: "host-1", name: "Alice", local: true}
	created := m.CreateRoom(host, "Alice", testMedia(), false)
	room, _ := m.RoomFor(host.ID())

	tests := []struct {
		desc       string
		action     Action
		wantPaused bool
		wantTime   float64
	}{
		{desc: "pause caches paused", action: Action{Type: "pause"}, wantPaused: true, wantTime: 120},
		{desc: "play clears paused", action: Action{Type: "play"}, wantPaused: false, wantTime: 120},
		{desc: "seek caches position", action: Action{Type: "seek", Time: 2400}, wantPaused: false, wantTime: 2400},
	}

	for _, tc := range tests {
		t.Run(tc.desc, func(t *testing.T) {
			m.BroadcastAction(created.Code, host.ID(), tc.action)
			require.Equal(t, tc.wantPaused, room.Paused)
			require.Equal(t, tc.wantTime, room.CurrentTime)
		})
	}
}

func TestHeartbeatHostOnly(t *testing.T) {
	m := newTestManager(t, nil)
	host := &fakeConn{id: "host-1", name: "Alice", local: true}
	created := m.CreateRoom(host, "Alice", testMedia(), false)

	guest := &fakeConn{id: "guest-1", local: true}
	m.JoinRoom(created.Code, guest, "Bob")

	m.Heartbeat(created.Code, guest.ID(), 500, false)
	require.Equal(t, 0, guest.received("party:heartbeat"))

	m.Heartbeat(created.Code, host.ID(), 130.5, true)
	require.Equal(t, 1, guest.received("party:heartbeat"))

	room, _ := m.RoomFor(host.ID())
	require.Equal(t, 130.5, room.CurrentTime)
	require.True(t, room.Paused)
}

func TestInfo(t *testing.T) {
	m := newTestManager(t, nil)
	host := &fakeConn{id: "host-1", name: "Alice", local: true}
	created := m.CreateRoom(host, "Alice", testMedia(), false)

	guest := &fakeConn{id: "guest-1", local: true}
	m.JoinRoom(created.Code, guest, "Bob")

	info, ok := m.Info(created.Code)
	require.True(t, ok)
	require.Equal(t, created.Code, info.Code)
	require.Equal(t, "Alice", info.HostName)
	require.Equal(t, 1, info.GuestCount)
	require.Equal(t, []string{"Bob"}, info.Guests)

	_, ok = m.Info("ZZZZZZ")
	require.False(t, ok)
}

func TestOutOfSync(t *testing.T) {
	room := &Room{CurrentTime: 100, driftToleranceMs: 2000}

	tests := []struct {
		desc      string
		guestTime float64
		want      bool
	}{
		{desc: "exact match", guestTime: 100, want: false},
		{desc: "within tolerance ahead", guestTime: 101.5, want: false},
		{desc: "within tolerance behind", guestTime: 98.5, want: false},
		{desc: "exactly at tolerance", guestTime: 102, want: false},
		{desc: "just past tolerance ahead", guestTime: 102.001, want: true},
		{desc: "just past tolerance behind", guestTime: 97.999, want: true},
		{desc: "far adrift", guestTime: 0, want: true},
	}

	for _, tc := range tests {
		t.Run(tc.desc, func(t *testing.T) {
			require.Equal(t, tc.want, room.OutOfSync(tc.guestTime))
		})
	}
}

func TestNewCodeAlphabet(t *testing.T) {
	for i := 0; i < 100; i++ {
		code := newCode(6)
		require.Len(t, code, 6)
		require.Equal(t, strings.ToUpper(code), code)
		for _, ch := range code {
			require.NotContains(t, "ILO01", string(ch), "ambiguous character in code %s", code)
		}
	}
}
