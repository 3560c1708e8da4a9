package party

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// Room codes avoid visually confusable characters (no I, L, O, 0, 1).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// Conn is the party layer's view of a server connection.
type Conn interface {
	ID() string
	Name() string
	IsLocal() bool
	Send(event string, payload any)
}

type guestEntry struct {
	conn     Conn
	name     string
	joinedAt time.Time
}

// Room is a watch-party session: one authoritative host, a capacity-bounded
// guest set, and a cached mirror of the host's playback state used for drift
// correction. A room lives from creation until the host leaves or closes it;
// there is no suspended state.
type Room struct {
	Code      string
	HostName  string
	CreatedAt time.Time

	Filename       string
	Duration       float64
	NeedsTranscode bool

	// Cached sync state, owned by the host's actions and heartbeats.
	CurrentTime float64
	Paused      bool

	StreamURL       string
	PublicStreamURL string
	TunnelActive    bool

	host   Conn
	guests map[string]*guestEntry

	driftToleranceMs int
}

func (r *Room) HostID() string {
	return r.host.ID()
}

func (r *Room) GuestCount() int {
	return len(r.guests)
}

func (r *Room) GuestNames() []string {
	names := make([]string, 0, len(r.guests))
	for _, g := range r.guests {
		names = append(names, g.name)
	}
	return names
}

// OutOfSync reports whether a guest-reported position has drifted past the
// room's tolerance relative to the cached host time.
func (r *Room) OutOfSync(guestTime float64) bool {
	return math.Abs(r.CurrentTime-guestTime)*1000 > float64(r.driftToleranceMs)
}

// broadcast sends an event to every guest. The host is addressed separately
// by callers that need it.
func (r *Room) broadcast(event string, payload any) {
	for _, g := range r.guests {
		g.conn.Send(event, payload)
	}
}

func newCode(length int) string {
	buf := make([]byte, length)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failing is unrecoverable for code generation
			panic(err)
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf)
}
