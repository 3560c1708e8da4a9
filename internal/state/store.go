package state

import "sync"

type Track struct {
	ID       int64  `json:"id"`
	Kind     string `json:"kind"` // video, audio, subtitle
	Language string `json:"language,omitempty"`
	Title    string `json:"title,omitempty"`
	Selected bool   `json:"selected"`
}

// State is the full playback snapshot pushed to a client on connect.
type State struct {
	Time       float64 `json:"time"`
	Duration   float64 `json:"duration"`
	Paused     bool    `json:"paused"`
	Volume     int     `json:"volume"`
	Muted      bool    `json:"muted"`
	Filename   string  `json:"filename"`
	Path       string  `json:"path"`
	Tracks     []Track `json:"tracks"`
	Clients    int     `json:"clients"`
	DeviceName string  `json:"deviceName"`
}

// Partial carries only the fields that changed. Nil pointers mean unchanged;
// a nil Tracks slice means unchanged while an empty one clears the list.
type Partial struct {
	Time     *float64 `json:"time,omitempty"`
	Duration *float64 `json:"duration,omitempty"`
	Paused   *bool    `json:"paused,omitempty"`
	Volume   *int     `json:"volume,omitempty"`
	Muted    *bool    `json:"muted,omitempty"`
	Filename *string  `json:"filename,omitempty"`
	Path     *string  `json:"path,omitempty"`
	Tracks   []Track  `json:"tracks,omitempty"`
	Clients  *int     `json:"clients,omitempty"`
}

type Field string

const (
	FieldTime     Field = "time"
	FieldDuration Field = "duration"
	FieldPaused   Field = "paused"
	FieldFilename Field = "filename"
	FieldPath     Field = "path"
	FieldTracks   Field = "tracks"
)

// Store is the single authoritative playback state record. All mutation goes
// through Apply under one mutex, so concurrent updates land in delivery order
// with last-write-wins per field. Subscribers receive the partial that was
// applied, not the full state.
type Store struct {
	mu      sync.Mutex
	state   State
	subs    map[int]chan Partial
	nextSub int
}

func NewStore(deviceName string) *Store {
	return &Store{
		state: State{
			Volume:     100,
			Paused:     true,
			DeviceName: deviceName,
		},
		subs: make(map[int]chan Partial),
	}
}

func (s *Store) Apply(p Partial) {
	s.mu.Lock()

	if p.Time != nil {
		s.state.Time = *p.Time
	}
	if p.Duration != nil {
		s.state.Duration = *p.Duration
	}
	if p.Paused != nil {
		s.state.Paused = *p.Paused
	}
	if p.Volume != nil {
		s.state.Volume = *p.Volume
	}
	if p.Muted != nil {
		s.state.Muted = *p.Muted
	}
	if p.Filename != nil {
		s.state.Filename = *p.Filename
	}
	if p.Path != nil {
		s.state.Path = *p.Path
	}
	if p.Tracks != nil {
		s.state.Tracks = append([]Track(nil), p.Tracks...)
	}
	if p.Clients != nil {
		s.state.Clients = *p.Clients
	}

	subs := make([]chan Partial, 0, len(s.subs))
	for _, ch := range s.subs {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- p:
		default:
		}
	}
}

// Snapshot returns a copy. Callers never see live references into the store.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.state
	snap.Tracks = append([]Track(nil), s.state.Tracks...)
	return snap
}

// Reset clears the named fields to their zero defaults and publishes the
// clearing partial, for when a file is unloaded.
func (s *Store) Reset(fields ...Field) {
	p := Partial{}
	for _, f := range fields {
		switch f {
		case FieldTime:
			p.Time = Float64(0)
		case FieldDuration:
			p.Duration = Float64(0)
		case FieldPaused:
			p.Paused = Bool(true)
		case FieldFilename:
			p.Filename = String("")
		case FieldPath:
			p.Path = String("")
		case FieldTracks:
			p.Tracks = []Track{}
		}
	}
	s.Apply(p)
}

func (s *Store) SetClients(n int) {
	s.Apply(Partial{Clients: Int(n)})
}

func (s *Store) Subscribe() (int, <-chan Partial) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Partial, 64)
	s.subs[id] = ch
	return id, ch
}

func (s *Store) Unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

// Pointer helpers for building partials.

func Float64(v float64) *float64 { return &v }
func Bool(v bool) *bool          { return &v }
func Int(v int) *int             { return &v }
func String(v string) *string    { return &v }
