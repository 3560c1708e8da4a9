package player

import "encoding/json"

// The engine control channel speaks newline-delimited JSON. Commands go out
// as {"command": [verb, ...args]}, events come back as {"event": name, ...}
// with property changes carrying the subscription id, property name and value.

type wireCommand struct {
	Command []any `json:"command"`
}

type wireEvent struct {
	Event  string          `json:"event"`
	ID     int             `json:"id,omitempty"`
	Name   string          `json:"name,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

// Caller-assigned subscription ids for observed properties.
const (
	obsTimePos = iota + 1
	obsDuration
	obsPause
	obsVolume
	obsMute
	obsTrackList
	obsAudioTrack
	obsSubTrack
	obsVideoWidth
	obsVideoHeight
	obsFilename
	obsPath
)

var observedProperties = []struct {
	id   int
	name string
}{
	{obsTimePos, "time-pos"},
	{obsDuration, "duration"},
	{obsPause, "pause"},
	{obsVolume, "volume"},
	{obsMute, "mute"},
	{obsTrackList, "track-list"},
	{obsAudioTrack, "aid"},
	{obsSubTrack, "sid"},
	{obsVideoWidth, "dwidth"},
	{obsVideoHeight, "dheight"},
	{obsFilename, "filename"},
	{obsPath, "path"},
}

// Shape of entries in the engine's track-list property.
type wireTrack struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"` // video, audio, sub
	Lang     string `json:"lang,omitempty"`
	Title    string `json:"title,omitempty"`
	Selected bool   `json:"selected"`
}

func encodeCommand(args []any) ([]byte, error) {
	data, err := json.Marshal(wireCommand{Command: args})
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
