package state

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyMergesOnlyProvidedFields(t *testing.T) {
	s := NewStore("TestDevice")

	s.Apply(Partial{
		Filename: String("movie.mkv"),
		Path:     String("/media/movie.mkv"),
		Duration: Float64(5400),
		Paused:   Bool(false),
	})
	s.Apply(Partial{Time: Float64(42.5)})

	snap := s.Snapshot()
	require.Equal(t, 42.5, snap.Time)
	require.Equal(t, 5400.0, snap.Duration)
	require.False(t, snap.Paused)
	require.Equal(t, "movie.mkv", snap.Filename)
	require.Equal(t, "/media/movie.mkv", snap.Path)
	require.Equal(t, 100, snap.Volume, "untouched fields keep their defaults")
	require.Equal(t, "TestDevice", snap.DeviceName)
}

func TestApplyLastWriteWins(t *testing.T) {
	s := NewStore("TestDevice")

	s.Apply(Partial{Volume: Int(50)})
	s.Apply(Partial{Volume: Int(80)})
	s.Apply(Partial{Volume: Int(65)})

	require.Equal(t, 65, s.Snapshot().Volume)
}

func TestNilTracksMeansUnchanged(t *testing.T) {
	s := NewStore("TestDevice")

	tracks := []Track{
		{ID: 1, Kind: "video", Selected: true},
		{ID: 2, Kind: "audio", Language: "eng", Selected: true},
	}
	s.Apply(Partial{Tracks: tracks})
	s.Apply(Partial{Time: Float64(10)})
	require.Len(t, s.Snapshot().Tracks, 2, "nil tracks in a later partial must not clear the list")

	s.Apply(Partial{Tracks: []Track{}})
	require.Len(t, s.Snapshot().Tracks, 0, "an explicit empty list clears it")
}

func TestSnapshotIsolation(t *testing.T) {
	s := NewStore("TestDevice")
	s.Apply(Partial{Tracks: []Track{{ID: 1, Kind: "audio", Language: "eng"}}})

	snap := s.Snapshot()
	snap.Tracks[0].Language = "jpn"
	snap.Time = 999

	fresh := s.Snapshot()
	require.Equal(t, "eng", fresh.Tracks[0].Language)
	require.Equal(t, 0.0, fresh.Time)
}

func TestSubscribeReceivesAppliedPartial(t *testing.T) {
	s := NewStore("TestDevice")
	id, ch := s.Subscribe()
	defer s.Unsubscribe(id)

	s.Apply(Partial{Time: Float64(7), Paused: Bool(true)})

	p := <-ch
	require.NotNil(t, p.Time)
	require.Equal(t, 7.0, *p.Time)
	require.NotNil(t, p.Paused)
	require.True(t, *p.Paused)
	require.Nil(t, p.Duration, "subscribers get the partial, not the whole state")
}

func TestSubscriberOrderPreserved(t *testing.T) {
	s := NewStore("TestDevice")
	id, ch := s.Subscribe()
	defer s.Unsubscribe(id)

	for i := 1; i <= 5; i++ {
		s.Apply(Partial{Time: Float64(float64(i))})
	}

	for i := 1; i <= 5; i++ {
		p := <-ch
		require.Equal(t, float64(i), *p.Time)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := NewStore("TestDevice")
	id, ch := s.Subscribe()
	s.Unsubscribe(id)

	s.Apply(Partial{Time: Float64(1)})

	select {
	case p := <-ch:
		t.Fatalf("unexpected delivery after unsubscribe: %+v", p)
	default:
	}
}

func TestReset(t *testing.T) {
	s := NewStore("TestDevice")
	s.Apply(Partial{
		Time:     Float64(100),
		Duration: Float64(5400),
		Paused:   Bool(false),
		Filename: String("movie.mkv"),
		Path:     String("/media/movie.mkv"),
		Tracks:   []Track{{ID: 1, Kind: "video"}},
	})

	s.Reset(FieldTime, FieldDuration, FieldPaused, FieldFilename, FieldPath, FieldTracks)

	snap := s.Snapshot()
	require.Equal(t, 0.0, snap.Time)
	require.Equal(t, 0.0, snap.Duration)
	require.True(t, snap.Paused)
	require.Empty(t, snap.Filename)
	require.Empty(t, snap.Path)
	require.Empty(t, snap.Tracks)
}

func TestSetClients(t *testing.T) {
	s := NewStore("TestDevice")
	s.SetClients(3)
	require.Equal(t, 3, s.Snapshot().Clients)
}
