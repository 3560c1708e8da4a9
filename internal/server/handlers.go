package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"screenroom/internal/media"
	"screenroom/internal/transcode"
)

type streamInfoResponse struct {
	Filename       string  `json:"filename"`
	Path           string  `json:"path"`
	Duration       float64 `json:"duration"`
	Width          int     `json:"width,omitempty"`
	Height         int     `json:"height,omitempty"`
	VideoCodec     string  `json:"videoCodec,omitempty"`
	AudioCodec     string  `json:"audioCodec,omitempty"`
	ContentType    string  `json:"contentType"`
	NeedsTranscode bool    `json:"needsTranscode"`
	StreamURL      string  `json:"streamUrl"`
	TranscodeURL   string  `json:"transcodeUrl,omitempty"`
}

type transcodeResponse struct {
	Success     bool   `json:"success"`
	PlaylistURL string `json:"playlistUrl,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) handleStreamInfo(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	if snap.Path == "" {
		writeError(w, http.StatusNotFound, "NO_MEDIA", "No file loaded")
		return
	}

	resp := streamInfoResponse{
		Filename:       snap.Filename,
		Path:           snap.Path,
		Duration:       snap.Duration,
		ContentType:    media.ContentType(snap.Path),
		NeedsTranscode: media.NeedsTranscode(snap.Path),
		StreamURL:      "/stream",
	}
	if resp.NeedsTranscode {
		resp.TranscodeURL = "/stream-transcode"
	}

	if info := s.probeInfo(snap.Path); info != nil {
		resp.Duration = info.Duration
		resp.Width = info.Width
		resp.Height = info.Height
		resp.VideoCodec = info.VideoCodec
		resp.AudioCodec = info.AudioCodec
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleStream serves the loaded source file with byte-range support for
// containers clients decode natively. Formats that need transcoding get a
// structured refusal carrying the needsTranscode flag.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	if snap.Path == "" {
		writeError(w, http.StatusNotFound, "NO_MEDIA", "No file loaded")
		return
	}

	if media.NeedsTranscode(snap.Path) {
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]any{
			"error":          "UNSUPPORTED_FORMAT",
			"message":        "Format requires transcoding",
			"needsTranscode": true,
			"transcodeUrl":   "/stream-transcode",
		})
		return
	}

	file, err := os.Open(snap.Path)
	if err != nil {
		writeError(w, http.StatusNotFound, "FILE_NOT_FOUND", "Cannot open media file")
		return
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Cannot stat media file")
		return
	}

	w.Header().Set("Content-Type", media.ContentType(snap.Path))
	w.Header().Set("Accept-Ranges", "bytes")

	// ServeContent handles Range headers: 206 with Content-Range for partial
	// requests, the whole file otherwise.
	http.ServeContent(w, r, filepath.Base(snap.Path), stat.ModTime(), file)
}

func (s *Server) handleStreamTranscode(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	if snap.Path == "" {
		writeError(w, http.StatusNotFound, "NO_MEDIA", "No file loaded")
		return
	}

	seek := 0.0
	if t := r.URL.Query().Get("t"); t != "" {
		if v, err := strconv.ParseFloat(t, 64); err == nil && v >= 0 {
			seek = v
		}
	}

	if _, err := s.pipeline.Start(r.Context(), snap.Path, seek); err != nil {
		s.logger.Error().Err(err).Str("path", snap.Path).Msg("transcode start failed")
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, transcode.ErrTranscoderNotFound):
			status = http.StatusServiceUnavailable
		case errors.Is(err, transcode.ErrManifestTimeout):
			status = http.StatusGatewayTimeout
		}
		writeJSON(w, status, transcodeResponse{Success: false, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, transcodeResponse{
		Success:     true,
		PlaylistURL: "/hls/index.m3u8",
	})
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "Missing path parameter")
		return
	}

	entries, err := media.ListDirectory(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Cannot read directory")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"path":    path,
		"entries": entries,
	})
}

func (s *Server) handleDrives(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"drives": media.ListDrives(),
	})
}

func (s *Server) handleContinueWatching(w http.ResponseWriter, r *http.Request) {
	items, err := s.storage.GetContinueWatching(20)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to query continue watching")
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Query failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) probeInfo(path string) *media.Info {
	if info, ok := s.probes.Get(path); ok {
		return info
	}
	if !s.prober.IsAvailable() {
		return nil
	}
	info, err := s.prober.Probe(path)
	if err != nil {
		return nil
	}
	s.probes.Set(path, info)
	return info
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
