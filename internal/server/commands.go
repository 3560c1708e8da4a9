package server

import (
	"encoding/json"
	"path/filepath"
)

// resumePromptThreshold is the minimum saved position, in seconds, worth
// offering a resume prompt for.
const resumePromptThreshold = 30.0

// handleCommand translates the client action vocabulary into engine commands.
// Unknown actions are logged and dropped; a misbehaving remote must never take
// the control plane down.
func (s *Server) handleCommand(c *wsClient, action string, value json.RawMessage) {
	var err error

	switch action {
	case "play":
		err = s.engine.SendCommand("set_property", "pause", false)
	case "pause":
		err = s.engine.SendCommand("set_property", "pause", true)
	case "toggle":
		err = s.engine.SendCommand("cycle", "pause")
	case "seek":
		if v, ok := floatValue(value); ok {
			err = s.engine.SendCommand("seek", v, "relative")
		}
	case "seek-absolute":
		if v, ok := floatValue(value); ok {
			err = s.engine.SendCommand("seek", v, "absolute")
		}
	case "volume-up":
		err = s.engine.SendCommand("add", "volume", 5)
	case "volume-down":
		err = s.engine.SendCommand("add", "volume", -5)
	case "volume-set":
		if v, ok := floatValue(value); ok {
			err = s.engine.SendCommand("set_property", "volume", v)
		}
	case "mute-toggle":
		err = s.engine.SendCommand("cycle", "mute")
	case "fullscreen-toggle":
		err = s.engine.SendCommand("cycle", "fullscreen")
	case "load-file":
		s.handleLoadFile(c, value)
	case "resume-to-position":
		if v, ok := floatValue(value); ok {
			err = s.engine.SendCommand("seek", v, "absolute")
		}
	case "dismiss-resume":
		s.handleDismissResume(value)
	case "raw":
		err = s.handleRaw(value)
	case "quit":
		s.engine.Quit()
		c.Send("shutdown-confirmed", nil)
	default:
		s.logger.Warn().Str("action", action).Msg("unknown action ignored")
		return
	}

	if err != nil {
		s.logger.Error().Err(err).Str("action", action).Msg("engine command failed")
	}
}

// handleLoadFile loads a file into the engine and, when a saved position past
// the prompt threshold exists, offers the client a resume prompt instead of
// seeking silently.
func (s *Server) handleLoadFile(c *wsClient, value json.RawMessage) {
	var path string
	if err := json.Unmarshal(value, &path); err != nil || path == "" {
		s.logger.Debug().Msg("load-file without a path")
		return
	}

	if err := s.engine.SendCommand("loadfile", path, "replace"); err != nil {
		s.logger.Error().Err(err).Str("path", path).Msg("loadfile failed")
		return
	}

	pos, err := s.storage.GetResumePosition(path)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("resume lookup failed")
		return
	}
	if pos != nil && pos.Position > resumePromptThreshold && pos.Progress < 0.95 {
		c.Send("resume-available", map[string]any{
			"filename": filepath.Base(path),
			"position": pos.Position,
			"duration": pos.Duration,
			"progress": pos.Progress,
		})
	}
}

func (s *Server) handleDismissResume(value json.RawMessage) {
	var path string
	if err := json.Unmarshal(value, &path); err != nil || path == "" {
		return
	}
	if err := s.storage.DeleteResumePosition(path); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("failed to clear resume position")
	}
}

// handleRaw passes an arbitrary command array straight to the engine. Useful
// for clients that speak the engine protocol themselves.
func (s *Server) handleRaw(value json.RawMessage) error {
	var args []any
	if err := json.Unmarshal(value, &args); err != nil || len(args) == 0 {
		s.logger.Debug().Msg("raw command without arguments")
		return nil
	}
	return s.engine.SendCommand(args...)
}

func floatValue(raw json.RawMessage) (float64, bool) {
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}
