package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"screenroom/internal/config"
)

const manifestName = "index.m3u8"

var (
	ErrTranscoderNotFound = errors.New("transcode: transcoder binary not found")
	ErrManifestTimeout    = errors.New("transcode: manifest did not materialize before timeout")
)

// Pipeline converts the currently loaded source file into a segmented HLS
// stream for clients that cannot decode the container natively. One transcode
// process per session: Start tears down whatever ran before it.
type Pipeline struct {
	cfg    config.TranscodeConfig
	logger zerolog.Logger

	// sessionMu serializes whole Start sessions, teardown through readiness,
	// so concurrent requests cannot race two transcoders onto one output dir.
	sessionMu sync.Mutex

	mu   sync.Mutex
	proc *exec.Cmd
}

func NewPipeline(cfg config.TranscodeConfig, logger zerolog.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, logger: logger}
}

func (p *Pipeline) IsAvailable() bool {
	_, err := exec.LookPath(p.cfg.Binary)
	return err == nil
}

func (p *Pipeline) OutputDir() string {
	return p.cfg.OutputDir
}

func (p *Pipeline) ManifestPath() string {
	return filepath.Join(p.cfg.OutputDir, manifestName)
}

// Start begins transcoding sourcePath from seekSeconds and returns once the
// playlist manifest exists on disk. Readiness is a bounded poll: every
// PollInterval up to ReadyTimeout, after which the spawned process is killed
// and ErrManifestTimeout returned.
func (p *Pipeline) Start(ctx context.Context, sourcePath string, seekSeconds float64) (string, error) {
	p.sessionMu.Lock()
	defer p.sessionMu.Unlock()

	p.Stop()

	if _, err := exec.LookPath(p.cfg.Binary); err != nil {
		return "", ErrTranscoderNotFound
	}

	p.clearOutputDir()
	if err := os.MkdirAll(p.cfg.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("create segment dir: %w", err)
	}

	args := buildArgs(p.cfg, sourcePath, seekSeconds)
	proc := exec.Command(p.cfg.Binary, args...)
	if err := proc.Start(); err != nil {
		return "", fmt.Errorf("spawn transcoder: %w", err)
	}

	p.mu.Lock()
	p.proc = proc
	p.mu.Unlock()

	go proc.Wait()

	p.logger.Info().
		Str("source", sourcePath).
		Float64("seek", seekSeconds).
		Int("pid", proc.Process.Pid).
		Msg("transcode started")

	manifest := p.ManifestPath()
	if err := waitForFile(ctx, manifest, p.cfg.PollInterval, p.cfg.ReadyTimeout); err != nil {
		p.Stop()
		return "", err
	}

	return manifest, nil
}

// Stop kills the active transcode process. Repeated calls are no-ops.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	proc := p.proc
	p.proc = nil
	p.mu.Unlock()

	if proc != nil && proc.Process != nil {
		proc.Process.Kill()
		p.logger.Debug().Int("pid", proc.Process.Pid).Msg("transcode stopped")
	}
}

// clearOutputDir removes stale segments one by one. Deletion failures from
// still-open segment files are tolerated; the transcoder overwrites them.
func (p *Pipeline) clearOutputDir() {
	entries, err := os.ReadDir(p.cfg.OutputDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		path := filepath.Join(p.cfg.OutputDir, e.Name())
		if err := os.Remove(path); err != nil {
			p.logger.Debug().Err(err).Str("path", path).Msg("stale segment not removed")
		}
	}
}

// buildArgs assembles the fixed target profile: resolution capped at
// MaxHeight keeping aspect, capped bitrate, fixed segment duration, and the
// full playlist retained so remote viewers can seek backward.
func buildArgs(cfg config.TranscodeConfig, sourcePath string, seekSeconds float64) []string {
	return []string{
		"-ss", fmt.Sprintf("%.3f", seekSeconds),
		"-i", sourcePath,
		"-vf", fmt.Sprintf("scale=-2:'min(%d,ih)'", cfg.MaxHeight),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-b:v", cfg.VideoBitrate,
		"-c:a", "aac",
		"-b:a", cfg.AudioBitrate,
		"-f", "hls",
		"-hls_time", fmt.Sprintf("%d", cfg.SegmentSeconds),
		"-hls_list_size", "0",
		"-hls_segment_filename", filepath.Join(cfg.OutputDir, "seg%05d.ts"),
		"-y",
		filepath.Join(cfg.OutputDir, manifestName),
	}
}

// waitForFile polls for path at a fixed interval, bounded by timeout and
// cancellable through ctx.
func waitForFile(ctx context.Context, path string, interval, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrManifestTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
