package media

import (
	"encoding/json"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

type Info struct {
	Duration      float64
	Width         int
	Height        int
	VideoCodec    string
	AudioCodec    string
	AudioChannels int
	Bitrate       int64
}

type Prober struct {
	ffprobePath string
	logger      zerolog.Logger
}

func NewProber(logger zerolog.Logger) *Prober {
	ffprobePath := "ffprobe"
	if path, err := exec.LookPath("ffprobe"); err == nil {
		ffprobePath = path
	}

	return &Prober{
		ffprobePath: ffprobePath,
		logger:      logger,
	}
}

func (p *Prober) IsAvailable() bool {
	_, err := exec.LookPath(p.ffprobePath)
	return err == nil
}

func (p *Prober) Probe(filePath string) (*Info, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	}

	cmd := exec.Command(p.ffprobePath, args...)
	output, err := cmd.Output()
	if err != nil {
		p.logger.Debug().Err(err).Str("file", filePath).Msg("ffprobe failed")
		return nil, err
	}

	return parseProbeOutput(output)
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

type ffprobeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Channels  int    `json:"channels"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
	BitRate  string `json:"bit_rate"`
}

func parseProbeOutput(output []byte) (*Info, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, err
	}

	info := &Info{}

	if probe.Format.Duration != "" {
		if dur, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
			info.Duration = dur
		}
	}

	if probe.Format.BitRate != "" {
		if br, err := strconv.ParseInt(probe.Format.BitRate, 10, 64); err == nil {
			info.Bitrate = br
		}
	}

	for _, stream := range probe.Streams {
		switch stream.CodecType {
		case "video":
			if info.VideoCodec == "" {
				info.VideoCodec = strings.ToUpper(stream.CodecName)
				info.Width = stream.Width
				info.Height = stream.Height
			}
		case "audio":
			if info.AudioCodec == "" {
				info.AudioCodec = strings.ToUpper(stream.CodecName)
				info.AudioChannels = stream.Channels
			}
		}
	}

	return info, nil
}
