package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Player    PlayerConfig    `yaml:"player"`
	Transcode TranscodeConfig `yaml:"transcode"`
	Tunnel    TunnelConfig    `yaml:"tunnel"`
	Party     PartyConfig     `yaml:"party"`
	Database  DatabaseConfig  `yaml:"database"`
	Device    DeviceConfig    `yaml:"device"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	PortRetries  int           `yaml:"port_retries"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	WebDir       string        `yaml:"web_dir"`
}

type PlayerConfig struct {
	Binary        string        `yaml:"binary"`
	SocketDir     string        `yaml:"socket_dir"`
	ConnectDelay  time.Duration `yaml:"connect_delay"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	ExtraArgs     []string      `yaml:"extra_args"`
}

type TranscodeConfig struct {
	Binary         string        `yaml:"binary"`
	OutputDir      string        `yaml:"output_dir"`
	SegmentSeconds int           `yaml:"segment_seconds"`
	MaxHeight      int           `yaml:"max_height"`
	VideoBitrate   string        `yaml:"video_bitrate"`
	AudioBitrate   string        `yaml:"audio_bitrate"`
	ReadyTimeout   time.Duration `yaml:"ready_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

type TunnelConfig struct {
	Binary         string        `yaml:"binary"`
	ExtraArgs      []string      `yaml:"extra_args"`
	StartupTimeout time.Duration `yaml:"startup_timeout"`
}

type PartyConfig struct {
	MaxGuests        int `yaml:"max_guests"`
	DriftToleranceMs int `yaml:"drift_tolerance_ms"`
	CodeLength       int `yaml:"code_length"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type DeviceConfig struct {
	Name string `yaml:"name"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8765,
			PortRetries:  10,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0,
			WebDir:       "web",
		},
		Player: PlayerConfig{
			Binary:        "mpv",
			SocketDir:     os.TempDir(),
			ConnectDelay:  500 * time.Millisecond,
			RetryInterval: time.Second,
		},
		Transcode: TranscodeConfig{
			Binary:         "ffmpeg",
			OutputDir:      "data/hls",
			SegmentSeconds: 4,
			MaxHeight:      720,
			VideoBitrate:   "2500k",
			AudioBitrate:   "128k",
			ReadyTimeout:   10 * time.Second,
			PollInterval:   250 * time.Millisecond,
		},
		Tunnel: TunnelConfig{
			Binary:         "cloudflared",
			StartupTimeout: 30 * time.Second,
		},
		Party: PartyConfig{
			MaxGuests:        5,
			DriftToleranceMs: 2000,
			CodeLength:       6,
		},
		Database: DatabaseConfig{
			Path: "data/screenroom.db",
		},
		Device: DeviceConfig{
			Name: "ScreenRoom",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
	}

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
