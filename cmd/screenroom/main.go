package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"screenroom/internal/config"
	"screenroom/internal/party"
	"screenroom/internal/player"
	"screenroom/internal/server"
	"screenroom/internal/state"
	"screenroom/internal/storage"
	"screenroom/internal/transcode"
	"screenroom/internal/tunnel"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "", "path to config file")
	windowHandle := flag.Int64("wid", 0, "native window handle to embed the engine into")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger := setupLogger(cfg.Logging)

	logger.Info().
		Str("version", version).
		Str("device", cfg.Device.Name).
		Msg("starting screenroom")

	db, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer db.Close()

	store := state.NewStore(cfg.Device.Name)

	engine := player.NewSupervisor(cfg.Player, store, logger)

	pipeline := transcode.NewPipeline(cfg.Transcode, logger)
	tun := tunnel.NewManager(cfg.Tunnel, logger)
	partyMgr := party.NewManager(cfg.Party, tun, logger)

	srv := server.New(cfg, store, engine, pipeline, partyMgr, db, logger)

	engine.OnEngineExit = func(err error) {
		logger.Error().Err(err).Msg("playback engine died, reload to restart")
		srv.EngineExited(err)
	}

	if err := engine.Start(*windowHandle); err != nil {
		logger.Fatal().Err(err).Msg("failed to start playback engine")
	}

	_, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info().Msg("received shutdown signal")
		cancel()

		engine.Quit()
		pipeline.Stop()
		tun.Stop()

		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("shutdown error")
		}
	}()

	if err := srv.Start(); err != nil {
		logger.Error().Err(err).Msg("server error")
	}

	logger.Info().Msg("screenroom stopped")
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Pretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().
			Timestamp().
			Logger()
	}

	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()
}
