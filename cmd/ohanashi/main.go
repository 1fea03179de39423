// Ohanashi - half-duplex voice conversation client for persona-driven
// speech-to-speech sessions, controlled through a local web dashboard.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/philiaspaceai/philia-ohanashi/internal/config"
	"github.com/philiaspaceai/philia-ohanashi/internal/log"
	"github.com/philiaspaceai/philia-ohanashi/pkg/audio"
	"github.com/philiaspaceai/philia-ohanashi/pkg/capture"
	"github.com/philiaspaceai/philia-ohanashi/pkg/persona"
	"github.com/philiaspaceai/philia-ohanashi/pkg/playback"
	"github.com/philiaspaceai/philia-ohanashi/pkg/session"
	"github.com/philiaspaceai/philia-ohanashi/pkg/web"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Init("info")
		log.Error("configuration error", "err", err)
		os.Exit(1)
	}
	log.Init(cfg.LogLevel)

	if cfg.ServiceURL == "" {
		log.Error("OHANASHI_SERVICE_URL is required")
		os.Exit(1)
	}

	store, err := persona.NewFileStore(cfg.PersonaPath)
	if err != nil {
		log.Error("persona store failed", "path", cfg.PersonaPath, "err", err)
		os.Exit(1)
	}

	mgr, err := session.NewManager(session.Options{
		Personas: store,
		NewTransport: session.NewChannelFactory(session.ChannelConfig{
			URL:               cfg.ServiceURL,
			APIKey:            cfg.APIKey,
			HeartbeatInterval: cfg.HeartbeatInterval,
			ReconnectCeiling:  cfg.ReconnectCeiling,
		}),
		NewSource: func() (capture.Source, error) {
			return capture.NewFFmpegSource(capture.FFmpegConfig{
				Format: cfg.MicFormat,
				Device: cfg.MicDevice,
			})
		},
		NewSink: func() (playback.Sink, error) {
			return playback.NewExecSink(cfg.PlayerCommand, audio.EgressRate), nil
		},
		SilenceThreshold:  cfg.SilenceThreshold,
		SilenceWindow:     cfg.SilenceWindow,
		ProcessingTimeout: cfg.ProcessingTimeout,
	})
	if err != nil {
		log.Error("session manager failed", "err", err)
		os.Exit(1)
	}

	srv := web.NewServer(cfg.WebPort, mgr, store, store)
	srv.StartAsync()
	log.Info("ohanashi ready", "port", cfg.WebPort, "service", cfg.ServiceURL)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	log.Info("shutting down")
	_ = mgr.Stop()
	_ = srv.Shutdown()
}

// loadConfig merges flags over the environment. Flags win.
func loadConfig() (*config.Config, error) {
	serviceURL := flag.String("service-url", "", "voice service websocket URL (overrides OHANASHI_SERVICE_URL)")
	apiKey := flag.String("api-key", "", "service credential (overrides OHANASHI_API_KEY)")
	port := flag.String("port", "", "control surface port")
	micFormat := flag.String("mic-format", "", "ffmpeg capture format: pulse, alsa, avfoundation")
	micDevice := flag.String("mic-device", "", "capture device name")
	player := flag.String("player", "", "external PCM player command")
	personaPath := flag.String("personas", "", "persona storage file")
	debug := flag.Bool("debug", false, "verbose debug logging")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if *serviceURL != "" {
		cfg.ServiceURL = *serviceURL
	}
	if *apiKey != "" {
		cfg.APIKey = *apiKey
	}
	if *port != "" {
		cfg.WebPort = *port
	}
	if *micFormat != "" {
		cfg.MicFormat = *micFormat
	}
	if *micDevice != "" {
		cfg.MicDevice = *micDevice
	}
	if *player != "" {
		cfg.PlayerCommand = *player
	}
	if *personaPath != "" {
		cfg.PersonaPath = *personaPath
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}
