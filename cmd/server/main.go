package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/woozymasta/ngenmap/internal/config"
	"github.com/woozymasta/ngenmap/internal/logger"
	"github.com/woozymasta/ngenmap/internal/server"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile string `short:"c" long:"config"   env:"CONFIG_FILE"    description:"Path to configuration file, defaults are used if it does not exist" default:"config.yaml"`
	Addr       string `short:"a" long:"addr"     env:"LISTEN_ADDRESS" description:"Address to listen on"                                            default:"0.0.0.0"`
	Port       int    `short:"p" long:"port"     env:"LISTEN_PORT"    description:"Port to listen on"                                               default:"8080"`
	DataDir    string `short:"d" long:"data-dir" env:"DATA_DIR"       description:"Directory with layers and time series, overrides the config"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	// Setup Logging
	opts.Logger.Setup()

	// Load Config
	cfg, err := config.Load(opts.ConfigFile)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn().Str("path", opts.ConfigFile).Msg("Configuration file not found, using defaults")
		cfg, err = config.Default(), nil
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}

	srvCtx, err := server.NewServerContext(cfg, server.NewMetrics())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load layers")
	}
	if len(srvCtx.Layers) == 0 {
		log.Warn().Str("data_dir", cfg.DataDir).Msg("No layers found, only the application descriptor is served")
	}

	listenAddr := fmt.Sprintf("%s:%d", opts.Addr, opts.Port)
	log.Info().
		Str("addr", listenAddr).
		Int("layers_loaded", len(srvCtx.Layers)).
		Msg("Web server started")

	if err := http.ListenAndServe(listenAddr, srvCtx.Routes()); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
