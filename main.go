package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/redevil1/rembg-gui/config"
	"github.com/redevil1/rembg-gui/health"
	"github.com/redevil1/rembg-gui/pipeline"
	"github.com/redevil1/rembg-gui/rembg"
	"github.com/redevil1/rembg-gui/server"
)

const usage = `usage:
  rembg-gui [serve] [flags]
  rembg-gui remove -i input.jpg -o output.png [flags]
  rembg-gui compose -i foreground.png -o output.png (--color '#ffffff' | --background bg.jpg|https://...) [flags]
`

func main() {
	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd {
	case "serve":
		err = runServe(ctx, args)
	case "remove":
		err = runRemove(ctx, args)
	case "compose":
		err = runCompose(ctx, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatal().Err(err).Str("command", cmd).Msg("failed")
	}
}

// newFlagSet returns the flags every command shares, bound into v.
func newFlagSet(name string, v *viper.Viper) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	fs.StringP("config", "c", "", "config file (default ./config.toml if present)")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.Bool("log-pretty", false, "human readable console logs")
	fs.String("rembg-backend", rembg.BackendServer, "segmentation backend: rembg, birefnet, noop")
	fs.String("rembg-url", "http://127.0.0.1:7000", "segmentation backend base URL")
	fs.String("rembg-model", "", "model name passed to the rembg server")

	bind(v, fs, map[string]string{
		"log.level":     "log-level",
		"log.pretty":    "log-pretty",
		"rembg.backend": "rembg-backend",
		"rembg.url":     "rembg-url",
		"rembg.model":   "rembg-model",
	})
	return fs
}

func bind(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for key, flag := range keys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			log.Panic().Err(err).Str("flag", flag).Msg("could not bind flag")
		}
	}
}

// loadConfig parses args, reads the configuration and sets up logging.
func loadConfig(v *viper.Viper, fs *pflag.FlagSet, args []string) (*config.Config, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	configFile, _ := fs.GetString("config")

	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, err
	}
	setupLogging(cfg.Log)
	return cfg, nil
}

func setupLogging(c config.Log) {
	level, err := zerolog.ParseLevel(c.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if c.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	zerolog.DefaultContextLogger = &log.Logger
}

func runServe(ctx context.Context, args []string) error {
	v := viper.New()
	fs := newFlagSet("serve", v)
	fs.String("addr", ":5000", "listen address")
	bind(v, fs, map[string]string{"server.addr": "addr"})

	cfg, err := loadConfig(v, fs, args)
	if err != nil {
		return err
	}

	log.Info().Str("backend", cfg.Rembg.Backend).Str("url", cfg.Rembg.URL).Msg("starting rembg-gui...")

	remover, err := rembg.New(cfg.RembgOptions())
	if err != nil {
		return err
	}

	monitor := health.NewMonitor(remover, cfg.Health.Timeout)
	if err := monitor.Start(ctx, cfg.Health.Schedule); err != nil {
		return err
	}
	defer monitor.Stop()

	srv := server.New(pipeline.New(remover, cfg.PipelineLimits()), monitor)
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
