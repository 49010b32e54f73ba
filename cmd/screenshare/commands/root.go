package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bryanchriswhite/screenshare/internal/api"
	"github.com/bryanchriswhite/screenshare/internal/app"
	"github.com/bryanchriswhite/screenshare/internal/backend"
	"github.com/bryanchriswhite/screenshare/internal/capture"
	"github.com/bryanchriswhite/screenshare/internal/config"
	"github.com/bryanchriswhite/screenshare/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "screenshare",
		Short: "Capture the first display and hand its frames to an observer",
		Long: `screenshare discovers the displays the platform allows capturing, picks
the first one and streams its frames until interrupted.

Backends:
  • portal      xdg-desktop-portal ScreenCast + PipeWire (Wayland)
  • x11         RandR outputs polled with GetImage
  • screenshot  portable fallback for macOS, Windows and X11

Audio capture is gated on platform support and falls back to video only.`,
		Example: `  # Capture the first display with defaults
  screenshare

  # Force the X11 backend with debug logging
  screenshare --backend x11 --log-level debug

  # Expose session status on port 8080
  screenshare --api-port 8080`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runCapture,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/screenshare/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("backend", "", "capture backend (auto, x11, portal, screenshot)")
	rootCmd.PersistentFlags().Duration("start-timeout", 0, "how long to wait for the stream to start (default 10s)")
	rootCmd.PersistentFlags().Int("api-port", 0, "serve the status API on this port (0 disables it)")

	// Bind flags to viper
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("backend", rootCmd.PersistentFlags().Lookup("backend"))
	viper.BindPFlag("start_timeout", rootCmd.PersistentFlags().Lookup("start-timeout"))
	viper.BindPFlag("api.port", rootCmd.PersistentFlags().Lookup("api-port"))
}

func initConfig() {
	viper.SetEnvPrefix("SCREENSHARE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode reports a failure and maps it to the process exit status. Having
// nothing to capture is not a failure.
func exitCode(err error) int {
	if errors.Is(err, capture.ErrNoSurfaceAvailable) {
		logger.WithComponent("main").Warn().Msg("No capturable display found; nothing to do")
		return 0
	}
	logger.WithComponent("main").Error().Err(err).Msg("screenshare failed")
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig reads the config file, applies flag and environment overrides
// and initializes logging
func loadConfig() (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if viper.IsSet("log_level") {
		if level := viper.GetString("log_level"); level != "" {
			configMgr.SetLogLevel(level)
		}
	}
	if viper.IsSet("backend") {
		if name := viper.GetString("backend"); name != "" {
			if err := configMgr.SetBackend(name); err != nil {
				return nil, err
			}
		}
	}
	if viper.IsSet("start_timeout") {
		if d := viper.GetDuration("start_timeout"); d > 0 {
			configMgr.SetStartTimeout(d)
		}
	}
	if viper.IsSet("api.port") {
		if port := viper.GetInt("api.port"); port > 0 {
			configMgr.SetAPIPort(port)
		}
	}

	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, true)
	logger.WithComponent("config").Debug().
		Str("path", configMgr.GetConfigPath()).
		Bool("from_file", configMgr.FromFile()).
		Str("log_level", cfg.LogLevel).
		Msg("Configuration loaded")

	return configMgr, nil
}

// newPlatform builds the configured backend. The audio tier is only added
// when withAudio is set, so runs that never capture audio skip the device probe.
func newPlatform(configMgr *config.Manager, withAudio bool) (capture.Platform, error) {
	return backend.New(platformOptions(configMgr.Get(), configMgr.PortalTokenPath(), withAudio))
}

func platformOptions(cfg config.Config, tokenPath string, withAudio bool) backend.Options {
	return backend.Options{
		Name:            cfg.Backend,
		ShowCursor:      cfg.Capture.ShowsCursor,
		PortalTokenPath: tokenPath,
		NoAudio:         !withAudio,
	}
}

func runCapture(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()
	log := logger.WithComponent("main")

	platform, err := newPlatform(configMgr, cfg.Capture.CapturesAudio)
	if err != nil {
		return err
	}
	defer platform.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := app.Options{
		Config:       cfg.Capture,
		Discovery:    cfg.Discovery,
		StartTimeout: cfg.StartTimeout,
	}

	if cfg.API.Port > 0 {
		server := api.NewServer(configMgr)
		if err := server.Start(cfg.API.Port); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
		opts.OnSession = server.SetSession
	}

	log.Info().Msg("Press Ctrl+C to stop")
	return app.New(platform, opts).Run(ctx)
}
