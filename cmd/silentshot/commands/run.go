package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bryanchriswhite/SilentShot/internal/api"
	"github.com/bryanchriswhite/SilentShot/internal/capture"
	"github.com/bryanchriswhite/SilentShot/internal/config"
	"github.com/bryanchriswhite/SilentShot/internal/convert"
	"github.com/bryanchriswhite/SilentShot/internal/input"
	"github.com/bryanchriswhite/SilentShot/internal/logger"
	"github.com/bryanchriswhite/SilentShot/internal/notify"
	"github.com/bryanchriswhite/SilentShot/internal/scheduler"
	"github.com/bryanchriswhite/SilentShot/internal/storage"
	"github.com/bryanchriswhite/SilentShot/internal/window"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the capture daemon",
	Long: `Start polling the hotkey and writing captures to the destination folder.

Raw captures left over from a previous run are converted in the background
on startup. The status API is served on 127.0.0.1 when api_port is set.`,
	Example: `  # Run with the configured destination
  silentshot run

  # Capture into another folder for this run only
  silentshot run --dest ~/Desktop/shots

  # Keep raw bitmaps next to the PNGs
  silentshot run --format both --log-level debug`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	mgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := mgr.Get()
	log := logger.WithComponent("run")

	log.Info().
		Str("config", mgr.GetConfigPath()).
		Str("destination", cfg.Output.Destination).
		Str("format", string(cfg.Output.Format)).
		Msg("Configuration loaded")

	mgr.OnChange(func(c *config.Config) {
		zerolog.SetGlobalLevel(logger.ParseLevel(c.LogLevel))
	})
	mgr.Watch()

	store := storage.NewStore(afero.NewOsFs(), storage.NewNamer())
	if err := store.EnsureDir(cfg.Output.Destination); err != nil {
		return err
	}

	frames, err := capture.Open(cfg.Capture.Backend, cfg.Capture.Display)
	if err != nil {
		return fmt.Errorf("failed to open frame source: %w", err)
	}
	defer frames.Close()

	keys, err := input.Open(cfg.Input.Backend, cfg.Input.TriggerKey, cfg.Input.ModifierKey)
	if err != nil {
		return fmt.Errorf("failed to open key source: %w", err)
	}
	defer keys.Close()

	tracker, err := window.Open("auto")
	if err != nil {
		log.Warn().Err(err).Msg("Window tracking not available, all captures will be full screen")
		tracker = window.Nop{}
	}
	defer tracker.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := notify.NewHub(notify.DefaultRecent)

	var pipeline *convert.Pipeline
	if cfg.Output.Format.Converts() {
		pipeline = convert.New(store, convert.Options{
			Workers:        cfg.Conversion.Workers,
			EnqueueTimeout: cfg.Conversion.EnqueueTimeout,
			SweepThrottle:  cfg.Conversion.SweepThrottle,
			Level:          storage.CompressionLevel(cfg.Output.PNGCompression),
			PreserveRaw:    func() bool { return mgr.OutputMode().PreserveRaw() },
			Hub:            hub,
		})
		stopConversion, err := startConversion(ctx, pipeline, cfg.Output.Destination)
		if err != nil {
			return fmt.Errorf("failed to start conversion: %w", err)
		}
		defer stopConversion()
	} else {
		log.Info().Msg("Raw output selected, conversion disabled for this run")
	}

	deps := scheduler.Deps{
		Keys:    keys,
		Frames:  frames,
		Tracker: tracker,
		Store:   store,
		Dest:    mgr,
		Hub:     hub,
	}
	if pipeline != nil {
		deps.Queue = pipeline
	}
	sched := scheduler.New(deps, scheduler.Options{
		PollInterval:    cfg.Capture.PollInterval,
		MaxPendingTicks: cfg.Capture.MaxPendingTicks,
	})

	if cfg.APIPort > 0 {
		apiDeps := api.Deps{
			Config:    mgr,
			Hub:       hub,
			Scheduler: sched,
			Tracker:   tracker,
		}
		if pipeline != nil {
			apiDeps.Pipeline = pipeline
		}
		server := api.NewServer(apiDeps)
		go func() {
			if err := server.Start(cfg.APIPort); err != nil {
				log.Error().Err(err).Int("port", cfg.APIPort).Msg("API server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	log.Info().
		Str("trigger", cfg.Input.TriggerKey).
		Str("modifier", cfg.Input.ModifierKey).
		Msg("SilentShot is running, press Ctrl+C to stop")

	if err := sched.Run(ctx); err != nil {
		return fmt.Errorf("capture loop failed: %w", err)
	}

	log.Info().Msg("Shutting down gracefully...")
	return nil
}

// startConversion starts p on dir. The returned function cancels the
// startup sweep, closes the queue and waits for the workers, so shutdown
// does not wait out a throttled backlog.
func startConversion(ctx context.Context, p *convert.Pipeline, dir string) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	if err := p.Start(ctx, dir); err != nil {
		cancel()
		return nil, err
	}
	return func() {
		cancel()
		p.Close()
		p.Wait()
	}, nil
}
