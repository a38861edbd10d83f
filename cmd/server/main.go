package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	router "github.com/dkeye/Relay/internal/adapters/http"
	"github.com/dkeye/Relay/internal/adapters/rtc"
	wssignal "github.com/dkeye/Relay/internal/adapters/signal"
	"github.com/dkeye/Relay/internal/app"
	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/dkeye/Relay/internal/app/sfu"
	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/metrics"
)

func main() {
	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	rootCmd := &cobra.Command{
		Use:           "relay",
		Short:         "SFU relay for voice and data rooms",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("relay failed")
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var (
		env   string
		debug bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the signaling and media server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
			cfg, err := config.Load(env)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVar(&env, "env", "", "config environment (config/config.<env>.yaml), defaults to $CONFIG_ENV or dev")
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")
	return cmd
}

func serve(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	ids := app.NewIDAllocator()
	reg := app.NewRegistry(ids)
	routes := app.NewRouter(reg)

	o := &orch.Orchestrator{
		Registry: reg,
		Rooms:    app.NewRoomManager(ids),
		Router:   routes,
		Notifier: app.NewNotifier(routes, cfg.NotifyWorkers, m),
		Policy:   app.PolicyByName(cfg.Backpressure),
		Relays:   sfu.NewRelayManager(),
		Metrics:  m,
	}
	ctrl := wssignal.NewSignalWSController(o, wssignal.NewRoomRateLimiter(cfg.JoinLimit, cfg.JoinInterval), wssignal.Options{
		SendBuffer: cfg.SendBuffer,
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		WebRTC:     rtc.DefaultWebRTCConfig(cfg.ICEServers),
	})

	r := router.SetupRouter(ctx, cfg, o, ctrl, promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Relay server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
		return err
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
