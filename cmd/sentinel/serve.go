package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-sentinel/internal/alerts"
	"github.com/miradorstack/mirador-sentinel/internal/api"
	"github.com/miradorstack/mirador-sentinel/internal/cache"
	"github.com/miradorstack/mirador-sentinel/internal/config"
	"github.com/miradorstack/mirador-sentinel/internal/hub"
	"github.com/miradorstack/mirador-sentinel/internal/maintenance"
	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/patterns"
	"github.com/miradorstack/mirador-sentinel/internal/probe"
	"github.com/miradorstack/mirador-sentinel/internal/registry"
	"github.com/miradorstack/mirador-sentinel/internal/scheduler"
	"github.com/miradorstack/mirador-sentinel/internal/store"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

var serveOnce bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler with its HTTP, gRPC and metrics listeners",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveOnce, "once", false, "Probe every due source once and exit")
	rootCmd.AddCommand(serveCmd)
}

// app holds the wired components shared by serve and serve --once.
type app struct {
	logger    *slog.Logger
	store     store.Store
	registry  *registry.Registry
	sqlProber *probe.SQLProber
	hub       *hub.Hub
	alerts    *alerts.Dispatcher
	scheduler *scheduler.Scheduler
}

func (a *app) close() {
	a.alerts.Wait()
	a.sqlProber.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("store close", slog.Any("error", err))
	}
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	st, err := store.Open(ctx, store.Options{
		Driver:        cfg.Store.Driver,
		DataDirectory: cfg.Store.DataDirectory,
		DSN:           cfg.Store.DSN,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	reg := registry.New(st, logger)
	if err := reg.LoadStatic(ctx, cfg.Sources); err != nil {
		st.Close()
		return nil, fmt.Errorf("load sources: %w", err)
	}

	dispatcher := probe.NewDispatcher(logger, cfg.Scheduler.ProbeTimeout)
	dispatcher.Register(models.SourceTypeHTTP, probe.NewHTTPProber(cfg.Probers.HTTP.Timeout))
	sqlProber := probe.NewSQLProber()
	dispatcher.Register(models.SourceTypeSQL, sqlProber)
	if cfg.Probers.Consul.Address != "" {
		consulProber, err := probe.NewConsulProber(cfg.Probers.Consul.Address, cfg.Probers.Consul.Token)
		if err != nil {
			logger.Warn("consul prober unavailable", slog.Any("error", err))
		} else {
			dispatcher.Register(models.SourceTypeConsul, consulProber)
		}
	}
	if cfg.Probers.S3.Endpoint != "" {
		s3Prober, err := probe.NewS3Prober(probe.S3Config{
			Endpoint:  cfg.Probers.S3.Endpoint,
			AccessKey: cfg.Probers.S3.AccessKey,
			SecretKey: cfg.Probers.S3.SecretKey,
			Region:    cfg.Probers.S3.Region,
			UseSSL:    cfg.Probers.S3.UseSSL,
		})
		if err != nil {
			logger.Warn("s3 prober unavailable", slog.Any("error", err))
		} else {
			dispatcher.Register(models.SourceTypeS3, s3Prober)
		}
	}

	events := hub.New(logger, cfg.Server.AllowedOrigins)

	detector := patterns.NewDetector(logger, cfg.Scheduler.PatternWindow)

	notifiers := []alerts.Notifier{alerts.LogNotifier{Logger: logger}, alerts.HubNotifier{Hub: events}}
	if cfg.Alerts.WebhookURL != "" {
		notifiers = append(notifiers, alerts.WebhookNotifier{
			URL:    cfg.Alerts.WebhookURL,
			Client: &http.Client{Timeout: cfg.Alerts.Timeout},
		})
	}
	alertDispatcher := alerts.NewDispatcher(logger, cfg.Alerts.Timeout, notifiers...)
	alertDispatcher.OnFailure(metrics.IncAlertFailure)

	sched := scheduler.New(logger, scheduler.Deps{
		Sources:  reg,
		Store:    st,
		Prober:   dispatcher,
		Detector: detector,
		Alerts:   alertDispatcher,
	}, scheduler.Options{
		MinSleep:       cfg.Scheduler.MinSleep,
		MaxSleep:       cfg.Scheduler.MaxSleep,
		ErrorCooldown:  cfg.Scheduler.ErrorCooldown,
		StopTimeout:    cfg.Scheduler.StopTimeout,
		MaxConcurrency: cfg.Scheduler.MaxConcurrency,
	})
	sched.AddObserver(publishCommit(events))
	reg.SetChangeHook(func() {
		sched.Wake()
		events.Publish(hub.Event{Type: hub.EventSourceChanged, At: time.Now().UTC()})
	})

	return &app{
		logger:    logger,
		store:     st,
		registry:  reg,
		sqlProber: sqlProber,
		hub:       events,
		alerts:    alertDispatcher,
		scheduler: sched,
	}, nil
}

// publishCommit streams persisted results, and any snapshot committed with them, to
// websocket subscribers.
func publishCommit(events *hub.Hub) scheduler.Observer {
	return func(commit models.Commit) {
		events.Publish(hub.Event{
			Type:     hub.EventProbeResult,
			SourceID: commit.Source.ID,
			Payload:  commit.Result,
			At:       commit.Result.Timestamp,
		})
		if commit.Pattern != nil {
			events.Publish(hub.Event{
				Type:     hub.EventPatternDetected,
				SourceID: commit.Pattern.SourceID,
				Payload:  *commit.Pattern,
				At:       commit.Pattern.Timestamp,
			})
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting mirador-sentinel",
		slog.String("http", cfg.Server.HTTPAddress),
		slog.String("grpc", cfg.Server.GRPCAddress),
		slog.String("store", cfg.Store.Driver),
	)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if serveOnce {
		_, err := a.scheduler.Tick(ctx)
		return err
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go a.hub.Run(hubCtx)

	retention, err := maintenance.NewRetention(logger, a.store, cfg.Store.PruneSchedule, cfg.Store.Retention)
	if err != nil {
		return fmt.Errorf("retention job: %w", err)
	}
	retention.Start()
	defer retention.Stop()

	statusCache := cache.NewMemoryProvider()
	defer statusCache.Close()

	handler := api.NewHandler(logger, a.scheduler, a.registry, a.store, statusCache, a.hub, api.HandlerOptions{
		StatusTTL:       cfg.Cache.StatusTTL,
		TriggerCooldown: cfg.Scheduler.MinSleep,
	})
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddress,
		Handler:           handler.Router(cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer, err := api.NewServer(cfg.Server.GRPCAddress, cfg.Server.GracefulTimeout, api.NewStatusService(logger, a.scheduler))
	if err != nil {
		return fmt.Errorf("create gRPC server: %w", err)
	}
	a.scheduler.AddObserver(grpcServer.ObserveCommit)

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		logger.Info("http server listening", slog.String("address", cfg.Server.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", slog.Any("error", err))
			stop()
		}
	}()

	go func() {
		if serveErr := grpcServer.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	// Probes run on their own context so a signal lets the current tick finish.
	if err := a.scheduler.Start(context.Background()); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()

	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler stop", slog.Any("error", err))
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}
	grpcServer.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	logger.Info("mirador-sentinel stopped")
	return nil
}
