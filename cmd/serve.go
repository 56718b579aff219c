package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/org-enricher/internal/config"
	"github.com/sells-group/org-enricher/internal/dispatch"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate(config.ModeServe); err != nil {
			return err
		}

		if cfg.Mapping.ValidateOnStartup {
			table, err := loadTable()
			if err != nil {
				return err
			}
			if err := validateMapping(ctx, initPipedrive(), table); err != nil {
				return eris.Wrap(err, "serve: mapping does not match CRM fields")
			}
		}

		worker, closeWorker, err := initWorker(ctx)
		if err != nil {
			return err
		}
		defer closeWorker()

		locker, closeLocker, err := initLocker(ctx)
		if err != nil {
			return err
		}
		defer closeLocker()

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		gw := dispatch.NewGateway(worker, dispatch.Options{
			ArtifactDir:          cfg.Dispatch.ArtifactDir,
			WorkerTimeout:        cfg.Dispatch.WorkerTimeout(),
			MaxConcurrentWorkers: cfg.Dispatch.MaxConcurrentWorkers,
			Locker:               locker,
			Metrics:              dispatch.NewMetrics(reg),
			Logger:               logger,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", port),
			Handler: dispatch.NewRouter(gw, dispatch.RouterOptions{
				CORSOrigins:  cfg.Server.CORSOrigins,
				MaxBodyBytes: cfg.Server.MaxBodyBytes,
				Gatherer:     reg,
				Shutdown:     ctx,
				Logger:       logger,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("server shutdown", zap.Error(err))
			}
		}()

		logger.Info("starting server",
			zap.Int("port", port),
			zap.String("dispatch_mode", cfg.Dispatch.Mode),
			zap.String("lock_driver", cfg.Lock.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// initWorker builds the worker for dispatch.mode. The returned func releases
// whatever the worker holds.
func initWorker(ctx context.Context) (dispatch.Worker, func(), error) {
	switch cfg.Dispatch.Mode {
	case "inprocess":
		env, err := initPipeline(ctx, config.ModeServe)
		if err != nil {
			return nil, nil, err
		}
		return inProcessWorker(env.Pipeline), env.Close, nil
	default:
		command := cfg.Dispatch.WorkerCommand
		if len(command) == 0 {
			var err error
			if command, err = dispatch.DefaultWorkerCommand(); err != nil {
				return nil, nil, err
			}
		}
		return &dispatch.ProcessWorker{Command: command, Log: logger}, func() {}, nil
	}
}

// initLocker builds the per-organization lock for lock.driver.
func initLocker(ctx context.Context) (dispatch.Locker, func(), error) {
	switch cfg.Lock.Driver {
	case "none":
		return dispatch.NoopLocker{}, func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:        cfg.Lock.RedisAddr,
			Password:    cfg.Lock.RedisPassword,
			DB:          cfg.Lock.RedisDB,
			DialTimeout: 5 * time.Second,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, eris.Wrapf(err, "serve: connect redis %s", cfg.Lock.RedisAddr)
		}
		return dispatch.NewRedisLocker(client, cfg.Lock.TTL(), logger), func() { _ = client.Close() }, nil
	default:
		return dispatch.NewMemoryLocker(), func() {}, nil
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
