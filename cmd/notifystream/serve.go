package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/nao1215/notifystream/internal/dispatch"
	"github.com/nao1215/notifystream/internal/metrics"
	"github.com/nao1215/notifystream/internal/notification"
	"github.com/nao1215/notifystream/internal/retention"
	"github.com/nao1215/notifystream/internal/store"
	"github.com/nao1215/notifystream/internal/stream"
	"github.com/nao1215/notifystream/internal/subscription"
	"github.com/nao1215/notifystream/pkg/logger"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the notification server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), a)
		},
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on")
	cmd.Flags().String("dsn", "", "SQLite data source name")
	bindFlag(a.v, "server.port", cmd.Flags().Lookup("port"))
	bindFlag(a.v, "store.dsn", cmd.Flags().Lookup("dsn"))
	return cmd
}

// runServe は通知サーバーを起動し、SIGINTまたはSIGTERMでグレースフルシャットダウンする。
func runServe(parent context.Context, a *app) error {
	cfg, log, err := a.load()
	if err != nil {
		return err
	}
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.OpenSQLite(ctx, cfg.Store.DSN, logger.Component(log, "store"))
	if err != nil {
		return fmt.Errorf("通知ストアの初期化に失敗: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("通知ストアのクローズに失敗しました")
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.NewPrometheus(reg, "")
	if err != nil {
		return err
	}

	d := dispatch.New(subscription.NewRegistry(), dispatch.Options{
		Shards:    cfg.Dispatch.Shards,
		QueueSize: cfg.Dispatch.QueueSize,
		Metrics:   m,
		Logger:    logger.Component(log, "dispatch"),
	})
	defer d.Close()

	var jobs sync.WaitGroup
	if cfg.Retention.MaxAge > 0 {
		job, err := retention.New(st, cfg.Retention.MaxAge, cfg.Retention.Schedule, logger.Component(log, "retention"))
		if err != nil {
			return err
		}
		jobs.Add(1)
		go func() {
			defer jobs.Done()
			job.Run(ctx)
		}()
	}

	srv := notification.NewServer(st, d, notification.Options{
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		JWTSecret:       cfg.Auth.JWTSecret,
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		Stream: stream.Config{
			MailboxSize:       cfg.Stream.MailboxSize,
			WriteTimeout:      cfg.Stream.WriteTimeout,
			HeartbeatInterval: cfg.Stream.HeartbeatInterval,
			BackfillPageSize:  cfg.Stream.BackfillPageSize,
		},
		Gatherer: reg,
		Metrics:  m,
		Logger:   logger.Component(log, "http"),
	})
	if cfg.Auth.JWTSecret == "" {
		log.Warn().Msg("auth.jwt_secret が未設定のため、ストリームを認証なしで公開します")
	}

	runErr := srv.Run(ctx)

	// サーバーが異常終了した場合もジョブを止めてから戻る
	stop()
	jobs.Wait()
	return runErr
}
