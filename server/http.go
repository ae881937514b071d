package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"mytube-pipeline/config"
	"mytube-pipeline/constant"
	jobHandler "mytube-pipeline/handler"
	"mytube-pipeline/pkg/rabbitmq"
	"mytube-pipeline/repository"
	"mytube-pipeline/service"
	"mytube-pipeline/storage"
)

func RunHttp(cfg *config.Config) {
	ctx, cancel := signal.NotifyContext(setupLogger(cfg), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Send()
	if cfg.App.Environment == constant.EnvironmentProduction.String() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Every enqueue publishes through this connection, so a broker
	// that cannot be reached at startup is fatal.
	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	if err != nil {
		zerolog.Ctx(ctx).Fatal().Err(err).Msg("NewRabbitMQConn")
	}

	repo := repository.NewRepo(cfg.DB)
	blobs := storage.NewMinioStore(cfg.Storage, cfg.MinIOBucket)
	publisher := rabbitmq.NewPublisher(conn, cfg.Queue)

	statuses := service.NewStatusStore(repo)
	queue := service.NewJobQueue(repo, publisher, cfg.Pipeline.MaxAttempts)
	uploads := service.NewUploadService(repo, blobs, queue, statuses, cfg.Upload)
	gate := service.NewPublishGate(repo, service.NewAMQPSearchIndex(publisher))

	encoders := service.EncoderSet{
		constant.JobTypeTranscode: service.NewHLSEncoder(blobs),
		constant.JobTypeThumbnail: service.NewThumbnailEncoder(blobs),
		constant.JobTypeMetadata:  service.NewMetadataEncoder(blobs),
	}
	orchestrator := service.NewOrchestrator(repo, queue, statuses, encoders, service.NewAMQPCompletionNotifier(publisher), cfg.Pipeline, cfg.Server.Workers)

	go func() {
		if err := orchestrator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			zerolog.Ctx(ctx).Error().Err(err).Msg("orchestrator stopped")
		}
	}()

	// Wake idle workers on enqueue instead of waiting out the poll
	// interval.
	wakeups := rabbitmq.NewConsumer(conn, cfg.Queue, rabbitmq.Binding{
		Exchange:   rabbitmq.PipelineExchange,
		Queue:      rabbitmq.JobsQueue,
		RoutingKey: rabbitmq.JobAvailableKey,
		Durable:    true,
	}, cfg.Server.Workers, jobHandler.JobAvailableHandler)
	go func() {
		err := wakeups.Consume(ctx, jobHandler.ServiceDependencies{Orchestrator: orchestrator})
		if err != nil && !errors.Is(err, context.Canceled) {
			zerolog.Ctx(ctx).Error().Err(err).Msg("job wake-up consumer error")
		}
	}()

	go runSessionSweeper(ctx, uploads, cfg.Upload.SweepInterval)

	r := gin.Default()
	addRoutes(r, gatewayDeps{
		uploads:      uploads,
		statuses:     statuses,
		gate:         gate,
		orchestrator: orchestrator,
		videos:       repo,
	})

	handler := http.Server{
		Handler:           r,
		Addr:              fmt.Sprintf(":%s", cfg.Server.HttpPort),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("start http server")
		if err := handler.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
		}
	}()

	<-ctx.Done()
	zerolog.Ctx(ctx).Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := handler.Shutdown(shutdownCtx); err != nil {
		zerolog.Ctx(ctx).Error().Str("env", cfg.App.Environment).Msg(err.Error())
	}

	zerolog.Ctx(ctx).Info().Str("env", cfg.App.Environment).Msg("server shutdown")
}

func runSessionSweeper(ctx context.Context, uploads service.UploadService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := uploads.PurgeExpired(ctx); err != nil {
				zerolog.Ctx(ctx).Error().Err(err).Msg("upload session sweep failed")
			}
		}
	}
}

func setupLogger(cfg *config.Config) context.Context {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if cfg.App.Environment == constant.EnvironmentDevelop.String() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	ctx := logger.WithContext(context.Background())

	return ctx
}
