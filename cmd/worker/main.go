package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"vidqueue/internal/adapter/repo"
	"vidqueue/internal/admission"
	"vidqueue/internal/cooldown"
	"vidqueue/internal/dispatch"
	httpapi "vidqueue/internal/http/httpapi"
	"vidqueue/internal/infra"
	"vidqueue/internal/infra/credentials"
	"vidqueue/internal/ledger"
	"vidqueue/internal/metrics"
	"vidqueue/internal/notify"
	"vidqueue/internal/poller"
	"vidqueue/internal/providers/video"
	"vidqueue/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig(os.Getenv("VIDQUEUE_CONFIG"))
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg, "worker")
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	runner := infra.NewSQLRunner(pool, logger)
	jobs := repo.NewJobRepository(runner, repo.WithLogger(&logger))
	users := repo.NewUserRepository(runner)
	models := repo.NewModelRepository(runner)
	credits := ledger.NewPG(runner)
	m := metrics.New()

	artifacts, err := newArtifacts(cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: storage init failed")
	}

	texts := notify.NewTexts(cfg.NotifyLocale)
	notifier := newNotifier(cfg, texts, &logger)

	gateway := video.NewClient(video.Options{
		BaseURL:       cfg.ProviderBaseURL,
		Logger:        &logger,
		SubmitTimeout: cfg.ProviderSubmitTimeout,
		PollTimeout:   cfg.ProviderPollTimeout,
	})

	polls := poller.New(poller.Config{
		First:       cfg.PollFirst,
		Interval:    cfg.PollInterval,
		MaxDuration: cfg.PollMaxDuration,
	}, poller.Deps{
		Provider:  gateway,
		Jobs:      jobs,
		Users:     users,
		Ledger:    credits,
		Artifacts: artifacts,
		Notifier:  notifier,
		Texts:     texts,
		Metrics:   m,
		Logger:    &logger,
	})

	loop := dispatch.New(dispatch.Config{
		Source:    cfg.DispatchSource,
		LookAhead: cfg.DispatchLookAhead,
	}, dispatch.Deps{
		Jobs:   jobs,
		Users:  users,
		Models: models,
		Gate: admission.New(jobs, admission.Limits{
			Pacing:            cfg.GlobalPacing,
			GlobalConcurrency: cfg.GlobalConcurrency,
			GlobalWindow:      cfg.GlobalWindow,
			StaleAfter:        cfg.StaleAfter,
		}, admission.WithLogger(&logger), admission.WithMetrics(m)),
		Throttle:    cooldown.New(users, cooldown.WithLogger(&logger)),
		Ledger:      credits,
		Credentials: credentials.NewStore(runner, &logger),
		Gateway:     gateway,
		Poller:      polls,
		Notifier:    notifier,
		Texts:       texts,
		Metrics:     m,
		Logger:      &logger,
	})

	listener := infra.NewJobListener(cfg.DatabaseURL, infra.JobChannel, logger)
	leader := infra.NewLeader(pool, cfg.LeaderLockKey, logger)
	ops := infra.NewMetricsServer(cfg, httpapi.NewOpsRouter(m.Handler()))

	beat, err := startHeartbeat(ctx, jobs, cfg.DispatchSource, m, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: heartbeat schedule failed")
	}
	defer beat.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", ops.Addr()).Msg("worker: ops server listening")
		return ops.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return ops.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if err := listener.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			// Without notifications the loop still polls on its idle delay.
			logger.Error().Err(err).Msg("worker: job listener stopped")
		}
		return nil
	})
	g.Go(func() error {
		return polls.Run(gctx)
	})
	g.Go(func() error {
		if err := leader.Acquire(gctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		defer func() {
			if err := leader.Release(context.Background()); err != nil {
				logger.Error().Err(err).Msg("worker: leader release failed")
			}
		}()
		if err := rehydrate(gctx, jobs, polls, &logger); err != nil {
			logger.Error().Err(err).Msg("worker: rehydrate in-flight jobs failed")
		}
		return loop.Run(gctx, listener.Wake())
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func newArtifacts(cfg *infra.Config, logger *infra.Logger) (*storage.Mirror, error) {
	if cfg.HasR2() {
		r2, err := storage.NewR2Store(storage.R2Options{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			Bucket:          cfg.R2Bucket,
			PublicURL:       cfg.R2PublicURL,
		})
		if err != nil {
			return nil, err
		}
		logger.Info().Str("bucket", cfg.R2Bucket).Msg("worker: mirroring videos to r2")
		return storage.NewMirror(r2, nil, logger), nil
	}
	files, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("path", cfg.StoragePath).Msg("worker: mirroring videos to local disk")
	return storage.NewMirror(files, nil, logger), nil
}

func newNotifier(cfg *infra.Config, texts *notify.Texts, logger *infra.Logger) notify.Notifier {
	if cfg.TelegramBotToken == "" {
		logger.Warn().Msg("worker: TELEGRAM_BOT_TOKEN empty, notifications go to the log")
		return notify.NewLogNotifier(logger)
	}
	bot, err := notify.NewTelegram(cfg.TelegramBotToken, texts, logger)
	if err != nil {
		logger.Error().Err(err).Msg("worker: telegram unavailable, notifications go to the log")
		return notify.NewLogNotifier(logger)
	}
	return bot
}
