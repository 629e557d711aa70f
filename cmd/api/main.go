package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"vidqueue/internal/adapter/repo"
	"vidqueue/internal/cooldown"
	"vidqueue/internal/http/handlers"
	httpapi "vidqueue/internal/http/httpapi"
	"vidqueue/internal/infra"
	"vidqueue/internal/ledger"
	"vidqueue/internal/notify"
	"vidqueue/internal/providers/video"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig(os.Getenv("VIDQUEUE_CONFIG"))
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg, "api")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	runner := infra.NewSQLRunner(dbpool, logger)
	users := repo.NewUserRepository(runner)

	app := &handlers.App{
		Jobs:     repo.NewJobRepository(runner, repo.WithLogger(&logger)),
		Users:    users,
		Catalog:  video.DefaultCatalog(),
		Cooldown: cooldown.New(users, cooldown.WithLogger(&logger)),
		Ledger:   ledger.NewPG(runner),
		Texts:    notify.NewTexts(cfg.NotifyLocale),
		Logger:   &logger,
		Source:   cfg.DispatchSource,
	}
	if !cfg.HasR2() {
		// The worker mirrors videos into STORAGE_PATH; this process serves them.
		app.StaticDir = cfg.StoragePath
	}

	router := httpapi.NewRouter(app, logger, cfg.RateLimitPerMin)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on %s", server.Addr())
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
