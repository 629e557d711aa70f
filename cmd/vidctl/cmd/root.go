package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"vidqueue/internal/adapter/repo"
	"vidqueue/internal/domain"
	"vidqueue/internal/infra"
	"vidqueue/internal/infra/credentials"
	"vidqueue/internal/ledger"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "vidctl",
	Short: "vidctl manages the video generation queue",
	Long: `vidctl is the operator tool for the video generation queue.

Common workflows:

  Replace a provider key pool:
    vidctl pool set default --key k1 --key k2

  Change an account class:
    vidctl user class <user-id> PRO

  Add credits:
    vidctl user topup <user-id> --extra 50

  Inspect a job:
    vidctl job show <job-id>

Configuration:
  DATABASE_URL    PostgreSQL connection string (or --database-url)`,
	SilenceUsage: true,
}

// Backend is the data access the commands need.
type Backend interface {
	SetPool(ctx context.Context, name string, keys []string) (int64, error)
	SetClass(ctx context.Context, userID string, class domain.AccountClass) (string, error)
	TopUp(ctx context.Context, userID string, monthly, extra int) (ledger.Balance, error)
	GetJob(ctx context.Context, id string) (*domain.Job, error)
}

// openBackend is replaced in tests.
var openBackend = connect

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintln(os.Stderr, "read config:", err)
		}
	}
	viper.AutomaticEnv()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml)")

	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string")
	_ = viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("database-url"))
}

type pgBackend struct {
	creds  *credentials.Store
	users  *repo.UserRepositoryPG
	ledger *ledger.PG
	jobs   *repo.JobRepositoryPG
}

func (b *pgBackend) SetPool(ctx context.Context, name string, keys []string) (int64, error) {
	return b.creds.SetPool(ctx, name, keys)
}

func (b *pgBackend) SetClass(ctx context.Context, userID string, class domain.AccountClass) (string, error) {
	return b.users.SetClass(ctx, userID, class)
}

func (b *pgBackend) TopUp(ctx context.Context, userID string, monthly, extra int) (ledger.Balance, error) {
	return b.ledger.TopUp(ctx, userID, monthly, extra)
}

func (b *pgBackend) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return b.jobs.GetByID(ctx, id)
}

func connect(ctx context.Context) (Backend, func(), error) {
	dsn := strings.TrimSpace(viper.GetString("database_url"))
	if dsn == "" {
		return nil, nil, errors.New("database url not set: use --database-url or DATABASE_URL")
	}
	pool, err := infra.NewDBPool(ctx, &infra.Config{DatabaseURL: dsn}, "vidctl")
	if err != nil {
		return nil, nil, err
	}
	logger := infra.NewLogger("production")
	runner := infra.NewSQLRunner(pool, logger)
	b := &pgBackend{
		creds:  credentials.NewStore(runner, &logger),
		users:  repo.NewUserRepository(runner),
		ledger: ledger.NewPG(runner),
		jobs:   repo.NewJobRepository(runner, repo.WithLogger(&logger)),
	}
	return b, pool.Close, nil
}
