package migrate

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/sandeepkv93/identity-linking-service/internal/config"
	"github.com/sandeepkv93/identity-linking-service/internal/database"
	"github.com/sandeepkv93/identity-linking-service/internal/tools/common"
	"github.com/sandeepkv93/identity-linking-service/internal/tools/ui"
)

type options struct {
	envFile string
	timeout time.Duration
	ci      bool
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tooling",
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "path to env file")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "operation timeout")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")

	cmd.AddCommand(
		newUpCommand(opts),
		newStatusCommand(opts),
		newPlanCommand(opts),
	)
	return cmd
}

func newUpCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "migrate up", func(ctx context.Context) ([]string, error) {
				return withDB(ctx, opts.envFile, func(ctx context.Context, db *gorm.DB) ([]string, error) {
					if err := database.Migrate(ctx, db); err != nil {
						return nil, err
					}
					details := []string{"schema migrations applied", "dialect: " + db.Dialector.Name()}
					if v, err := database.Version(ctx, db); err == nil {
						details = append(details, fmt.Sprintf("version: %d", v))
					}
					return details, nil
				})
			})
		},
	}
}

func newStatusCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "migrate status", func(ctx context.Context) ([]string, error) {
				return withDB(ctx, opts.envFile, func(ctx context.Context, db *gorm.DB) ([]string, error) {
					v, err := database.Version(ctx, db)
					if err != nil {
						return nil, fmt.Errorf("read schema version: %w", err)
					}
					files, err := database.PendingFiles()
					if err != nil {
						return nil, err
					}
					return []string{
						"database reachable",
						fmt.Sprintf("applied version: %d", v),
						fmt.Sprintf("embedded migrations: %d", len(files)),
					}, nil
				})
			})
		},
	}
}

func newPlanCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "List embedded migrations without applying them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(opts, "migrate plan", func(ctx context.Context) ([]string, error) {
				return planDetails()
			})
		},
	}
}

func planDetails() ([]string, error) {
	files, err := database.PendingFiles()
	if err != nil {
		return nil, err
	}
	details := make([]string, 0, len(files)+1)
	for _, f := range files {
		details = append(details, "would apply if pending: "+f)
	}
	return append(details, "no mutation executed in plan mode"), nil
}

// execute runs fn, prints the ci envelope when asked and exits 3 on failure.
func execute(opts *options, title string, fn ui.Action) error {
	details, err := run(opts, title, fn)
	if opts.ci {
		common.PrintCIResult(err == nil, title, details, err)
	}
	if err != nil {
		os.Exit(3)
	}
	return nil
}

func run(opts *options, title string, fn ui.Action) ([]string, error) {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(title, opts.timeout, fn)
}

func withDB(ctx context.Context, envFile string, fn func(context.Context, *gorm.DB) ([]string, error)) ([]string, error) {
	_, db, err := loadConfigDB(envFile)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	defer func() { _ = sqlDB.Close() }()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return fn(ctx, db)
}

func loadConfigDB(envFile string) (*config.Config, *gorm.DB, error) {
	if err := common.LoadEnvFile(envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}
