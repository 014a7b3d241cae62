package sweep

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/identity-linking-service/internal/di"
	"github.com/sandeepkv93/identity-linking-service/internal/service"
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
	cmd := &cobra.Command{Use: "sweep", Short: "Account deletion sweep"}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "path to env file")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "operation timeout")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.AddCommand(newRunCommand(opts))
	return cmd
}

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Hard-delete accounts whose grace period has elapsed",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := run(opts, "sweep run", func(ctx context.Context) ([]string, error) {
				if err := common.LoadEnvFile(opts.envFile); err != nil {
					return nil, err
				}
				runner, err := di.InitializeSweepRunner()
				if err != nil {
					return nil, err
				}
				defer func() { _ = runner.Close() }()
				return sweepOnce(ctx, runner.Sweeper)
			})
			if opts.ci {
				common.PrintCIResult(err == nil, "sweep run", details, err)
			}
			if err != nil {
				os.Exit(3)
			}
			return nil
		},
	}
}

func sweepOnce(ctx context.Context, sweeper service.DeletionSweeper) ([]string, error) {
	res, err := sweeper.Sweep(ctx)
	if err != nil {
		return nil, err
	}
	if res.Skipped {
		return []string{"skipped: another process holds the sweep lock"}, nil
	}
	details := []string{
		fmt.Sprintf("deleted=%d", res.Deleted),
		fmt.Sprintf("avatar_objects=%d", res.AvatarObjects),
		fmt.Sprintf("avatar_errors=%d", res.AvatarErrors),
		fmt.Sprintf("duration=%s", res.Duration.Round(time.Millisecond)),
	}
	for _, id := range res.DeletedUserIDs {
		details = append(details, fmt.Sprintf("deleted user %d", id))
	}
	return details, nil
}

func run(opts *options, title string, fn ui.Action) ([]string, error) {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(title, opts.timeout, fn)
}
