package sweep

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/sandeepkv93/identity-linking-service/internal/service"
)

type sweeperFunc func(context.Context) (service.SweepResult, error)

func (f sweeperFunc) Sweep(ctx context.Context) (service.SweepResult, error) { return f(ctx) }

func TestNewRootCommandStructure(t *testing.T) {
	cmd := NewRootCommand()
	if cmd.Use != "sweep" {
		t.Fatalf("unexpected use: %s", cmd.Use)
	}
	if c, _, err := cmd.Find([]string{"run"}); err != nil || c == nil {
		t.Fatalf("expected run subcommand: err=%v", err)
	}
	if cmd.PersistentFlags().Lookup("ci") == nil {
		t.Fatal("expected --ci flag")
	}
}

func TestSweepOnceReportsDeletedUsers(t *testing.T) {
	details, err := sweepOnce(t.Context(), sweeperFunc(func(context.Context) (service.SweepResult, error) {
		return service.SweepResult{Deleted: 2, DeletedUserIDs: []uint{4, 9}, AvatarObjects: 1, Duration: time.Second}, nil
	}))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	for _, want := range []string{"deleted=2", "avatar_objects=1", "deleted user 4", "deleted user 9"} {
		if !slices.Contains(details, want) {
			t.Fatalf("expected %q in %v", want, details)
		}
	}
}

func TestSweepOnceSkippedAndError(t *testing.T) {
	details, err := sweepOnce(t.Context(), sweeperFunc(func(context.Context) (service.SweepResult, error) {
		return service.SweepResult{Skipped: true}, nil
	}))
	if err != nil || len(details) != 1 {
		t.Fatalf("expected a single skipped line, got %v err=%v", details, err)
	}

	_, err = sweepOnce(t.Context(), sweeperFunc(func(context.Context) (service.SweepResult, error) {
		return service.SweepResult{}, errors.New("db down")
	}))
	if err == nil {
		t.Fatal("expected sweep error")
	}
}

func TestRunCIPath(t *testing.T) {
	opts := &options{ci: true, timeout: time.Second}
	details, err := run(opts, "title", func(ctx context.Context) ([]string, error) {
		return []string{"done"}, nil
	})
	if err != nil || len(details) != 1 {
		t.Fatalf("expected success details, got details=%v err=%v", details, err)
	}
}
