package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/sandeepkv93/identity-linking-service/internal/apperror"
	"github.com/sandeepkv93/identity-linking-service/internal/domain"
	"github.com/sandeepkv93/identity-linking-service/internal/observability"
	"github.com/sandeepkv93/identity-linking-service/internal/repository"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultDeletionGracePeriod = 15 * 24 * time.Hour
	sweepBatchSize             = 100
	avatarCleanupConcurrency   = 4
)

type SweepResult struct {
	Deleted        int
	DeletedUserIDs []uint
	// Skipped is set when another process held the sweep lock.
	Skipped       bool
	AvatarErrors  int
	AvatarObjects int
	Duration      time.Duration
}

type DeletionService struct {
	store    repository.Store
	notifier AccountNotifier
	avatars  AvatarStorage
	lock     SweepLock
	grace    time.Duration
	batch    int
	logger   *slog.Logger
	now      func() time.Time
	sf       singleflight.Group
}

// NewDeletionService wires the scheduler. lock may be nil, in which case only
// in-process sweeps are deduplicated.
func NewDeletionService(store repository.Store, notifier AccountNotifier, avatars AvatarStorage, lock SweepLock, grace time.Duration, logger *slog.Logger) *DeletionService {
	if grace <= 0 {
		grace = DefaultDeletionGracePeriod
	}
	if logger == nil {
		logger = slog.Default()
	}
	if avatars == nil {
		avatars = NoopAvatarStorage{}
	}
	return &DeletionService{
		store:    store,
		notifier: notifier,
		avatars:  avatars,
		lock:     lock,
		grace:    grace,
		batch:    sweepBatchSize,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *DeletionService) GracePeriod() time.Duration { return s.grace }

// daysUntil is the whole days left before at, rounded up and never negative.
func daysUntil(at, now time.Time) int {
	d := at.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours() / 24))
}

// Schedule marks the user for deletion after the grace period and revokes
// every session the user holds.
func (s *DeletionService) Schedule(ctx context.Context, userID uint) (time.Time, error) {
	at := s.now().Add(s.grace)
	var (
		notification DeletionNotification
		revoked      int64
	)
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		u, err := tx.Users().FindByIDForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if err := tx.Users().SetDeletionScheduledAt(ctx, u.ID, &at); err != nil {
			return err
		}
		revoked, err = tx.Sessions().RevokeByUserID(ctx, u.ID)
		if err != nil {
			return fmt.Errorf("revoke sessions: %w", err)
		}
		notification = DeletionNotification{UserID: u.ID, Username: u.Username, ScheduledFor: at}
		for _, e := range u.Emails {
			notification.Emails = append(notification.Emails, e.Email)
		}
		return nil
	})
	if err != nil {
		observability.RecordDeletionEvent(ctx, "schedule", "error")
		if errors.Is(err, repository.ErrNotFound) {
			return time.Time{}, apperror.NotFound("user not found")
		}
		return time.Time{}, err
	}
	observability.RecordDeletionEvent(ctx, "schedule", "success")
	observability.RecordSessionRevokedCount(ctx, "schedule_deletion", revoked)
	if s.notifier != nil {
		if err := s.notifier.DeletionScheduled(ctx, notification); err != nil {
			s.logger.WarnContext(ctx, "deletion notification failed", "user_id", userID, "error", err)
		}
	}
	return at, nil
}

// Cancelled records that a confirmed sign-in lifted a pending deletion.
func (s *DeletionService) Cancelled(ctx context.Context, userID uint) {
	observability.RecordDeletionEvent(ctx, "cancel", "success")
	if s.notifier != nil {
		if err := s.notifier.DeletionCancelled(ctx, userID); err != nil {
			s.logger.WarnContext(ctx, "deletion cancel notification failed", "user_id", userID, "error", err)
		}
	}
}

func deletionDue(u *domain.User, now, lastLoginCutoff time.Time) bool {
	if u.DeletionScheduledAt == nil || u.DeletionScheduledAt.After(now) {
		return false
	}
	return u.LastLoginAt == nil || !u.LastLoginAt.After(lastLoginCutoff)
}

// Sweep hard-deletes every user whose scheduled deletion is due. Concurrent
// calls in one process share a single run.
func (s *DeletionService) Sweep(ctx context.Context) (SweepResult, error) {
	v, err, _ := s.sf.Do("deletion-sweep", func() (any, error) {
		return s.sweep(ctx)
	})
	res, _ := v.(SweepResult)
	return res, err
}

func (s *DeletionService) sweep(ctx context.Context) (res SweepResult, err error) {
	ctx, span := observability.StartSpan(ctx, "deletion.sweep",
		attribute.String("deletion.grace_period", s.grace.String()))
	defer func() {
		span.SetAttributes(
			attribute.Int("deletion.deleted", res.Deleted),
			attribute.Bool("deletion.skipped", res.Skipped),
		)
		observability.EndSpan(span, err)
	}()
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		outcome := "success"
		switch {
		case err != nil:
			outcome = "error"
		case res.Skipped:
			outcome = "skipped"
		}
		observability.RecordDeletionSweep(ctx, outcome, res.Deleted, res.Duration)
	}()

	if s.lock != nil {
		release, ok, lockErr := s.lock.Acquire(ctx)
		if lockErr != nil {
			return res, lockErr
		}
		if !ok {
			s.logger.InfoContext(ctx, "deletion sweep skipped, lock held elsewhere")
			res.Skipped = true
			return res, nil
		}
		defer func() {
			if relErr := release(context.WithoutCancel(ctx)); relErr != nil {
				s.logger.WarnContext(ctx, "deletion sweep lock release failed", "error", relErr)
			}
		}()
	}

	now := s.now()
	cutoff := now.Add(-s.grace)
	// Pages advance by id so candidates rescued by a concurrent sign-in are
	// never listed twice and never end the sweep early.
	var lastSeenID uint
	for {
		candidates, listErr := s.store.Users().ListDeletionCandidates(ctx, now, cutoff, lastSeenID, s.batch)
		if listErr != nil {
			return res, fmt.Errorf("list deletion candidates: %w", listErr)
		}
		for _, c := range candidates {
			lastSeenID = c.ID
			deleted, delErr := s.deleteIfDue(ctx, c.ID, now, cutoff)
			if delErr != nil {
				return res, fmt.Errorf("delete user %d: %w", c.ID, delErr)
			}
			if deleted {
				res.Deleted++
				res.DeletedUserIDs = append(res.DeletedUserIDs, c.ID)
			}
		}
		if len(candidates) < s.batch {
			break
		}
	}

	res.AvatarObjects, res.AvatarErrors = s.cleanupAvatars(ctx, res.DeletedUserIDs)
	s.logger.InfoContext(ctx, "deletion sweep finished",
		"deleted", res.Deleted,
		"avatar_objects", res.AvatarObjects,
		"avatar_errors", res.AvatarErrors,
	)
	return res, nil
}

// deleteIfDue re-checks the user under its row lock so a sign-in racing the
// sweep wins.
func (s *DeletionService) deleteIfDue(ctx context.Context, userID uint, now, cutoff time.Time) (bool, error) {
	deleted := false
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		u, err := tx.Users().FindByIDForUpdate(ctx, userID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !deletionDue(u, now, cutoff) {
			return nil
		}
		if err := tx.Users().DeleteCascade(ctx, userID); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// cleanupAvatars removes stored avatars of deleted users. Failures are logged
// and counted; the rows are already gone.
func (s *DeletionService) cleanupAvatars(ctx context.Context, userIDs []uint) (int, int) {
	if len(userIDs) == 0 {
		return 0, 0
	}
	var objects, failures atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(avatarCleanupConcurrency)
	for _, id := range userIDs {
		g.Go(func() error {
			n, err := s.avatars.DeleteUserAvatars(gctx, id)
			objects.Add(int64(n))
			if err != nil {
				failures.Add(1)
				s.logger.WarnContext(gctx, "avatar cleanup failed", "user_id", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(objects.Load()), int(failures.Load())
}
