package service

import (
	"context"
	"log/slog"
	"time"
)

type DeletionNotification struct {
	UserID       uint
	Username     string
	Emails       []string
	ScheduledFor time.Time
}

// AccountNotifier tells the account owner about lifecycle changes.
type AccountNotifier interface {
	DeletionScheduled(ctx context.Context, notification DeletionNotification) error
	DeletionCancelled(ctx context.Context, userID uint) error
}

// DevAccountNotifier writes notifications to the log instead of sending mail.
type DevAccountNotifier struct {
	logger *slog.Logger
}

func NewDevAccountNotifier(logger *slog.Logger) *DevAccountNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &DevAccountNotifier{logger: logger}
}

func (n *DevAccountNotifier) DeletionScheduled(ctx context.Context, notification DeletionNotification) error {
	n.logger.InfoContext(ctx, "account deletion scheduled",
		"user_id", notification.UserID,
		"username", notification.Username,
		"emails", notification.Emails,
		"scheduled_for", notification.ScheduledFor.UTC().Format(time.RFC3339),
	)
	return nil
}

func (n *DevAccountNotifier) DeletionCancelled(ctx context.Context, userID uint) error {
	n.logger.InfoContext(ctx, "account deletion cancelled", "user_id", userID)
	return nil
}
