package store

import (
	"context"
	"log/slog"
	"time"
)

// OutboxSendFunc performs the actual redelivery of one outbox message.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

// Defaults for the OutboxSender.
const (
	DefaultOutboxPollInterval = 5 * time.Second
	DefaultOutboxMaxAttempts  = 5
)

// OutboxSender periodically claims due outbox messages and attempts to redeliver them.
type OutboxSender struct {
	repo           OutboxRepo
	sendFunc       OutboxSendFunc
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
	maxAttempts    int
	baseBackoff    time.Duration
}

// NewOutboxSender creates a new OutboxSender. Non-positive values fall back to defaults.
func NewOutboxSender(repo OutboxRepo, sendFunc OutboxSendFunc, pollInterval time.Duration, maxAttempts int) *OutboxSender {
	if pollInterval <= 0 {
		pollInterval = DefaultOutboxPollInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultOutboxMaxAttempts
	}
	return &OutboxSender{
		repo:           repo,
		sendFunc:       sendFunc,
		pollInterval:   pollInterval,
		staleThreshold: 5 * time.Minute,
		claimLimit:     10,
		maxAttempts:    maxAttempts,
		baseBackoff:    10 * time.Second,
	}
}

// RecoverStaleMessages requeues messages stuck in sending state. Call once at startup.
func (s *OutboxSender) RecoverStaleMessages() error {
	n, err := s.repo.RequeueStaleSendingMessages(time.Now().Add(-s.staleThreshold))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("OutboxSender.RecoverStaleMessages: requeued stale messages", "count", n)
	}
	return nil
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (s *OutboxSender) Run(ctx context.Context) error {
	slog.Info("OutboxSender.Run: starting outbox sender", "pollInterval", s.pollInterval, "maxAttempts", s.maxAttempts)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("OutboxSender.Run: stopping")
			return nil
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll runs a single claim-and-send pass.
func (s *OutboxSender) Poll(ctx context.Context) {
	now := time.Now()
	msgs, err := s.repo.ClaimDueOutboxMessages(now, s.claimLimit)
	if err != nil {
		slog.Error("OutboxSender.Poll: claim failed", "error", err)
		return
	}

	for _, msg := range msgs {
		slog.Debug("OutboxSender.Poll: sending message", "id", msg.ID, "senderID", msg.SenderID, "kind", msg.Kind, "attempts", msg.Attempts)
		err := s.sendFunc(ctx, msg)
		if err == nil {
			if err := s.repo.MarkOutboxMessageSent(msg.ID); err != nil {
				slog.Error("OutboxSender.Poll: mark sent error", "id", msg.ID, "error", err)
			}
			slog.Info("OutboxSender.Poll: message redelivered", "id", msg.ID, "senderID", msg.SenderID)
			continue
		}

		if msg.Attempts+1 >= s.maxAttempts {
			slog.Error("OutboxSender.Poll: giving up on message", "id", msg.ID, "senderID", msg.SenderID, "attempts", msg.Attempts+1, "error", err)
			if err := s.repo.AbandonOutboxMessage(msg.ID, err.Error()); err != nil {
				slog.Error("OutboxSender.Poll: abandon message error", "id", msg.ID, "error", err)
			}
			continue
		}

		// Exponential backoff: 10s, 20s, 40s, ...
		backoff := s.baseBackoff * time.Duration(1<<msg.Attempts)
		slog.Warn("OutboxSender.Poll: send failed, will retry", "id", msg.ID, "retryIn", backoff, "error", err)
		if err := s.repo.FailOutboxMessage(msg.ID, err.Error(), now.Add(backoff)); err != nil {
			slog.Error("OutboxSender.Poll: fail message error", "id", msg.ID, "error", err)
		}
	}
}
