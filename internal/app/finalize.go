package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"quiz-competition-service/internal/domain"
)

// Finalizer reduces a finished session's answer records into a ranked result
// set, persists it and tears the session down.
type Finalizer struct {
	store   Store
	sink    ResultSink
	bots    Messenger
	logger  *zap.Logger
	lockTTL time.Duration
}

func NewFinalizer(store Store, sink ResultSink, bots Messenger, lockTTL time.Duration, logger *zap.Logger) *Finalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	return &Finalizer{store: store, sink: sink, bots: bots, logger: logger, lockTTL: lockTTL}
}

// Finalize computes and persists results for the session, then deletes all of
// its store state. The finalize lock makes this at-most-once: a concurrent
// caller that loses the lock returns immediately. Persistence and delivery
// failures are logged but never block cleanup.
func (f *Finalizer) Finalize(ctx context.Context, key domain.SessionKey, sess *domain.QuizSession) error {
	acquired, err := f.store.AcquireFinalizeLock(ctx, key, f.lockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		return nil
	}

	defer func() {
		if err := f.store.DeleteSession(ctx, key); err != nil {
			f.logger.Error("session cleanup failed", zap.String("session", key.String()), zap.Error(err))
		}
	}()

	participants, err := f.store.Participants(ctx, key)
	if err != nil {
		f.logger.Error("collect participants", zap.String("session", key.String()), zap.Error(err))
		participants = nil
	}
	entries := rankParticipants(participants)

	answered := 0
	for _, p := range participants {
		if len(p.Answers) > 0 {
			answered++
		}
	}
	registered := sess.ParticipantCount
	if registered < len(participants) {
		registered = len(participants)
	}

	history := domain.QuizHistory{
		Identifier:     key.String(),
		TotalQuestions: len(sess.QuestionIDs),
		ChatID:         sess.Target.ChatID,
	}
	if len(entries) > 0 {
		winner := entries[0]
		history.WinnerID = &winner.UserID
		history.WinnerScore = &winner.Score
	}

	f.persist(ctx, key, history, participants)

	final := domain.OutboundMessage{
		Target: sess.Target,
		Text:   renderFinalResults(entries, registered, answered),
	}
	if err := f.bots.EditMessage(ctx, sess.BotToken, final); err != nil {
		f.logger.Warn("final results delivery failed", zap.String("session", key.String()), zap.Error(err))
	}

	f.logger.Info("session finalized",
		zap.String("session", key.String()),
		zap.Int("participants", len(participants)),
		zap.Int("answered", answered))
	return nil
}

func (f *Finalizer) persist(ctx context.Context, key domain.SessionKey, history domain.QuizHistory, participants []domain.ParticipantRecord) {
	historyID, err := f.sink.AppendHistory(ctx, history)
	if err != nil {
		f.logger.Error("persist quiz history", zap.String("session", key.String()), zap.Error(err))
		return
	}
	for _, p := range participants {
		if err := f.sink.UpsertUserStats(ctx, domain.UserStatsDelta{
			UserID:   p.UserID,
			Username: p.Username,
			Points:   p.Score,
			Correct:  p.Correct,
			Wrong:    p.Wrong,
		}); err != nil {
			f.logger.Error("persist user stats", zap.String("session", key.String()),
				zap.Int64("user", p.UserID), zap.Error(err))
		}
		if err := f.sink.AppendParticipant(ctx, historyID, domain.ParticipantResult{
			UserID:  p.UserID,
			Score:   p.Score,
			Answers: p.Answers,
		}); err != nil {
			f.logger.Error("persist participant detail", zap.String("session", key.String()),
				zap.Int64("user", p.UserID), zap.Error(err))
		}
	}
}
