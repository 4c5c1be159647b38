package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"quiz-competition-service/internal/domain"
)

// AnswerHandler validates and records answer submissions against the active
// question. It performs no message delivery and no internal retries: a
// submission is a single user-initiated action.
type AnswerHandler struct {
	store     Store
	questions QuestionSource
	logger    *zap.Logger
	now       func() time.Time
}

func NewAnswerHandler(store Store, questions QuestionSource, logger *zap.Logger) *AnswerHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnswerHandler{store: store, questions: questions, logger: logger, now: time.Now}
}

// WithClock overrides the time source for deterministic tests.
func (h *AnswerHandler) WithClock(now func() time.Time) *AnswerHandler {
	h.now = now
	return h
}

// Submit records one participant's answer to the active question.
//
// The answered marker is claimed with SETNX before any mutation, so two
// concurrent submissions for the same (participant, question) pair yield
// exactly one accepted answer. Scoring: 0 when wrong; when correct,
// base + bonus*(1 - timeTaken/timePerQuestion), with the bonus share clamped
// to [0, bonus] so a slow correct answer never drops below base points.
func (h *AnswerHandler) Submit(ctx context.Context, key domain.SessionKey, userID int64, username string, questionID int64, answerIndex int) (*domain.AnswerOutcome, error) {
	sess, err := h.store.GetSession(ctx, key)
	if err != nil {
		return nil, err
	}
	switch sess.Status {
	case domain.StatusActive, domain.StatusPending:
		// pending is allowed through; the timer check below still guards rounds.
	case domain.StatusStopping:
		return nil, domain.ErrQuizStopping
	default:
		return nil, domain.ErrQuizInactive
	}

	// Eliminated participants are out of play for the rest of the session.
	if eliminated, err := h.store.IsEliminated(ctx, key, userID); err != nil {
		return nil, err
	} else if eliminated {
		return nil, domain.ErrEliminated
	}

	// Late join: unknown participants register here, up to capacity.
	if err := h.store.JoinParticipant(ctx, key, userID, sess.MaxParticipants); err != nil {
		return nil, err
	}

	timer, err := h.store.GetTimer(ctx, key)
	if err != nil {
		return nil, err
	}
	if timer == nil || timer.QuestionID != questionID {
		return nil, domain.ErrStaleQuestion
	}

	claimed, err := h.store.ClaimAnswer(ctx, key, questionID, userID, sess.TimePerQuestion+answeredMarkerGrace)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, domain.ErrAlreadyAnswered
	}

	question, err := h.questions.QuestionByID(ctx, questionID)
	if err != nil {
		return nil, err
	}

	now := h.now()
	timeTaken := now.Sub(timer.StartedAt)
	if timeTaken < 0 {
		timeTaken = 0
	}
	correct := answerIndex == question.CorrectIndex
	score := 0.0
	if correct {
		speedShare := 1 - timeTaken.Seconds()/sess.TimePerQuestion.Seconds()
		if speedShare < 0 {
			speedShare = 0
		}
		score = sess.BasePoints + sess.SpeedBonus*speedShare
	}

	detail := domain.AnswerDetail{Correct: correct, Score: score, TimeTaken: timeTaken.Seconds()}
	total, wrong, err := h.store.RecordAnswer(ctx, key, userID, username, questionID, detail)
	if err != nil {
		return nil, err
	}

	outcome := &domain.AnswerOutcome{Correct: correct, Score: score, TotalScore: total}
	if !correct && sess.EliminateAfterWrong > 0 && wrong >= sess.EliminateAfterWrong {
		if err := h.store.SetEliminated(ctx, key, userID); err != nil {
			h.logger.Warn("mark eliminated", zap.String("session", key.String()),
				zap.Int64("user", userID), zap.Error(err))
		} else {
			outcome.Eliminated = true
		}
	}
	if correct || sess.RevealAnswerOnWrong {
		outcome.CorrectAnswer = question.Options[question.CorrectIndex]
	}
	return outcome, nil
}
