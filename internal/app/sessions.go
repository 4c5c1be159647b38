package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"quiz-competition-service/internal/domain"
)

// answeredMarkerGrace keeps answered markers alive slightly past the round end
// so a submission racing the round transition still hits the duplicate check.
const answeredMarkerGrace = 5 * time.Second

// SessionManager owns session lifecycle operations: creation, activation,
// status reads, stop requests and teardown.
type SessionManager struct {
	store     Store
	questions QuestionSource
	bots      Messenger
	logger    *zap.Logger
	now       func() time.Time
}

func NewSessionManager(store Store, questions QuestionSource, bots Messenger, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{
		store:     store,
		questions: questions,
		bots:      bots,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the time source for deterministic tests.
func (m *SessionManager) WithClock(now func() time.Time) *SessionManager {
	m.now = now
	return m
}

// CreateParams carries the full configuration of a new session.
type CreateParams struct {
	Key                 domain.SessionKey
	BotToken            string
	CreatorID           int64
	QuestionIDs         []int64
	TimePerQuestion     time.Duration
	MaxParticipants     int
	BasePoints          float64
	SpeedBonus          float64
	EliminateAfterWrong int
	RevealAnswerOnWrong bool
	QuestionSourceRef   string
	ResultsSinkRef      string
	Target              domain.MessageTarget
}

// Create writes a new pending session. It fails with domain.ErrNoQuestions when
// the question list is empty and domain.ErrBadSessionKey for unstorable keys.
func (m *SessionManager) Create(ctx context.Context, p CreateParams) error {
	if err := p.Key.Validate(); err != nil {
		return err
	}
	if len(p.QuestionIDs) == 0 {
		return domain.ErrNoQuestions
	}
	if p.TimePerQuestion <= 0 {
		p.TimePerQuestion = 30 * time.Second
	}
	sess := &domain.QuizSession{
		Status:              domain.StatusPending,
		QuestionIDs:         p.QuestionIDs,
		CurrentIndex:        -1,
		TimePerQuestion:     p.TimePerQuestion,
		CreatorID:           p.CreatorID,
		MaxParticipants:     p.MaxParticipants,
		BasePoints:          p.BasePoints,
		SpeedBonus:          p.SpeedBonus,
		EliminateAfterWrong: p.EliminateAfterWrong,
		RevealAnswerOnWrong: p.RevealAnswerOnWrong,
		QuestionSourceRef:   p.QuestionSourceRef,
		ResultsSinkRef:      p.ResultsSinkRef,
		BotToken:            p.BotToken,
		Target:              p.Target,
		CreatedAt:           m.now(),
	}
	return m.store.CreateSession(ctx, p.Key, sess)
}

// Activate marks the session active with the initial round timer. The caller
// must have delivered the first question already; this method does not retry
// message delivery.
func (m *SessionManager) Activate(ctx context.Context, key domain.SessionKey, firstQuestionID int64, endsAt time.Time) error {
	if _, err := m.store.GetSession(ctx, key); err != nil {
		return err
	}
	if err := m.store.SetStatus(ctx, key, domain.StatusActive); err != nil {
		return err
	}
	return m.store.AdvanceRound(ctx, key, 0, domain.QuestionTimer{
		QuestionID: firstQuestionID,
		StartedAt:  m.now(),
		EndsAt:     endsAt,
	})
}

// Get returns a point-in-time read of the session.
func (m *SessionManager) Get(ctx context.Context, key domain.SessionKey) (*domain.QuizSession, error) {
	return m.store.GetSession(ctx, key)
}

// Status merges the session record and round timer into the status view.
func (m *SessionManager) Status(ctx context.Context, key domain.SessionKey) (*domain.CompetitionStatus, error) {
	sess, err := m.store.GetSession(ctx, key)
	if err != nil {
		return nil, err
	}
	status := &domain.CompetitionStatus{
		Status:         sess.Status,
		CurrentIndex:   sess.CurrentIndex,
		TotalQuestions: len(sess.QuestionIDs),
		Participants:   sess.ParticipantCount,
	}
	timer, err := m.store.GetTimer(ctx, key)
	if err != nil {
		return nil, err
	}
	if timer != nil {
		status.CurrentQuestionID = timer.QuestionID
		if remaining := timer.EndsAt.Sub(m.now()); remaining > 0 {
			status.TimeRemaining = int(remaining.Seconds())
		}
	}
	return status, nil
}

// Scoreboard returns the session's participants ordered by score descending.
func (m *SessionManager) Scoreboard(ctx context.Context, key domain.SessionKey) ([]domain.ScoreboardEntry, error) {
	participants, err := m.store.Participants(ctx, key)
	if err != nil {
		return nil, err
	}
	return rankParticipants(participants), nil
}

// RequestStop cooperatively flips the session to stopping; the worker performs
// the actual teardown on its next pass. Idempotent.
func (m *SessionManager) RequestStop(ctx context.Context, key domain.SessionKey) error {
	sess, err := m.store.GetSession(ctx, key)
	if err != nil {
		return err
	}
	switch sess.Status {
	case domain.StatusStopping:
		return nil
	case domain.StatusActive, domain.StatusPending:
		return m.store.SetStatus(ctx, key, domain.StatusStopping)
	default:
		return domain.ErrNotActive
	}
}

// Delete tears down all store state for the session. No-op when already gone.
func (m *SessionManager) Delete(ctx context.Context, key domain.SessionKey) error {
	return m.store.DeleteSession(ctx, key)
}

// StartParams configures StartCompetition.
type StartParams struct {
	BotID               string
	BotToken            string
	ChatID              string // empty for an ephemeral inline session
	CreatorID           int64
	QuestionCount       int
	Category            string
	TimePerQuestion     time.Duration
	MaxParticipants     int
	BasePoints          float64
	SpeedBonus          float64
	EliminateAfterWrong int
	RevealAnswerOnWrong bool
}

// StartCompetition runs the whole activation sequence: draw questions, create
// the pending session, deliver the first question and activate. On a fatal
// delivery failure the half-created session is deleted again.
func (m *SessionManager) StartCompetition(ctx context.Context, p StartParams) (domain.SessionKey, error) {
	key := domain.SessionKey{BotID: p.BotID, ChatID: p.ChatID}
	if key.ChatID == "" {
		key.ChatID = "inline-" + uuid.NewString()
	}

	questions, err := m.questions.RandomQuestions(ctx, p.QuestionCount, p.Category)
	if err != nil {
		return key, fmt.Errorf("draw questions: %w", err)
	}
	if len(questions) == 0 {
		return key, domain.ErrNoQuestions
	}
	ids := make([]int64, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
	}

	err = m.Create(ctx, CreateParams{
		Key:                 key,
		BotToken:            p.BotToken,
		CreatorID:           p.CreatorID,
		QuestionIDs:         ids,
		TimePerQuestion:     p.TimePerQuestion,
		MaxParticipants:     p.MaxParticipants,
		BasePoints:          p.BasePoints,
		SpeedBonus:          p.SpeedBonus,
		EliminateAfterWrong: p.EliminateAfterWrong,
		RevealAnswerOnWrong: p.RevealAnswerOnWrong,
		QuestionSourceRef:   p.Category,
		Target:              domain.MessageTarget{ChatID: p.ChatID},
	})
	if err != nil {
		return key, err
	}

	first := questions[0]
	msg := domain.OutboundMessage{
		Target:   domain.MessageTarget{ChatID: p.ChatID},
		Text:     renderQuestion(1, len(ids), &first),
		Keyboard: answerKeyboard(&first),
	}
	messageID, err := m.bots.SendMessage(ctx, p.BotToken, msg)
	if err != nil {
		m.logger.Warn("first question delivery failed",
			zap.String("session", key.String()), zap.Error(err))
		if delErr := m.store.DeleteSession(ctx, key); delErr != nil {
			m.logger.Error("cleanup after failed start", zap.String("session", key.String()), zap.Error(delErr))
		}
		return key, err
	}
	if err := m.store.SetMessageTarget(ctx, key, domain.MessageTarget{ChatID: p.ChatID, MessageID: messageID}); err != nil {
		return key, err
	}

	tpq := p.TimePerQuestion
	if tpq <= 0 {
		tpq = 30 * time.Second
	}
	if err := m.Activate(ctx, key, first.ID, m.now().Add(tpq)); err != nil {
		return key, err
	}
	m.logger.Info("competition started",
		zap.String("session", key.String()),
		zap.Int("questions", len(ids)),
		zap.Duration("time_per_question", tpq))
	return key, nil
}

// IsClientRejection reports whether err is an expected answer-submission or
// lookup rejection rather than an operational failure.
func IsClientRejection(err error) bool {
	for _, target := range []error{
		domain.ErrQuizInactive, domain.ErrQuizStopping, domain.ErrStaleQuestion,
		domain.ErrAlreadyAnswered, domain.ErrQuizFull, domain.ErrEliminated,
		domain.ErrSessionNotFound, domain.ErrNotActive, domain.ErrNoQuestions,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
