package app

import (
	"context"
	"time"

	"quiz-competition-service/internal/domain"
)

// Store is the shared quiz state store consulted and mutated by both the API
// tier and the worker. Implementations must provide atomic batched writes for
// RecordAnswer, set-if-absent-with-expiry semantics for claims and locks, and
// typed enumeration of live sessions.
type Store interface {
	CreateSession(ctx context.Context, key domain.SessionKey, sess *domain.QuizSession) error
	// GetSession returns domain.ErrSessionNotFound when the session does not exist.
	GetSession(ctx context.Context, key domain.SessionKey) (*domain.QuizSession, error)
	SetStatus(ctx context.Context, key domain.SessionKey, status domain.SessionStatus) error
	SetMessageTarget(ctx context.Context, key domain.SessionKey, target domain.MessageTarget) error

	// AdvanceRound atomically bumps the current index, replaces the round timer
	// and clears the round-results marker.
	AdvanceRound(ctx context.Context, key domain.SessionKey, index int, timer domain.QuestionTimer) error
	// GetTimer returns (nil, nil) when no timer exists for the session.
	GetTimer(ctx context.Context, key domain.SessionKey) (*domain.QuestionTimer, error)
	SetRoundResultsShown(ctx context.Context, key domain.SessionKey, at time.Time) error
	SetLastDisplay(ctx context.Context, key domain.SessionKey, at time.Time) error

	// JoinParticipant registers the user unless already registered, returning
	// domain.ErrQuizFull when registration would exceed max.
	JoinParticipant(ctx context.Context, key domain.SessionKey, userID int64, max int) error
	// ClaimAnswer sets the one-shot answered marker for (question, participant).
	// It returns false when the marker already existed.
	ClaimAnswer(ctx context.Context, key domain.SessionKey, questionID, userID int64, ttl time.Duration) (bool, error)
	// RecordAnswer applies the score increment, counters, username refresh and
	// per-question detail in a single batch; it returns the participant's new
	// total score and wrong-answer count.
	RecordAnswer(ctx context.Context, key domain.SessionKey, userID int64, username string, questionID int64, detail domain.AnswerDetail) (total float64, wrong int, err error)
	SetEliminated(ctx context.Context, key domain.SessionKey, userID int64) error
	// IsEliminated reports the participant's eliminated flag; false for unknown users.
	IsEliminated(ctx context.Context, key domain.SessionKey, userID int64) (bool, error)
	Participants(ctx context.Context, key domain.SessionKey) ([]domain.ParticipantRecord, error)

	// AcquireProcessingLock and AcquireFinalizeLock are advisory set-if-absent
	// markers; neither is released early, both expire.
	AcquireProcessingLock(ctx context.Context, key domain.SessionKey, ttl time.Duration) (bool, error)
	AcquireFinalizeLock(ctx context.Context, key domain.SessionKey, ttl time.Duration) (bool, error)

	// LiveSessions enumerates the keys of every stored session.
	LiveSessions(ctx context.Context) ([]domain.SessionKey, error)
	// DeleteSession removes the session and all of its timers, answer records,
	// markers and locks. Safe to call repeatedly.
	DeleteSession(ctx context.Context, key domain.SessionKey) error
}

// QuestionSource is the question bank collaborator.
type QuestionSource interface {
	// RandomQuestions fetches up to count random questions, optionally filtered
	// by category ("" means any).
	RandomQuestions(ctx context.Context, count int, category string) ([]domain.Question, error)
	// QuestionByID returns domain.ErrQuestionNotFound when the id is unknown.
	QuestionByID(ctx context.Context, id int64) (*domain.Question, error)
}

// ResultSink persists final quiz results and per-user aggregate stats.
type ResultSink interface {
	AppendHistory(ctx context.Context, rec domain.QuizHistory) (int64, error)
	UpsertUserStats(ctx context.Context, delta domain.UserStatsDelta) error
	AppendParticipant(ctx context.Context, historyID int64, p domain.ParticipantResult) error
}

// Messenger delivers or edits outward chat messages. Errors wrap either
// domain.ErrDeliveryFailed (transient) or domain.ErrDeliveryFatal.
type Messenger interface {
	SendMessage(ctx context.Context, botToken string, msg domain.OutboundMessage) (messageID int64, err error)
	EditMessage(ctx context.Context, botToken string, msg domain.OutboundMessage) error
}
