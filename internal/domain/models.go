package domain

import (
	"fmt"
	"strings"
	"time"
)

// SessionStatus is the lifecycle state of a quiz session.
type SessionStatus string

const (
	// StatusPending means the session exists but the first question has not been dispatched.
	StatusPending SessionStatus = "pending"
	// StatusActive means the session is running question rounds.
	StatusActive SessionStatus = "active"
	// StatusStopping means the session was asked to stop (or hit a fatal delivery error)
	// and will be finalized on the next worker pass.
	StatusStopping SessionStatus = "stopping"
)

// SessionKey identifies one running competition: a bot scope plus a chat-bound
// (or inline) quiz identifier. Neither part may contain ':' — the pair is embedded
// in store keys.
type SessionKey struct {
	BotID  string
	ChatID string
}

func (k SessionKey) String() string {
	return k.BotID + ":" + k.ChatID
}

// Validate rejects keys that cannot be round-tripped through the store key scheme.
func (k SessionKey) Validate() error {
	if k.BotID == "" || k.ChatID == "" {
		return ErrBadSessionKey
	}
	if strings.ContainsRune(k.BotID, ':') || strings.ContainsRune(k.ChatID, ':') {
		return fmt.Errorf("%w: %q", ErrBadSessionKey, k.String())
	}
	return nil
}

// MessageTarget is an opaque reference sufficient to edit or resend the quiz message.
// Either ChatID+MessageID or InlineMessageID is set.
type MessageTarget struct {
	ChatID          string
	MessageID       int64
	InlineMessageID string
}

// QuizSession is the mutable per-competition record shared between the API tier
// and the worker.
type QuizSession struct {
	Status              SessionStatus
	QuestionIDs         []int64 // fixed at creation
	CurrentIndex        int     // -1 before the first question
	TimePerQuestion     time.Duration
	CreatorID           int64
	MaxParticipants     int
	ParticipantCount    int
	BasePoints          float64
	SpeedBonus          float64
	EliminateAfterWrong int // 0 disables elimination
	RevealAnswerOnWrong bool
	QuestionSourceRef   string
	ResultsSinkRef      string
	BotToken            string
	Target              MessageTarget
	RoundResultsShownAt *time.Time
	LastDisplayAt       *time.Time
	CreatedAt           time.Time
}

// QuestionTimer bounds the currently active round. Absence of a timer for an
// active session means the next round should start immediately.
type QuestionTimer struct {
	QuestionID int64
	StartedAt  time.Time
	EndsAt     time.Time
}

// Expired reports whether the round has lapsed at the given instant.
func (t QuestionTimer) Expired(now time.Time) bool {
	return !now.Before(t.EndsAt)
}

// AnswerDetail records one participant's answer to one question.
type AnswerDetail struct {
	Correct   bool    `json:"correct"`
	Score     float64 `json:"score"`
	TimeTaken float64 `json:"time_taken"` // seconds from round start
}

// ParticipantRecord accumulates a participant's results across rounds.
type ParticipantRecord struct {
	UserID     int64
	Username   string
	Score      float64
	Correct    int
	Wrong      int
	Eliminated bool
	Answers    map[int64]AnswerDetail
}

// Question is one entry from the question bank: a prompt with four options,
// exactly one of which is correct.
type Question struct {
	ID           int64
	Prompt       string
	Options      [4]string
	CorrectIndex int
	Category     string
}

// AnswerOutcome is returned to the caller of Submit.
type AnswerOutcome struct {
	Correct       bool
	Score         float64
	TotalScore    float64
	Eliminated    bool
	CorrectAnswer string // empty unless revealed
}

// CompetitionStatus is the point-in-time view served by the status endpoint.
type CompetitionStatus struct {
	Status            SessionStatus `json:"status"`
	CurrentQuestionID int64         `json:"currentQuestionId,omitempty"`
	CurrentIndex      int           `json:"currentIndex"`
	TotalQuestions    int           `json:"totalQuestions"`
	Participants      int           `json:"participants"`
	TimeRemaining     int           `json:"timeRemaining"` // seconds
}

// ScoreboardEntry is one row of an in-progress or final leaderboard.
type ScoreboardEntry struct {
	UserID     int64   `json:"userId"`
	Username   string  `json:"username"`
	Score      float64 `json:"score"`
	Correct    int     `json:"correct"`
	Wrong      int     `json:"wrong"`
	Eliminated bool    `json:"eliminated"`
}

// QuizHistory is the durable summary row written at finalization.
type QuizHistory struct {
	Identifier     string
	TotalQuestions int
	WinnerID       *int64
	WinnerScore    *float64
	ChatID         string
}

// UserStatsDelta is one per-quiz aggregate upsert against a user's lifetime stats.
type UserStatsDelta struct {
	UserID   int64
	Username string
	Points   float64
	Correct  int
	Wrong    int
}

// ParticipantResult captures one participant's full outcome for a finished quiz.
type ParticipantResult struct {
	UserID  int64
	Score   float64
	Answers map[int64]AnswerDetail
}

// LeaderboardRow is a durable-stats leaderboard entry (global or per chat).
type LeaderboardRow struct {
	UserID   int64   `json:"userId"`
	Username string  `json:"username"`
	Points   float64 `json:"points"`
}

// InlineButton is one button of an inline keyboard attached to a quiz message.
type InlineButton struct {
	Text string
	Data string
}

// OutboundMessage is a message to send or edit through the delivery client.
type OutboundMessage struct {
	Target   MessageTarget
	Text     string
	Keyboard [][]InlineButton
}
