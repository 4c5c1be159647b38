package domain

import "errors"

// Configuration errors: fatal to session creation, never retried.
var (
	// ErrNoQuestions is returned when a session is created with an empty question list.
	ErrNoQuestions = errors.New("no questions supplied")
	// ErrBadSessionKey is returned for session keys that cannot be stored.
	ErrBadSessionKey = errors.New("invalid session key")
)

// Session management errors, surfaced to the API caller.
var (
	// ErrSessionNotFound means the session does not exist (never created or already cleaned up).
	ErrSessionNotFound = errors.New("quiz session not found")
	// ErrNotActive means the requested transition only applies to active sessions.
	ErrNotActive = errors.New("quiz session is not active")
)

// Answer submission rejections. Expected and frequent; callers translate them into
// user-facing replies and they are never logged as failures.
var (
	// ErrQuizInactive means the quiz is not accepting answers.
	ErrQuizInactive = errors.New("quiz is not running")
	// ErrQuizStopping means the quiz is shutting down and no longer accepting answers.
	ErrQuizStopping = errors.New("quiz is stopping")
	// ErrStaleQuestion means the answered question is not the active one.
	ErrStaleQuestion = errors.New("question is no longer active")
	// ErrAlreadyAnswered means this participant already answered the active question.
	ErrAlreadyAnswered = errors.New("already answered this question")
	// ErrQuizFull means the participant cap has been reached.
	ErrQuizFull = errors.New("quiz is full")
	// ErrEliminated means the participant has been eliminated and is out of play.
	ErrEliminated = errors.New("eliminated from this quiz")
)

// ErrQuestionNotFound indicates a question id missing from the question bank.
var ErrQuestionNotFound = errors.New("question not found")

// Delivery errors. The telegram client wraps every failure in exactly one of these
// so the engine can tell a retryable hiccup from a dead chat.
var (
	// ErrDeliveryFailed is a transient delivery failure (timeout, rate limit, 5xx).
	ErrDeliveryFailed = errors.New("message delivery failed")
	// ErrDeliveryFatal means the target is gone for good (message deleted, bot
	// blocked, chat not found); the session must stop.
	ErrDeliveryFatal = errors.New("message delivery permanently failed")
)
