// Package redis implements the shared quiz state store on Redis. It is the
// single source of truth mutated by both the API tier and the worker: session
// hashes, expiring round timers, per-participant answer hashes, one-shot
// answered markers and advisory SETNX locks.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-competition-service/internal/domain"
)

const (
	// timerGrace keeps the timer key readable slightly past the round end so
	// cleanup races stay bounded.
	timerGrace = 5 * time.Second
	// sessionTTL is a safety net: even a session the worker never finalizes
	// falls out of the store eventually.
	sessionTTL = 24 * time.Hour
)

// Store is the Redis implementation of app.Store.
type Store struct {
	client *redis.Client
}

func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

const (
	fieldStatus           = "status"
	fieldQuestionIDs      = "question_ids"
	fieldCurrentIndex     = "current_index"
	fieldTimePerQuestion  = "time_per_question"
	fieldCreatorID        = "creator_id"
	fieldMaxParticipants  = "max_participants"
	fieldParticipantCount = "participant_count"
	fieldBasePoints       = "base_points"
	fieldSpeedBonus       = "speed_bonus"
	fieldEliminateAfter   = "eliminate_after_wrong"
	fieldRevealAnswer     = "reveal_answer"
	fieldQuestionSource   = "question_source"
	fieldResultsSink      = "results_sink"
	fieldBotToken         = "bot_token"
	fieldChatID           = "chat_id"
	fieldMessageID        = "message_id"
	fieldInlineMessageID  = "inline_message_id"
	fieldRoundResultsAt   = "round_results_at"
	fieldLastDisplayAt    = "last_display_at"
	fieldCreatedAt        = "created_at"
)

func (s *Store) CreateSession(ctx context.Context, key domain.SessionKey, sess *domain.QuizSession) error {
	ids, err := json.Marshal(sess.QuestionIDs)
	if err != nil {
		return fmt.Errorf("marshal question ids: %w", err)
	}
	fields := map[string]interface{}{
		fieldStatus:           string(sess.Status),
		fieldQuestionIDs:      string(ids),
		fieldCurrentIndex:     sess.CurrentIndex,
		fieldTimePerQuestion:  int(sess.TimePerQuestion.Seconds()),
		fieldCreatorID:        sess.CreatorID,
		fieldMaxParticipants:  sess.MaxParticipants,
		fieldParticipantCount: sess.ParticipantCount,
		fieldBasePoints:       sess.BasePoints,
		fieldSpeedBonus:       sess.SpeedBonus,
		fieldEliminateAfter:   sess.EliminateAfterWrong,
		fieldRevealAnswer:     boolField(sess.RevealAnswerOnWrong),
		fieldQuestionSource:   sess.QuestionSourceRef,
		fieldResultsSink:      sess.ResultsSinkRef,
		fieldBotToken:         sess.BotToken,
		fieldChatID:           sess.Target.ChatID,
		fieldMessageID:        sess.Target.MessageID,
		fieldInlineMessageID:  sess.Target.InlineMessageID,
		fieldCreatedAt:        sess.CreatedAt.Format(time.RFC3339Nano),
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, stateKey(key), fields)
	pipe.Expire(ctx, stateKey(key), sessionTTL)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) GetSession(ctx context.Context, key domain.SessionKey) (*domain.QuizSession, error) {
	raw, err := s.client.HGetAll(ctx, stateKey(key)).Result()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, domain.ErrSessionNotFound
	}
	return parseSession(raw)
}

func (s *Store) SetStatus(ctx context.Context, key domain.SessionKey, status domain.SessionStatus) error {
	return s.hsetExisting(ctx, key, fieldStatus, string(status))
}

func (s *Store) SetMessageTarget(ctx context.Context, key domain.SessionKey, target domain.MessageTarget) error {
	exists, err := s.client.Exists(ctx, stateKey(key)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return domain.ErrSessionNotFound
	}
	return s.client.HSet(ctx, stateKey(key),
		fieldChatID, target.ChatID,
		fieldMessageID, target.MessageID,
		fieldInlineMessageID, target.InlineMessageID,
	).Err()
}

func (s *Store) AdvanceRound(ctx context.Context, key domain.SessionKey, index int, timer domain.QuestionTimer) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, stateKey(key), fieldCurrentIndex, index)
	pipe.HDel(ctx, stateKey(key), fieldRoundResultsAt)
	pipe.HSet(ctx, timerKey(key),
		"question_id", timer.QuestionID,
		"start", timer.StartedAt.Format(time.RFC3339Nano),
		"end", timer.EndsAt.Format(time.RFC3339Nano),
	)
	pipe.ExpireAt(ctx, timerKey(key), timer.EndsAt.Add(timerGrace))
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) GetTimer(ctx context.Context, key domain.SessionKey) (*domain.QuestionTimer, error) {
	raw, err := s.client.HGetAll(ctx, timerKey(key)).Result()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	questionID, err := strconv.ParseInt(raw["question_id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("timer question id: %w", err)
	}
	start, err := time.Parse(time.RFC3339Nano, raw["start"])
	if err != nil {
		return nil, fmt.Errorf("timer start: %w", err)
	}
	end, err := time.Parse(time.RFC3339Nano, raw["end"])
	if err != nil {
		return nil, fmt.Errorf("timer end: %w", err)
	}
	return &domain.QuestionTimer{QuestionID: questionID, StartedAt: start, EndsAt: end}, nil
}

func (s *Store) SetRoundResultsShown(ctx context.Context, key domain.SessionKey, at time.Time) error {
	return s.hsetExisting(ctx, key, fieldRoundResultsAt, at.Format(time.RFC3339Nano))
}

func (s *Store) SetLastDisplay(ctx context.Context, key domain.SessionKey, at time.Time) error {
	return s.hsetExisting(ctx, key, fieldLastDisplayAt, at.Format(time.RFC3339Nano))
}

// JoinParticipant adds the user to the roster unless already present. The
// capacity check reads the roster size first; the check-then-add pair is not
// transactional, which is acceptable for an advisory capacity limit.
func (s *Store) JoinParticipant(ctx context.Context, key domain.SessionKey, userID int64, max int) error {
	member := strconv.FormatInt(userID, 10)
	known, err := s.client.SIsMember(ctx, rosterKey(key), member).Result()
	if err != nil {
		return err
	}
	if known {
		return nil
	}
	if max > 0 {
		size, err := s.client.SCard(ctx, rosterKey(key)).Result()
		if err != nil {
			return err
		}
		if size >= int64(max) {
			return domain.ErrQuizFull
		}
	}
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, rosterKey(key), member)
	pipe.Expire(ctx, rosterKey(key), sessionTTL)
	card := pipe.SCard(ctx, rosterKey(key))
	_, err = pipe.Exec(ctx)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, stateKey(key), fieldParticipantCount, card.Val()).Err()
}

func (s *Store) ClaimAnswer(ctx context.Context, key domain.SessionKey, questionID, userID int64, ttl time.Duration) (bool, error) {
	marker := markerKey(key, strconv.FormatInt(questionID, 10), strconv.FormatInt(userID, 10))
	return s.client.SetNX(ctx, marker, "1", ttl).Result()
}

// RecordAnswer applies the whole answer mutation in one transactional pipeline
// so no reader observes a marker without its score or vice versa.
func (s *Store) RecordAnswer(ctx context.Context, key domain.SessionKey, userID int64, username string, questionID int64, detail domain.AnswerDetail) (float64, int, error) {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return 0, 0, fmt.Errorf("marshal answer detail: %w", err)
	}
	correctDelta, wrongDelta := int64(0), int64(0)
	if detail.Correct {
		correctDelta = 1
	} else {
		wrongDelta = 1
	}

	answers := answersKey(key, strconv.FormatInt(userID, 10))
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, answers, "username", username)
	total := pipe.HIncrByFloat(ctx, answers, "score", detail.Score)
	pipe.HIncrBy(ctx, answers, "correct", correctDelta)
	wrong := pipe.HIncrBy(ctx, answers, "wrong", wrongDelta)
	pipe.HSet(ctx, answers, "answer:"+strconv.FormatInt(questionID, 10), string(detailJSON))
	pipe.Expire(ctx, answers, sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}
	return total.Val(), int(wrong.Val()), nil
}

func (s *Store) SetEliminated(ctx context.Context, key domain.SessionKey, userID int64) error {
	answers := answersKey(key, strconv.FormatInt(userID, 10))
	return s.client.HSet(ctx, answers, "eliminated", "1").Err()
}

func (s *Store) IsEliminated(ctx context.Context, key domain.SessionKey, userID int64) (bool, error) {
	answers := answersKey(key, strconv.FormatInt(userID, 10))
	val, err := s.client.HGet(ctx, answers, "eliminated").Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "1", nil
}

func (s *Store) Participants(ctx context.Context, key domain.SessionKey) ([]domain.ParticipantRecord, error) {
	var out []domain.ParticipantRecord
	iter := s.client.Scan(ctx, 0, answersPattern(key), 100).Iterator()
	for iter.Next(ctx) {
		raw := iter.Val()
		idPart := raw[strings.LastIndexByte(raw, ':')+1:]
		userID, err := strconv.ParseInt(idPart, 10, 64)
		if err != nil {
			continue
		}
		fields, err := s.client.HGetAll(ctx, raw).Result()
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			continue
		}
		out = append(out, parseParticipant(userID, fields))
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) AcquireProcessingLock(ctx context.Context, key domain.SessionKey, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, lockKey(key, "processing"), "1", ttl).Result()
}

func (s *Store) AcquireFinalizeLock(ctx context.Context, key domain.SessionKey, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, lockKey(key, "finalize"), "1", ttl).Result()
}

func (s *Store) LiveSessions(ctx context.Context) ([]domain.SessionKey, error) {
	var keys []domain.SessionKey
	iter := s.client.Scan(ctx, 0, discoveryPattern, 100).Iterator()
	for iter.Next(ctx) {
		if key, ok := parseStateKey(iter.Val()); ok {
			keys = append(keys, key)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// DeleteSession removes every key under the session's prefix: state, timer,
// roster, answer records, answered markers and locks. No-op when nothing is left.
func (s *Store) DeleteSession(ctx context.Context, key domain.SessionKey) error {
	var doomed []string
	iter := s.client.Scan(ctx, 0, sessionPattern(key), 100).Iterator()
	for iter.Next(ctx) {
		doomed = append(doomed, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(doomed) == 0 {
		return nil
	}
	return s.client.Del(ctx, doomed...).Err()
}

func (s *Store) hsetExisting(ctx context.Context, key domain.SessionKey, field, value string) error {
	exists, err := s.client.Exists(ctx, stateKey(key)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return domain.ErrSessionNotFound
	}
	return s.client.HSet(ctx, stateKey(key), field, value).Err()
}

func parseSession(raw map[string]string) (*domain.QuizSession, error) {
	var ids []int64
	if encoded := raw[fieldQuestionIDs]; encoded != "" {
		if err := json.Unmarshal([]byte(encoded), &ids); err != nil {
			return nil, fmt.Errorf("question ids: %w", err)
		}
	}
	sess := &domain.QuizSession{
		Status:              domain.SessionStatus(raw[fieldStatus]),
		QuestionIDs:         ids,
		CurrentIndex:        atoiDefault(raw[fieldCurrentIndex], -1),
		TimePerQuestion:     time.Duration(atoiDefault(raw[fieldTimePerQuestion], 30)) * time.Second,
		CreatorID:           int64(atoiDefault(raw[fieldCreatorID], 0)),
		MaxParticipants:     atoiDefault(raw[fieldMaxParticipants], 0),
		ParticipantCount:    atoiDefault(raw[fieldParticipantCount], 0),
		BasePoints:          atofDefault(raw[fieldBasePoints], 0),
		SpeedBonus:          atofDefault(raw[fieldSpeedBonus], 0),
		EliminateAfterWrong: atoiDefault(raw[fieldEliminateAfter], 0),
		RevealAnswerOnWrong: raw[fieldRevealAnswer] == "1",
		QuestionSourceRef:   raw[fieldQuestionSource],
		ResultsSinkRef:      raw[fieldResultsSink],
		BotToken:            raw[fieldBotToken],
		Target: domain.MessageTarget{
			ChatID:          raw[fieldChatID],
			MessageID:       int64(atoiDefault(raw[fieldMessageID], 0)),
			InlineMessageID: raw[fieldInlineMessageID],
		},
	}
	if ts := raw[fieldCreatedAt]; ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			sess.CreatedAt = t
		}
	}
	if ts := raw[fieldRoundResultsAt]; ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			sess.RoundResultsShownAt = &t
		}
	}
	if ts := raw[fieldLastDisplayAt]; ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			sess.LastDisplayAt = &t
		}
	}
	return sess, nil
}

func parseParticipant(userID int64, fields map[string]string) domain.ParticipantRecord {
	record := domain.ParticipantRecord{
		UserID:     userID,
		Username:   fields["username"],
		Score:      atofDefault(fields["score"], 0),
		Correct:    atoiDefault(fields["correct"], 0),
		Wrong:      atoiDefault(fields["wrong"], 0),
		Eliminated: fields["eliminated"] == "1",
		Answers:    make(map[int64]domain.AnswerDetail),
	}
	for field, value := range fields {
		if !strings.HasPrefix(field, "answer:") {
			continue
		}
		qid, err := strconv.ParseInt(strings.TrimPrefix(field, "answer:"), 10, 64)
		if err != nil {
			continue
		}
		var detail domain.AnswerDetail
		if err := json.Unmarshal([]byte(value), &detail); err != nil {
			continue
		}
		record.Answers[qid] = detail
	}
	return record
}

func atoiDefault(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func atofDefault(raw string, fallback float64) float64 {
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
