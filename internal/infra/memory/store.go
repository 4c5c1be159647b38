// Package memory provides in-process implementations of the app ports, used by
// unit tests and redis-less development runs. Expirations are evaluated lazily
// against the injected clock, mirroring the redis TTL behavior.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"quiz-competition-service/internal/domain"
)

const timerGrace = 5 * time.Second

type sessionState struct {
	key          domain.SessionKey
	sess         domain.QuizSession
	timer        *domain.QuestionTimer
	participants map[int64]*domain.ParticipantRecord
	roster       map[int64]struct{}
	markers      map[string]time.Time // (question:user) -> expiry
	locks        map[string]time.Time // lock kind -> expiry
}

// Store is an in-memory implementation of app.Store.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*sessionState),
		now:      time.Now,
	}
}

// WithClock overrides the time source for deterministic tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) get(key domain.SessionKey) (*sessionState, bool) {
	st, ok := s.sessions[key.String()]
	return st, ok
}

func (s *Store) CreateSession(_ context.Context, key domain.SessionKey, sess *domain.QuizSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key.String()] = &sessionState{
		key:          key,
		sess:         cloneSession(sess),
		participants: make(map[int64]*domain.ParticipantRecord),
		roster:       make(map[int64]struct{}),
		markers:      make(map[string]time.Time),
		locks:        make(map[string]time.Time),
	}
	return nil
}

func (s *Store) GetSession(_ context.Context, key domain.SessionKey) (*domain.QuizSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.get(key)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	sess := cloneSession(&st.sess)
	return &sess, nil
}

func (s *Store) SetStatus(_ context.Context, key domain.SessionKey, status domain.SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.get(key)
	if !ok {
		return domain.ErrSessionNotFound
	}
	st.sess.Status = status
	return nil
}

func (s *Store) SetMessageTarget(_ context.Context, key domain.SessionKey, target domain.MessageTarget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.get(key)
	if !ok {
		return domain.ErrSessionNotFound
	}
	st.sess.Target = target
	return nil
}

func (s *Store) AdvanceRound(_ context.Context, key domain.SessionKey, index int, timer domain.QuestionTimer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.get(key)
	if !ok {
		return domain.ErrSessionNotFound
	}
	st.sess.CurrentIndex = index
	st.sess.RoundResultsShownAt = nil
	t := timer
	st.timer = &t
	return nil
}

func (s *Store) GetTimer(_ context.Context, key domain.SessionKey) (*domain.QuestionTimer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.get(key)
	if !ok || st.timer == nil {
		return nil, nil
	}
	if s.now().After(st.timer.EndsAt.Add(timerGrace)) {
		st.timer = nil
		return nil, nil
	}
	t := *st.timer
	return &t, nil
}

func (s *Store) SetRoundResultsShown(_ context.Context, key domain.SessionKey, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.get(key)
	if !ok {
		return domain.ErrSessionNotFound
	}
	t := at
	st.sess.RoundResultsShownAt = &t
	return nil
}

func (s *Store) SetLastDisplay(_ context.Context, key domain.SessionKey, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.get(key)
	if !ok {
		return domain.ErrSessionNotFound
	}
	t := at
	st.sess.LastDisplayAt = &t
	return nil
}

func (s *Store) JoinParticipant(_ context.Context, key domain.SessionKey, userID int64, max int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.get(key)
	if !ok {
		return domain.ErrSessionNotFound
	}
	if _, known := st.roster[userID]; known {
		return nil
	}
	if max > 0 && len(st.roster) >= max {
		return domain.ErrQuizFull
	}
	st.roster[userID] = struct{}{}
	st.sess.ParticipantCount = len(st.roster)
	return nil
}

func (s *Store) ClaimAnswer(_ context.Context, key domain.SessionKey, questionID, userID int64, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.get(key)
	if !ok {
		return false, domain.ErrSessionNotFound
	}
	marker := markerKey(questionID, userID)
	now := s.now()
	if expiry, exists := st.markers[marker]; exists && now.Before(expiry) {
		return false, nil
	}
	st.markers[marker] = now.Add(ttl)
	return true, nil
}

func (s *Store) RecordAnswer(_ context.Context, key domain.SessionKey, userID int64, username string, questionID int64, detail domain.AnswerDetail) (float64, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.get(key)
	if !ok {
		return 0, 0, domain.ErrSessionNotFound
	}
	p, exists := st.participants[userID]
	if !exists {
		p = &domain.ParticipantRecord{UserID: userID, Answers: make(map[int64]domain.AnswerDetail)}
		st.participants[userID] = p
	}
	p.Username = username
	p.Score += detail.Score
	if detail.Correct {
		p.Correct++
	} else {
		p.Wrong++
	}
	p.Answers[questionID] = detail
	return p.Score, p.Wrong, nil
}

func (s *Store) SetEliminated(_ context.Context, key domain.SessionKey, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.get(key)
	if !ok {
		return domain.ErrSessionNotFound
	}
	if p, exists := st.participants[userID]; exists {
		p.Eliminated = true
	}
	return nil
}

func (s *Store) IsEliminated(_ context.Context, key domain.SessionKey, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.get(key)
	if !ok {
		return false, nil
	}
	p, exists := st.participants[userID]
	return exists && p.Eliminated, nil
}

func (s *Store) Participants(_ context.Context, key domain.SessionKey) ([]domain.ParticipantRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.get(key)
	if !ok {
		return nil, nil
	}
	out := make([]domain.ParticipantRecord, 0, len(st.participants))
	for _, p := range st.participants {
		record := *p
		record.Answers = make(map[int64]domain.AnswerDetail, len(p.Answers))
		for qid, d := range p.Answers {
			record.Answers[qid] = d
		}
		out = append(out, record)
	}
	return out, nil
}

func (s *Store) AcquireProcessingLock(_ context.Context, key domain.SessionKey, ttl time.Duration) (bool, error) {
	return s.acquireLock(key, "processing", ttl)
}

func (s *Store) AcquireFinalizeLock(_ context.Context, key domain.SessionKey, ttl time.Duration) (bool, error) {
	return s.acquireLock(key, "finalize", ttl)
}

func (s *Store) acquireLock(key domain.SessionKey, kind string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.get(key)
	if !ok {
		return false, domain.ErrSessionNotFound
	}
	now := s.now()
	if expiry, held := st.locks[kind]; held && now.Before(expiry) {
		return false, nil
	}
	st.locks[kind] = now.Add(ttl)
	return true, nil
}

func (s *Store) LiveSessions(_ context.Context) ([]domain.SessionKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]domain.SessionKey, 0, len(s.sessions))
	for _, st := range s.sessions {
		keys = append(keys, st.key)
	}
	return keys, nil
}

func (s *Store) DeleteSession(_ context.Context, key domain.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key.String())
	return nil
}

func markerKey(questionID, userID int64) string {
	return strconv.FormatInt(questionID, 10) + ":" + strconv.FormatInt(userID, 10)
}

func cloneSession(sess *domain.QuizSession) domain.QuizSession {
	out := *sess
	out.QuestionIDs = append([]int64(nil), sess.QuestionIDs...)
	if sess.RoundResultsShownAt != nil {
		t := *sess.RoundResultsShownAt
		out.RoundResultsShownAt = &t
	}
	if sess.LastDisplayAt != nil {
		t := *sess.LastDisplayAt
		out.LastDisplayAt = &t
	}
	return out
}
