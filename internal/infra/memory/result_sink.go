package memory

import (
	"context"
	"sync"

	"quiz-competition-service/internal/domain"
)

// ResultSink is an in-memory app.ResultSink that records everything written to
// it. Tests assert against its contents; dev runs without Postgres use it as a
// black hole with history.
type ResultSink struct {
	mu           sync.Mutex
	nextID       int64
	Histories    []domain.QuizHistory
	Stats        []domain.UserStatsDelta
	Participants map[int64][]domain.ParticipantResult
}

func NewResultSink() *ResultSink {
	return &ResultSink{
		nextID:       1,
		Participants: make(map[int64][]domain.ParticipantResult),
	}
}

func (s *ResultSink) AppendHistory(_ context.Context, rec domain.QuizHistory) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Histories = append(s.Histories, rec)
	id := s.nextID
	s.nextID++
	return id, nil
}

func (s *ResultSink) UpsertUserStats(_ context.Context, delta domain.UserStatsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stats = append(s.Stats, delta)
	return nil
}

func (s *ResultSink) AppendParticipant(_ context.Context, historyID int64, p domain.ParticipantResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Participants[historyID] = append(s.Participants[historyID], p)
	return nil
}

// HistoryCount returns how many history rows were written.
func (s *ResultSink) HistoryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Histories)
}
