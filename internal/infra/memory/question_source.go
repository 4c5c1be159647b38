package memory

import (
	"context"
	"sort"

	"quiz-competition-service/internal/domain"
)

// StaticQuestionSource is an app.QuestionSource backed by a fixed map, useful
// for tests and demos. "Random" draws are deterministic: ascending id order.
type StaticQuestionSource struct {
	questions map[int64]domain.Question
}

func NewStaticQuestionSource(questions []domain.Question) *StaticQuestionSource {
	byID := make(map[int64]domain.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	return &StaticQuestionSource{questions: byID}
}

func (s *StaticQuestionSource) RandomQuestions(_ context.Context, count int, category string) ([]domain.Question, error) {
	ids := make([]int64, 0, len(s.questions))
	for id, q := range s.questions {
		if category != "" && q.Category != category {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if count > 0 && len(ids) > count {
		ids = ids[:count]
	}
	out := make([]domain.Question, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.questions[id])
	}
	return out, nil
}

func (s *StaticQuestionSource) QuestionByID(_ context.Context, id int64) (*domain.Question, error) {
	q, ok := s.questions[id]
	if !ok {
		return nil, domain.ErrQuestionNotFound
	}
	return &q, nil
}
