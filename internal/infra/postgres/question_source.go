package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-competition-service/internal/domain"
)

// QuestionSource serves the question bank from Postgres.
type QuestionSource struct {
	pool *pgxpool.Pool
}

func NewQuestionSource(pool *pgxpool.Pool) *QuestionSource {
	return &QuestionSource{pool: pool}
}

const questionColumns = `id, prompt, opt1, opt2, opt3, opt4, correct_option, COALESCE(category, '')`

func (s *QuestionSource) RandomQuestions(ctx context.Context, count int, category string) ([]domain.Question, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if category != "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+questionColumns+` FROM questions WHERE category = $1 ORDER BY random() LIMIT $2`,
			category, count)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+questionColumns+` FROM questions ORDER BY random() LIMIT $1`, count)
	}
	if err != nil {
		return nil, fmt.Errorf("draw questions: %w", err)
	}
	defer rows.Close()

	var questions []domain.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, *q)
	}
	return questions, rows.Err()
}

func (s *QuestionSource) QuestionByID(ctx context.Context, id int64) (*domain.Question, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+questionColumns+` FROM questions WHERE id = $1`, id)
	q, err := scanQuestion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrQuestionNotFound
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

func scanQuestion(row pgx.Row) (*domain.Question, error) {
	var q domain.Question
	if err := row.Scan(&q.ID, &q.Prompt, &q.Options[0], &q.Options[1], &q.Options[2], &q.Options[3], &q.CorrectIndex, &q.Category); err != nil {
		return nil, fmt.Errorf("scan question: %w", err)
	}
	return &q, nil
}
