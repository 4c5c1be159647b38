package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"quiz-competition-service/internal/domain"
)

type quizHistoryRow struct {
	bun.BaseModel `bun:"table:quiz_history"`

	ID             int64     `bun:"id,pk,autoincrement"`
	QuizIdentifier string    `bun:"quiz_identifier,notnull"`
	TotalQuestions int       `bun:"total_questions"`
	WinnerID       *int64    `bun:"winner_id"`
	WinnerScore    *float64  `bun:"winner_score"`
	ChatID         string    `bun:"chat_id"`
	Timestamp      time.Time `bun:"timestamp,nullzero,default:current_timestamp"`
}

type quizParticipantRow struct {
	bun.BaseModel `bun:"table:quiz_participants"`

	ID            int64   `bun:"id,pk,autoincrement"`
	QuizHistoryID int64   `bun:"quiz_history_id,notnull"`
	UserID        int64   `bun:"user_id,notnull"`
	Score         float64 `bun:"score,notnull"`
	Answers       string  `bun:"answers"`
}

type userStatsRow struct {
	bun.BaseModel `bun:"table:user_stats"`

	UserID             int64     `bun:"user_id,pk"`
	Username           string    `bun:"username"`
	TotalQuizzesPlayed int       `bun:"total_quizzes_played"`
	TotalPoints        float64   `bun:"total_points"`
	CorrectAnswers     int       `bun:"correct_answers"`
	WrongAnswers       int       `bun:"wrong_answers"`
	LastUpdated        time.Time `bun:"last_updated,nullzero,default:current_timestamp"`
}

// ResultSink persists finished quizzes and lifetime user stats to Postgres.
type ResultSink struct {
	db *bun.DB
}

func NewResultSink(db *bun.DB) *ResultSink {
	return &ResultSink{db: db}
}

func (s *ResultSink) AppendHistory(ctx context.Context, rec domain.QuizHistory) (int64, error) {
	row := &quizHistoryRow{
		QuizIdentifier: rec.Identifier,
		TotalQuestions: rec.TotalQuestions,
		WinnerID:       rec.WinnerID,
		WinnerScore:    rec.WinnerScore,
		ChatID:         rec.ChatID,
	}
	if _, err := s.db.NewInsert().Model(row).Returning("id").Exec(ctx); err != nil {
		return 0, fmt.Errorf("append quiz history: %w", err)
	}
	return row.ID, nil
}

func (s *ResultSink) UpsertUserStats(ctx context.Context, delta domain.UserStatsDelta) error {
	row := &userStatsRow{
		UserID:             delta.UserID,
		Username:           delta.Username,
		TotalQuizzesPlayed: 1,
		TotalPoints:        delta.Points,
		CorrectAnswers:     delta.Correct,
		WrongAnswers:       delta.Wrong,
		LastUpdated:        time.Now(),
	}
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (user_id) DO UPDATE").
		Set("username = EXCLUDED.username").
		Set("total_quizzes_played = user_stats.total_quizzes_played + 1").
		Set("total_points = user_stats.total_points + EXCLUDED.total_points").
		Set("correct_answers = user_stats.correct_answers + EXCLUDED.correct_answers").
		Set("wrong_answers = user_stats.wrong_answers + EXCLUDED.wrong_answers").
		Set("last_updated = EXCLUDED.last_updated").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("upsert user stats: %w", err)
	}
	return nil
}

func (s *ResultSink) AppendParticipant(ctx context.Context, historyID int64, p domain.ParticipantResult) error {
	answers, err := json.Marshal(p.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}
	row := &quizParticipantRow{
		QuizHistoryID: historyID,
		UserID:        p.UserID,
		Score:         p.Score,
		Answers:       string(answers),
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return fmt.Errorf("append participant: %w", err)
	}
	return nil
}

// GlobalLeaderboard returns the top lifetime scorers across all chats.
func (s *ResultSink) GlobalLeaderboard(ctx context.Context, limit int) ([]domain.LeaderboardRow, error) {
	var rows []userStatsRow
	err := s.db.NewSelect().
		Model(&rows).
		Column("user_id", "username", "total_points").
		OrderExpr("total_points DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("global leaderboard: %w", err)
	}
	out := make([]domain.LeaderboardRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.LeaderboardRow{UserID: r.UserID, Username: r.Username, Points: r.TotalPoints})
	}
	return out, nil
}

// ChatLeaderboard aggregates per-quiz scores for one chat.
func (s *ResultSink) ChatLeaderboard(ctx context.Context, chatID string, limit int) ([]domain.LeaderboardRow, error) {
	var out []domain.LeaderboardRow
	err := s.db.NewSelect().
		TableExpr("quiz_participants AS qp").
		ColumnExpr("qp.user_id AS user_id").
		ColumnExpr("COALESCE(us.username, '') AS username").
		ColumnExpr("SUM(qp.score) AS points").
		Join("JOIN quiz_history AS qh ON qp.quiz_history_id = qh.id").
		Join("LEFT JOIN user_stats AS us ON qp.user_id = us.user_id").
		Where("qh.chat_id = ?", chatID).
		GroupExpr("qp.user_id, us.username").
		OrderExpr("points DESC").
		Limit(limit).
		Scan(ctx, &out)
	if err != nil {
		return nil, fmt.Errorf("chat leaderboard: %w", err)
	}
	return out, nil
}
