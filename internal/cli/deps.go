package cli

import (
	"context"
	"database/sql"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"go.uber.org/zap"

	"quiz-competition-service/internal/app"
	"quiz-competition-service/internal/config"
	"quiz-competition-service/internal/domain"
	"quiz-competition-service/internal/infra/memory"
	pgstore "quiz-competition-service/internal/infra/postgres"
	redisstore "quiz-competition-service/internal/infra/redis"
	"quiz-competition-service/internal/telegram"
)

// deps holds everything both the API and the worker processes need. The two
// processes share no memory; they meet only in Redis and Postgres, so both
// build from the same config.
type deps struct {
	cfg       config.Config
	logger    *zap.Logger
	store     app.Store
	questions app.QuestionSource
	sink      app.ResultSink
	bots      *telegram.Registry
	boards    *pgstore.ResultSink // nil without Postgres

	closers []func()
}

func buildDeps(ctx context.Context, configPath string) (*deps, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}

	d := &deps{cfg: cfg, logger: logger}
	d.closers = append(d.closers, func() { _ = logger.Sync() })

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		d.closers = append(d.closers, func() { _ = redisClient.Close() })
		d.store = redisstore.NewStore(redisClient)
	} else {
		logger.Warn("no redis configured, falling back to in-memory store (single process only)")
		d.store = memory.NewStore()
	}

	var source app.QuestionSource = memory.NewStaticQuestionSource(sampleQuestions())
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			d.close()
			return nil, err
		}
		d.closers = append(d.closers, pool.Close)
		source = pgstore.NewQuestionSource(pool)

		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		db := bun.NewDB(sqldb, pgdialect.New())
		d.closers = append(d.closers, func() { _ = db.Close() })
		sink := pgstore.NewResultSink(db)
		d.sink = sink
		d.boards = sink
	} else {
		d.sink = memory.NewResultSink()
	}

	if redisClient != nil {
		cacheTTL := config.Duration(cfg.Quiz.QuestionCacheTTL, time.Hour)
		source = redisstore.NewQuestionCache(redisClient, source, cacheTTL)
	}
	d.questions = source

	d.bots = telegram.NewRegistry(telegram.ClientConfig{
		BaseURL:    cfg.Telegram.APIBaseURL,
		Timeout:    config.Duration(cfg.Telegram.Timeout, 10*time.Second),
		RatePerSec: cfg.Telegram.RatePerSec,
		Burst:      cfg.Telegram.Burst,
	})
	d.closers = append(d.closers, d.bots.Close)

	return d, nil
}

func (d *deps) engineConfig() app.EngineConfig {
	w := d.cfg.Worker
	return app.EngineConfig{
		PollInterval:      config.Duration(w.PollInterval, 0),
		OpTimeout:         config.Duration(w.OpTimeout, 0),
		ProcessingLockTTL: config.Duration(w.ProcessingLockTTL, 0),
		FinalizeLockTTL:   config.Duration(w.FinalizeLockTTL, 0),
		RoundResultsPause: config.Duration(w.RoundResultsPause, 0),
		DisplayRefreshMin: config.Duration(w.DisplayRefreshMin, 0),
		MaxConcurrent:     w.MaxConcurrent,
	}
}

func (d *deps) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// sampleQuestions keeps the service usable without Postgres; swap in a real
// question bank for production.
func sampleQuestions() []domain.Question {
	return []domain.Question{
		{
			ID:           1,
			Prompt:       "What is the capital of France?",
			Options:      [4]string{"Berlin", "Paris", "Madrid", "Rome"},
			CorrectIndex: 1,
			Category:     "geography",
		},
		{
			ID:           2,
			Prompt:       "What is 7 x 8?",
			Options:      [4]string{"54", "56", "63", "72"},
			CorrectIndex: 1,
			Category:     "math",
		},
		{
			ID:           3,
			Prompt:       "Which planet is known as the Red Planet?",
			Options:      [4]string{"Venus", "Jupiter", "Mars", "Saturn"},
			CorrectIndex: 2,
			Category:     "science",
		},
	}
}
