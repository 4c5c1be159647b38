package redis

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-competition-service/internal/app"
	"quiz-competition-service/internal/domain"
)

// QuestionCache fronts a question source with a Redis hash per question
// (qbank:question:{id}) and falls back to the source on cache miss. Random
// draws always hit the source; the drawn questions are written through so the
// per-round by-id lookups served to the worker and the answer handler stay off
// the database.
type QuestionCache struct {
	client *redis.Client
	source app.QuestionSource
	ttl    time.Duration
	sf     singleflight.Group
}

func NewQuestionCache(client *redis.Client, source app.QuestionSource, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		client: client,
		source: source,
		ttl:    ttl,
	}
}

func (c *QuestionCache) RandomQuestions(ctx context.Context, count int, category string) ([]domain.Question, error) {
	questions, err := c.source.RandomQuestions(ctx, count, category)
	if err != nil {
		return nil, err
	}
	pipe := c.client.Pipeline()
	for i := range questions {
		c.cacheQuestion(ctx, pipe, &questions[i])
	}
	_, _ = pipe.Exec(ctx)
	return questions, nil
}

func (c *QuestionCache) QuestionByID(ctx context.Context, id int64) (*domain.Question, error) {
	key := questionKey(id)
	if q, ok := c.fromCache(ctx, key, id); ok {
		return q, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check in case another goroutine filled the cache.
		if q, ok := c.fromCache(ctx, key, id); ok {
			return q, nil
		}
		q, err := c.source.QuestionByID(ctx, id)
		if err != nil {
			return nil, err
		}
		pipe := c.client.Pipeline()
		c.cacheQuestion(ctx, pipe, q)
		_, _ = pipe.Exec(ctx)
		return q, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.Question), nil
}

func (c *QuestionCache) fromCache(ctx context.Context, key string, id int64) (*domain.Question, bool) {
	fields, err := c.client.HGetAll(ctx, key).Result()
	if err != nil || len(fields) == 0 {
		return nil, false
	}
	correct, err := strconv.Atoi(fields["correct"])
	if err != nil || correct < 0 || correct > 3 {
		return nil, false
	}
	return &domain.Question{
		ID:           id,
		Prompt:       fields["prompt"],
		Options:      [4]string{fields["opt0"], fields["opt1"], fields["opt2"], fields["opt3"]},
		CorrectIndex: correct,
		Category:     fields["category"],
	}, true
}

func (c *QuestionCache) cacheQuestion(ctx context.Context, pipe redis.Pipeliner, q *domain.Question) {
	key := questionKey(q.ID)
	pipe.HSet(ctx, key,
		"prompt", q.Prompt,
		"opt0", q.Options[0],
		"opt1", q.Options[1],
		"opt2", q.Options[2],
		"opt3", q.Options[3],
		"correct", q.CorrectIndex,
		"category", q.Category,
	)
	if ttl := c.ttlWithJitter(); ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
}

func questionKey(id int64) string {
	return "qbank:question:" + strconv.FormatInt(id, 10)
}

// ttlWithJitter spreads expirations by up to 10%. The package-level source is
// used because cacheQuestion runs from concurrent write-throughs.
func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(rand.Int63n(jitterMax+1))
}
