package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"quiz-competition-service/internal/domain"
	"quiz-competition-service/internal/infra/memory"
)

type countingSource struct {
	*memory.StaticQuestionSource
	byIDCalls int
}

func (s *countingSource) QuestionByID(ctx context.Context, id int64) (*domain.Question, error) {
	s.byIDCalls++
	return s.StaticQuestionSource.QuestionByID(ctx, id)
}

func newCacheFixture(t *testing.T) (*QuestionCache, *countingSource, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	source := &countingSource{StaticQuestionSource: memory.NewStaticQuestionSource([]domain.Question{
		{ID: 11, Prompt: "What is 2 + 2?", Options: [4]string{"3", "4", "5", "6"}, CorrectIndex: 1, Category: "math"},
	})}
	return NewQuestionCache(client, source, time.Minute), source, mr
}

func TestQuestionByIDCachesInRedis(t *testing.T) {
	ctx := context.Background()
	cache, source, _ := newCacheFixture(t)

	q, err := cache.QuestionByID(ctx, 11)
	if err != nil {
		t.Fatalf("first lookup: %v", err)
	}
	if q.Prompt != "What is 2 + 2?" || q.CorrectIndex != 1 {
		t.Fatalf("unexpected question: %+v", q)
	}
	if source.byIDCalls != 1 {
		t.Fatalf("expected one source call, got %d", source.byIDCalls)
	}

	q, err = cache.QuestionByID(ctx, 11)
	if err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if source.byIDCalls != 1 {
		t.Fatalf("expected cache hit, source calls=%d", source.byIDCalls)
	}
	if q.Options[1] != "4" || q.Category != "math" {
		t.Fatalf("cached question mangled: %+v", q)
	}
}

func TestQuestionByIDRefetchesAfterExpiry(t *testing.T) {
	ctx := context.Background()
	cache, source, mr := newCacheFixture(t)

	if _, err := cache.QuestionByID(ctx, 11); err != nil {
		t.Fatalf("first lookup: %v", err)
	}
	// Past the TTL plus its 10% jitter ceiling.
	mr.FastForward(2 * time.Minute)
	if _, err := cache.QuestionByID(ctx, 11); err != nil {
		t.Fatalf("lookup after expiry: %v", err)
	}
	if source.byIDCalls != 2 {
		t.Fatalf("expected refetch after expiry, source calls=%d", source.byIDCalls)
	}
}

func TestQuestionByIDUnknown(t *testing.T) {
	cache, _, _ := newCacheFixture(t)
	_, err := cache.QuestionByID(context.Background(), 999)
	if err != domain.ErrQuestionNotFound {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}
}

func TestRandomQuestionsWriteThrough(t *testing.T) {
	ctx := context.Background()
	cache, source, _ := newCacheFixture(t)

	qs, err := cache.RandomQuestions(ctx, 1, "")
	if err != nil {
		t.Fatalf("random: %v", err)
	}
	if len(qs) != 1 || qs[0].ID != 11 {
		t.Fatalf("unexpected draw: %+v", qs)
	}
	// The draw primed the cache; the by-id lookup needs no source call.
	if _, err := cache.QuestionByID(ctx, 11); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if source.byIDCalls != 0 {
		t.Fatalf("expected write-through to prime cache, source calls=%d", source.byIDCalls)
	}
}

// Rounds starting for many chats at once hit the write-through from concurrent
// goroutines; every one of them stamps a jittered TTL.
func TestRandomQuestionsConcurrentWriteThrough(t *testing.T) {
	ctx := context.Background()
	cache, _, _ := newCacheFixture(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				if _, err := cache.RandomQuestions(ctx, 1, ""); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent draw: %v", err)
	}
}
