package app_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"quiz-competition-service/internal/app"
	"quiz-competition-service/internal/domain"
	"quiz-competition-service/internal/infra/memory"
)

// testClock is a hand-cranked time source shared by the store and all use cases.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeMessenger struct {
	mu           sync.Mutex
	sent         []domain.OutboundMessage
	edits        []domain.OutboundMessage
	editAttempts int
	sendErr      error
	editErr      error
}

func (f *fakeMessenger) SendMessage(_ context.Context, _ string, msg domain.OutboundMessage) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.sent = append(f.sent, msg)
	return int64(len(f.sent)), nil
}

func (f *fakeMessenger) EditMessage(_ context.Context, _ string, msg domain.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.editAttempts++
	if f.editErr != nil {
		return f.editErr
	}
	f.edits = append(f.edits, msg)
	return nil
}

func (f *fakeMessenger) editCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.editAttempts
}

func (f *fakeMessenger) lastEdit() (domain.OutboundMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.edits) == 0 {
		return domain.OutboundMessage{}, false
	}
	return f.edits[len(f.edits)-1], true
}

type harness struct {
	clock     *testClock
	store     *memory.Store
	source    *memory.StaticQuestionSource
	bots      *fakeMessenger
	sink      *memory.ResultSink
	sessions  *app.SessionManager
	answers   *app.AnswerHandler
	finalizer *app.Finalizer
	engine    *app.Engine
}

func newHarness(questionCount int, cfg app.EngineConfig) *harness {
	clk := newTestClock()
	store := memory.NewStore().WithClock(clk.Now)
	source := memory.NewStaticQuestionSource(makeQuestions(questionCount))
	bots := &fakeMessenger{}
	sink := memory.NewResultSink()
	finalizer := app.NewFinalizer(store, sink, bots, time.Minute, nil)
	return &harness{
		clock:     clk,
		store:     store,
		source:    source,
		bots:      bots,
		sink:      sink,
		sessions:  app.NewSessionManager(store, source, bots, nil).WithClock(clk.Now),
		answers:   app.NewAnswerHandler(store, source, nil).WithClock(clk.Now),
		finalizer: finalizer,
		engine:    app.NewEngine(store, source, bots, finalizer, cfg, nil).WithClock(clk.Now),
	}
}

func (h *harness) start(t *testing.T, p app.StartParams) domain.SessionKey {
	t.Helper()
	key, err := h.sessions.StartCompetition(context.Background(), p)
	if err != nil {
		t.Fatalf("start competition: %v", err)
	}
	return key
}

// makeQuestions builds n questions with ids 1..n; option B is always correct.
func makeQuestions(n int) []domain.Question {
	qs := make([]domain.Question, 0, n)
	for i := 1; i <= n; i++ {
		qs = append(qs, domain.Question{
			ID:           int64(i),
			Prompt:       fmt.Sprintf("Prompt number %d", i),
			Options:      [4]string{"A", "B", "C", "D"},
			CorrectIndex: 1,
			Category:     "general",
		})
	}
	return qs
}

func defaultStart() app.StartParams {
	return app.StartParams{
		BotID:           "bot1",
		BotToken:        "1000:abc",
		ChatID:          "chat1",
		CreatorID:       7,
		QuestionCount:   3,
		TimePerQuestion: 20 * time.Second,
		BasePoints:      10,
		SpeedBonus:      10,
	}
}
