package app_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"quiz-competition-service/internal/app"
	"quiz-competition-service/internal/domain"
)

func TestPassLeavesRunningRoundAlone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(3, app.EngineConfig{})
	key := h.start(t, defaultStart())

	h.clock.Advance(5 * time.Second)
	h.engine.Pass(ctx)

	sess, err := h.sessions.Get(ctx, key)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.CurrentIndex != 0 {
		t.Fatalf("round advanced early: index %d", sess.CurrentIndex)
	}
	if len(h.bots.edits) != 0 {
		t.Fatalf("unexpected edits: %d", len(h.bots.edits))
	}
}

func TestPassAdvancesExpiredRound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(3, app.EngineConfig{})
	key := h.start(t, defaultStart())

	h.clock.Advance(26 * time.Second)
	h.engine.Pass(ctx)

	sess, err := h.sessions.Get(ctx, key)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.CurrentIndex != 1 {
		t.Fatalf("expected round 1, got %d", sess.CurrentIndex)
	}
	edit, ok := h.bots.lastEdit()
	if !ok || !strings.Contains(edit.Text, "Question 2 of 3") {
		t.Fatalf("expected second question edit, got %+v", edit)
	}
	status, err := h.sessions.Status(ctx, key)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.CurrentQuestionID != 2 || status.TimeRemaining != 20 {
		t.Fatalf("new round timer not set: %+v", status)
	}
}

func TestPassShowsRoundResultsBeforeAdvancing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(3, app.EngineConfig{RoundResultsPause: 4 * time.Second})
	key := h.start(t, defaultStart())

	if _, err := h.answers.Submit(ctx, key, 1, "alice", 1, 1); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Expired but still inside the timer grace window: the summary can name
	// the just-ended question.
	h.clock.Advance(21 * time.Second)
	h.engine.Pass(ctx)

	sess, err := h.sessions.Get(ctx, key)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.CurrentIndex != 0 {
		t.Fatalf("advanced during interstitial: index %d", sess.CurrentIndex)
	}
	if sess.RoundResultsShownAt == nil {
		t.Fatalf("round results timestamp not recorded")
	}
	edit, ok := h.bots.lastEdit()
	if !ok || !strings.Contains(edit.Text, "Round 1 over") {
		t.Fatalf("expected round summary, got %+v", edit)
	}
	if !strings.Contains(edit.Text, "alice") {
		t.Fatalf("summary missing correct answerer: %q", edit.Text)
	}

	// After the pause (and the processing lock TTL) the next round starts.
	h.clock.Advance(15 * time.Second)
	h.engine.Pass(ctx)

	sess, err = h.sessions.Get(ctx, key)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.CurrentIndex != 1 {
		t.Fatalf("expected round 1 after interstitial, got %d", sess.CurrentIndex)
	}
	if sess.RoundResultsShownAt != nil {
		t.Fatalf("round results marker not cleared on advance")
	}
}

func TestPassFinalizesAfterLastQuestion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(1, app.EngineConfig{})
	params := defaultStart()
	params.QuestionCount = 1
	key := h.start(t, params)

	h.clock.Advance(3 * time.Second)
	if _, err := h.answers.Submit(ctx, key, 1, "alice", 1, 1); err != nil {
		t.Fatalf("submit: %v", err)
	}

	h.clock.Advance(23 * time.Second)
	h.engine.Pass(ctx)

	if h.sink.HistoryCount() != 1 {
		t.Fatalf("expected one history row, got %d", h.sink.HistoryCount())
	}
	history := h.sink.Histories[0]
	if history.WinnerID == nil || *history.WinnerID != 1 {
		t.Fatalf("expected alice as winner, got %+v", history)
	}
	if _, err := h.sessions.Get(ctx, key); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("session not cleaned up: %v", err)
	}
	edit, ok := h.bots.lastEdit()
	if !ok || !strings.Contains(edit.Text, "Winner: alice") {
		t.Fatalf("expected final results message, got %+v", edit)
	}
}

func TestPassFinalizesStopRequestedSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(3, app.EngineConfig{})
	key := h.start(t, defaultStart())

	if err := h.sessions.RequestStop(ctx, key); err != nil {
		t.Fatalf("request stop: %v", err)
	}
	h.engine.Pass(ctx)

	if h.sink.HistoryCount() != 1 {
		t.Fatalf("expected one history row, got %d", h.sink.HistoryCount())
	}
	if _, err := h.sessions.Get(ctx, key); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("session not cleaned up: %v", err)
	}
}

func TestFinalizeLockMakesFinalizeAtMostOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(3, app.EngineConfig{})
	key := h.start(t, defaultStart())

	acquired, err := h.store.AcquireFinalizeLock(ctx, key, time.Hour)
	if err != nil || !acquired {
		t.Fatalf("pre-acquire finalize lock: acquired=%v err=%v", acquired, err)
	}

	sess, err := h.sessions.Get(ctx, key)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if err := h.finalizer.Finalize(ctx, key, sess); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if h.sink.HistoryCount() != 0 {
		t.Fatalf("finalize ran despite held lock")
	}
	if _, err := h.sessions.Get(ctx, key); err != nil {
		t.Fatalf("losing finalizer deleted the session: %v", err)
	}
}

func TestPassStopsSessionOnFatalDelivery(t *testing.T) {
	ctx := context.Background()
	h := newHarness(3, app.EngineConfig{})
	key := h.start(t, defaultStart())

	h.bots.editErr = domain.ErrDeliveryFatal
	h.clock.Advance(26 * time.Second)
	h.engine.Pass(ctx)

	sess, err := h.sessions.Get(ctx, key)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.Status != domain.StatusStopping {
		t.Fatalf("expected stopping after fatal delivery, got %s", sess.Status)
	}
	if sess.CurrentIndex != 0 {
		t.Fatalf("round advanced despite fatal delivery: %d", sess.CurrentIndex)
	}
}

func TestPassStopsSessionOnFatalRoundResultsDelivery(t *testing.T) {
	ctx := context.Background()
	h := newHarness(3, app.EngineConfig{RoundResultsPause: 4 * time.Second})
	key := h.start(t, defaultStart())

	h.bots.editErr = domain.ErrDeliveryFatal
	h.clock.Advance(21 * time.Second)
	h.engine.Pass(ctx)

	sess, err := h.sessions.Get(ctx, key)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.Status != domain.StatusStopping {
		t.Fatalf("expected stopping after fatal delivery, got %s", sess.Status)
	}
	if sess.CurrentIndex != 0 {
		t.Fatalf("round advanced despite fatal delivery: %d", sess.CurrentIndex)
	}
	// The pass must stop at the failed summary edit instead of carrying the
	// stale active status into another delivery attempt.
	if got := h.bots.editCount(); got != 1 {
		t.Fatalf("expected a single delivery attempt, got %d", got)
	}
}

func TestPassFinalizesWhenAllParticipantsEliminated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(3, app.EngineConfig{})
	params := defaultStart()
	params.EliminateAfterWrong = 1
	key := h.start(t, params)

	outcome, err := h.answers.Submit(ctx, key, 1, "alice", 1, 0)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !outcome.Eliminated {
		t.Fatalf("expected immediate elimination")
	}

	h.clock.Advance(26 * time.Second)
	h.engine.Pass(ctx)

	if h.sink.HistoryCount() != 1 {
		t.Fatalf("expected finalization after drain, got %d histories", h.sink.HistoryCount())
	}
	if _, err := h.sessions.Get(ctx, key); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("session not cleaned up: %v", err)
	}
}

func TestFullCompetitionTwoPlayers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(10, app.EngineConfig{})
	params := defaultStart()
	params.QuestionCount = 10
	key := h.start(t, params)

	for round := 0; round < 10; round++ {
		status, err := h.sessions.Status(ctx, key)
		if err != nil {
			t.Fatalf("round %d status: %v", round, err)
		}
		if status.CurrentIndex != round {
			t.Fatalf("expected round %d, got %d", round, status.CurrentIndex)
		}
		qid := status.CurrentQuestionID

		h.clock.Advance(2 * time.Second)
		if _, err := h.answers.Submit(ctx, key, 1, "alice", qid, 1); err != nil {
			t.Fatalf("round %d alice: %v", round, err)
		}
		bobAnswer := 0
		if round%2 == 0 {
			bobAnswer = 1
		}
		if _, err := h.answers.Submit(ctx, key, 2, "bob", qid, bobAnswer); err != nil {
			t.Fatalf("round %d bob: %v", round, err)
		}

		h.clock.Advance(24 * time.Second)
		h.engine.Pass(ctx)
	}

	if h.sink.HistoryCount() != 1 {
		t.Fatalf("expected one history row, got %d", h.sink.HistoryCount())
	}
	history := h.sink.Histories[0]
	if history.WinnerID == nil || *history.WinnerID != 1 {
		t.Fatalf("expected alice to win, got %+v", history)
	}
	// 10 rounds of 10 base + 10 * (1 - 2/20) speed bonus.
	if history.WinnerScore == nil || math.Abs(*history.WinnerScore-190) > 1e-6 {
		t.Fatalf("unexpected winner score: %+v", history.WinnerScore)
	}
	if history.TotalQuestions != 10 {
		t.Fatalf("expected 10 questions, got %d", history.TotalQuestions)
	}

	if len(h.sink.Stats) != 2 {
		t.Fatalf("expected stats for both players, got %d", len(h.sink.Stats))
	}
	if len(h.sink.Participants[1]) != 2 {
		t.Fatalf("expected two participant rows, got %d", len(h.sink.Participants[1]))
	}

	if _, err := h.sessions.Get(ctx, key); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("session not cleaned up: %v", err)
	}
	edit, ok := h.bots.lastEdit()
	if !ok || !strings.Contains(edit.Text, "Winner: alice") {
		t.Fatalf("expected final results, got %+v", edit)
	}
	if !strings.Contains(edit.Text, "2 joined · 2 answered") {
		t.Fatalf("missing participation summary: %q", edit.Text)
	}
}

func TestPassRefreshesDisplayAtMostOncePerWindow(t *testing.T) {
	ctx := context.Background()
	h := newHarness(3, app.EngineConfig{DisplayRefreshMin: 5 * time.Second, ProcessingLockTTL: time.Second})
	key := h.start(t, defaultStart())

	h.clock.Advance(3 * time.Second)
	h.engine.Pass(ctx)
	if len(h.bots.edits) != 1 {
		t.Fatalf("expected one refresh, got %d", len(h.bots.edits))
	}
	edit, _ := h.bots.lastEdit()
	if !strings.Contains(edit.Text, "left") {
		t.Fatalf("refresh missing countdown: %q", edit.Text)
	}

	// Inside the refresh window: no further edit.
	h.clock.Advance(2 * time.Second)
	h.engine.Pass(ctx)
	if len(h.bots.edits) != 1 {
		t.Fatalf("refreshed inside the window: %d edits", len(h.bots.edits))
	}

	h.clock.Advance(4 * time.Second)
	h.engine.Pass(ctx)
	if len(h.bots.edits) != 2 {
		t.Fatalf("expected second refresh, got %d edits", len(h.bots.edits))
	}

	sess, err := h.sessions.Get(ctx, key)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if sess.LastDisplayAt == nil {
		t.Fatalf("last display timestamp not recorded")
	}
}
