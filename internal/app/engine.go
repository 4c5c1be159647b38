package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"quiz-competition-service/internal/domain"
)

// EngineConfig tunes the progression engine's poll loop.
type EngineConfig struct {
	// PollInterval is the sleep between full passes over live sessions.
	PollInterval time.Duration
	// OpTimeout bounds the store and delivery I/O of one session evaluation.
	OpTimeout time.Duration
	// ProcessingLockTTL bounds one evaluation of one session; the lock is never
	// released early, it expires. Its expiry is the de facto crash-recovery timeout.
	ProcessingLockTTL time.Duration
	// FinalizeLockTTL guards the whole finalize-and-cleanup sequence.
	FinalizeLockTTL time.Duration
	// RoundResultsPause is how long the per-round result summary stays up before
	// the next question; 0 disables the interstitial.
	RoundResultsPause time.Duration
	// DisplayRefreshMin is the minimum interval between in-round display
	// refreshes; 0 disables refreshing.
	DisplayRefreshMin time.Duration
	// MaxConcurrent caps the per-session fan-out within one pass.
	MaxConcurrent int
}

func (c *EngineConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 10 * time.Second
	}
	if c.ProcessingLockTTL <= 0 {
		c.ProcessingLockTTL = 10 * time.Second
	}
	if c.FinalizeLockTTL <= 0 {
		c.FinalizeLockTTL = 2 * time.Minute
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 16
	}
}

// Engine is the poll-driven per-session state machine. It owns no request
// surface; it only reads and writes the shared store and the outward messenger.
type Engine struct {
	store     Store
	questions QuestionSource
	bots      Messenger
	finalizer *Finalizer
	cfg       EngineConfig
	logger    *zap.Logger
	now       func() time.Time
}

func NewEngine(store Store, questions QuestionSource, bots Messenger, finalizer *Finalizer, cfg EngineConfig, logger *zap.Logger) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:     store,
		questions: questions,
		bots:      bots,
		finalizer: finalizer,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the time source for deterministic tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Run polls until the context is canceled. Each pass fans out over the live
// sessions and fans back in before sleeping; a panic-free pass is guaranteed
// because every session's errors are contained in Pass.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("progression engine started", zap.Duration("poll_interval", e.cfg.PollInterval))
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("progression engine stopping")
			return
		case <-ticker.C:
			e.Pass(ctx)
		}
	}
}

// Pass evaluates every live session once. Per-session errors are logged and
// isolated; one broken session never aborts the batch.
func (e *Engine) Pass(ctx context.Context) {
	keys, err := e.store.LiveSessions(ctx)
	if err != nil {
		e.logger.Error("enumerate sessions", zap.Error(err))
		return
	}
	if len(keys) == 0 {
		return
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrent)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			opCtx, cancel := context.WithTimeout(ctx, e.cfg.OpTimeout)
			defer cancel()
			if err := e.evaluate(opCtx, key); err != nil {
				e.logger.Error("session evaluation failed", zap.String("session", key.String()), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// evaluate handles one session for one pass, under its processing lock.
func (e *Engine) evaluate(ctx context.Context, key domain.SessionKey) error {
	acquired, err := e.store.AcquireProcessingLock(ctx, key, e.cfg.ProcessingLockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		// Another pass is already handling this session.
		return nil
	}

	sess, err := e.store.GetSession(ctx, key)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	switch sess.Status {
	case domain.StatusPending:
		// Waiting for explicit activation by the API tier.
		return nil
	case domain.StatusStopping:
		return e.finalizer.Finalize(ctx, key, sess)
	case domain.StatusActive:
	default:
		e.logger.Warn("unknown session status", zap.String("session", key.String()), zap.String("status", string(sess.Status)))
		return nil
	}

	timer, err := e.store.GetTimer(ctx, key)
	if err != nil {
		return err
	}
	now := e.now()

	// A running timer means the round is still open. A missing timer on an
	// active session means the previous round's timer expired out of the store
	// (or a crash dropped it): start the next round immediately.
	if timer != nil && !timer.Expired(now) {
		return e.maybeRefreshDisplay(ctx, key, sess, timer, now)
	}

	if wait, err := e.roundResultsInterstitial(ctx, key, sess, timer, now); wait || err != nil {
		return err
	}

	if stopped, err := e.stopWhenDrained(ctx, key, sess); stopped || err != nil {
		if err != nil {
			return err
		}
		sess.Status = domain.StatusStopping
		return e.finalizer.Finalize(ctx, key, sess)
	}

	return e.advance(ctx, key, sess, now)
}

// roundResultsInterstitial shows the just-ended round's summary once and holds
// the session until the pause has elapsed. Returns wait=true while the
// interstitial should stay up.
func (e *Engine) roundResultsInterstitial(ctx context.Context, key domain.SessionKey, sess *domain.QuizSession, timer *domain.QuestionTimer, now time.Time) (wait bool, err error) {
	if e.cfg.RoundResultsPause <= 0 || sess.CurrentIndex < 0 {
		return false, nil
	}
	if sess.RoundResultsShownAt != nil {
		return now.Sub(*sess.RoundResultsShownAt) < e.cfg.RoundResultsPause, nil
	}
	if timer == nil {
		// The timer is gone past its grace window; the ended question is no
		// longer known, so skip the summary for this round.
		return false, nil
	}

	question, err := e.questions.QuestionByID(ctx, timer.QuestionID)
	if err != nil {
		e.logger.Warn("round results question lookup", zap.String("session", key.String()), zap.Error(err))
		return false, nil
	}
	participants, err := e.store.Participants(ctx, key)
	if err != nil {
		return false, err
	}

	msg := domain.OutboundMessage{
		Target: sess.Target,
		Text:   renderRoundResults(sess.CurrentIndex+1, question, participants),
	}
	if err := e.bots.EditMessage(ctx, sess.BotToken, msg); err != nil {
		if errors.Is(err, domain.ErrDeliveryFatal) {
			// Hold the session this pass; the next one sees stopping and
			// finalizes instead of attempting another doomed edit.
			return true, e.store.SetStatus(ctx, key, domain.StatusStopping)
		}
		e.logger.Warn("round results delivery failed", zap.String("session", key.String()), zap.Error(err))
	}
	if err := e.store.SetRoundResultsShown(ctx, key, now); err != nil {
		return false, err
	}
	return true, nil
}

// stopWhenDrained forces the stopping state once elimination has removed every
// active participant.
func (e *Engine) stopWhenDrained(ctx context.Context, key domain.SessionKey, sess *domain.QuizSession) (bool, error) {
	if sess.EliminateAfterWrong <= 0 || sess.ParticipantCount == 0 {
		return false, nil
	}
	participants, err := e.store.Participants(ctx, key)
	if err != nil {
		return false, err
	}
	if len(participants) == 0 {
		return false, nil
	}
	for _, p := range participants {
		if !p.Eliminated {
			return false, nil
		}
	}
	e.logger.Info("all participants eliminated", zap.String("session", key.String()))
	return true, e.store.SetStatus(ctx, key, domain.StatusStopping)
}

// advance dispatches the next round, or finalizes when the question list is
// exhausted. currentIndex never moves past the last question.
func (e *Engine) advance(ctx context.Context, key domain.SessionKey, sess *domain.QuizSession, now time.Time) error {
	next := sess.CurrentIndex + 1
	if next >= len(sess.QuestionIDs) {
		return e.finalizer.Finalize(ctx, key, sess)
	}

	question, err := e.questions.QuestionByID(ctx, sess.QuestionIDs[next])
	if err != nil {
		// A question missing from the bank ends the quiz cleanly.
		e.logger.Error("next question lookup failed", zap.String("session", key.String()),
			zap.Int64("question", sess.QuestionIDs[next]), zap.Error(err))
		return e.finalizer.Finalize(ctx, key, sess)
	}

	msg := domain.OutboundMessage{
		Target:   sess.Target,
		Text:     renderQuestion(next+1, len(sess.QuestionIDs), question),
		Keyboard: answerKeyboard(question),
	}
	if err := e.bots.EditMessage(ctx, sess.BotToken, msg); err != nil {
		if errors.Is(err, domain.ErrDeliveryFatal) {
			e.logger.Warn("fatal delivery failure, stopping session", zap.String("session", key.String()), zap.Error(err))
			return e.store.SetStatus(ctx, key, domain.StatusStopping)
		}
		// A display hiccup must not kill the quiz; the round still starts.
		e.logger.Warn("question delivery failed", zap.String("session", key.String()), zap.Error(err))
	}

	timer := domain.QuestionTimer{
		QuestionID: question.ID,
		StartedAt:  now,
		EndsAt:     now.Add(sess.TimePerQuestion),
	}
	if err := e.store.AdvanceRound(ctx, key, next, timer); err != nil {
		return err
	}
	e.logger.Info("round dispatched", zap.String("session", key.String()),
		zap.Int("round", next+1), zap.Int64("question", question.ID))
	return nil
}

// maybeRefreshDisplay re-renders the in-progress message with the remaining
// time and participant count, rate-limited to stay inside edit quotas.
func (e *Engine) maybeRefreshDisplay(ctx context.Context, key domain.SessionKey, sess *domain.QuizSession, timer *domain.QuestionTimer, now time.Time) error {
	if e.cfg.DisplayRefreshMin <= 0 {
		return nil
	}
	if sess.LastDisplayAt != nil && now.Sub(*sess.LastDisplayAt) < e.cfg.DisplayRefreshMin {
		return nil
	}
	question, err := e.questions.QuestionByID(ctx, timer.QuestionID)
	if err != nil {
		return nil
	}
	msg := domain.OutboundMessage{
		Target:   sess.Target,
		Text:     renderProgress(sess, timer, question, now),
		Keyboard: answerKeyboard(question),
	}
	if err := e.bots.EditMessage(ctx, sess.BotToken, msg); err != nil {
		if errors.Is(err, domain.ErrDeliveryFatal) {
			return e.store.SetStatus(ctx, key, domain.StatusStopping)
		}
		e.logger.Debug("display refresh failed", zap.String("session", key.String()), zap.Error(err))
	}
	return e.store.SetLastDisplay(ctx, key, now)
}
