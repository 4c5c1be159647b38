// Package http is the thin request/response layer over the quiz use cases.
// Validation, routing and the API-key check live here; everything else is
// delegated to the app package.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"quiz-competition-service/internal/app"
	"quiz-competition-service/internal/domain"
)

// LeaderboardSource serves durable-stats leaderboards (global and per chat).
type LeaderboardSource interface {
	GlobalLeaderboard(ctx context.Context, limit int) ([]domain.LeaderboardRow, error)
	ChatLeaderboard(ctx context.Context, chatID string, limit int) ([]domain.LeaderboardRow, error)
}

type Handler struct {
	sessions *app.SessionManager
	answers  *app.AnswerHandler
	boards   LeaderboardSource // nil when no durable store is configured
	apiKey   string
	logger   *zap.Logger
}

func NewHandler(sessions *app.SessionManager, answers *app.AnswerHandler, boards LeaderboardSource, apiKey string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sessions: sessions, answers: answers, boards: boards, apiKey: apiKey, logger: logger}
}

// Register wires all routes onto the mux.
func (h *Handler) Register(mux *http.ServeMux, ws *WSHandler) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/competitions/start", h.auth(h.requireMethod(http.MethodPost, h.startCompetition)))
	mux.HandleFunc("/api/competitions/stop", h.auth(h.requireMethod(http.MethodPost, h.stopCompetition)))
	mux.HandleFunc("/api/competitions/answer", h.auth(h.requireMethod(http.MethodPost, h.submitAnswer)))
	mux.HandleFunc("/api/competitions/status", h.auth(h.requireMethod(http.MethodGet, h.status)))
	mux.HandleFunc("/api/competitions/cleanup", h.auth(h.requireMethod(http.MethodPost, h.cleanupCompetition)))
	mux.HandleFunc("/api/leaderboard", h.auth(h.requireMethod(http.MethodGet, h.leaderboard)))
	if ws != nil {
		mux.HandleFunc("/ws", ws.ServeWS)
	}
}

func (h *Handler) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.apiKey != "" && r.Header.Get("Authorization") != h.apiKey {
			writeError(w, http.StatusForbidden, "could not validate credentials")
			return
		}
		next(w, r)
	}
}

func (h *Handler) requireMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		next(w, r)
	}
}

type startRequest struct {
	BotID               string  `json:"botId"`
	BotToken            string  `json:"botToken"`
	ChatID              string  `json:"chatId"`
	CreatorID           int64   `json:"creatorId"`
	QuestionCount       int     `json:"questionCount"`
	Category            string  `json:"category"`
	TimePerQuestionSec  int     `json:"timePerQuestion"`
	MaxParticipants     int     `json:"maxParticipants"`
	BasePoints          float64 `json:"basePoints"`
	SpeedBonus          float64 `json:"speedBonus"`
	EliminateAfterWrong int     `json:"eliminateAfterWrong"`
	RevealAnswerOnWrong bool    `json:"revealAnswerOnWrong"`
}

func (h *Handler) startCompetition(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BotID == "" || req.BotToken == "" {
		writeError(w, http.StatusBadRequest, "botId and botToken are required")
		return
	}
	if req.QuestionCount <= 0 {
		req.QuestionCount = 10
	}
	key, err := h.sessions.StartCompetition(r.Context(), app.StartParams{
		BotID:               req.BotID,
		BotToken:            req.BotToken,
		ChatID:              req.ChatID,
		CreatorID:           req.CreatorID,
		QuestionCount:       req.QuestionCount,
		Category:            req.Category,
		TimePerQuestion:     time.Duration(req.TimePerQuestionSec) * time.Second,
		MaxParticipants:     req.MaxParticipants,
		BasePoints:          req.BasePoints,
		SpeedBonus:          req.SpeedBonus,
		EliminateAfterWrong: req.EliminateAfterWrong,
		RevealAnswerOnWrong: req.RevealAnswerOnWrong,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"botId":  key.BotID,
		"chatId": key.ChatID,
	})
}

type sessionRequest struct {
	BotID  string `json:"botId"`
	ChatID string `json:"chatId"`
}

func (h *Handler) stopCompetition(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	key := domain.SessionKey{BotID: req.BotID, ChatID: req.ChatID}
	if err := h.sessions.RequestStop(r.Context(), key); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "competition stopping"})
}

// cleanupCompetition removes a session's shared state outright, without
// finalizing. Meant for operators clearing out a wedged competition.
func (h *Handler) cleanupCompetition(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	key := domain.SessionKey{BotID: req.BotID, ChatID: req.ChatID}
	if err := h.sessions.Delete(r.Context(), key); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "competition state cleared"})
}

type answerRequest struct {
	BotID       string `json:"botId"`
	ChatID      string `json:"chatId"`
	UserID      int64  `json:"userId"`
	Username    string `json:"username"`
	QuestionID  int64  `json:"questionId"`
	AnswerIndex int    `json:"answerIndex"`
}

type answerResponse struct {
	Correct       bool    `json:"correct"`
	Score         float64 `json:"score"`
	TotalScore    float64 `json:"totalScore"`
	Eliminated    bool    `json:"eliminated,omitempty"`
	CorrectAnswer string  `json:"correctAnswer,omitempty"`
}

func (h *Handler) submitAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	key := domain.SessionKey{BotID: req.BotID, ChatID: req.ChatID}
	outcome, err := h.answers.Submit(r.Context(), key, req.UserID, req.Username, req.QuestionID, req.AnswerIndex)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answerResponse{
		Correct:       outcome.Correct,
		Score:         outcome.Score,
		TotalScore:    outcome.TotalScore,
		Eliminated:    outcome.Eliminated,
		CorrectAnswer: outcome.CorrectAnswer,
	})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	key := domain.SessionKey{
		BotID:  r.URL.Query().Get("botId"),
		ChatID: r.URL.Query().Get("chatId"),
	}
	status, err := h.sessions.Status(r.Context(), key)
	if errors.Is(err, domain.ErrSessionNotFound) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "inactive", "participants": 0})
		return
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	if h.boards == nil {
		writeError(w, http.StatusServiceUnavailable, "no durable stats store configured")
		return
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 100 {
			limit = v
		}
	}
	var (
		rows []domain.LeaderboardRow
		err  error
	)
	if chatID := r.URL.Query().Get("chatId"); chatID != "" {
		rows, err = h.boards.ChatLeaderboard(r.Context(), chatID, limit)
	} else {
		rows, err = h.boards.GlobalLeaderboard(r.Context(), limit)
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"leaderboard": rows})
}

// writeDomainError maps domain sentinels onto HTTP statuses. Client-facing
// rejections are not logged; unexpected errors are.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrQuestionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNoQuestions), errors.Is(err, domain.ErrBadSessionKey):
		writeError(w, http.StatusBadRequest, err.Error())
	case app.IsClientRejection(err):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
