package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quiz-competition-service/internal/app"
	"quiz-competition-service/internal/domain"
)

// WSHandler streams live competition state to spectators and participants.
// State lives in the shared store, so snapshots are polled rather than pushed:
// the progression worker may run in a different process entirely.
type WSHandler struct {
	sessions *app.SessionManager
	answers  *app.AnswerHandler
	logger   *zap.Logger
	upgrader websocket.Upgrader

	snapshotEvery time.Duration
}

func NewWSHandler(sessions *app.SessionManager, answers *app.AnswerHandler, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		sessions: sessions,
		answers:  answers,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		snapshotEvery: 2 * time.Second,
	}
}

type wsInbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type wsAnswerPayload struct {
	UserID      int64  `json:"userId"`
	Username    string `json:"username"`
	QuestionID  int64  `json:"questionId"`
	AnswerIndex int    `json:"answerIndex"`
}

type wsOutbound struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type wsSnapshot struct {
	Status     domain.CompetitionStatus `json:"status"`
	Scoreboard []domain.ScoreboardEntry `json:"scoreboard"`
}

type wsError struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and serves snapshots until the session
// disappears or the client hangs up. Inbound "answer" frames are submitted
// through the same path the REST endpoint uses.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	key := domain.SessionKey{
		BotID:  r.URL.Query().Get("botId"),
		ChatID: r.URL.Query().Get("chatId"),
	}
	if err := key.Validate(); err != nil {
		http.Error(w, "missing or invalid botId/chatId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	send := make(chan wsOutbound, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	pollerDone := make(chan struct{})

	// The writer closes the connection on a failed write so the reader's
	// blocked ReadJSON returns and teardown always runs.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("ws write error", zap.Error(err))
				conn.Close()
				return
			}
		}
	}()

	go func() {
		defer close(pollerDone)
		ticker := time.NewTicker(h.snapshotEvery)
		defer ticker.Stop()
		for {
			snapshot, err := h.snapshot(r, key)
			if errors.Is(err, domain.ErrSessionNotFound) {
				select {
				case send <- wsOutbound{Type: "ended", Payload: wsError{Message: "competition is over"}}:
				case <-closeSignals:
				}
				return
			}
			if err == nil {
				select {
				case send <- wsOutbound{Type: "snapshot", Payload: snapshot}:
				case <-closeSignals:
					return
				}
			}
			select {
			case <-ticker.C:
			case <-closeSignals:
				return
			}
		}
	}()

	// All reader-side sends race against the writer dying mid-connection, so
	// they bail out once writerDone closes instead of blocking on a full buffer.
	enqueue := func(msg wsOutbound) bool {
		select {
		case send <- msg:
			return true
		case <-writerDone:
			return false
		}
	}

readLoop:
	for {
		var inbound wsInbound
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload wsAnswerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				if !enqueue(wsOutbound{Type: "error", Payload: wsError{Message: "invalid answer payload"}}) {
					break readLoop
				}
				continue
			}
			outcome, err := h.answers.Submit(r.Context(), key, payload.UserID, payload.Username, payload.QuestionID, payload.AnswerIndex)
			if err != nil {
				if !enqueue(wsOutbound{Type: "error", Payload: wsError{Message: err.Error()}}) {
					break readLoop
				}
				continue
			}
			if !enqueue(wsOutbound{Type: "answerResult", Payload: answerResponse{
				Correct:       outcome.Correct,
				Score:         outcome.Score,
				TotalScore:    outcome.TotalScore,
				Eliminated:    outcome.Eliminated,
				CorrectAnswer: outcome.CorrectAnswer,
			}}) {
				break readLoop
			}
		default:
			if !enqueue(wsOutbound{Type: "error", Payload: wsError{Message: "unsupported message type"}}) {
				break readLoop
			}
		}
	}

	close(closeSignals)
	<-pollerDone
	close(send)
	<-writerDone
}

func (h *WSHandler) snapshot(r *http.Request, key domain.SessionKey) (wsSnapshot, error) {
	status, err := h.sessions.Status(r.Context(), key)
	if err != nil {
		return wsSnapshot{}, err
	}
	board, err := h.sessions.Scoreboard(r.Context(), key)
	if err != nil {
		return wsSnapshot{}, err
	}
	return wsSnapshot{Status: *status, Scoreboard: board}, nil
}
