package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"quiz-competition-service/internal/app"
	"quiz-competition-service/internal/domain"
	"quiz-competition-service/internal/infra/memory"
)

func TestWebSocketSnapshotAndAnswerFlow(t *testing.T) {
	store := memory.NewStore()
	source := memory.NewStaticQuestionSource([]domain.Question{
		{ID: 1, Prompt: "What is 2 + 2?", Options: [4]string{"3", "4", "5", "6"}, CorrectIndex: 1},
	})
	sessions := app.NewSessionManager(store, source, &stubMessenger{}, nil)
	answers := app.NewAnswerHandler(store, source, nil)

	key, err := sessions.StartCompetition(context.Background(), app.StartParams{
		BotID:           "bot1",
		BotToken:        "1000:abc",
		ChatID:          "chat1",
		QuestionCount:   1,
		TimePerQuestion: 30 * time.Second,
		BasePoints:      10,
	})
	if err != nil {
		t.Fatalf("start competition: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", NewWSHandler(sessions, answers, nil).ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + "/ws?botId=" + key.BotID + "&chatId=" + key.ChatID
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The first frame is a state snapshot.
	msgType, payload := readNext(conn, t, "snapshot")
	status, ok := payload["status"].(map[string]any)
	if !ok || status["status"] != "active" {
		t.Fatalf("unexpected snapshot payload: %s %v", msgType, payload)
	}

	answer := map[string]any{
		"type": "answer",
		"payload": map[string]any{
			"userId":      1,
			"username":    "alice",
			"questionId":  1,
			"answerIndex": 1,
		},
	}
	if err := conn.WriteJSON(answer); err != nil {
		t.Fatalf("write answer: %v", err)
	}

	// Snapshots may interleave with the answer result.
	for i := 0; i < 5; i++ {
		typ, payload := readNext(conn, t, "")
		if typ != "answerResult" {
			continue
		}
		if payload["correct"] != true {
			t.Fatalf("expected correct answer, got %v", payload)
		}
		if payload["totalScore"].(float64) <= 0 {
			t.Fatalf("expected positive score, got %v", payload)
		}
		return
	}
	t.Fatalf("answerResult never arrived")
}

// A client that hangs up must take the whole handler down with it: the writer
// closes the connection on write failure, so neither the reader nor the
// snapshot poller can outlive the session.
func TestWebSocketClientDisconnectEndsHandler(t *testing.T) {
	store := memory.NewStore()
	source := memory.NewStaticQuestionSource([]domain.Question{
		{ID: 1, Prompt: "What is 2 + 2?", Options: [4]string{"3", "4", "5", "6"}, CorrectIndex: 1},
	})
	sessions := app.NewSessionManager(store, source, &stubMessenger{}, nil)
	answers := app.NewAnswerHandler(store, source, nil)

	key, err := sessions.StartCompetition(context.Background(), app.StartParams{
		BotID:           "bot1",
		BotToken:        "1000:abc",
		ChatID:          "chat1",
		QuestionCount:   1,
		TimePerQuestion: 30 * time.Second,
		BasePoints:      10,
	})
	if err != nil {
		t.Fatalf("start competition: %v", err)
	}

	ws := NewWSHandler(sessions, answers, nil)
	handlerDone := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(w, r)
		close(handlerDone)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + "/ws?botId=" + key.BotID + "&chatId=" + key.ChatID
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	readNext(conn, t, "snapshot")
	conn.Close()

	select {
	case <-handlerDone:
	case <-time.After(5 * time.Second):
		t.Fatalf("handler still running after client disconnect")
	}
}

func TestWebSocketRejectsMissingParams(t *testing.T) {
	store := memory.NewStore()
	source := memory.NewStaticQuestionSource(nil)
	sessions := app.NewSessionManager(store, source, &stubMessenger{}, nil)
	answers := app.NewAnswerHandler(store, source, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", NewWSHandler(sessions, answers, nil).ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	resp, err := server.Client().Get(server.URL + "/ws?botId=bot1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s", expect, msg.Type)
	}
	return msg.Type, msg.Payload
}
