package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/tbourn/go-chatroom-ai/internal/domain"
	"github.com/tbourn/go-chatroom-ai/internal/http/middleware"
	"github.com/tbourn/go-chatroom-ai/internal/services"
)

func TestSendMessage_Accepted(t *testing.T) {
	var gotText, gotKey string
	var gotRoom uint
	msgs := stubMsgs{send: func(_ context.Context, uid, roomID uint, text, key string) (*services.SendResult, error) {
		gotRoom, gotText, gotKey = roomID, text, key
		return &services.SendResult{Message: &domain.Message{ID: 11, ChatroomID: roomID, UserID: uid, Text: text, IsUserMessage: true}}, nil
	}}
	r := newEngine(New(Services{Messages: msgs}), true)

	w := do(r, http.MethodPost, "/chatroom/4/message", `{"message":"  hi\r\nthere  "}`,
		map[string]string{middleware.HeaderIdempotencyKey: "k-1"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("want 202, got %d: %s", w.Code, w.Body.String())
	}
	if gotRoom != 4 || gotText != "hi\nthere" || gotKey != "k-1" {
		t.Fatalf("service got room=%d text=%q key=%q", gotRoom, gotText, gotKey)
	}
	if w.Header().Get(middleware.HeaderIdempotencyReplayed) != "" {
		t.Fatal("fresh send must not be marked replayed")
	}

	var resp SendMessageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != StatusProcessing || resp.Message == nil || resp.Message.Response != nil {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestSendMessage_Replay(t *testing.T) {
	reply := "earlier reply"
	msgs := stubMsgs{send: func(context.Context, uint, uint, string, string) (*services.SendResult, error) {
		return &services.SendResult{Message: &domain.Message{ID: 11, Response: &reply}, Replayed: true}, nil
	}}
	r := newEngine(New(Services{Messages: msgs}), true)

	w := do(r, http.MethodPost, "/chatroom/4/message", `{"message":"hi"}`,
		map[string]string{middleware.HeaderIdempotencyKey: "k-1"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("want 202, got %d", w.Code)
	}
	if w.Header().Get(middleware.HeaderIdempotencyReplayed) != "true" {
		t.Fatal("missing replay header")
	}
	var resp SendMessageResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != StatusCompleted {
		t.Fatalf("status = %q", resp.Status)
	}
}

func TestSendMessage_Errors(t *testing.T) {
	_ = captureLogs(t)
	cases := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{"missing field", `{}`, nil, http.StatusBadRequest, ErrCodeBadRequest},
		{"empty after trim", `{"message":"   "}`, services.ErrEmptyMessage, http.StatusBadRequest, ErrCodeBadRequest},
		{"too long", `{"message":"x"}`, services.ErrTooLong, http.StatusBadRequest, ErrCodeMessageTooLong},
		{"foreign room", `{"message":"x"}`, services.ErrChatroomNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"enqueue failure", `{"message":"x"}`, errors.New("queue down"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msgs := stubMsgs{send: func(context.Context, uint, uint, string, string) (*services.SendResult, error) {
				return nil, tc.err
			}}
			r := newEngine(New(Services{Messages: msgs}), true)
			w := do(r, http.MethodPost, "/chatroom/4/message", tc.body, nil)
			if w.Code != tc.status || errorCode(t, w) != tc.code {
				t.Fatalf("got %d %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestSendMessage_BadIdempotencyKey(t *testing.T) {
	msgs := stubMsgs{send: func(context.Context, uint, uint, string, string) (*services.SendResult, error) {
		t.Fatal("service must not be called")
		return nil, nil
	}}
	r := newEngine(New(Services{Messages: msgs}), true)
	w := do(r, http.MethodPost, "/chatroom/4/message", `{"message":"hi"}`,
		map[string]string{middleware.HeaderIdempotencyKey: "has spaces"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("want 400, got %d", w.Code)
	}
}

func TestListMessages_LimitClamp(t *testing.T) {
	var gotLimit int
	msgs := stubMsgs{list: func(_ context.Context, _, roomID uint, limit int) ([]domain.Message, error) {
		gotLimit = limit
		if roomID == 9 {
			return nil, services.ErrChatroomNotFound
		}
		return nil, nil
	}}
	r := newEngine(New(Services{Messages: msgs}), true)

	cases := []struct {
		query string
		want  int
	}{
		{"", 100},
		{"?limit=5", 5},
		{"?limit=0", 1},
		{"?limit=99999", 500},
		{"?limit=abc", 100},
	}
	for _, tc := range cases {
		w := do(r, http.MethodGet, "/chatroom/2/messages"+tc.query, "", nil)
		if w.Code != http.StatusOK || gotLimit != tc.want {
			t.Fatalf("%q: code=%d limit=%d want %d", tc.query, w.Code, gotLimit, tc.want)
		}
		if w.Body.String() != `{"messages":[]}` {
			t.Fatalf("%q: body %s", tc.query, w.Body.String())
		}
	}

	w := do(r, http.MethodGet, "/chatroom/9/messages", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign room: got %d", w.Code)
	}
}
