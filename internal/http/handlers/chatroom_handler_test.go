package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/tbourn/go-chatroom-ai/internal/domain"
	"github.com/tbourn/go-chatroom-ai/internal/services"
)

func TestCreateChatroom(t *testing.T) {
	var gotName string
	var gotUser uint
	rooms := stubRooms{create: func(_ context.Context, uid uint, name string) (*domain.Chatroom, error) {
		gotUser, gotName = uid, name
		return &domain.Chatroom{ID: 3, UserID: uid, Name: "Trip"}, nil
	}}
	r := newEngine(New(Services{Chatrooms: rooms}), true)

	w := do(r, http.MethodPost, "/chatroom", `{"name":"Trip"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("want 201, got %d: %s", w.Code, w.Body.String())
	}
	if gotUser != testUser || gotName != "Trip" {
		t.Fatalf("service got user=%d name=%q", gotUser, gotName)
	}
	var resp ChatroomResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Chatroom == nil || resp.Chatroom.ID != 3 {
		t.Fatalf("bad body %s (err=%v)", w.Body.String(), err)
	}

	// empty body falls through to the service default
	w = do(r, http.MethodPost, "/chatroom", "", nil)
	if w.Code != http.StatusCreated || gotName != "" {
		t.Fatalf("empty body: code=%d name=%q", w.Code, gotName)
	}

	w = do(r, http.MethodPost, "/chatroom", `{"name":`, nil)
	if w.Code != http.StatusBadRequest || errorCode(t, w) != ErrCodeBadRequest {
		t.Fatalf("malformed: got %d", w.Code)
	}
}

func TestListChatrooms_EmptyIsArray(t *testing.T) {
	rooms := stubRooms{list: func(context.Context, uint) ([]domain.Chatroom, error) { return nil, nil }}
	r := newEngine(New(Services{Chatrooms: rooms}), true)

	w := do(r, http.MethodGet, "/chatroom", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", w.Code)
	}
	if got := w.Body.String(); got != `{"chatrooms":[]}` {
		t.Fatalf("body = %s", got)
	}
}

func TestListChatrooms_Error(t *testing.T) {
	_ = captureLogs(t)
	rooms := stubRooms{list: func(context.Context, uint) ([]domain.Chatroom, error) { return nil, errors.New("db") }}
	r := newEngine(New(Services{Chatrooms: rooms}), true)

	w := do(r, http.MethodGet, "/chatroom", "", nil)
	if w.Code != http.StatusInternalServerError || errorCode(t, w) != ErrCodeInternal {
		t.Fatalf("got %d %s", w.Code, w.Body.String())
	}
}

func TestGetChatroom(t *testing.T) {
	rooms := stubRooms{get: func(_ context.Context, uid, id uint) (*domain.Chatroom, error) {
		if id != 5 {
			return nil, services.ErrChatroomNotFound
		}
		return &domain.Chatroom{ID: 5, UserID: uid, Name: "x", Messages: []domain.Message{{ID: 1, Text: "hi"}}}, nil
	}}
	r := newEngine(New(Services{Chatrooms: rooms}), true)

	w := do(r, http.MethodGet, "/chatroom/5", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("want 200, got %d", w.Code)
	}
	var resp ChatroomResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Chatroom == nil || len(resp.Chatroom.Messages) != 1 {
		t.Fatalf("messages missing: %s", w.Body.String())
	}

	w = do(r, http.MethodGet, "/chatroom/6", "", nil)
	if w.Code != http.StatusNotFound || errorCode(t, w) != ErrCodeNotFound {
		t.Fatalf("missing: got %d", w.Code)
	}

	for _, bad := range []string{"abc", "0", "-1"} {
		w = do(r, http.MethodGet, "/chatroom/"+bad, "", nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("id %q: got %d", bad, w.Code)
		}
	}
}
