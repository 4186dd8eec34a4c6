package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func stubAPI(t *testing.T, handler func(method string, body map[string]interface{}) (interface{}, bool)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(r.URL.Path, "/")
		method := parts[len(parts)-1]

		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request body: %v", err)
		}

		result, ok := handler(method, body)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":          ok,
			"result":      result,
			"description": "stub failure",
		})
	}))
}

func TestClientSendMessage(t *testing.T) {
	server := stubAPI(t, func(method string, body map[string]interface{}) (interface{}, bool) {
		if method != "sendMessage" {
			t.Errorf("unexpected method %q", method)
		}
		if body["chat_id"].(float64) != 42 || body["text"].(string) != "привет" {
			t.Errorf("unexpected payload: %v", body)
		}
		return Message{MessageID: 7, Chat: Chat{ID: 42}}, true
	})
	defer server.Close()

	client := NewClientWithBaseURL("token", server.URL, server.Client())
	id, err := client.SendMessage(context.Background(), 42, "привет", nil)
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if id != 7 {
		t.Errorf("message id = %d, want 7", id)
	}
}

func TestClientSendMessageAPIError(t *testing.T) {
	server := stubAPI(t, func(string, map[string]interface{}) (interface{}, bool) {
		return nil, false
	})
	defer server.Close()

	client := NewClientWithBaseURL("token", server.URL, server.Client())
	if _, err := client.SendMessage(context.Background(), 42, "text", nil); err == nil {
		t.Fatal("expected error from api-level failure")
	}
}

func TestClientGetUpdatesAdvancesOffset(t *testing.T) {
	server := stubAPI(t, func(method string, body map[string]interface{}) (interface{}, bool) {
		if method != "getUpdates" {
			t.Errorf("unexpected method %q", method)
		}
		return []Update{
			{UpdateID: 10, Message: &Message{MessageID: 1, Chat: Chat{ID: 1, Type: "private"}, Text: "hi"}},
			{UpdateID: 12, CallbackQuery: &CallbackQuery{ID: "cb", Data: "main"}},
		}, true
	})
	defer server.Close()

	client := NewClientWithBaseURL("token", server.URL, server.Client())
	updates, next, err := client.GetUpdates(context.Background(), 5, time.Second)
	if err != nil {
		t.Fatalf("GetUpdates: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("got %d updates", len(updates))
	}
	if next != 13 {
		t.Errorf("next offset = %d, want 13", next)
	}
	if updates[0].Message == nil || updates[0].Message.Text != "hi" {
		t.Errorf("message update not decoded: %+v", updates[0])
	}
	if updates[1].CallbackQuery == nil || updates[1].CallbackQuery.Data != "main" {
		t.Errorf("callback update not decoded: %+v", updates[1])
	}
}

func TestClientEditMessageText(t *testing.T) {
	var gotMessageID float64
	server := stubAPI(t, func(method string, body map[string]interface{}) (interface{}, bool) {
		if method == "editMessageText" {
			gotMessageID = body["message_id"].(float64)
		}
		return Message{MessageID: 7}, true
	})
	defer server.Close()

	client := NewClientWithBaseURL("token", server.URL, server.Client())
	if err := client.EditMessageText(context.Background(), 42, 7, "edited", nil); err != nil {
		t.Fatalf("EditMessageText: %v", err)
	}
	if gotMessageID != 7 {
		t.Errorf("message_id = %v, want 7", gotMessageID)
	}
}
