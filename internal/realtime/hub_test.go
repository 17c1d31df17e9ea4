package realtime

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testAuth(token string) (string, error) {
	if token == "valid-token" {
		return "user-1", nil
	}
	return "", errors.New("bad token")
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestLocalSubscribeReceivesPublishedEvents(t *testing.T) {
	hub := NewHub(testAuth)

	events, cancel := hub.Subscribe("doc-1")
	defer cancel()

	hub.Publish("doc-1", EventCommentAdded, map[string]string{"commentId": "c-1"})
	hub.Publish("doc-2", EventCommentAdded, map[string]string{"commentId": "c-2"})

	select {
	case envelope := <-events:
		if envelope.Type != EventCommentAdded || envelope.DocumentID != "doc-1" {
			t.Fatalf("unexpected envelope: %+v", envelope)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case envelope := <-events:
		t.Fatalf("received event for unsubscribed document: %+v", envelope)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeCancelDetaches(t *testing.T) {
	hub := NewHub(testAuth)

	_, cancel := hub.Subscribe("doc-1")
	if got := hub.SubscriberCount("doc-1"); got != 1 {
		t.Fatalf("expected 1 subscriber, got %d", got)
	}
	cancel()
	if got := hub.SubscriberCount("doc-1"); got != 0 {
		t.Fatalf("expected 0 subscribers after cancel, got %d", got)
	}
}

func TestWebSocketAuthenticateAndSubscribe(t *testing.T) {
	hub := NewHub(testAuth)
	server := httptest.NewServer(hub)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Messages before authenticate are rejected.
	if err := conn.WriteJSON(Envelope{Type: "subscribe", DocumentID: "doc-1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp Envelope
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Type != "error" {
		t.Fatalf("expected error before auth, got %+v", resp)
	}

	if err := conn.WriteJSON(Envelope{Type: "authenticate", Token: "valid-token"}); err != nil {
		t.Fatalf("write auth: %v", err)
	}
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read auth ack: %v", err)
	}
	if resp.Type != "authenticated" {
		t.Fatalf("expected authenticated, got %+v", resp)
	}

	if err := conn.WriteJSON(Envelope{Type: "subscribe", DocumentID: "doc-1"}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read subscribe ack: %v", err)
	}
	if resp.Type != "subscribed" || resp.DocumentID != "doc-1" {
		t.Fatalf("expected subscribed ack, got %+v", resp)
	}

	hub.Publish("doc-1", EventDocumentUpdate, map[string]any{"version": 2})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if resp.Type != EventDocumentUpdate || resp.DocumentID != "doc-1" {
		t.Fatalf("unexpected event: %+v", resp)
	}
}

func TestWebSocketRejectsInvalidToken(t *testing.T) {
	hub := NewHub(testAuth)
	server := httptest.NewServer(hub)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(Envelope{Type: "authenticate", Token: "wrong"}); err != nil {
		t.Fatalf("write auth: %v", err)
	}
	var resp Envelope
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Type != "error" {
		t.Fatalf("expected error envelope, got %+v", resp)
	}

	// Server closes the connection after a failed auth.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&resp); err == nil {
		t.Fatal("expected connection to be closed")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub(testAuth)
	server := httptest.NewServer(hub)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var resp Envelope
	conn.WriteJSON(Envelope{Type: "authenticate", Token: "valid-token"})
	conn.ReadJSON(&resp)
	conn.WriteJSON(Envelope{Type: "subscribe", DocumentID: "doc-1"})
	conn.ReadJSON(&resp)

	conn.WriteJSON(Envelope{Type: "unsubscribe", DocumentID: "doc-1"})
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read unsubscribe ack: %v", err)
	}
	if resp.Type != "unsubscribed" {
		t.Fatalf("expected unsubscribed ack, got %+v", resp)
	}
	if got := hub.SubscriberCount("doc-1"); got != 0 {
		t.Fatalf("expected no subscribers, got %d", got)
	}
}
