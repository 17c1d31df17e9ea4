// Package realtime fans document events out to WebSocket subscribers and
// provides a reconnecting client for Go consumers.
package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"trialsage/api/internal/util"

	"github.com/gorilla/websocket"
)

// Event types pushed to subscribers.
const (
	EventDocumentUpdate      = "document_update"
	EventCommentAdded        = "comment_added"
	EventWorkflowUpdate      = "workflow_update"
	EventCollaborationUpdate = "collaboration_update"
)

// Message types accepted from clients.
const (
	msgAuthenticate = "authenticate"
	msgSubscribe    = "subscribe"
	msgUnsubscribe  = "unsubscribe"
)

// Envelope is the wire format in both directions.
type Envelope struct {
	Type       string          `json:"type"`
	DocumentID string          `json:"documentId,omitempty"`
	Token      string          `json:"token,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// AuthFunc validates a client token and returns the user id.
type AuthFunc func(token string) (userID string, err error)

type subscriber struct {
	id     string
	userID string
	send   chan Envelope

	mu   sync.Mutex
	docs map[string]struct{}
}

type Hub struct {
	auth     AuthFunc
	upgrader websocket.Upgrader

	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

func NewHub(auth AuthFunc) *Hub {
	return &Hub{
		auth: auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		subs: make(map[string]map[*subscriber]struct{}),
	}
}

// Publish delivers an event to every subscriber of the document. Slow
// subscribers are skipped rather than blocking the publisher.
func (h *Hub) Publish(documentID, eventType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("realtime: marshal event: %v", err)
		return
	}
	envelope := Envelope{Type: eventType, DocumentID: documentID, Data: payload}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[documentID] {
		select {
		case sub.send <- envelope:
		default:
		}
	}
}

// Subscribe registers an in-process consumer for a document's events. The
// returned cancel func must be called to release the subscription.
func (h *Hub) Subscribe(documentID string) (<-chan Envelope, func()) {
	sub := &subscriber{
		id:   util.NewID("sub"),
		send: make(chan Envelope, 32),
		docs: map[string]struct{}{documentID: {}},
	}
	h.attach(documentID, sub)

	cancel := func() {
		h.detachAll(sub)
		close(sub.send)
	}
	return sub.send, cancel
}

func (h *Hub) attach(documentID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[documentID] == nil {
		h.subs[documentID] = make(map[*subscriber]struct{})
	}
	h.subs[documentID][sub] = struct{}{}
}

func (h *Hub) detach(documentID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[documentID], sub)
	if len(h.subs[documentID]) == 0 {
		delete(h.subs, documentID)
	}
}

func (h *Hub) detachAll(sub *subscriber) {
	sub.mu.Lock()
	docs := make([]string, 0, len(sub.docs))
	for doc := range sub.docs {
		docs = append(docs, doc)
	}
	sub.docs = map[string]struct{}{}
	sub.mu.Unlock()

	for _, doc := range docs {
		h.detach(doc, sub)
	}
}

// SubscriberCount reports how many connections watch a document.
func (h *Hub) SubscriberCount(documentID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[documentID])
}

// ServeHTTP upgrades the connection and runs the subscriber loop. The first
// message must be an authenticate envelope; everything before that is
// rejected.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("realtime: upgrade: %v", err)
		return
	}

	sub := &subscriber{
		id:   util.NewID("sub"),
		send: make(chan Envelope, 32),
		docs: make(map[string]struct{}),
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.writeLoop(ctx, conn, sub)
	h.readLoop(conn, sub)

	h.detachAll(sub)
	cancel()
	conn.Close()
}

func (h *Hub) readLoop(conn *websocket.Conn, sub *subscriber) {
	authed := false
	for {
		var envelope Envelope
		if err := conn.ReadJSON(&envelope); err != nil {
			return
		}

		if !authed {
			if envelope.Type != msgAuthenticate {
				h.reply(sub, Envelope{Type: "error", Data: errorData("authenticate first")})
				continue
			}
			userID, err := h.auth(envelope.Token)
			if err != nil {
				h.reply(sub, Envelope{Type: "error", Data: errorData("invalid token")})
				return
			}
			sub.userID = userID
			authed = true
			h.reply(sub, Envelope{Type: "authenticated"})
			continue
		}

		switch envelope.Type {
		case msgSubscribe:
			if envelope.DocumentID == "" {
				h.reply(sub, Envelope{Type: "error", Data: errorData("documentId required")})
				continue
			}
			sub.mu.Lock()
			sub.docs[envelope.DocumentID] = struct{}{}
			sub.mu.Unlock()
			h.attach(envelope.DocumentID, sub)
			h.reply(sub, Envelope{Type: "subscribed", DocumentID: envelope.DocumentID})
		case msgUnsubscribe:
			sub.mu.Lock()
			delete(sub.docs, envelope.DocumentID)
			sub.mu.Unlock()
			h.detach(envelope.DocumentID, sub)
			h.reply(sub, Envelope{Type: "unsubscribed", DocumentID: envelope.DocumentID})
		default:
			h.reply(sub, Envelope{Type: "error", Data: errorData("unknown message type")})
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, conn *websocket.Conn, sub *subscriber) {
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case envelope, ok := <-sub.send:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(envelope); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) reply(sub *subscriber, envelope Envelope) {
	select {
	case sub.send <- envelope:
	default:
	}
}

func errorData(message string) json.RawMessage {
	payload, _ := json.Marshal(map[string]string{"message": message})
	return payload
}
