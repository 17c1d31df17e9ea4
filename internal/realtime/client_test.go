package realtime

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestClientConnectSubscribeReceive(t *testing.T) {
	hub := NewHub(testAuth)
	server := httptest.NewServer(hub)
	defer server.Close()

	client := NewClient(ClientConfig{
		URL:       wsURL(server),
		Token:     "valid-token",
		BaseDelay: 10 * time.Millisecond,
	})
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if client.State() != StateConnected {
		t.Fatalf("expected connected state, got %v", client.State())
	}

	if err := client.Subscribe("doc-1"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	// Wait for the subscribe ack before publishing.
	waitForEnvelope(t, client, "subscribed")

	hub.Publish("doc-1", EventWorkflowUpdate, map[string]string{"state": "approved"})
	envelope := waitForEnvelope(t, client, EventWorkflowUpdate)
	if envelope.DocumentID != "doc-1" {
		t.Fatalf("unexpected envelope: %+v", envelope)
	}
}

func TestClientRejectedByBadToken(t *testing.T) {
	hub := NewHub(testAuth)
	server := httptest.NewServer(hub)
	defer server.Close()

	client := NewClient(ClientConfig{URL: wsURL(server), Token: "wrong"})
	defer client.Close()

	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("expected connect to fail with bad token")
	}
	if client.State() != StateDisconnected {
		t.Fatalf("expected disconnected state, got %v", client.State())
	}
}

func TestClientReconnectsAndResubscribes(t *testing.T) {
	hub := NewHub(testAuth)
	server := httptest.NewServer(hub)
	defer server.Close()

	client := NewClient(ClientConfig{
		URL:         wsURL(server),
		Token:       "valid-token",
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    50 * time.Millisecond,
		MaxAttempts: 20,
	})
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := client.Subscribe("doc-1"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	waitForEnvelope(t, client, "subscribed")

	// Drop the server connection out from under the client.
	client.mu.Lock()
	client.conn.Close()
	client.mu.Unlock()

	waitForEnvelope(t, client, "reconnected")

	// The resubscribe happens during dial; give the hub a moment to attach.
	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount("doc-1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected resubscription after reconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Publish("doc-1", EventDocumentUpdate, map[string]int{"version": 3})
	waitForEnvelope(t, client, EventDocumentUpdate)
}

func TestClientSubscribeDuringReconnectReplay(t *testing.T) {
	hub := NewHub(testAuth)
	server := httptest.NewServer(hub)
	defer server.Close()

	client := NewClient(ClientConfig{
		URL:         wsURL(server),
		Token:       "valid-token",
		BaseDelay:   5 * time.Millisecond,
		MaxDelay:    20 * time.Millisecond,
		MaxAttempts: 20,
	})
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// Seed enough subscriptions that the reconnect replay writes a burst of
	// frames on the fresh connection.
	for i := 0; i < 20; i++ {
		if err := client.Subscribe(fmt.Sprintf("doc-%d", i)); err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}
	}

	// Drop the connection, then subscribe and unsubscribe from other
	// goroutines while the replay is still writing. Writes must be
	// serialized; the connection allows only one writer at a time.
	client.mu.Lock()
	client.conn.Close()
	client.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				id := fmt.Sprintf("extra-%d-%d", i, j)
				if err := client.Subscribe(id); err != nil {
					return
				}
				client.Unsubscribe(id)
			}
		}(i)
	}

	waitForEnvelope(t, client, "reconnected")
	wg.Wait()

	if client.State() != StateConnected {
		t.Fatalf("expected connected state after replay, got %v", client.State())
	}
}

func TestClientGivesUpAfterMaxAttempts(t *testing.T) {
	hub := NewHub(testAuth)
	server := httptest.NewServer(hub)

	client := NewClient(ClientConfig{
		URL:         wsURL(server),
		Token:       "valid-token",
		BaseDelay:   5 * time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		MaxAttempts: 3,
	})
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// Kill the server entirely so every reconnect attempt fails. Close only
	// stops the listener; the hijacked WebSocket connection must be severed
	// explicitly.
	server.Close()
	client.mu.Lock()
	client.conn.Close()
	client.mu.Unlock()

	waitForEnvelope(t, client, "connection_lost")

	// The events channel closes once the budget is spent.
	select {
	case _, ok := <-client.Events():
		if ok {
			t.Fatal("expected events channel to be closed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestNextDelayIsBounded(t *testing.T) {
	delay := 100 * time.Millisecond
	max := 400 * time.Millisecond

	delay = nextDelay(delay, max)
	if delay != 200*time.Millisecond {
		t.Fatalf("expected 200ms, got %v", delay)
	}
	delay = nextDelay(delay, max)
	if delay != 400*time.Millisecond {
		t.Fatalf("expected 400ms, got %v", delay)
	}
	delay = nextDelay(delay, max)
	if delay != max {
		t.Fatalf("expected delay capped at %v, got %v", max, delay)
	}
}

func waitForEnvelope(t *testing.T, client *Client, wantType string) Envelope {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case envelope, ok := <-client.Events():
			if !ok {
				t.Fatalf("events channel closed while waiting for %s", wantType)
			}
			if envelope.Type == wantType {
				return envelope
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s envelope", wantType)
		}
	}
}
