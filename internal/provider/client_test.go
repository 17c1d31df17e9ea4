package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPostDecodesJSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("expected json content type, got %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Errorf("expected auth header, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"gen-1","text":"draft"}`))
	}))
	defer server.Close()

	client := New(server.URL, WithHeader("Authorization", "Bearer key-1"))

	var out struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	}
	err := client.Post(context.Background(), "/v1/generate", map[string]string{"prompt": "x"}, &out)
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if out.ID != "gen-1" || out.Text != "draft" {
		t.Fatalf("unexpected response: %+v", out)
	}
}

func TestErrorMessageExtraction(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "top level message", body: `{"message":"quota exceeded"}`, want: "quota exceeded"},
		{name: "string error", body: `{"error":"bad model"}`, want: "bad model"},
		{name: "nested error message", body: `{"error":{"message":"invalid key"}}`, want: "invalid key"},
		{name: "opaque body falls back to status text", body: `<html>oops</html>`, want: "Too Many Requests"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(tc.body))
			}))
			defer server.Close()

			client := New(server.URL)
			err := client.Get(context.Background(), "/v1/models", nil)

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.Status != http.StatusTooManyRequests {
				t.Fatalf("expected 429, got %d", apiErr.Status)
			}
			if apiErr.Message != tc.want {
				t.Fatalf("expected message %q, got %q", tc.want, apiErr.Message)
			}
		})
	}
}

func TestContextCancellationAborts(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := New(server.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := client.Get(ctx, "/slow", nil)
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Fatalf("expected transport error, got APIError %v", apiErr)
	}
}

func TestEmptyResponseBodyIsAccepted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := New(server.URL)
	var out map[string]any
	if err := client.Get(context.Background(), "/empty", &out); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if err := client.Delete(context.Background(), "/empty"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
}
