package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/downloadnotifier/downloadnotifier/internal/notification/types"
)

func newTestEvent() types.CompletionEvent {
	return types.CompletionEvent{
		Path:         "/home/user/Downloads/ubuntu-24.04-desktop-amd64.iso",
		Name:         "ubuntu-24.04-desktop-amd64.iso",
		Size:         6114656256,
		ExpectedSize: 6114656256,
		ContentType:  "application/x-iso9660-image",
		SessionID:    "2b1e7a52-5d0f-4d1c-9a0b-6f1f1c2b3d4e",
		FirstSeenAt:  time.Date(2024, 4, 25, 10, 0, 0, 0, time.UTC),
		CompletedAt:  time.Date(2024, 4, 25, 10, 12, 30, 0, time.UTC),
	}
}

type capturedRequest struct {
	Payload Payload
	Headers http.Header
	Method  string
}

func setupTestServer(t *testing.T, captured *capturedRequest) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Method = r.Method
		captured.Headers = r.Header
		if err := json.NewDecoder(r.Body).Decode(&captured.Payload); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func TestNotifier_Type(t *testing.T) {
	n := New("test", Settings{}, nil, zerolog.Nop())
	if n.Type() != types.NotifierWebhook {
		t.Errorf("expected type %s, got %s", types.NotifierWebhook, n.Type())
	}
}

func TestNotifier_Name(t *testing.T) {
	n := New("my-webhook", Settings{}, nil, zerolog.Nop())
	if n.Name() != "my-webhook" {
		t.Errorf("expected name 'my-webhook', got %s", n.Name())
	}
}

func TestNotifier_DefaultMethod(t *testing.T) {
	n := New("test", Settings{}, nil, zerolog.Nop())
	if n.settings.Method != "POST" {
		t.Errorf("expected default method POST, got %s", n.settings.Method)
	}
}

func TestNotifier_Test(t *testing.T) {
	var captured capturedRequest
	server := setupTestServer(t, &captured)
	defer server.Close()

	n := New("test", Settings{URL: server.URL}, http.DefaultClient, zerolog.Nop())

	if err := n.Test(context.Background()); err != nil {
		t.Fatalf("Test() error = %v", err)
	}

	if captured.Payload.EventType != "test" {
		t.Errorf("expected event type 'test', got %s", captured.Payload.EventType)
	}
	if captured.Payload.InstanceName != "DownloadNotifier" {
		t.Errorf("expected instance name 'DownloadNotifier', got %s", captured.Payload.InstanceName)
	}
	if captured.Payload.Download != nil {
		t.Error("test payload should not carry a download")
	}
}

func TestNotifier_OnComplete(t *testing.T) {
	var captured capturedRequest
	server := setupTestServer(t, &captured)
	defer server.Close()

	n := New("test", Settings{URL: server.URL}, http.DefaultClient, zerolog.Nop())
	event := newTestEvent()

	if err := n.OnComplete(context.Background(), event); err != nil {
		t.Fatalf("OnComplete() error = %v", err)
	}

	p := captured.Payload
	if p.EventType != "download.complete" {
		t.Errorf("expected event type 'download.complete', got %s", p.EventType)
	}
	if p.SessionID != event.SessionID {
		t.Errorf("expected session id %s, got %s", event.SessionID, p.SessionID)
	}
	if !p.Timestamp.Equal(event.CompletedAt) {
		t.Errorf("expected timestamp %v, got %v", event.CompletedAt, p.Timestamp)
	}
	if p.Download == nil {
		t.Fatal("expected download in payload")
	}
	if p.Download.Path != event.Path {
		t.Errorf("expected path %s, got %s", event.Path, p.Download.Path)
	}
	if p.Download.Name != event.Name {
		t.Errorf("expected name %s, got %s", event.Name, p.Download.Name)
	}
	if p.Download.Size != event.Size {
		t.Errorf("expected size %d, got %d", event.Size, p.Download.Size)
	}
	if p.Download.ExpectedSize != event.ExpectedSize {
		t.Errorf("expected expectedSize %d, got %d", event.ExpectedSize, p.Download.ExpectedSize)
	}
	if p.Download.ContentType != event.ContentType {
		t.Errorf("expected content type %s, got %s", event.ContentType, p.Download.ContentType)
	}
}

func TestNotifier_CustomMethod(t *testing.T) {
	var captured capturedRequest
	server := setupTestServer(t, &captured)
	defer server.Close()

	n := New("test", Settings{
		URL:    server.URL,
		Method: "PUT",
	}, http.DefaultClient, zerolog.Nop())

	if err := n.Test(context.Background()); err != nil {
		t.Fatalf("Test() error = %v", err)
	}

	if captured.Method != "PUT" {
		t.Errorf("expected method PUT, got %s", captured.Method)
	}
}

func TestNotifier_BasicAuth(t *testing.T) {
	var captured capturedRequest
	server := setupTestServer(t, &captured)
	defer server.Close()

	n := New("test", Settings{
		URL:      server.URL,
		Username: "testuser",
		Password: "testpass",
	}, http.DefaultClient, zerolog.Nop())

	if err := n.OnComplete(context.Background(), newTestEvent()); err != nil {
		t.Fatalf("OnComplete() error = %v", err)
	}

	auth := captured.Headers.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		t.Errorf("expected Basic auth header, got %s", auth)
	}
}

func TestNotifier_CustomHeaders(t *testing.T) {
	var captured capturedRequest
	server := setupTestServer(t, &captured)
	defer server.Close()

	n := New("test", Settings{
		URL: server.URL,
		Headers: map[string]string{
			"X-Custom-Header": "custom-value",
			"X-API-Key":       "secret-key",
		},
	}, http.DefaultClient, zerolog.Nop())

	if err := n.Test(context.Background()); err != nil {
		t.Fatalf("Test() error = %v", err)
	}

	if captured.Headers.Get("X-Custom-Header") != "custom-value" {
		t.Errorf("expected custom header, got %s", captured.Headers.Get("X-Custom-Header"))
	}
	if captured.Headers.Get("X-API-Key") != "secret-key" {
		t.Errorf("expected API key header, got %s", captured.Headers.Get("X-API-Key"))
	}
}

func TestNotifier_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	n := New("test", Settings{URL: server.URL}, http.DefaultClient, zerolog.Nop())

	err := n.OnComplete(context.Background(), newTestEvent())
	if err == nil {
		t.Fatal("expected error for HTTP 400 response")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("expected error to contain status code, got %v", err)
	}
}

func TestNotifier_ContentType(t *testing.T) {
	var captured capturedRequest
	server := setupTestServer(t, &captured)
	defer server.Close()

	n := New("test", Settings{URL: server.URL}, http.DefaultClient, zerolog.Nop())

	if err := n.Test(context.Background()); err != nil {
		t.Fatalf("Test() error = %v", err)
	}

	ct := captured.Headers.Get("Content-Type")
	if ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}
}
