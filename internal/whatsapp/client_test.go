package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientSendTextFirstEndpoint(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"sent": true}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "tok-123", nil, time.Second, nil)
	resp, err := client.SendText(context.Background(), "393331234567", "ciao")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if !resp.OK() {
		t.Fatalf("expected 2xx, got %d", resp.StatusCode)
	}
	if gotPath != "/messages/text" {
		t.Errorf("expected first candidate path, got %s", gotPath)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
	if gotBody["to"] != "393331234567" || gotBody["body"] != "ciao" {
		t.Errorf("unexpected payload: %v", gotBody)
	}
}

func TestClientFallsBackOnTransportError(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	// First candidate points at a dead listener; second at the live server.
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	client := NewClient("", "tok", []string{dead.URL + "/messages/text", srv.URL + "/messages"}, time.Second, nil)

	resp, err := client.SendText(context.Background(), "393331234567", "ciao")
	if err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("unexpected status %d", resp.StatusCode)
	}
	if len(paths) != 1 || paths[0] != "/messages" {
		t.Errorf("expected only the fallback endpoint to be reached, got %v", paths)
	}
}

func TestClientStopsOnApplicationRejection(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": "bad token"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "bad-token", []string{"/messages/text", "/messages"}, time.Second, nil)
	resp, err := client.SendText(context.Background(), "393331234567", "ciao")
	if err != nil {
		t.Fatalf("application rejection is not a transport error: %v", err)
	}
	if resp.OK() {
		t.Error("expected rejection")
	}
	if hits != 1 {
		t.Errorf("a reachable endpoint must stop the walk, got %d hits", hits)
	}
}

func TestClientAllEndpointsDown(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close()

	client := NewClient(dead.URL, "tok", []string{"/a", "/b"}, time.Second, nil)
	if _, err := client.SendText(context.Background(), "393331234567", "ciao"); err == nil {
		t.Fatal("expected error when every endpoint is unreachable")
	}
}

func TestClientValidation(t *testing.T) {
	client := NewClient("https://gate.example", "", nil, 0, nil)
	if _, err := client.SendText(context.Background(), "393331234567", "x"); err == nil {
		t.Error("expected error without token")
	}
	client = NewClient("https://gate.example", "tok", nil, 0, nil)
	if _, err := client.SendText(context.Background(), "", "x"); err == nil {
		t.Error("expected error without recipient")
	}
}
