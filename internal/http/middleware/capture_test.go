package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/enercall/webhook-relay/internal/audit"
)

func TestCaptureRecordsAndRestoresBody(t *testing.T) {
	ring := audit.NewRingBuffer(10)
	mw := Capture(ring)

	var seenBody string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		seenBody = string(raw)
	}))

	body := `{"call_id": "c-1"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook?src=test", strings.NewReader(body))
	req.Header.Set("User-Agent", "CloudTalk/1.0")
	req.RemoteAddr = "10.0.0.7:51234"
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if seenBody != body {
		t.Fatalf("handler must see the original body, got %q", seenBody)
	}
	recent := ring.Recent()
	if len(recent) != 1 {
		t.Fatalf("expected one captured entry, got %d", len(recent))
	}
	entry := recent[0]
	if entry.Method != http.MethodPost || entry.Path != "/webhook" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.RawBody != body || string(entry.Body) != body {
		t.Errorf("body not captured: raw=%q body=%q", entry.RawBody, entry.Body)
	}
	if entry.UserAgent != "CloudTalk/1.0" {
		t.Errorf("unexpected user agent %q", entry.UserAgent)
	}
	if entry.IP != "10.0.0.7" {
		t.Errorf("unexpected ip %q", entry.IP)
	}
	if entry.Direction != audit.DirectionInbound {
		t.Errorf("unexpected direction %q", entry.Direction)
	}
	if !strings.Contains(string(entry.Query), `"src":"test"`) {
		t.Errorf("query not captured: %s", entry.Query)
	}
}

func TestCaptureNonJSONBody(t *testing.T) {
	ring := audit.NewRingBuffer(10)
	handler := Capture(ring)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("not json"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	entry := ring.Recent()[0]
	if entry.RawBody != "not json" {
		t.Errorf("raw body not kept: %q", entry.RawBody)
	}
	if entry.Body != nil {
		t.Errorf("invalid JSON must not populate the structured body, got %s", entry.Body)
	}
}

func TestCaptureForwardedFor(t *testing.T) {
	ring := audit.NewRingBuffer(10)
	handler := Capture(ring)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodPost, "/webhook", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got := ring.Recent()[0].IP; got != "203.0.113.9" {
		t.Errorf("expected first forwarded address, got %q", got)
	}
}

func TestCaptureNilRecorderPassesThrough(t *testing.T) {
	called := false
	handler := Capture(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	if !called {
		t.Fatal("expected handler to run")
	}
}
