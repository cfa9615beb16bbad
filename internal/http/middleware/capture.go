package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/enercall/webhook-relay/internal/audit"
)

// maxCaptureBytes bounds how much of a request body the recorder keeps.
const maxCaptureBytes = 1 << 20

// Capture snapshots each request into the in-memory recorder before the
// handler runs, restoring the body so downstream readers see it intact.
func Capture(recorder audit.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if recorder == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var raw []byte
			if r.Body != nil {
				raw, _ = io.ReadAll(io.LimitReader(r.Body, maxCaptureBytes))
				_ = r.Body.Close()
				r.Body = io.NopCloser(bytes.NewReader(raw))
			}

			entry := audit.Entry{
				Method:    r.Method,
				Path:      r.URL.Path,
				Headers:   marshalHeaders(r.Header),
				Query:     marshalQuery(r),
				RawBody:   string(raw),
				IP:        clientIP(r),
				UserAgent: r.UserAgent(),
				Direction: audit.DirectionInbound,
				CreatedAt: time.Now().UTC(),
			}
			if json.Valid(raw) {
				entry.Body = json.RawMessage(raw)
			}
			recorder.Record(entry)

			next.ServeHTTP(w, r)
		})
	}
}

func marshalHeaders(h http.Header) json.RawMessage {
	flat := make(map[string]string, len(h))
	for k := range h {
		flat[k] = h.Get(k)
	}
	out, err := json.Marshal(flat)
	if err != nil {
		return nil
	}
	return out
}

func marshalQuery(r *http.Request) json.RawMessage {
	q := r.URL.Query()
	if len(q) == 0 {
		return nil
	}
	flat := make(map[string]string, len(q))
	for k := range q {
		flat[k] = q.Get(k)
	}
	out, err := json.Marshal(flat)
	if err != nil {
		return nil
	}
	return out
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
