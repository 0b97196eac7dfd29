package util

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRequestLogRecordsStatusAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	h := WithRequestID(WithRequestLog("circulation", nil, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"no copies"}`))
	})))
	req := httptest.NewRequest(http.MethodPost, "/api/circulation/issue", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	req.RemoteAddr = "198.51.100.4:5555"
	h.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if entry["status"] != float64(http.StatusConflict) {
		t.Fatalf("status = %v", entry["status"])
	}
	if entry["request_id"] != "req-1" || entry["client_ip"] != "198.51.100.4" {
		t.Fatalf("unexpected log entry: %v", entry)
	}
	if entry["bytes"] != float64(len(`{"error":"no copies"}`)) {
		t.Fatalf("bytes = %v", entry["bytes"])
	}
}
