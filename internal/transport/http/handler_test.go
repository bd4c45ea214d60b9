package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"quiz-attempt-service/internal/app"
	"quiz-attempt-service/internal/infra/memory"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	service := app.NewAttemptService(
		memory.NewParticipantStore(),
		3,
		time.UTC,
		zap.NewNop(),
		app.WithClock(func() time.Time {
			return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		}),
	)
	mux := http.NewServeMux()
	NewHandler(service, nil, zap.NewNop()).Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestRecordAttemptStatusCodes(t *testing.T) {
	server := newTestServer(t)
	url := server.URL + "/attempts/record"

	// First-ever record creates the participant.
	resp := postJSON(t, url, map[string]string{"name": "Alice", "email": "a@x.com"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 on first record, got %d", resp.StatusCode)
	}
	var first struct {
		Success         bool `json:"success"`
		CurrentAttempts int  `json:"currentAttempts"`
	}
	decodeBody(t, resp, &first)
	if !first.Success || first.CurrentAttempts != 1 {
		t.Fatalf("unexpected first response %+v", first)
	}

	for i := 2; i <= 3; i++ {
		resp = postJSON(t, url, map[string]string{"name": "Alice", "email": "a@x.com"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200 on record %d, got %d", i, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp = postJSON(t, url, map[string]string{"name": "Alice", "email": "a@x.com"})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 at cap, got %d", resp.StatusCode)
	}
	var rejected struct {
		Success          bool  `json:"success"`
		CurrentAttempts  int   `json:"currentAttempts"`
		TimeUntilResetMs int64 `json:"timeUntilReset"`
	}
	decodeBody(t, resp, &rejected)
	if rejected.Success || rejected.CurrentAttempts != 3 || rejected.TimeUntilResetMs <= 0 {
		t.Fatalf("unexpected 429 payload %+v", rejected)
	}
}

func TestRecordAttemptValidation(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/attempts/record", map[string]string{"name": "NoEmail"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without email, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, server.URL+"/attempts/record", map[string]string{"email": "x@x.com"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without name, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCheckAttemptsEndpoint(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/attempts/check", map[string]string{"email": "fresh@x.com"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var status struct {
		CanAttempt        bool  `json:"canAttempt"`
		RemainingAttempts int   `json:"remainingAttempts"`
		MaxAttempts       int   `json:"maxAttempts"`
		TimeUntilResetMs  int64 `json:"timeUntilReset"`
	}
	decodeBody(t, resp, &status)
	if !status.CanAttempt || status.RemainingAttempts != 3 || status.MaxAttempts != 3 {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.TimeUntilResetMs != (12 * time.Hour).Milliseconds() {
		t.Fatalf("expected 12h until reset, got %d", status.TimeUntilResetMs)
	}
}

func TestScoreEndpoint(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/attempts/score", map[string]any{
		"email": "ghost@x.com", "score": 5, "total": 10,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 before any attempt, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, server.URL+"/attempts/record", map[string]string{"name": "Eve", "email": "e@x.com"})
	resp.Body.Close()

	resp = postJSON(t, server.URL+"/attempts/score", map[string]any{
		"email": "e@x.com",
		"score": 8,
		"total": 10,
		"roundTimings": []map[string]any{
			{"roundName": "round-1", "secondsTaken": 30},
			{"roundName": "round-2", "secondsTaken": 45},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var summary struct {
		Score     int `json:"score"`
		Total     int `json:"total"`
		TimeTaken int `json:"timeTaken"`
	}
	decodeBody(t, resp, &summary)
	if summary.Score != 8 || summary.Total != 10 || summary.TimeTaken != 75 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestExistsAndListEndpoints(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/participants/exists?email=nobody@x.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	var exists struct {
		Exists bool `json:"exists"`
	}
	decodeBody(t, resp, &exists)
	if exists.Exists {
		t.Fatalf("expected exists=false for unknown email")
	}

	postJSON(t, server.URL+"/attempts/record", map[string]string{"name": "Bob", "email": "b@x.com"}).Body.Close()

	resp, err = http.Get(server.URL + "/participants/exists?email=B@X.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	decodeBody(t, resp, &exists)
	if !exists.Exists {
		t.Fatalf("expected exists=true after record, case-insensitive")
	}

	resp, err = http.Get(server.URL + "/participants")
	if err != nil {
		t.Fatalf("get list: %v", err)
	}
	var list []struct {
		Email string `json:"email"`
	}
	decodeBody(t, resp, &list)
	if len(list) != 1 || list[0].Email != "b@x.com" {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestCertificateEndpointUnconfigured(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/certificate/send", map[string]string{"name": "A", "email": "a@x.com"})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when no certificate service configured, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
