// Package testutil provides common test utilities and helpers for LeadPipe tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/BTreeMap/LeadPipe/internal/api"
	"github.com/BTreeMap/LeadPipe/internal/crm"
	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/metrics"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// TB is the subset of testing.TB the helpers need.
type TB interface {
	Helper()
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// TestEnv bundles a fully wired in-memory LeadPipe instance.
type TestEnv struct {
	Server   *api.Server
	Coord    *flow.Coordinator
	Store    *store.InMemoryStore
	Messages *messaging.LogService
	Leads    *crm.MockClient
	Timer    *flow.SimpleTimer
	Registry *prometheus.Registry
}

// NewTestEnv wires a coordinator and API server over in-memory dependencies.
// The caller must call Close.
func NewTestEnv(resetAfter time.Duration) *TestEnv {
	st := store.NewInMemoryStore()
	svc := messaging.NewLogService()
	leads := crm.NewMockClient()
	timer := flow.NewSimpleTimer()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	opts := []flow.CoordinatorOption{flow.WithMetrics(m), flow.WithOutbox(st)}
	if resetAfter > 0 {
		opts = append(opts, flow.WithResetAfter(resetAfter, timer))
	}
	coord := flow.NewCoordinator(st, svc, leads, opts...)
	router := messaging.NewInboundRouter(svc, coord, messaging.WithDedup(st), messaging.WithRouterMetrics(m))
	server := api.NewServer(coord, svc, api.WithRouter(router), api.WithGatherer(reg))

	return &TestEnv{
		Server:   server,
		Coord:    coord,
		Store:    st,
		Messages: svc,
		Leads:    leads,
		Timer:    timer,
		Registry: reg,
	}
}

// Close stops the timer and the messaging service.
func (e *TestEnv) Close() {
	e.Timer.Stop()
	e.Messages.Stop()
}

// Do serves req through the API handler.
func (e *TestEnv) Do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.Server.Handler().ServeHTTP(rr, req)
	return rr
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes the response envelope and validates its status field.
func AssertJSONResponse(t TB, rr *httptest.ResponseRecorder, expectedStatus models.APIStatus) models.APIResponse {
	t.Helper()
	var response models.APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
		return response
	}
	if response.Status != string(expectedStatus) {
		t.Errorf("expected status '%s', got '%s' (message %q)", expectedStatus, response.Status, response.Message)
	}
	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
		return nil
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// SeedHistory appends customer messages for sender directly to the ledger.
func SeedHistory(t TB, ledger store.HistoryLedger, sender string, texts ...string) {
	t.Helper()
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	for i, text := range texts {
		msg := models.Message{Sender: models.SenderCustomer, Text: text, Timestamp: base.Add(time.Duration(i) * time.Second)}
		if err := ledger.AppendMessage(sender, msg); err != nil {
			t.Fatalf("failed to seed history: %v", err)
			return
		}
	}
}

// AssertHistoryLength validates the number of records in a sender's history.
func AssertHistoryLength(t TB, ledger store.HistoryLedger, sender string, expected int, context string) {
	t.Helper()
	history, err := ledger.GetHistory(sender)
	if err != nil {
		t.Fatalf("%s: failed to get history: %v", context, err)
		return
	}
	if len(history) != expected {
		t.Errorf("%s: expected %d history records, got %d", context, expected, len(history))
	}
}

// AssertStage validates the stored stage of a sender's conversation.
func AssertStage(t TB, repo store.ConversationRepo, sender string, expected models.Stage) {
	t.Helper()
	conv, err := repo.GetConversation(sender)
	if err != nil {
		t.Fatalf("failed to get conversation: %v", err)
		return
	}
	got := models.StageInitial
	if conv != nil {
		got = conv.Stage
	}
	if got != expected {
		t.Errorf("expected stage %s for %s, got %s", expected, sender, got)
	}
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
