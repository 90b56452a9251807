package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/calyxhealth/remindd/internal/adherence"
	"github.com/calyxhealth/remindd/internal/callflow"
	"github.com/calyxhealth/remindd/internal/store"
)

type fakeFlow struct {
	voiceDoc  string
	gatherDoc string

	startErr  error
	statusErr error

	startedNumbers []string
	voiceCalls     []int
	gatherCalls    []string
	statusEvents   []callflow.StatusEvent
}

func (f *fakeFlow) StartCall(ctx context.Context, patientNumber string) (*store.CallSession, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.startedNumbers = append(f.startedNumbers, patientNumber)
	return &store.CallSession{
		CallID:          "CAtest",
		RequestID:       "req-1",
		PatientNumber:   patientNumber,
		Status:          store.StatusInitiated,
		AdherenceStatus: adherence.StatusUnknown,
	}, nil
}

func (f *fakeFlow) Voice(ctx context.Context, callID string, retryCount int) string {
	f.voiceCalls = append(f.voiceCalls, retryCount)
	return f.voiceDoc
}

func (f *fakeFlow) Gather(ctx context.Context, callID, transcript string, retryCount int) string {
	f.gatherCalls = append(f.gatherCalls, transcript)
	return f.gatherDoc
}

func (f *fakeFlow) Status(ctx context.Context, ev callflow.StatusEvent) error {
	if f.statusErr != nil {
		return f.statusErr
	}
	f.statusEvents = append(f.statusEvents, ev)
	return nil
}

func newTestServer(t *testing.T, cfg *Config) (*Server, *fakeFlow, store.Store) {
	t.Helper()
	flow := &fakeFlow{
		voiceDoc:  "<Response><Gather/></Response>",
		gatherDoc: "<Response><Say>thanks</Say></Response>",
	}
	st := store.NewMemory()
	s, err := NewServer(flow, st, zap.NewNop(), cfg)
	require.NoError(t, err)
	return s, flow, st
}

func postForm(s *Server, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set(echoContentType, "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

const echoContentType = "Content-Type"

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(nil, store.NewMemory(), zap.NewNop(), nil)
	assert.Error(t, err)

	_, err = NewServer(&fakeFlow{}, nil, zap.NewNop(), nil)
	assert.Error(t, err)

	_, err = NewServer(&fakeFlow{}, store.NewMemory(), nil, nil)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVoiceWebhook(t *testing.T) {
	s, flow, _ := newTestServer(t, nil)

	rec := postForm(s, "/webhooks/voice?retry=1", url.Values{"CallSid": {"CA1"}})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/xml")
	assert.Equal(t, flow.voiceDoc, rec.Body.String())
	require.Len(t, flow.voiceCalls, 1)
	assert.Equal(t, 1, flow.voiceCalls[0])
}

func TestVoiceWebhookMissingCallSid(t *testing.T) {
	s, flow, _ := newTestServer(t, nil)

	rec := postForm(s, "/webhooks/voice", url.Values{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, flow.voiceCalls)
}

func TestVoiceWebhookMalformedRetryDefaultsToZero(t *testing.T) {
	s, flow, _ := newTestServer(t, nil)

	rec := postForm(s, "/webhooks/voice?retry=banana", url.Values{"CallSid": {"CA1"}})

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, flow.voiceCalls, 1)
	assert.Equal(t, 0, flow.voiceCalls[0])
}

func TestGatherWebhook(t *testing.T) {
	s, flow, _ := newTestServer(t, nil)

	rec := postForm(s, "/webhooks/gather?retry=2", url.Values{
		"CallSid":      {"CA1"},
		"SpeechResult": {"yes I took my pills"},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, flow.gatherDoc, rec.Body.String())
	require.Len(t, flow.gatherCalls, 1)
	assert.Equal(t, "yes I took my pills", flow.gatherCalls[0])
}

func TestStatusWebhook(t *testing.T) {
	s, flow, _ := newTestServer(t, nil)

	rec := postForm(s, "/webhooks/status", url.Values{
		"CallSid":      {"CA1"},
		"CallStatus":   {"completed"},
		"AnsweredBy":   {"human"},
		"CallDuration": {"37"},
		"To":           {"+15551234567"},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, flow.statusEvents, 1)
	ev := flow.statusEvents[0]
	assert.Equal(t, "CA1", ev.CallID)
	assert.Equal(t, "completed", ev.CallStatus)
	assert.Equal(t, "human", ev.AnsweredBy)
	assert.Equal(t, 37, ev.Duration)
	assert.Equal(t, "+15551234567", ev.To)
}

func TestStatusWebhookError(t *testing.T) {
	s, flow, _ := newTestServer(t, nil)
	flow.statusErr = errors.New("store down")

	rec := postForm(s, "/webhooks/status", url.Values{
		"CallSid":    {"CA1"},
		"CallStatus": {"failed"},
	})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStartCall(t *testing.T) {
	s, flow, _ := newTestServer(t, nil)

	body := strings.NewReader(`{"patient_number":"+15551234567"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/calls", body)
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)

	var resp StartCallResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "CAtest", resp.CallID)
	assert.Equal(t, "initiated", resp.Status)
	require.Len(t, flow.startedNumbers, 1)
}

func TestStartCallMissingNumber(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/calls", strings.NewReader(`{}`))
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartCallInvalidNumber(t *testing.T) {
	s, flow, _ := newTestServer(t, nil)
	flow.startErr = callflow.ErrInvalidNumber

	body := strings.NewReader(`{"patient_number":"555-1234"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/calls", body)
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartCallGatewayFailure(t *testing.T) {
	s, flow, _ := newTestServer(t, nil)
	flow.startErr = errors.New("provider unreachable")

	body := strings.NewReader(`{"patient_number":"+15551234567"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/calls", body)
	req.Header.Set(echoContentType, "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestListCalls(t *testing.T) {
	s, _, st := newTestServer(t, nil)

	for _, id := range []string{"CA1", "CA2", "CA3"} {
		require.NoError(t, st.Create(context.Background(), &store.CallSession{
			CallID:          id,
			PatientNumber:   "+15551234567",
			Status:          store.StatusCompleted,
			AdherenceStatus: adherence.StatusFull,
			CreatedAt:       time.Now().UTC(),
		}))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/calls?page=1&limit=2", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ListCallsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Total)
	assert.Len(t, resp.Calls, 2)
	assert.Equal(t, 1, resp.Page)
	assert.Equal(t, 2, resp.Limit)
}

func TestGetCall(t *testing.T) {
	s, _, st := newTestServer(t, nil)

	require.NoError(t, st.Create(context.Background(), &store.CallSession{
		CallID:          "CA1",
		PatientNumber:   "+15551234567",
		Status:          store.StatusAnswered,
		AdherenceStatus: adherence.StatusPartial,
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/calls/CA1", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var sess store.CallSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, "CA1", sess.CallID)
	assert.Equal(t, adherence.StatusPartial, sess.AdherenceStatus)
}

func TestGetCallNotFound(t *testing.T) {
	s, _, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/calls/CAmissing", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWebhookLogsCarryCallContext(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	flow := &fakeFlow{statusErr: errors.New("store down")}
	s, err := NewServer(flow, store.NewMemory(), zap.New(core), nil)
	require.NoError(t, err)

	rec := postForm(s, "/webhooks/status", url.Values{
		"CallSid":    {"CA1"},
		"CallStatus": {"failed"},
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	entries := logs.FilterMessage("status event handling failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "CA1", fields["call_sid"])
	assert.NotEmpty(t, fields["request_id"])
}

func TestWebhookContextSkipsMalformedCallSid(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	flow := &fakeFlow{statusErr: errors.New("store down")}
	s, err := NewServer(flow, store.NewMemory(), zap.New(core), nil)
	require.NoError(t, err)

	rec := postForm(s, "/webhooks/status", url.Values{
		"CallSid":    {"CA1;drop table"},
		"CallStatus": {"failed"},
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	entries := logs.FilterMessage("status event handling failed").All()
	require.Len(t, entries, 1)
	_, ok := entries[0].ContextMap()["call_sid"]
	assert.False(t, ok)
}

func TestWebhookRateLimit(t *testing.T) {
	s, _, _ := newTestServer(t, &Config{
		Host:      "localhost",
		Port:      8080,
		RateLimit: rate.Limit(1),
		RateBurst: 1,
	})

	form := url.Values{"CallSid": {"CA1"}}
	first := postForm(s, "/webhooks/voice", form)
	second := postForm(s, "/webhooks/voice", form)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestRateLimitDoesNotApplyToAPI(t *testing.T) {
	s, _, _ := newTestServer(t, &Config{
		Host:      "localhost",
		Port:      8080,
		RateLimit: rate.Limit(1),
		RateBurst: 1,
	})

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
