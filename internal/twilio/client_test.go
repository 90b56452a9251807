package twilio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyxhealth/remindd/internal/config"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(config.TwilioConfig{
		AccountSID: "AC123",
		AuthToken:  "token",
		FromNumber: "+15005550006",
		BaseURL:    srv.URL,
	})
	require.NoError(t, err)
	return client
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient(config.TwilioConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account SID is required")

	_, err = NewClient(config.TwilioConfig{AccountSID: "AC123"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth token is required")

	_, err = NewClient(config.TwilioConfig{
		AccountSID: "AC123",
		AuthToken:  "token",
		FromNumber: "5551234",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not E.164")
}

func TestPlaceCall(t *testing.T) {
	var gotForm map[string][]string

	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/Accounts/AC123/Calls.json", r.URL.Path)

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "token", pass)

		require.NoError(t, r.ParseForm())
		gotForm = r.PostForm

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Call{SID: "CA987", To: "+12345678900", Status: StatusQueued})
	}))

	call, err := client.PlaceCall(context.Background(), &PlaceCallParams{
		To:                "+12345678900",
		VoiceURL:          "https://remindd.example.com/webhooks/voice?retry=0",
		StatusCallbackURL: "https://remindd.example.com/webhooks/status",
		RingTimeout:       30,
		DetectMachine:     true,
		Record:            true,
	})
	require.NoError(t, err)

	assert.Equal(t, "CA987", call.SID)
	assert.Equal(t, StatusQueued, call.Status)

	assert.Equal(t, []string{"+12345678900"}, gotForm["To"])
	assert.Equal(t, []string{"+15005550006"}, gotForm["From"])
	assert.Equal(t, []string{"Enable"}, gotForm["MachineDetection"])
	assert.Equal(t, []string{"30"}, gotForm["Timeout"])
	assert.Equal(t, []string{"true"}, gotForm["Record"])
	assert.Len(t, gotForm["StatusCallbackEvent"], 4)
}

func TestPlaceCall_RejectsBadNumber(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no API call expected for invalid number")
	}))

	_, err := client.PlaceCall(context.Background(), &PlaceCallParams{To: "5551234"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not E.164")
}

func TestSendMessage(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Accounts/AC123/Messages.json", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "Hi, we tried to reach you.", r.PostForm.Get("Body"))

		_ = json.NewEncoder(w).Encode(Message{SID: "SM42", Status: "queued"})
	}))

	msg, err := client.SendMessage(context.Background(), "+12345678900", "Hi, we tried to reach you.")
	require.NoError(t, err)
	assert.Equal(t, "SM42", msg.SID)
}

func TestSendMessage_EmptyBody(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no API call expected for empty body")
	}))

	_, err := client.SendMessage(context.Background(), "+12345678900", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestListRecordings(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Accounts/AC123/Recordings.json", r.URL.Path)
		assert.Equal(t, "CA987", r.URL.Query().Get("CallSid"))

		_ = json.NewEncoder(w).Encode(recordingList{Recordings: []Recording{
			{SID: "RE1", CallSID: "CA987", URI: "/Recordings/RE1.json"},
		}})
	}))

	recs, err := client.ListRecordings(context.Background(), "CA987")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "RE1", recs[0].SID)
}

func TestAPIError(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(Error{Code: 21211, Message: "Invalid 'To' Phone Number", Status: 400})
	}))

	_, err := client.SendMessage(context.Background(), "+12345678900", "hello")
	require.Error(t, err)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 21211, apiErr.Code)
	assert.Contains(t, apiErr.Error(), "twilio error 21211")
}
