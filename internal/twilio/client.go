// Package twilio is a minimal Twilio REST client covering the three
// operations remindd needs: placing calls, sending SMS, and listing call
// recordings.
package twilio

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/calyxhealth/remindd/internal/config"
)

// Call status values reported by the provider.
const (
	StatusQueued     = "queued"
	StatusRinging    = "ringing"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusBusy       = "busy"
	StatusFailed     = "failed"
	StatusNoAnswer   = "no-answer"
	StatusCanceled   = "canceled"
)

// AnsweredBy values reported when machine detection is enabled.
const (
	AnsweredByHuman             = "human"
	AnsweredByMachineStart      = "machine_start"
	AnsweredByMachineEndBeep    = "machine_end_beep"
	AnsweredByMachineEndSilence = "machine_end_silence"
	AnsweredByMachineEndOther   = "machine_end_other"
	AnsweredByFax               = "fax"
	AnsweredByUnknown           = "unknown"
)

// Gateway is the telephony surface the call flow depends on. *Client is the
// production implementation; tests substitute fakes.
type Gateway interface {
	PlaceCall(ctx context.Context, params *PlaceCallParams) (*Call, error)
	SendMessage(ctx context.Context, to, body string) (*Message, error)
	ListRecordings(ctx context.Context, callSID string) ([]Recording, error)
}

// Client is a Twilio REST API client.
type Client struct {
	accountSID string
	authToken  config.Secret
	fromNumber string
	baseURL    string
	httpClient *http.Client
}

var _ Gateway = (*Client)(nil)

// NewClient creates a Twilio client from configuration.
func NewClient(cfg config.TwilioConfig) (*Client, error) {
	if !cfg.AccountSID.IsSet() {
		return nil, fmt.Errorf("twilio account SID is required")
	}
	if !cfg.AuthToken.IsSet() {
		return nil, fmt.Errorf("twilio auth token is required")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("twilio from number is required")
	}
	if !config.IsE164(cfg.FromNumber) {
		return nil, fmt.Errorf("twilio from number %q is not E.164", cfg.FromNumber)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.twilio.com/2010-04-01"
	}

	return &Client{
		accountSID: cfg.AccountSID.Value(),
		authToken:  cfg.AuthToken,
		fromNumber: cfg.FromNumber,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Call is the Twilio call resource subset remindd reads.
type Call struct {
	SID        string `json:"sid"`
	To         string `json:"to"`
	From       string `json:"from"`
	Status     string `json:"status"`
	Duration   string `json:"duration"`
	AnsweredBy string `json:"answered_by"`
}

// Message is the Twilio message resource subset remindd reads.
type Message struct {
	SID    string `json:"sid"`
	To     string `json:"to"`
	Body   string `json:"body"`
	Status string `json:"status"`
}

// Recording is one recording attached to a call.
type Recording struct {
	SID      string `json:"sid"`
	CallSID  string `json:"call_sid"`
	URI      string `json:"uri"`
	Duration string `json:"duration"`
}

type recordingList struct {
	Recordings []Recording `json:"recordings"`
}

// PlaceCallParams are the parameters for an outbound reminder call.
type PlaceCallParams struct {
	To string

	// VoiceURL receives the voice-leg webhook when the call connects.
	VoiceURL string

	// StatusCallbackURL receives lifecycle status events.
	StatusCallbackURL string

	// RingTimeout is the ring timeout in seconds.
	RingTimeout int

	// DetectMachine enables answering machine detection, reported back on
	// status callbacks as AnsweredBy.
	DetectMachine bool

	// Record enables dual-channel call recording.
	Record bool
}

// PlaceCall initiates an outbound call and returns the provider-assigned
// call resource. The returned SID is the primary key for the call session.
func (c *Client) PlaceCall(ctx context.Context, params *PlaceCallParams) (*Call, error) {
	if !config.IsE164(params.To) {
		return nil, fmt.Errorf("destination %q is not E.164", params.To)
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", c.baseURL, c.accountSID)

	data := url.Values{}
	data.Set("To", params.To)
	data.Set("From", c.fromNumber)
	data.Set("Url", params.VoiceURL)
	if params.StatusCallbackURL != "" {
		data.Set("StatusCallback", params.StatusCallbackURL)
		for _, event := range []string{"initiated", "ringing", "answered", "completed"} {
			data.Add("StatusCallbackEvent", event)
		}
	}
	if params.RingTimeout > 0 {
		data.Set("Timeout", strconv.Itoa(params.RingTimeout))
	}
	if params.DetectMachine {
		data.Set("MachineDetection", "Enable")
	}
	if params.Record {
		data.Set("Record", "true")
		data.Set("RecordingChannels", "dual")
	}

	var call Call
	if err := c.post(ctx, endpoint, data, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// SendMessage sends an SMS to the given E.164 number.
func (c *Client) SendMessage(ctx context.Context, to, body string) (*Message, error) {
	if !config.IsE164(to) {
		return nil, fmt.Errorf("destination %q is not E.164", to)
	}
	if body == "" {
		return nil, fmt.Errorf("message body is empty")
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", c.baseURL, c.accountSID)

	data := url.Values{}
	data.Set("To", to)
	data.Set("From", c.fromNumber)
	data.Set("Body", body)

	var msg Message
	if err := c.post(ctx, endpoint, data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ListRecordings returns the recordings attached to a call, newest first.
func (c *Client) ListRecordings(ctx context.Context, callSID string) ([]Recording, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Recordings.json?CallSid=%s",
		c.baseURL, c.accountSID, url.QueryEscape(callSID))

	var list recordingList
	if err := c.get(ctx, endpoint, &list); err != nil {
		return nil, err
	}
	return list.Recordings, nil
}

// Error represents a Twilio API error response.
type Error struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("twilio error %d: %s", e.Code, e.Message)
}

func (c *Client) get(ctx context.Context, url string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, url string, data url.Values, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(data.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	req.SetBasicAuth(c.accountSID, c.authToken.Value())
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var apiErr Error
		if err := json.Unmarshal(body, &apiErr); err != nil {
			return fmt.Errorf("twilio error: %s", string(body))
		}
		return &apiErr
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}
