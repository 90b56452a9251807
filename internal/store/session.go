// Package store persists call sessions keyed by the provider-assigned call
// SID. Two implementations exist: an in-memory map and a NATS JetStream
// key-value bucket, selected at startup by configuration.
package store

import (
	"time"

	"github.com/calyxhealth/remindd/internal/adherence"
)

// Status is the lifecycle state of a call session. Transitions are driven by
// provider webhook events and applied last-write-wins; events can arrive out
// of order and duplicated.
type Status string

const (
	StatusInitiated     Status = "initiated"
	StatusRinging       Status = "ringing"
	StatusInProgress    Status = "in_progress"
	StatusAnswered      Status = "answered"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusBusy          Status = "busy"
	StatusNoAnswer      Status = "no_answer"
	StatusVoicemailLeft Status = "voicemail_left"
	StatusSmsSent       Status = "sms_sent"
)

// Terminal reports whether no further call activity is expected for a
// session in this status. Fallback dispatch may still append StatusSmsSent
// after a terminal status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer,
		StatusVoicemailLeft, StatusSmsSent:
		return true
	}
	return false
}

// CallSession is one outbound call attempt to a patient.
type CallSession struct {
	// CallID is the provider-assigned call SID, the primary key.
	CallID string `json:"call_id"`

	// RequestID is an internally generated correlation ID, attached to every
	// log line for this call.
	RequestID string `json:"request_id"`

	// PatientNumber is the destination in E.164 form. Immutable.
	PatientNumber string `json:"patient_number"`

	Status Status `json:"status"`

	// RetryCount counts re-prompts issued after empty speech.
	RetryCount int `json:"retry_count"`

	// LastTranscript is the latest raw speech text, empty until a gather
	// produces usable speech.
	LastTranscript string `json:"last_transcript,omitempty"`

	// AdherenceStatus is set at most once, by the first classification of a
	// non-empty transcript.
	AdherenceStatus adherence.Status `json:"adherence_status"`

	// RecordingURL is populated only when a completed call has a recording.
	RecordingURL string `json:"recording_url,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Fields is a partial update applied to a stored session. Nil members are
// left untouched.
type Fields struct {
	Status          *Status
	RetryCount      *int
	LastTranscript  *string
	AdherenceStatus *adherence.Status
	RecordingURL    *string
}

// apply merges f into sess and stamps UpdatedAt.
func (f Fields) apply(sess *CallSession, now time.Time) {
	if f.Status != nil {
		sess.Status = *f.Status
	}
	if f.RetryCount != nil {
		sess.RetryCount = *f.RetryCount
	}
	if f.LastTranscript != nil {
		sess.LastTranscript = *f.LastTranscript
	}
	if f.AdherenceStatus != nil {
		sess.AdherenceStatus = *f.AdherenceStatus
	}
	if f.RecordingURL != nil {
		sess.RecordingURL = *f.RecordingURL
	}
	sess.UpdatedAt = now
}

// StatusPtr is a convenience for building Fields literals.
func StatusPtr(s Status) *Status { return &s }

// StringPtr is a convenience for building Fields literals.
func StringPtr(s string) *string { return &s }

// IntPtr is a convenience for building Fields literals.
func IntPtr(i int) *int { return &i }

// AdherencePtr is a convenience for building Fields literals.
func AdherencePtr(s adherence.Status) *adherence.Status { return &s }
