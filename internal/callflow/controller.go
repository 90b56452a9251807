// Package callflow drives the lifecycle of one reminder call: it decides,
// for each webhook event from the telephony provider, what to play next,
// when to give up, and when the SMS fallback fires.
//
// Handlers here are stateless between events. Cross-event continuity lives
// either in the persisted call session or, for the retry counter, in the
// callback URL itself, so any daemon replica can serve any leg of a call.
package callflow

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/calyxhealth/remindd/internal/adherence"
	"github.com/calyxhealth/remindd/internal/config"
	"github.com/calyxhealth/remindd/internal/logging"
	"github.com/calyxhealth/remindd/internal/prompts"
	"github.com/calyxhealth/remindd/internal/store"
	"github.com/calyxhealth/remindd/internal/twilio"
	"github.com/calyxhealth/remindd/internal/twiml"
)

const instrumentationName = "github.com/calyxhealth/remindd/internal/callflow"

// ErrInvalidNumber rejects call requests before any provider call is made.
var ErrInvalidNumber = errors.New("phone number is not E.164")

// FallbackDispatcher sends the SMS fallback for a call that never reached a
// live person. *fallback.Dispatcher is the production implementation.
type FallbackDispatcher interface {
	Dispatch(ctx context.Context, sess *store.CallSession)
}

// StatusEvent is a provider status callback, already decoded from form data.
type StatusEvent struct {
	CallID     string
	CallStatus string
	AnsweredBy string
	// Duration is the call duration in seconds, 0 when not reported.
	Duration int
	// To is the destination number, used to reconstruct a session when a
	// status event arrives for a call the store has never seen.
	To string
}

// Config holds the controller's tuning parameters.
type Config struct {
	Call config.CallConfig

	// PublicBaseURL is the externally reachable base for webhook callbacks.
	PublicBaseURL string
}

// Controller orchestrates the retry policy, classifier, store, gateway and
// fallback dispatcher for every inbound event.
type Controller struct {
	cfg        Config
	gateway    twilio.Gateway
	store      store.Store
	catalog    *prompts.Catalog
	dispatcher FallbackDispatcher
	retry      RetryPolicy
	logger     *zap.Logger

	tracer trace.Tracer
	meter  metric.Meter

	callsPlaced      metric.Int64Counter
	classifications  metric.Int64Counter
	retriesExhausted metric.Int64Counter
}

// NewController wires the call flow controller.
func NewController(
	cfg Config,
	gw twilio.Gateway,
	st store.Store,
	catalog *prompts.Catalog,
	dispatcher FallbackDispatcher,
	logger *zap.Logger,
) (*Controller, error) {
	if gw == nil {
		return nil, errors.New("telephony gateway is required")
	}
	if st == nil {
		return nil, errors.New("call session store is required")
	}
	if catalog == nil {
		return nil, errors.New("prompt catalog is required")
	}
	if dispatcher == nil {
		return nil, errors.New("fallback dispatcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Call.MaxRetries < 1 {
		cfg.Call.MaxRetries = 2
	}

	c := &Controller{
		cfg:        cfg,
		gateway:    gw,
		store:      st,
		catalog:    catalog,
		dispatcher: dispatcher,
		retry:      RetryPolicy{MaxRetries: cfg.Call.MaxRetries},
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
		meter:      otel.Meter(instrumentationName),
	}
	c.initMetrics()
	return c, nil
}

func (c *Controller) initMetrics() {
	var err error

	c.callsPlaced, err = c.meter.Int64Counter(
		"remindd.calls.placed_total",
		metric.WithDescription("Total outbound reminder calls placed"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		c.logger.Warn("failed to create calls counter", zap.Error(err))
	}

	c.classifications, err = c.meter.Int64Counter(
		"remindd.calls.classifications_total",
		metric.WithDescription("Total adherence classifications, labeled by verdict"),
		metric.WithUnit("{classification}"),
	)
	if err != nil {
		c.logger.Warn("failed to create classifications counter", zap.Error(err))
	}

	c.retriesExhausted, err = c.meter.Int64Counter(
		"remindd.calls.retries_exhausted_total",
		metric.WithDescription("Calls terminated after the re-prompt cap was reached"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		c.logger.Warn("failed to create retries counter", zap.Error(err))
	}
}

// StartCall places an outbound reminder call and persists the new session.
// The patient number must be E.164; validation happens before any provider
// traffic. A persistence failure is logged and swallowed: the call is
// already in flight and its webhooks rebuild what they need.
func (c *Controller) StartCall(ctx context.Context, patientNumber string) (*store.CallSession, error) {
	ctx, span := c.tracer.Start(ctx, "callflow.start_call")
	defer span.End()

	if !config.IsE164(patientNumber) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNumber, patientNumber)
	}

	call, err := c.gateway.PlaceCall(ctx, &twilio.PlaceCallParams{
		To:                patientNumber,
		VoiceURL:          c.voiceURL(0),
		StatusCallbackURL: c.cfg.PublicBaseURL + "/webhooks/status",
		RingTimeout:       c.cfg.Call.RingTimeout.Seconds(),
		DetectMachine:     true,
		Record:            c.cfg.Call.Record,
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("placing call: %w", err)
	}

	sess := &store.CallSession{
		CallID:          call.SID,
		RequestID:       uuid.New().String(),
		PatientNumber:   patientNumber,
		Status:          store.StatusInitiated,
		AdherenceStatus: adherence.StatusUnknown,
		CreatedAt:       time.Now().UTC(),
	}

	if err := c.store.Create(ctx, sess); err != nil {
		c.logger.Error("failed to persist new call session",
			zap.String("call_sid", sess.CallID),
			zap.String("request_id", sess.RequestID),
			zap.Error(err))
	}

	if c.callsPlaced != nil {
		c.callsPlaced.Add(ctx, 1)
	}
	span.SetAttributes(attribute.String("call_sid", sess.CallID))

	c.logger.Info("reminder call placed",
		zap.String("call_sid", sess.CallID),
		zap.String("request_id", sess.RequestID),
		logging.Phone("to", patientNumber))

	return sess, nil
}

// Voice handles a voice-leg entry: the provider connected the call (or a
// redirect re-entered the leg) and wants TwiML to play. retryCount comes
// from the request URL, never from the stored session.
func (c *Controller) Voice(ctx context.Context, callID string, retryCount int) string {
	ctx, span := c.tracer.Start(ctx, "callflow.voice")
	defer span.End()
	span.SetAttributes(
		attribute.String("call_sid", callID),
		attribute.Int("retry", retryCount),
	)

	decision := c.retry.NextPrompt(retryCount, c.catalog.Current())

	if decision.Action == ActionTerminate {
		if c.retriesExhausted != nil {
			c.retriesExhausted.Add(ctx, 1)
		}
		c.logger.Info("retries exhausted, closing call",
			zap.String("call_sid", callID),
			zap.Int("retry", retryCount))
		doc, err := twiml.SayHangup(decision.Message)
		return c.renderOr(callID, doc, err, decision.Message)
	}

	// Track the counter on the session for observability; the authoritative
	// value stays in the redirect URL.
	c.persist(ctx, callID, store.Fields{RetryCount: store.IntPtr(retryCount)})

	doc, err := twiml.GatherPrompt(
		decision.Message,
		c.gatherURL(retryCount),
		c.voiceURL(decision.NextRetryCount),
	)
	return c.renderOr(callID, doc, err, decision.Message)
}

// Gather handles a speech-gather result. An empty transcript re-enters the
// voice leg with the incremented retry counter and never touches the
// classifier; usable speech is classified exactly once per call.
func (c *Controller) Gather(ctx context.Context, callID, transcript string, retryCount int) string {
	ctx, span := c.tracer.Start(ctx, "callflow.gather")
	defer span.End()
	span.SetAttributes(attribute.String("call_sid", callID))

	trimmed := strings.TrimSpace(transcript)
	if trimmed == "" {
		c.logger.Info("no speech detected, re-prompting",
			zap.String("call_sid", callID),
			zap.Int("next_retry", retryCount+1))
		doc, err := twiml.RedirectTo(c.voiceURL(retryCount + 1))
		return c.renderOr(callID, doc, err, "")
	}

	sess, err := c.store.FindByCallID(ctx, callID)
	if err != nil {
		sess = nil
	}

	fields := store.Fields{
		Status:         store.StatusPtr(store.StatusAnswered),
		LastTranscript: store.StringPtr(trimmed),
	}
	if sess != nil && sess.Status == store.StatusSmsSent {
		// The SMS fallback already closed this call out; a replayed gather
		// must not roll the terminal status back.
		fields.Status = nil
	}
	c.persist(ctx, callID, fields)

	reply := c.classifyReply(ctx, callID, trimmed, sess)
	doc, err := twiml.SayHangup(reply)
	return c.renderOr(callID, doc, err, reply)
}

// classifyReply produces the spoken reply for a transcript. Any failure in
// here is replaced by the generic acknowledgment: the patient always hears
// a clean goodbye, whatever went wrong server-side.
func (c *Controller) classifyReply(ctx context.Context, callID, transcript string, sess *store.CallSession) (reply string) {
	tpl := c.catalog.Current()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("classification failed, using generic reply",
				zap.String("call_sid", callID),
				zap.Any("panic", r))
			reply = tpl.GenericAck
		}
	}()

	// The first classification is final. A session that already carries a
	// verdict keeps it; a replayed gather just replays that verdict's reply.
	if sess != nil && sess.AdherenceStatus != adherence.StatusUnknown {
		c.logger.Debug("adherence already classified, keeping verdict",
			zap.String("call_sid", callID),
			zap.String("verdict", string(sess.AdherenceStatus)))
		return tpl.Reply(sess.AdherenceStatus)
	}

	verdict := adherence.Classify(transcript)
	c.persist(ctx, callID, store.Fields{AdherenceStatus: store.AdherencePtr(verdict)})

	if c.classifications != nil {
		c.classifications.Add(ctx, 1,
			metric.WithAttributes(attribute.String("verdict", string(verdict))))
	}
	c.logger.Info("transcript classified",
		zap.String("call_sid", callID),
		zap.String("verdict", string(verdict)))

	return tpl.Reply(verdict)
}

// Status handles a provider status callback. Status writes are idempotent
// and last-write-wins; the handler tolerates events arriving after the
// gather result without corrupting the stored verdict.
func (c *Controller) Status(ctx context.Context, ev StatusEvent) error {
	ctx, span := c.tracer.Start(ctx, "callflow.status")
	defer span.End()
	span.SetAttributes(
		attribute.String("call_sid", ev.CallID),
		attribute.String("provider_status", ev.CallStatus),
	)

	mapped := mapProviderStatus(ev.CallStatus, ev.AnsweredBy)

	sess, err := c.store.FindByCallID(ctx, ev.CallID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// Status events can outlive or precede the session record (store
		// restart, replayed webhook). Rebuild a minimal session so the
		// status is still recorded.
		sess = &store.CallSession{
			CallID:          ev.CallID,
			RequestID:       uuid.New().String(),
			PatientNumber:   ev.To,
			Status:          mapped,
			AdherenceStatus: adherence.StatusUnknown,
			CreatedAt:       time.Now().UTC(),
		}
		if cerr := c.store.Create(ctx, sess); cerr != nil {
			c.logger.Error("failed to recreate session for status event",
				zap.String("call_sid", ev.CallID),
				zap.Error(cerr))
		}
	case err != nil:
		// Degrade: process the event from its own fields.
		c.logger.Error("failed to load session for status event",
			zap.String("call_sid", ev.CallID),
			zap.Error(err))
		sess = &store.CallSession{CallID: ev.CallID, PatientNumber: ev.To}
	default:
		if sess.Status == store.StatusSmsSent {
			// Already notified by SMS; a replayed terminal event must not
			// regress the status or send a second message.
			c.logger.Debug("ignoring status event after sms fallback",
				zap.String("call_sid", ev.CallID),
				zap.String("provider_status", ev.CallStatus))
			return nil
		}
		c.persist(ctx, ev.CallID, store.Fields{Status: store.StatusPtr(mapped)})
		sess.Status = mapped
	}

	if needsFallback(ev, c.cfg.Call.MinTalkDuration.Seconds()) {
		c.logger.Info("call did not reach patient, dispatching sms fallback",
			zap.String("call_sid", ev.CallID),
			zap.String("provider_status", ev.CallStatus),
			zap.String("answered_by", ev.AnsweredBy),
			zap.Int("duration_s", ev.Duration))
		c.dispatcher.Dispatch(ctx, sess)
		return nil
	}

	if ev.CallStatus == twilio.StatusCompleted {
		c.fetchRecording(ctx, ev.CallID)
	}
	return nil
}

// fetchRecording persists the call's recording URL when one exists.
// Failures are logged and swallowed; a missing recording never surfaces to
// the provider.
func (c *Controller) fetchRecording(ctx context.Context, callID string) {
	recs, err := c.gateway.ListRecordings(ctx, callID)
	if err != nil {
		c.logger.Warn("failed to fetch recordings",
			zap.String("call_sid", callID),
			zap.Error(err))
		return
	}
	if len(recs) == 0 {
		return
	}
	c.persist(ctx, callID, store.Fields{RecordingURL: store.StringPtr(recs[0].URI)})
}

// persist applies a partial session update, logging and swallowing any
// store error: the patient-facing outcome never depends on persistence.
func (c *Controller) persist(ctx context.Context, callID string, fields store.Fields) {
	if err := c.store.Update(ctx, callID, fields); err != nil {
		c.logger.Error("failed to update call session",
			zap.String("call_sid", callID),
			zap.Error(err))
	}
}

// renderOr returns doc unless rendering failed, in which case msg is
// wrapped in a minimal hand-built document so the provider always gets
// well-formed TwiML back.
func (c *Controller) renderOr(callID, doc string, err error, msg string) string {
	if err == nil {
		return doc
	}
	c.logger.Error("failed to render twiml",
		zap.String("call_sid", callID),
		zap.Error(err))
	var b strings.Builder
	b.WriteString(twiml.Header)
	b.WriteString("<Response>")
	if msg != "" {
		b.WriteString("<Say>")
		if err := xmlEscape(&b, msg); err != nil {
			b.Reset()
			b.WriteString(twiml.Header)
			b.WriteString("<Response><Hangup/></Response>")
			return b.String()
		}
		b.WriteString("</Say>")
	}
	b.WriteString("<Hangup/></Response>")
	return b.String()
}

func xmlEscape(w io.Writer, s string) error {
	return xml.EscapeText(w, []byte(s))
}

func (c *Controller) voiceURL(retry int) string {
	return fmt.Sprintf("%s/webhooks/voice?retry=%d", c.cfg.PublicBaseURL, retry)
}

func (c *Controller) gatherURL(retry int) string {
	return fmt.Sprintf("%s/webhooks/gather?retry=%d", c.cfg.PublicBaseURL, retry)
}

// mapProviderStatus maps a provider status plus machine-detection outcome to
// the session status.
func mapProviderStatus(callStatus, answeredBy string) store.Status {
	switch callStatus {
	case twilio.StatusQueued:
		return store.StatusInitiated
	case twilio.StatusRinging:
		return store.StatusRinging
	case twilio.StatusInProgress:
		return store.StatusInProgress
	case twilio.StatusCompleted:
		switch answeredBy {
		case twilio.AnsweredByMachineEndBeep, twilio.AnsweredByMachineEndSilence,
			twilio.AnsweredByMachineEndOther:
			return store.StatusVoicemailLeft
		}
		return store.StatusCompleted
	case twilio.StatusBusy:
		return store.StatusBusy
	case twilio.StatusNoAnswer:
		return store.StatusNoAnswer
	case twilio.StatusFailed, twilio.StatusCanceled:
		return store.StatusFailed
	default:
		return store.StatusInProgress
	}
}

// needsFallback decides whether a status event means the reminder never
// reached a live person.
func needsFallback(ev StatusEvent, minTalkSeconds int) bool {
	switch ev.CallStatus {
	case twilio.StatusNoAnswer, twilio.StatusBusy, twilio.StatusFailed, twilio.StatusCanceled:
		return true
	case twilio.StatusCompleted:
		if ev.AnsweredBy != "" && ev.AnsweredBy != twilio.AnsweredByHuman {
			return true
		}
		return ev.Duration < minTalkSeconds
	}
	return false
}
