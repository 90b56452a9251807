// Package fallback sends the SMS reminder when a voice call never reached
// the patient.
package fallback

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/calyxhealth/remindd/internal/logging"
	"github.com/calyxhealth/remindd/internal/prompts"
	"github.com/calyxhealth/remindd/internal/store"
	"github.com/calyxhealth/remindd/internal/twilio"
)

const instrumentationName = "github.com/calyxhealth/remindd/internal/fallback"

// Dispatcher sends the fallback SMS and records the outcome on the call
// session. Dispatch is safe to call repeatedly for the same call: once a
// session reads back as sms_sent, later calls are no-ops.
type Dispatcher struct {
	gateway twilio.Gateway
	store   store.Store
	catalog *prompts.Catalog
	logger  *zap.Logger

	smsSent   metric.Int64Counter
	smsFailed metric.Int64Counter
}

// NewDispatcher wires the SMS fallback dispatcher.
func NewDispatcher(gw twilio.Gateway, st store.Store, catalog *prompts.Catalog, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		gateway: gw,
		store:   st,
		catalog: catalog,
		logger:  logger,
	}

	meter := otel.Meter(instrumentationName)
	var err error
	d.smsSent, err = meter.Int64Counter(
		"remindd.fallback.sms_sent_total",
		metric.WithDescription("Fallback SMS messages delivered to the provider"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		logger.Warn("failed to create sms counter", zap.Error(err))
	}
	d.smsFailed, err = meter.Int64Counter(
		"remindd.fallback.sms_failed_total",
		metric.WithDescription("Fallback SMS sends that the provider rejected"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		logger.Warn("failed to create sms failure counter", zap.Error(err))
	}

	return d
}

// Dispatch sends the fallback SMS for sess. A send failure is logged and
// absorbed; the session keeps its last call status so an operator can see
// the patient was never reached. Only a confirmed send moves the session
// to sms_sent.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *store.CallSession) {
	if sess == nil {
		return
	}

	log := d.logger.With(zap.String("call_sid", sess.CallID))

	if sess.Status == store.StatusSmsSent {
		log.Debug("fallback sms already sent, skipping")
		return
	}
	if sess.PatientNumber == "" {
		log.Warn("cannot send fallback sms, session has no patient number")
		return
	}

	body := d.body()

	msg, err := d.gateway.SendMessage(ctx, sess.PatientNumber, body)
	if err != nil {
		if d.smsFailed != nil {
			d.smsFailed.Add(ctx, 1, metric.WithAttributes(
				attribute.String("last_status", string(sess.Status))))
		}
		log.Error("fallback sms send failed",
			logging.Phone("to", sess.PatientNumber),
			zap.Error(err))
		return
	}

	if d.smsSent != nil {
		d.smsSent.Add(ctx, 1)
	}
	log.Info("fallback sms sent",
		zap.String("message_sid", msg.SID),
		logging.Phone("to", sess.PatientNumber))

	if err := d.store.Update(ctx, sess.CallID, store.Fields{
		Status: store.StatusPtr(store.StatusSmsSent),
	}); err != nil {
		log.Error("failed to mark session sms_sent", zap.Error(err))
		return
	}
	sess.Status = store.StatusSmsSent
}

// body renders the SMS template. An empty or whitespace template falls
// back to a hardcoded reminder so the message is never blank.
func (d *Dispatcher) body() string {
	tpl := d.catalog.Current()
	if strings.TrimSpace(tpl.FallbackSMS) != "" {
		return tpl.FallbackSMS
	}
	return "Reminder: please remember to take your medication today."
}
