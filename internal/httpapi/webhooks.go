package httpapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/calyxhealth/remindd/internal/callflow"
	"github.com/calyxhealth/remindd/internal/logging"
	"github.com/calyxhealth/remindd/internal/twiml"
)

// Form fields posted by the telephony provider.
const (
	formCallSID      = "CallSid"
	formCallStatus   = "CallStatus"
	formSpeechResult = "SpeechResult"
	formAnsweredBy   = "AnsweredBy"
	formCallDuration = "CallDuration"
	formTo           = "To"
)

// callContext attaches the provider call SID, the request ID and the server
// logger to the request context. Everything downstream of a webhook route
// can then log through logging.FromContext and get the correlation fields
// for free. Provider-supplied SIDs are screened first; a malformed value is
// simply not attached.
func (s *Server) callContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := logging.WithLogger(req.Context(), s.logger)

			if sid := c.FormValue(formCallSID); logging.ValidID(sid) {
				ctx = logging.WithCallSID(ctx, sid)
			}
			if rid := c.Response().Header().Get(echo.HeaderXRequestID); logging.ValidID(rid) {
				ctx = logging.WithRequestID(ctx, rid)
			}

			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

// handleVoice serves a voice-leg entry: the call connected, or a redirect
// re-entered the leg. The response body is the TwiML to play.
func (s *Server) handleVoice(c echo.Context) error {
	callID := c.FormValue(formCallSID)
	if callID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "CallSid is required")
	}

	doc := s.flow.Voice(c.Request().Context(), callID, retryParam(c))
	return c.Blob(http.StatusOK, "text/xml; charset=utf-8", []byte(doc))
}

// handleGather serves a speech-gather result.
func (s *Server) handleGather(c echo.Context) error {
	callID := c.FormValue(formCallSID)
	if callID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "CallSid is required")
	}

	doc := s.flow.Gather(c.Request().Context(), callID, c.FormValue(formSpeechResult), retryParam(c))
	return c.Blob(http.StatusOK, "text/xml; charset=utf-8", []byte(doc))
}

// handleStatus serves a call status callback. The provider ignores the
// response body; an empty TwiML document keeps it from logging warnings.
func (s *Server) handleStatus(c echo.Context) error {
	callID := c.FormValue(formCallSID)
	if callID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "CallSid is required")
	}

	ev := callflow.StatusEvent{
		CallID:     callID,
		CallStatus: c.FormValue(formCallStatus),
		AnsweredBy: c.FormValue(formAnsweredBy),
		Duration:   durationParam(c),
		To:         c.FormValue(formTo),
	}

	if err := s.flow.Status(c.Request().Context(), ev); err != nil {
		// The provider retries on 5xx; status handling is idempotent, so a
		// retry is safe and preferable to silently losing the event.
		logging.FromContext(c.Request().Context()).Error(
			"status event handling failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "status handling failed")
	}

	return c.Blob(http.StatusOK, "text/xml; charset=utf-8",
		[]byte(twiml.Header+"<Response></Response>"))
}

// retryParam decodes the retry query parameter, defaulting to zero for a
// missing or malformed value.
func retryParam(c echo.Context) int {
	raw := c.QueryParam("retry")
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// durationParam decodes the CallDuration form field, defaulting to zero.
func durationParam(c echo.Context) int {
	raw := c.FormValue(formCallDuration)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
