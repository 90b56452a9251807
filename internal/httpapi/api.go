package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/calyxhealth/remindd/internal/callflow"
	"github.com/calyxhealth/remindd/internal/logging"
	"github.com/calyxhealth/remindd/internal/store"
)

// StartCallRequest is the request body for POST /api/v1/calls.
type StartCallRequest struct {
	PatientNumber string `json:"patient_number"`
}

// StartCallResponse is the response body for POST /api/v1/calls.
type StartCallResponse struct {
	CallID    string `json:"call_id"`
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
}

// ListCallsResponse is the response body for GET /api/v1/calls.
type ListCallsResponse struct {
	Calls []*store.CallSession `json:"calls"`
	Total int                  `json:"total"`
	Page  int                  `json:"page"`
	Limit int                  `json:"limit"`
}

// handleStartCall places a new reminder call.
func (s *Server) handleStartCall(c echo.Context) error {
	var req StartCallRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid start-call request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.PatientNumber == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_number field is required")
	}

	sess, err := s.flow.StartCall(c.Request().Context(), req.PatientNumber)
	if err != nil {
		if errors.Is(err, callflow.ErrInvalidNumber) {
			return echo.NewHTTPError(http.StatusBadRequest, "patient_number must be E.164")
		}
		s.logger.Error("failed to start call",
			logging.Phone("to", req.PatientNumber),
			zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "call could not be placed")
	}

	return c.JSON(http.StatusCreated, StartCallResponse{
		CallID:    sess.CallID,
		RequestID: sess.RequestID,
		Status:    string(sess.Status),
	})
}

// handleListCalls returns call sessions, newest first.
func (s *Server) handleListCalls(c echo.Context) error {
	page := intQuery(c, "page", 1)
	limit := intQuery(c, "limit", 20)
	if limit > 100 {
		limit = 100
	}

	sessions, total, err := s.store.List(c.Request().Context(), page, limit)
	if err != nil {
		s.logger.Error("failed to list call sessions", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list calls")
	}

	return c.JSON(http.StatusOK, ListCallsResponse{
		Calls: sessions,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// handleGetCall returns one call session by call SID.
func (s *Server) handleGetCall(c echo.Context) error {
	id := c.Param("id")

	sess, err := s.store.FindByCallID(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "call not found")
		}
		s.logger.Error("failed to load call session",
			zap.String("call_sid", id),
			zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load call")
	}

	return c.JSON(http.StatusOK, sess)
}

func intQuery(c echo.Context, name string, def int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}
