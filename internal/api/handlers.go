package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/banking/fraud-detection/internal/domain"
	"github.com/banking/fraud-detection/internal/pkg/logger"
	"github.com/banking/fraud-detection/internal/stream"
)

// AlertService is the slice of the alert engine the API consumes.
type AlertService interface {
	Get(ctx context.Context, txID string) (*domain.Alert, error)
	ApplyStatusUpdate(ctx context.Context, txID string, status domain.AlertStatus, notes string) (*domain.Alert, error)
}

// StatsSource reports pipeline counters for the health endpoint.
type StatsSource interface {
	Stats() stream.Stats
}

// Handler serves the operator routes.
type Handler struct {
	alerts AlertService
	stats  StatsSource
	log    *logger.Logger
}

// NewHandler builds the route handlers.
func NewHandler(alerts AlertService, stats StatsSource, log *logger.Logger) *Handler {
	return &Handler{alerts: alerts, stats: stats, log: log.Named("api")}
}

type healthResponse struct {
	Status   string       `json:"status"`
	Pipeline stream.Stats `json:"pipeline"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Health reports liveness plus pipeline throughput counters.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Status:   "ok",
		Pipeline: h.stats.Stats(),
	})
}

// GetAlert returns the alert raised for a transaction, if any.
func (h *Handler) GetAlert(c echo.Context) error {
	txID := c.Param("transaction_id")

	alert, err := h.alerts.Get(c.Request().Context(), txID)
	if err != nil {
		if errors.Is(err, domain.ErrAlertNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "alert not found"})
		}
		h.log.Error("alert lookup failed", logger.ErrorField(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
	return c.JSON(http.StatusOK, alert)
}

// UpdateAlertStatus moves an alert through its triage lifecycle.
func (h *Handler) UpdateAlertStatus(c echo.Context) error {
	txID := c.Param("transaction_id")

	var req domain.StatusUpdateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if !domain.ValidStatus(req.Status) {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "unknown status"})
	}

	alert, err := h.alerts.ApplyStatusUpdate(c.Request().Context(), txID, req.Status, req.Notes)
	if err != nil {
		var invalid *domain.InvalidTransitionError
		switch {
		case errors.Is(err, domain.ErrAlertNotFound):
			return c.JSON(http.StatusNotFound, errorResponse{Error: "alert not found"})
		case errors.As(err, &invalid):
			return c.JSON(http.StatusConflict, errorResponse{Error: invalid.Error()})
		default:
			h.log.Error("alert status update failed", logger.ErrorField(err))
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
		}
	}

	h.log.Info("alert status updated by operator",
		logger.StringField("transaction_id", txID),
		logger.StringField("status", string(req.Status)),
		logger.StringField("operator", OperatorSubject(c)))
	return c.JSON(http.StatusOK, alert)
}
