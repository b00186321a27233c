package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banking/fraud-detection/internal/domain"
	"github.com/banking/fraud-detection/internal/pkg/logger"
	"github.com/banking/fraud-detection/internal/stream"
)

type fakeAlertService struct {
	alerts map[string]*domain.Alert
}

func newFakeAlertService() *fakeAlertService {
	return &fakeAlertService{alerts: make(map[string]*domain.Alert)}
}

func (f *fakeAlertService) Get(_ context.Context, txID string) (*domain.Alert, error) {
	alert, ok := f.alerts[txID]
	if !ok {
		return nil, domain.ErrAlertNotFound
	}
	return alert, nil
}

func (f *fakeAlertService) ApplyStatusUpdate(_ context.Context, txID string, status domain.AlertStatus, notes string) (*domain.Alert, error) {
	alert, ok := f.alerts[txID]
	if !ok {
		return nil, domain.ErrAlertNotFound
	}
	if err := alert.Transition(status, notes); err != nil {
		return nil, err
	}
	return alert, nil
}

type fakeStats struct{ stats stream.Stats }

func (f fakeStats) Stats() stream.Stats { return f.stats }

func seedAlert(svc *fakeAlertService, txID string, status domain.AlertStatus) *domain.Alert {
	alert := &domain.Alert{
		ID:               uuid.New(),
		TransactionID:    txID,
		UserID:           "user-1",
		RiskTier:         domain.RiskTierHigh,
		Status:           status,
		AnomalyScore:     0.9,
		FraudProbability: 0.92,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	svc.alerts[txID] = alert
	return alert
}

func newTestHandler(svc *fakeAlertService) *Handler {
	return NewHandler(svc, fakeStats{stats: stream.Stats{Processed: 42, DeadLettered: 1}}, logger.NewNop())
}

func TestHealth_IncludesPipelineStats(t *testing.T) {
	h := newTestHandler(newFakeAlertService())
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	require.NoError(t, h.Health(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, int64(42), resp.Pipeline.Processed)
}

func alertRequest(t *testing.T, e *echo.Echo, method, txID, body string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("transaction_id")
	c.SetParamValues(txID)
	return c, rec
}

func TestGetAlert_Found(t *testing.T) {
	svc := newFakeAlertService()
	seeded := seedAlert(svc, "tx-1", domain.AlertStatusOpen)
	h := newTestHandler(svc)
	e := echo.New()

	c, rec := alertRequest(t, e, http.MethodGet, "tx-1", "")
	require.NoError(t, h.GetAlert(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var got domain.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, seeded.ID, got.ID)
	assert.Equal(t, domain.RiskTierHigh, got.RiskTier)
}

func TestGetAlert_NotFound(t *testing.T) {
	h := newTestHandler(newFakeAlertService())
	e := echo.New()

	c, rec := alertRequest(t, e, http.MethodGet, "missing", "")
	require.NoError(t, h.GetAlert(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateAlertStatus_Acknowledge(t *testing.T) {
	svc := newFakeAlertService()
	seedAlert(svc, "tx-1", domain.AlertStatusOpen)
	h := newTestHandler(svc)
	e := echo.New()

	c, rec := alertRequest(t, e, http.MethodPatch, "tx-1",
		`{"status":"ACKNOWLEDGED","notes":"under review"}`)
	c.Set(claimsContextKey, jwt.MapClaims{"sub": "analyst-1"})
	require.NoError(t, h.UpdateAlertStatus(c))
	assert.Equal(t, "analyst-1", OperatorSubject(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var got domain.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, domain.AlertStatusAcknowledged, got.Status)
	assert.Contains(t, got.Notes, "under review")
}

func TestUpdateAlertStatus_InvalidTransitionConflicts(t *testing.T) {
	svc := newFakeAlertService()
	seedAlert(svc, "tx-1", domain.AlertStatusClosed)
	h := newTestHandler(svc)
	e := echo.New()

	c, rec := alertRequest(t, e, http.MethodPatch, "tx-1", `{"status":"OPEN"}`)
	require.NoError(t, h.UpdateAlertStatus(c))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUpdateAlertStatus_UnknownStatusRejected(t *testing.T) {
	svc := newFakeAlertService()
	seedAlert(svc, "tx-1", domain.AlertStatusOpen)
	h := newTestHandler(svc)
	e := echo.New()

	c, rec := alertRequest(t, e, http.MethodPatch, "tx-1", `{"status":"ESCALATED"}`)
	require.NoError(t, h.UpdateAlertStatus(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateAlertStatus_NotFound(t *testing.T) {
	h := newTestHandler(newFakeAlertService())
	e := echo.New()

	c, rec := alertRequest(t, e, http.MethodPatch, "missing", `{"status":"CLOSED"}`)
	require.NoError(t, h.UpdateAlertStatus(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestJWTMiddleware(t *testing.T) {
	const secret = "test-secret"
	e := echo.New()
	next := func(c echo.Context) error {
		return c.String(http.StatusOK, OperatorSubject(c))
	}
	protected := JWTMiddleware(secret)(next)

	t.Run("missing token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		require.NoError(t, protected(e.NewContext(req, rec)))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+signToken(t, "other-secret", "analyst-1"))
		rec := httptest.NewRecorder()
		require.NoError(t, protected(e.NewContext(req, rec)))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token passes subject through", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+signToken(t, secret, "analyst-1"))
		rec := httptest.NewRecorder()
		require.NoError(t, protected(e.NewContext(req, rec)))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "analyst-1", rec.Body.String())
	})
}
