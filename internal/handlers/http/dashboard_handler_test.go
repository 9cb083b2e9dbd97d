package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"coordinator/internal/core/domain"
	"coordinator/internal/core/ports"
	"coordinator/internal/core/services"
	"coordinator/internal/infrastructure/middleware"
	"coordinator/internal/infrastructure/monitoring"
	"coordinator/internal/infrastructure/pairing"
	"coordinator/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const (
	clientA = domain.ClientID("11111111-1111-4111-8111-111111111111")
	clientB = domain.ClientID("22222222-2222-4222-8222-222222222222")
	clientC = domain.ClientID("33333333-3333-4333-8333-333333333333")
)

type fakeAdmin struct {
	closed    []domain.ClientID
	forced    [][2]domain.ClientID
	unpaired  []domain.ClientID
	err       error
	details   *ports.ConnectionDetails
	dashboard ports.DashboardView
}

func (f *fakeAdmin) Close(_ context.Context, id domain.ClientID) error {
	if f.err != nil {
		return f.err
	}
	f.closed = append(f.closed, id)
	return nil
}

func (f *fakeAdmin) ForcePair(_ context.Context, a, b domain.ClientID) (domain.ForcePairResult, error) {
	if f.err != nil {
		return domain.ForcePairResult{}, f.err
	}
	f.forced = append(f.forced, [2]domain.ClientID{a, b})
	return domain.ForcePairResult{Displaced: []domain.ClientID{clientC}}, nil
}

func (f *fakeAdmin) Unpair(_ context.Context, id domain.ClientID) (domain.UnpairResult, error) {
	if f.err != nil {
		return domain.UnpairResult{}, f.err
	}
	f.unpaired = append(f.unpaired, id)
	return domain.UnpairResult{FormerPeer: clientB}, nil
}

func (f *fakeAdmin) Dashboard(context.Context) ports.DashboardView {
	return f.dashboard
}

func (f *fakeAdmin) Details(_ context.Context, id domain.ClientID) (*ports.ConnectionDetails, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.details, nil
}

type harness struct {
	router *gin.Engine
	admin  *fakeAdmin
	auth   services.AuthService
	token  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	admin := &fakeAdmin{dashboard: ports.DashboardView{Unpaired: map[domain.Role][]domain.ConnectionSummary{}}}
	auth := services.NewAuthService("hunter2", "secret", time.Hour)
	token, _, err := auth.Login("hunter2")
	require.NoError(t, err)

	logger := zap.NewNop().Sugar()
	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(logger))
	protected := router.Group("/")
	protected.Use(middleware.AuthMiddleware(auth, "broker_session"))

	NewDashboardHandler(admin, auth, "broker_session", false, logger).SetupRoutes(router, protected)
	return &harness{router: router, admin: admin, auth: auth, token: token}
}

func (h *harness) do(method, path string, body string, contentType string, authed bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", contentType)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if authed {
		req.AddCookie(&http.Cookie{Name: "broker_session", Value: h.token})
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func TestLogin(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/login", url.Values{"password": {"hunter2"}}.Encode(), "application/x-www-form-urlencoded", false)
	require.Equal(t, http.StatusOK, w.Code)

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "broker_session" {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	_, err := h.auth.ValidateToken(cookie.Value)
	assert.NoError(t, err)

	w = h.do(http.MethodPost, "/login", `{"password":"wrong"}`, "application/json", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodPost, "/login", `{}`, "application/json", false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogout(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/logout", "", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Result().Cookies())
	assert.Equal(t, "", w.Result().Cookies()[0].Value)
}

func TestRoutesRequireSession(t *testing.T) {
	h := newHarness(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/connections"},
		{http.MethodGet, "/api/connections/" + string(clientA)},
		{http.MethodPost, "/connection/" + string(clientA) + "/close"},
		{http.MethodPost, "/connection/" + string(clientA) + "/force-pair"},
		{http.MethodPost, "/connection/" + string(clientA) + "/unpair"},
	} {
		w := h.do(tc.method, tc.path, "", "", false)
		assert.Equal(t, http.StatusUnauthorized, w.Code, tc.path)
	}
	assert.Empty(t, h.admin.closed)
}

func TestCloseConnection(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/connection/"+string(clientA)+"/close", "", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []domain.ClientID{clientA}, h.admin.closed)

	w = h.do(http.MethodPost, "/connection/not-a-uuid/close", "", "", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	h.admin.err = fmt.Errorf("client %s: %w", clientB, domain.ErrClientNotFound)
	w = h.do(http.MethodPost, "/connection/"+string(clientB)+"/close", "", "", true)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NOT_FOUND")
}

func TestCloseConnection_RequestLogCarriesClientID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)

	admin := &fakeAdmin{}
	auth := services.NewAuthService("hunter2", "secret", time.Hour)
	token, _, err := auth.Login("hunter2")
	require.NoError(t, err)

	router := gin.New()
	router.Use(middleware.RequestLoggerMiddleware(logger.NewContextLogger(zap.New(core))))
	protected := router.Group("/")
	protected.Use(middleware.AuthMiddleware(auth, "broker_session"))
	NewDashboardHandler(admin, auth, "broker_session", false, nil).SetupRoutes(router, protected)

	req := httptest.NewRequest(http.MethodPost, "/connection/"+string(clientA)+"/close", nil)
	req.AddCookie(&http.Cookie{Name: "broker_session", Value: token})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, string(clientA), logs.All()[0].ContextMap()["client_id"])
}

func TestForcePair(t *testing.T) {
	h := newHarness(t)
	path := "/connection/" + string(clientA) + "/force-pair"

	w := h.do(http.MethodPost, path, url.Values{"pair_with": {string(clientB)}}.Encode(), "application/x-www-form-urlencoded", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, [][2]domain.ClientID{{clientA, clientB}}, h.admin.forced)

	var body struct {
		Status    string            `json:"status"`
		PairWith  domain.ClientID   `json:"paired_with"`
		Displaced []domain.ClientID `json:"displaced"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "paired", body.Status)
	assert.Equal(t, clientB, body.PairWith)
	assert.Equal(t, []domain.ClientID{clientC}, body.Displaced)

	w = h.do(http.MethodPost, path, `{"pair_with":"`+string(clientB)+`"}`, "application/json", true)
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodPost, path, `{}`, "application/json", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	h.admin.err = fmt.Errorf("pair %s with itself: %w", clientA, domain.ErrSelfPair)
	w = h.do(http.MethodPost, path, `{"pair_with":"`+string(clientA)+`"}`, "application/json", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUnpair(t *testing.T) {
	h := newHarness(t)
	path := "/connection/" + string(clientA) + "/unpair"

	w := h.do(http.MethodPost, path, "", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(clientB))

	h.admin.err = domain.ErrNotPaired
	w = h.do(http.MethodPost, path, "", "", true)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetConnection_EncodesBinaryLogAsBase64(t *testing.T) {
	h := newHarness(t)
	h.admin.details = &ports.ConnectionDetails{
		Summary: domain.ConnectionSummary{ID: clientA, Role: domain.RoleRobot, State: domain.StateWaiting},
		MessageLog: []domain.MessageLogEntry{
			{Direction: domain.DirectionIn, Kind: domain.KindBytes, Type: "simulated_image", Data: []byte{0x73, 0, 0, 0, 1, 0xff}},
		},
		AvailableClients: []domain.ConnectionSummary{},
	}

	w := h.do(http.MethodGet, "/api/connections/"+string(clientA), "", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"data":"cwAAAAH/"`)
	assert.Contains(t, w.Body.String(), `"type":"robot"`)
	assert.Contains(t, w.Body.String(), `"available_clients":[]`)
}

func TestListConnections(t *testing.T) {
	h := newHarness(t)
	h.admin.dashboard = ports.DashboardView{
		Unpaired: map[domain.Role][]domain.ConnectionSummary{
			domain.RoleWearable: {{ID: clientC, Role: domain.RoleWearable, State: domain.StateWaiting}},
		},
		Paired:     []domain.ConnectionSummary{{ID: clientA, Role: domain.RoleRobot, State: domain.StatePaired, PairedWith: clientB}},
		TotalCount: 3,
	}

	w := h.do(http.MethodGet, "/api/connections", "", "", true)
	require.Equal(t, http.StatusOK, w.Code)

	var view ports.DashboardView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, 3, view.TotalCount)
	assert.Len(t, view.Unpaired[domain.RoleWearable], 1)
	assert.Equal(t, clientB, view.Paired[0].PairedWith)
}

func TestHealthHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := pairing.NewRegistry(pairing.DefaultPolicy().Compatible)
	checker := monitoring.NewHealthChecker()
	checker.AddRegistryCheck(registry, time.Second)

	router := gin.New()
	NewHealthHandler(checker, registry, time.Now().Add(-90*time.Minute)).SetupRoutes(router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"connections":0`)
	assert.Contains(t, w.Body.String(), `"uptime":"1h30m"`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	checker.AddCheck("redis", func(context.Context) (bool, error) {
		return false, fmt.Errorf("connection refused")
	}, time.Second)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}
