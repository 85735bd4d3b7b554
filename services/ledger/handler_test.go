package ledger

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"feedshop-rewards/pkg/middleware"
	"feedshop-rewards/services/user"
	"feedshop-rewards/services/user/usertest"
)

func newTestRouter(t *testing.T, svc *Service, db *gorm.DB) *gin.Engine {
	t.Helper()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Error(), middleware.Principal())
	guard := usertest.NewGuard(t, db, &user.User{ID: "u-1"})
	NewHandler(svc, guard).Register(r.Group("/api/v1", middleware.RequireUser()))
	return r
}

func doRequest(r http.Handler, method, path, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(middleware.HeaderUserID, userID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type errorBody struct {
	Error struct {
		Code   string `json:"code"`
		Reason string `json:"reason"`
	} `json:"error"`
}

func TestHandlerRequiresCaller(t *testing.T) {
	svc, db := newTestService(t)
	r := newTestRouter(t, svc, db)

	w := doRequest(r, http.MethodGet, "/api/v1/points/balance", "", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandlerUseAndCancel(t *testing.T) {
	svc, db := newTestService(t)
	r := newTestRouter(t, svc, db)

	_, err := svc.EarnPoints(t.Context(), "u-1", 300, "seed", "")
	require.NoError(t, err)

	w := doRequest(r, http.MethodPost, "/api/v1/internal/points/use", usertest.ServiceID, `{"user_id":"u-1","amount":0}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "INVALID_AMOUNT", body.Error.Reason)

	w = doRequest(r, http.MethodPost, "/api/v1/internal/points/use", usertest.ServiceID, `{"amount":10}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, http.MethodPost, "/api/v1/internal/points/use", usertest.ServiceID, `{"user_id":"u-1","amount":500,"reference_id":"order-1"}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "INSUFFICIENT_BALANCE", body.Error.Reason)

	w = doRequest(r, http.MethodPost, "/api/v1/internal/points/use", usertest.ServiceID, `{"user_id":"u-1","amount":120,"reference_id":"order-1"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(r, http.MethodPost, "/api/v1/internal/points/cancel", usertest.ServiceID, `{"user_id":"u-1","amount":120,"reference_id":"order-1"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(r, http.MethodGet, "/api/v1/points/balance", "u-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var balance PointBalance
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &balance))
	require.Equal(t, int64(300), balance.CurrentPoints)

	w = doRequest(r, http.MethodGet, "/api/v1/points/transactions?type=USE&size=5", "u-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Total int64 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	require.Equal(t, int64(1), page.Total)

	w = doRequest(r, http.MethodGet, "/api/v1/points/verify", "u-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var verification ChainVerification
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &verification))
	require.True(t, verification.Valid, verification.Reason)
}

func TestHandlerUseAndCancelRequireServiceRole(t *testing.T) {
	svc, db := newTestService(t)
	r := newTestRouter(t, svc, db)

	_, err := svc.EarnPoints(t.Context(), "u-1", 300, "seed", "")
	require.NoError(t, err)

	for _, path := range []string{"/api/v1/internal/points/use", "/api/v1/internal/points/cancel"} {
		w := doRequest(r, http.MethodPost, path, "u-1", `{"user_id":"u-1","amount":1000,"reference_id":"order-9"}`)
		require.Equal(t, http.StatusForbidden, w.Code, path)
		var body errorBody
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Equal(t, "ACCESS_DENIED", body.Error.Reason)

		w = doRequest(r, http.MethodPost, path, "stranger", `{"user_id":"u-1","amount":1000,"reference_id":"order-9"}`)
		require.Equal(t, http.StatusForbidden, w.Code, path)
	}

	w := doRequest(r, http.MethodPost, "/api/v1/points/cancel", "u-1", `{"amount":1000}`)
	require.Equal(t, http.StatusNotFound, w.Code)

	balance, err := svc.GetBalance(t.Context(), "u-1")
	require.NoError(t, err)
	require.Equal(t, int64(300), balance.CurrentPoints)
}
