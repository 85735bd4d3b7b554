package level

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"feedshop-rewards/pkg/middleware"
	"feedshop-rewards/services/user/usertest"
)

func doRequest(r http.Handler, method, path, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderUserID, userID)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandlerRecordActivity(t *testing.T) {
	f := newFixture(t, defaultLevels)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Error(), middleware.Principal())
	NewHandler(f.svc, usertest.NewGuard(t, f.db)).Register(r.Group("/api/v1", middleware.RequireUser()))

	body := `{"user_id":"u-1","activity_type":"PURCHASE_COMPLETION","reference_id":"order-1","reference_type":"ORDER"}`
	w := doRequest(r, http.MethodPost, "/api/v1/internal/levels/activities", "u-1", body)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = doRequest(r, http.MethodPost, "/api/v1/levels/activities", "u-1", body)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(r, http.MethodPost, "/api/v1/internal/levels/activities", usertest.ServiceID, body)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(r, http.MethodPost, "/api/v1/internal/levels/activities", usertest.ServiceID, body)
	require.Equal(t, http.StatusOK, w.Code)
	var res ActivityResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.True(t, res.Duplicate)

	w = doRequest(r, http.MethodPost, "/api/v1/internal/levels/activities", usertest.ServiceID, `{"user_id":"u-1","description":"x"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, http.MethodPost, "/api/v1/internal/levels/activities", usertest.ServiceID, `{"activity_type":"PURCHASE_COMPLETION"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, http.MethodGet, "/api/v1/levels/me", "u-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var view StatsView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.Equal(t, int64(50), view.TotalPoints)
	require.Equal(t, int64(50), view.PointsToNextLevel)

	w = doRequest(r, http.MethodGet, "/api/v1/levels", "u-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(r, http.MethodGet, "/api/v1/levels/me/activities?limit=10", "u-1", "")
	require.Equal(t, http.StatusOK, w.Code)
}
