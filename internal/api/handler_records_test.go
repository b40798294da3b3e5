package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"prodtest-backend/config"
	"prodtest-backend/internal/model"
	"prodtest-backend/internal/relay"
	"prodtest-backend/internal/store"
	"prodtest-backend/internal/ws"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			RateLimitPerSec: 1000,
			RateLimitBurst:  1000,
			CacheTTLSeconds: 1,
		},
		CORS: config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
	}
}

func newTestRouter(t *testing.T) (*gin.Engine, store.Store, *ws.Hub) {
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:api_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.TestRecord{}, &model.CloudUploadLog{}, &model.PushSubscription{}))

	s := store.NewGormStore(db)
	hub := ws.NewHub()
	router := NewRouter(testConfig(), s, hub, relay.New(hub), nil, nil, nil)
	return router, s, hub
}

func postJSON(router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func recordBody(deviceID, serial, result string, testTime time.Time) map[string]any {
	return map[string]any{
		"device_id":     deviceID,
		"product_name":  "Widget Mk I",
		"serial_number": serial,
		"test_station":  "ST-01",
		"test_result":   result,
		"test_time":     testTime.Format(time.RFC3339),
	}
}

func TestCreateTestRecord_UpsertsByCompositeKey(t *testing.T) {
	router, s, _ := newTestRouter(t)

	w := postJSON(router, "/api/test-records/", recordBody("DEV-1", "SN-1", "FAIL", time.Now()))
	require.Equal(t, http.StatusCreated, w.Code)

	var first model.TestRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	assert.Equal(t, "FAIL", first.TestResult)
	assert.False(t, first.Synced)

	// Resubmission with the same (device_id, serial_number) overwrites.
	w = postJSON(router, "/api/test-records/", recordBody("DEV-1", "SN-1", "PASS", time.Now()))
	require.Equal(t, http.StatusCreated, w.Code)

	var second model.TestRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "PASS", second.TestResult)

	var count int64
	require.NoError(t, s.DB().Model(&model.TestRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestCreateTestRecord_BroadcastsResult(t *testing.T) {
	router, _, hub := newTestRouter(t)

	sess := &captureSession{}
	hub.Register(sess)

	w := postJSON(router, "/api/test-records/", recordBody("DEV-1", "SN-2", "PASS", time.Now()))
	require.Equal(t, http.StatusCreated, w.Code)

	require.Len(t, sess.envelopes, 1)
	assert.Equal(t, ws.TypeTestResult, sess.envelopes[0].Type)
}

func TestCreateTestRecord_MalformedBody(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodPost, "/api/test-records/", strings.NewReader(`{"device_id": 42`))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListTestRecords_Pagination(t *testing.T) {
	router, _, _ := newTestRouter(t)
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	require.Equal(t, http.StatusCreated, postJSON(router, "/api/test-records/", recordBody("DEV-1", "SN-A", "PASS", base)).Code)
	require.Equal(t, http.StatusCreated, postJSON(router, "/api/test-records/", recordBody("DEV-1", "SN-B", "PASS", base.Add(time.Hour))).Code)

	get := func(path string) []model.TestRecord {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		var records []model.TestRecord
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
		return records
	}

	page1 := get("/api/test-records/?skip=0&limit=1")
	page2 := get("/api/test-records/?skip=1&limit=1")

	require.Len(t, page1, 1)
	require.Len(t, page2, 1)
	assert.Equal(t, "SN-B", page1[0].SerialNumber, "newest record first")
	assert.Equal(t, "SN-A", page2[0].SerialNumber)
}

func TestListTestRecords_RejectsBadLimit(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/test-records/?limit=headers", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/api/test-records/?limit=501", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetUpdateDeleteTestRecord(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := postJSON(router, "/api/test-records/", recordBody("DEV-9", "SN-9", "FAIL", time.Now()))
	require.Equal(t, http.StatusCreated, w.Code)
	var rec model.TestRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))

	t.Run("get by id", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, fmt.Sprintf("/api/test-records/%d", rec.ID), nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("get unknown id is 404", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/api/test-records/99999", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("partial update touches only provided fields", func(t *testing.T) {
		payload, _ := json.Marshal(map[string]any{"test_result": "PASS"})
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodPut, fmt.Sprintf("/api/test-records/%d", rec.ID), bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var updated model.TestRecord
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
		assert.Equal(t, "PASS", updated.TestResult)
		assert.Equal(t, rec.SerialNumber, updated.SerialNumber)
	})

	t.Run("update unknown id is 404", func(t *testing.T) {
		payload, _ := json.Marshal(map[string]any{"test_result": "PASS"})
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodPut, "/api/test-records/99999", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("delete then 404", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodDelete, fmt.Sprintf("/api/test-records/%d", rec.ID), nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNoContent, w.Code)

		w = httptest.NewRecorder()
		req, _ = http.NewRequest(http.MethodDelete, fmt.Sprintf("/api/test-records/%d", rec.ID), nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

// captureSession is a hub session recording everything broadcast to it.
type captureSession struct {
	envelopes []ws.Envelope
}

func (c *captureSession) Send(env ws.Envelope) error {
	c.envelopes = append(c.envelopes, env)
	return nil
}

func (c *captureSession) Close() error { return nil }
