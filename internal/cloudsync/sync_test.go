package cloudsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"prodtest-backend/config"
	"prodtest-backend/internal/model"
	"prodtest-backend/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	dsn := fmt.Sprintf("file:cloudsync_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&model.TestRecord{}, &model.CloudUploadLog{}))
	return store.NewGormStore(db)
}

func seedRecord(t *testing.T, s store.Store, deviceID, serial string) *model.TestRecord {
	rec, err := s.UpsertTestRecord(context.Background(), store.RecordInput{
		DeviceID:     deviceID,
		ProductName:  "Widget",
		SerialNumber: serial,
		TestStation:  "ST-01",
		TestResult:   "PASS",
		TestTime:     time.Now(),
	})
	require.NoError(t, err)
	return rec
}

func syncConfig(url string) *config.Config {
	return &config.Config{
		Cloud: config.CloudConfig{
			Enabled: true,
			APIURL:  url,
			APIKey:  "test-api-key",
		},
	}
}

func TestRunOnce_SuccessMarksRecordsAndLogs(t *testing.T) {
	s := newTestStore(t)
	seedRecord(t, s, "DEV-A", "SN-1")
	seedRecord(t, s, "DEV-A", "SN-2")

	var gotAuth string
	var gotRecords int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var body struct {
			Records []map[string]any `json:"records"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotRecords = len(body.Records)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := NewService(syncConfig(server.URL), s, nil)
	svc.RunOnce(context.Background())

	assert.Equal(t, "Bearer test-api-key", gotAuth)
	assert.Equal(t, 2, gotRecords)

	unsynced, err := s.GetUnsyncedRecords(context.Background())
	require.NoError(t, err)
	assert.Empty(t, unsynced)

	logs, err := s.ListUploadLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.UploadStatusSuccess, logs[0].Status)
	assert.Equal(t, 2, logs[0].RecordsCount)
	assert.Nil(t, logs[0].ErrorMessage)
}

func TestRunOnce_RemoteFailureLeavesRecordsUnsynced(t *testing.T) {
	s := newTestStore(t)
	seedRecord(t, s, "DEV-B", "SN-3")

	var failRemote atomic.Bool
	failRemote.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failRemote.Load() {
			http.Error(w, "quota exceeded", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := NewService(syncConfig(server.URL), s, nil)
	svc.RunOnce(context.Background())

	unsynced, err := s.GetUnsyncedRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, unsynced, 1, "record must stay unsynced after a remote failure")

	logs, err := s.ListUploadLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.UploadStatusFailed, logs[0].Status)
	assert.Equal(t, 1, logs[0].RecordsCount)
	require.NotNil(t, logs[0].ErrorMessage)
	assert.Contains(t, *logs[0].ErrorMessage, "HTTP 503")

	// The next tick retries the same set and succeeds.
	time.Sleep(10 * time.Millisecond)
	failRemote.Store(false)
	svc.RunOnce(context.Background())

	unsynced, err = s.GetUnsyncedRecords(context.Background())
	require.NoError(t, err)
	assert.Empty(t, unsynced)

	logs, err = s.ListUploadLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, model.UploadStatusSuccess, logs[0].Status)
}

func TestRunOnce_EmptySetWritesNoAuditEntry(t *testing.T) {
	s := newTestStore(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("remote endpoint must not be called for an empty unsynced set")
	}))
	defer server.Close()

	svc := NewService(syncConfig(server.URL), s, nil)
	svc.RunOnce(context.Background())

	logs, err := s.ListUploadLogs(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestRunOnce_TransportErrorLogsZeroCount(t *testing.T) {
	s := newTestStore(t)
	seedRecord(t, s, "DEV-C", "SN-4")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // Connection refused from here on.

	svc := NewService(syncConfig(server.URL), s, nil)
	svc.RunOnce(context.Background())

	unsynced, err := s.GetUnsyncedRecords(context.Background())
	require.NoError(t, err)
	assert.Len(t, unsynced, 1)

	logs, err := s.ListUploadLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, model.UploadStatusFailed, logs[0].Status)
	assert.Equal(t, 0, logs[0].RecordsCount)
	require.NotNil(t, logs[0].ErrorMessage)
}

func TestRun_InertWhenDisabled(t *testing.T) {
	s := newTestStore(t)
	seedRecord(t, s, "DEV-D", "SN-5")

	cfg := &config.Config{Cloud: config.CloudConfig{Enabled: false, Interval: time.Hour}}
	svc := NewService(cfg, s, nil)

	done := make(chan struct{})
	go func() {
		svc.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return immediately when cloud sync is disabled")
	}

	logs, err := s.ListUploadLogs(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, logs)
}
