package cloudsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"prodtest-backend/config"
	"prodtest-backend/internal/model"
	"prodtest-backend/internal/store"
	"prodtest-backend/internal/ws"
)

// Service periodically forwards unsynced test records to the cloud endpoint.
// Delivery is at-least-once: a failed run leaves records unsynced and the
// next tick retries the whole set.
type Service struct {
	cfg    *config.Config
	store  store.Store
	hub    ws.Broadcaster
	client *http.Client
}

// NewService creates the sync service. hub may be nil when no dashboard
// feedback is wanted.
func NewService(cfg *config.Config, s store.Store, hub ws.Broadcaster) *Service {
	return &Service{
		cfg:   cfg,
		store: s,
		hub:   hub,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Run starts the upload loop. It is inert when cloud sync is disabled.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Cloud.Enabled {
		log.Println("cloudsync: disabled, not starting")
		return
	}
	log.Printf("cloudsync: starting, upload every %s", s.cfg.Cloud.Interval)

	s.RunOnce(ctx)

	timer := time.NewTimer(s.cfg.Cloud.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("cloudsync: shutting down")
			return
		case <-timer.C:
			s.RunOnce(ctx)
			timer.Reset(s.cfg.Cloud.Interval)
		}
	}
}

// uploadRecord is the wire shape of one record in the batch payload.
type uploadRecord struct {
	ID           int64    `json:"id"`
	DeviceID     string   `json:"device_id"`
	ProductName  string   `json:"product_name"`
	SerialNumber string   `json:"serial_number"`
	TestStation  string   `json:"test_station"`
	TestResult   string   `json:"test_result"`
	TestTime     string   `json:"test_time"`
	TestData     *string  `json:"test_data"`
	Voltage      *float64 `json:"voltage"`
	Current      *float64 `json:"current"`
	Temperature  *float64 `json:"temperature"`
}

// RunOnce performs a single upload attempt. Failures never propagate: every
// outcome ends in a log line and, for non-empty runs and errors, an audit
// entry.
func (s *Service) RunOnce(ctx context.Context) {
	log.Println("cloudsync: starting upload run")

	records, err := s.store.GetUnsyncedRecords(ctx)
	if err != nil {
		s.recordFailure(ctx, 0, fmt.Sprintf("fetch unsynced records: %v", err))
		return
	}

	if len(records) == 0 {
		log.Println("cloudsync: no records to upload")
		return
	}

	status, body, err := s.uploadBatch(ctx, records)
	if err != nil {
		s.recordFailure(ctx, 0, err.Error())
		return
	}

	if status < 200 || status >= 300 {
		s.recordFailure(ctx, len(records), fmt.Sprintf("HTTP %d: %s", status, body))
		return
	}

	ids := make([]int64, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	if err := s.store.MarkSynced(ctx, ids); err != nil {
		// The remote accepted the batch but the flags did not stick; the next
		// run re-sends the same records.
		s.recordFailure(ctx, 0, fmt.Sprintf("mark synced: %v", err))
		return
	}

	if _, err := s.store.CreateUploadLog(ctx, len(records), model.UploadStatusSuccess, nil); err != nil {
		log.Printf("cloudsync: failed to write audit entry: %v", err)
	}
	log.Printf("cloudsync: successfully uploaded %d records", len(records))
	s.broadcastStatus(model.UploadStatusSuccess, len(records), "")
}

// uploadBatch posts the whole unsynced set as one request and returns the
// remote status code and response body.
func (s *Service) uploadBatch(ctx context.Context, records []model.TestRecord) (int, string, error) {
	items := make([]uploadRecord, len(records))
	for i, r := range records {
		items[i] = uploadRecord{
			ID:           r.ID,
			DeviceID:     r.DeviceID,
			ProductName:  r.ProductName,
			SerialNumber: r.SerialNumber,
			TestStation:  r.TestStation,
			TestResult:   r.TestResult,
			TestTime:     r.TestTime.Format(time.RFC3339Nano),
			TestData:     r.TestData,
			Voltage:      r.Voltage,
			Current:      r.Current,
			Temperature:  r.Temperature,
		}
	}

	payload, err := json.Marshal(map[string]any{"records": items})
	if err != nil {
		return 0, "", fmt.Errorf("marshal upload payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Cloud.APIURL, bytes.NewReader(payload))
	if err != nil {
		return 0, "", fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.Cloud.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", fmt.Errorf("read upload response: %w", err)
	}
	return resp.StatusCode, string(body), nil
}

func (s *Service) recordFailure(ctx context.Context, recordsCount int, errMsg string) {
	log.Printf("cloudsync: upload failed: %s", errMsg)
	if _, err := s.store.CreateUploadLog(ctx, recordsCount, model.UploadStatusFailed, &errMsg); err != nil {
		log.Printf("cloudsync: failed to write audit entry: %v", err)
	}
	s.broadcastStatus(model.UploadStatusFailed, recordsCount, errMsg)
}

func (s *Service) broadcastStatus(status string, recordsCount int, errMsg string) {
	if s.hub == nil {
		return
	}
	data := map[string]any{
		"event":         "cloud_sync",
		"status":        status,
		"records_count": recordsCount,
	}
	if errMsg != "" {
		data["error"] = errMsg
	}
	s.hub.Broadcast(ws.Envelope{Type: ws.TypeSystemStatus, Data: data, Timestamp: time.Now()})
}
