package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"prodtest-backend/internal/model"
)

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("record not found")

// Store defines the interface for all database operations.
type Store interface {
	DB() *gorm.DB

	UpsertTestRecord(ctx context.Context, in RecordInput) (*model.TestRecord, error)
	GetTestRecord(ctx context.Context, id int64) (*model.TestRecord, error)
	ListTestRecords(ctx context.Context, f RecordFilter) ([]model.TestRecord, error)
	UpdateTestRecord(ctx context.Context, id int64, patch RecordPatch) (*model.TestRecord, error)
	DeleteTestRecord(ctx context.Context, id int64) error

	GetUnsyncedRecords(ctx context.Context) ([]model.TestRecord, error)
	MarkSynced(ctx context.Context, ids []int64) error

	CreateUploadLog(ctx context.Context, recordsCount int, status string, errorMessage *string) (*model.CloudUploadLog, error)
	ListUploadLogs(ctx context.Context, limit int) ([]model.CloudUploadLog, error)

	SaveSubscription(ctx context.Context, sub *model.PushSubscription) error
	GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error
	ListSubscriptions(ctx context.Context) ([]model.PushSubscription, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// DB exposes the underlying connection for migrations and tests.
func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// upsertColumns are the columns overwritten when a submission carries an
// already-known (device_id, serial_number) pair. created_at and id are
// deliberately absent; synced is reset so the new result is re-uploaded.
var upsertColumns = []string{
	"product_name", "test_station", "test_result", "test_time", "test_data",
	"voltage", "current", "temperature", "humidity", "pressure", "uuid",
	"synced", "updated_at",
}

// UpsertTestRecord inserts a new record or overwrites the existing row with
// the same (device_id, serial_number) pair. The conflict is resolved by the
// database, so concurrent submissions of the same pair cannot race into a
// duplicate.
func (s *gormStore) UpsertTestRecord(ctx context.Context, in RecordInput) (*model.TestRecord, error) {
	rec := model.TestRecord{
		DeviceID:     in.DeviceID,
		ProductName:  in.ProductName,
		SerialNumber: in.SerialNumber,
		TestStation:  in.TestStation,
		TestResult:   in.TestResult,
		TestTime:     in.TestTime,
		TestData:     in.TestData,
		Voltage:      in.Voltage,
		Current:      in.Current,
		Temperature:  in.Temperature,
		Humidity:     in.Humidity,
		Pressure:     in.Pressure,
		UUID:         in.UUID,
		Synced:       false,
	}

	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}, {Name: "serial_number"}},
		DoUpdates: clause.AssignmentColumns(upsertColumns),
	}).Create(&rec).Error; err != nil {
		return nil, fmt.Errorf("upsert test record: %w", err)
	}

	// Re-read by the natural key: on the conflict path the driver does not
	// report the surviving row's id or created_at.
	var out model.TestRecord
	if err := s.db.WithContext(ctx).
		Where("device_id = ? AND serial_number = ?", in.DeviceID, in.SerialNumber).
		First(&out).Error; err != nil {
		return nil, fmt.Errorf("fetch upserted record: %w", err)
	}
	return &out, nil
}

func (s *gormStore) GetTestRecord(ctx context.Context, id int64) (*model.TestRecord, error) {
	var rec model.TestRecord
	if err := s.db.WithContext(ctx).First(&rec, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch test record %d: %w", id, err)
	}
	return &rec, nil
}

func (s *gormStore) ListTestRecords(ctx context.Context, f RecordFilter) ([]model.TestRecord, error) {
	q := s.db.WithContext(ctx).Model(&model.TestRecord{})

	if f.DeviceID != "" {
		q = q.Where("device_id = ?", f.DeviceID)
	}
	if f.TestResult != "" {
		q = q.Where("test_result = ?", f.TestResult)
	}
	if f.StartDate != nil {
		q = q.Where("test_time >= ?", *f.StartDate)
	}
	if f.EndDate != nil {
		q = q.Where("test_time <= ?", *f.EndDate)
	}

	var records []model.TestRecord
	if err := q.Order("test_time DESC").Offset(f.Skip).Limit(f.Limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list test records: %w", err)
	}
	return records, nil
}

func (s *gormStore) UpdateTestRecord(ctx context.Context, id int64, patch RecordPatch) (*model.TestRecord, error) {
	updates := make(map[string]any)
	if patch.DeviceID != nil {
		updates["device_id"] = *patch.DeviceID
	}
	if patch.ProductName != nil {
		updates["product_name"] = *patch.ProductName
	}
	if patch.TestResult != nil {
		updates["test_result"] = *patch.TestResult
	}
	if patch.TestData != nil {
		updates["test_data"] = *patch.TestData
	}
	if patch.Voltage != nil {
		updates["voltage"] = *patch.Voltage
	}
	if patch.Current != nil {
		updates["current"] = *patch.Current
	}
	if patch.Temperature != nil {
		updates["temperature"] = *patch.Temperature
	}
	if patch.Humidity != nil {
		updates["humidity"] = *patch.Humidity
	}
	if patch.Pressure != nil {
		updates["pressure"] = *patch.Pressure
	}
	if patch.UUID != nil {
		updates["uuid"] = *patch.UUID
	}

	var rec model.TestRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&rec, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&rec).Updates(updates).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update test record %d: %w", id, err)
	}
	return &rec, nil
}

func (s *gormStore) DeleteTestRecord(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&model.TestRecord{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete test record %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) GetUnsyncedRecords(ctx context.Context) ([]model.TestRecord, error) {
	var records []model.TestRecord
	if err := s.db.WithContext(ctx).Where("synced = ?", false).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("fetch unsynced records: %w", err)
	}
	return records, nil
}

// MarkSynced flips the synced flag for the given ids. Ids that are already
// synced (or gone) are silently skipped.
func (s *gormStore) MarkSynced(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Model(&model.TestRecord{}).
		Where("id IN ?", ids).
		Update("synced", true).Error; err != nil {
		return fmt.Errorf("mark records synced: %w", err)
	}
	return nil
}

func (s *gormStore) CreateUploadLog(ctx context.Context, recordsCount int, status string, errorMessage *string) (*model.CloudUploadLog, error) {
	entry := model.CloudUploadLog{
		RecordsCount: recordsCount,
		Status:       status,
		ErrorMessage: errorMessage,
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("create upload log: %w", err)
	}
	return &entry, nil
}

func (s *gormStore) ListUploadLogs(ctx context.Context, limit int) ([]model.CloudUploadLog, error) {
	var logs []model.CloudUploadLog
	if err := s.db.WithContext(ctx).Order("upload_time DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("list upload logs: %w", err)
	}
	return logs, nil
}

func (s *gormStore) SaveSubscription(ctx context.Context, sub *model.PushSubscription) error {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
	}).Create(sub).Error; err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

func (s *gormStore) GetSubscription(ctx context.Context, endpoint string) (*model.PushSubscription, error) {
	var sub model.PushSubscription
	if err := s.db.WithContext(ctx).First(&sub, "endpoint = ?", endpoint).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch subscription: %w", err)
	}
	return &sub, nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	if err := s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error; err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

func (s *gormStore) ListSubscriptions(ctx context.Context) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}
