package model

import "time"

// Cloud upload outcome values.
const (
	UploadStatusSuccess = "SUCCESS"
	UploadStatusFailed  = "FAILED"
)

// CloudUploadLog is an append-only audit entry describing one cloud sync
// attempt. Rows are never mutated or deleted.
type CloudUploadLog struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	UploadTime   time.Time `gorm:"not null;index;autoCreateTime" json:"upload_time"`
	RecordsCount int       `gorm:"not null" json:"records_count"`
	Status       string    `gorm:"size:20;not null" json:"status"` // SUCCESS / FAILED
	ErrorMessage *string   `gorm:"type:text" json:"error_message"`
}
