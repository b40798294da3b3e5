package model

import "time"

// TestRecord represents one test result submitted by a production-line station.
// The natural identity of a record is the (device_id, serial_number) pair;
// resubmissions with the same pair overwrite the existing row.
type TestRecord struct {
	ID           int64     `gorm:"primaryKey" json:"id"`
	DeviceID     string    `gorm:"size:100;not null;index;uniqueIndex:idx_device_serial" json:"device_id"`
	ProductName  string    `gorm:"size:200;not null" json:"product_name"`
	SerialNumber string    `gorm:"size:100;not null;uniqueIndex:idx_device_serial" json:"serial_number"`
	TestStation  string    `gorm:"size:100;not null" json:"test_station"`
	TestResult   string    `gorm:"size:20;not null" json:"test_result"` // PASS / FAIL
	TestTime     time.Time `gorm:"not null;index" json:"test_time"`

	// Test payload (opaque, typically JSON produced by the station).
	TestData *string `gorm:"type:text" json:"test_data"`

	// Measured parameters.
	Voltage     *float64 `json:"voltage"`
	Current     *float64 `json:"current"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Pressure    *float64 `json:"pressure"`
	UUID        *string  `gorm:"size:100" json:"uuid"`

	// System fields.
	Synced    bool      `gorm:"not null;default:false;index" json:"synced"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}
