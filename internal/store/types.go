package store

import "time"

// RecordInput carries the caller-supplied fields of a test record submission.
type RecordInput struct {
	DeviceID     string    `json:"device_id" binding:"required"`
	ProductName  string    `json:"product_name" binding:"required"`
	SerialNumber string    `json:"serial_number" binding:"required"`
	TestStation  string    `json:"test_station" binding:"required"`
	TestResult   string    `json:"test_result" binding:"required"`
	TestTime     time.Time `json:"test_time" binding:"required"`
	TestData     *string   `json:"test_data"`
	Voltage      *float64  `json:"voltage"`
	Current      *float64  `json:"current"`
	Temperature  *float64  `json:"temperature"`
	Humidity     *float64  `json:"humidity"`
	Pressure     *float64  `json:"pressure"`
	UUID         *string   `json:"uuid"`
}

// RecordPatch carries an optional subset of fields for a partial update.
// Nil fields are left untouched.
type RecordPatch struct {
	DeviceID    *string  `json:"device_id"`
	ProductName *string  `json:"product_name"`
	TestResult  *string  `json:"test_result"`
	TestData    *string  `json:"test_data"`
	Voltage     *float64 `json:"voltage"`
	Current     *float64 `json:"current"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Pressure    *float64 `json:"pressure"`
	UUID        *string  `json:"uuid"`
}

// RecordFilter selects and paginates test records.
type RecordFilter struct {
	DeviceID   string
	TestResult string
	StartDate  *time.Time
	EndDate    *time.Time
	Skip       int
	Limit      int
}
