package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"prodtest-backend/internal/store"
	"prodtest-backend/internal/ws"
)

// CreateTestRecord handles POST /api/test-records/. Submissions carrying an
// already-known (device_id, serial_number) pair overwrite the stored row.
func (h *Handler) CreateTestRecord(c *gin.Context) {
	var in store.RecordInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.store.UpsertTestRecord(c.Request.Context(), in)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store test record"})
		return
	}

	if h.hub != nil {
		h.hub.Broadcast(ws.Envelope{Type: ws.TypeTestResult, Data: rec, Timestamp: time.Now()})
	}
	if h.pool != nil && strings.EqualFold(rec.TestResult, "FAIL") {
		h.pool.Dispatch(rec.ID)
	}

	c.JSON(http.StatusCreated, rec)
}

// ListTestRecords handles GET /api/test-records/.
func (h *Handler) ListTestRecords(c *gin.Context) {
	skip, err := parseIntParam(c, "skip", 0, 0, 1<<30)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "skip must be a non-negative integer"})
		return
	}
	limit, err := parseIntParam(c, "limit", 100, 1, 500)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return
	}

	filter := store.RecordFilter{
		DeviceID:   c.Query("device_id"),
		TestResult: c.Query("test_result"),
		Skip:       skip,
		Limit:      limit,
	}

	if v := c.Query("start_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid start_date format. Use RFC3339."})
			return
		}
		filter.StartDate = &t
	}
	if v := c.Query("end_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid end_date format. Use RFC3339."})
			return
		}
		filter.EndDate = &t
	}

	records, err := h.store.ListTestRecords(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve test records"})
		return
	}
	c.JSON(http.StatusOK, records)
}

// GetTestRecord handles GET /api/test-records/:id.
func (h *Handler) GetTestRecord(c *gin.Context) {
	id, ok := recordID(c)
	if !ok {
		return
	}

	rec, err := h.store.GetTestRecord(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve test record"})
		}
		return
	}
	c.JSON(http.StatusOK, rec)
}

// UpdateTestRecord handles PUT /api/test-records/:id. Only provided fields
// are touched.
func (h *Handler) UpdateTestRecord(c *gin.Context) {
	id, ok := recordID(c)
	if !ok {
		return
	}

	var patch store.RecordPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, err := h.store.UpdateTestRecord(c.Request.Context(), id, patch)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update test record"})
		}
		return
	}
	c.JSON(http.StatusOK, rec)
}

// DeleteTestRecord handles DELETE /api/test-records/:id.
func (h *Handler) DeleteTestRecord(c *gin.Context) {
	id, ok := recordID(c)
	if !ok {
		return
	}

	if err := h.store.DeleteTestRecord(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete test record"})
		}
		return
	}
	c.Status(http.StatusNoContent)
}

func recordID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid record ID"})
		return 0, false
	}
	return id, true
}

func parseIntParam(c *gin.Context, name string, def, min, max int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min || n > max {
		return 0, errors.New("out of range")
	}
	return n, nil
}
