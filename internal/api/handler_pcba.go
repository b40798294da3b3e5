package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"prodtest-backend/internal/relay"
	"prodtest-backend/internal/ws"
)

// PostPcbaEvent handles POST /api/pcba/events: validate, normalize and fan
// the stage event out to every connected dashboard.
func (h *Handler) PostPcbaEvent(c *gin.Context) {
	var ev relay.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ack, err := h.relay.Submit(ev)
	if err != nil {
		var verr *relay.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}

	c.JSON(http.StatusAccepted, ack)
}

type startTestRequest struct {
	Serial string `json:"serial" binding:"required"`
}

// StartTest handles POST /api/pcba/start-test: drive the full stage sequence
// for a board through the configured tester adapter, broadcasting progress as
// it goes.
func (h *Handler) StartTest(c *gin.Context) {
	var req startTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "PCBA tester is not configured"})
		return
	}

	if err := h.relay.RunSequence(c.Request.Context(), req.Serial, h.runner); err != nil {
		var verr *relay.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, gin.H{"error": verr.Message})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Test execution error"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "completed", "serial": req.Serial, "stages": relay.Stages})
}

// DebugBroadcast handles POST /api/pcba/debug-broadcast: push one canned
// pcba_event so a dashboard's channel wiring can be verified end to end.
func (h *Handler) DebugBroadcast(c *gin.Context) {
	serial := c.DefaultQuery("serial", "NL20231203001")

	h.hub.Broadcast(ws.Envelope{
		Type: ws.TypePcbaEvent,
		Data: map[string]any{
			"serial": serial,
			"stage":  "wifi",
			"status": "testing",
			"detail": map[string]any{"rssi": -50},
		},
		Timestamp: time.Now(),
	})

	c.JSON(http.StatusOK, gin.H{"status": "broadcasted", "serial": serial})
}
