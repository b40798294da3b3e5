package relay

import (
	"fmt"
	"log"
	"strings"
	"time"

	"prodtest-backend/internal/ws"
)

// ValidationError reports bad caller input. It is surfaced to HTTP callers as
// a 400 with the message identifying the offending field.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Stages lists the PCBA test phases in execution order.
var Stages = []string{"wifi", "firmware", "touch", "bluetooth", "speaker"}

var validStages = map[string]struct{}{
	"wifi": {}, "firmware": {}, "touch": {}, "bluetooth": {}, "speaker": {},
}

var validStatuses = map[string]struct{}{
	"pending": {}, "testing": {}, "pass": {}, "fail": {},
}

// Event is one raw PCBA stage-progress event as submitted by a tester.
type Event struct {
	Serial    string         `json:"serial"`
	Stage     string         `json:"stage"`
	Status    string         `json:"status"`
	Progress  *int           `json:"progress"`
	Detail    map[string]any `json:"detail"`
	Timestamp *time.Time     `json:"timestamp"`
}

// Ack acknowledges an accepted event. It echoes the normalized fields and
// does not imply delivery to any particular dashboard.
type Ack struct {
	Status string `json:"status"`
	Serial string `json:"serial"`
	Stage  string `json:"stage"`
	State  string `json:"state"`
}

// Relay validates and normalizes inbound PCBA events and fans them out
// through the broadcast hub.
type Relay struct {
	hub ws.Broadcaster
}

// New creates a relay publishing to the given hub.
func New(hub ws.Broadcaster) *Relay {
	return &Relay{hub: hub}
}

// Submit validates the event, normalizes serial/stage/status and the
// timestamp, broadcasts a pcba_event envelope and returns an acknowledgement.
// Nothing is broadcast for invalid input.
func (r *Relay) Submit(ev Event) (*Ack, error) {
	serial := strings.TrimSpace(ev.Serial)
	if serial == "" {
		log.Printf("relay: rejected event: missing serial (stage=%q status=%q)", ev.Stage, ev.Status)
		return nil, &ValidationError{Message: "serial is required"}
	}

	stage := strings.ToLower(strings.TrimSpace(ev.Stage))
	if _, ok := validStages[stage]; !ok {
		log.Printf("relay: rejected event: invalid stage %q (serial=%s)", stage, serial)
		return nil, &ValidationError{Message: fmt.Sprintf("invalid stage: %s", stage)}
	}

	status := strings.ToLower(strings.TrimSpace(ev.Status))
	if _, ok := validStatuses[status]; !ok {
		log.Printf("relay: rejected event: invalid status %q (serial=%s stage=%s)", status, serial, stage)
		return nil, &ValidationError{Message: fmt.Sprintf("invalid status: %s", status)}
	}

	if ev.Progress != nil && (*ev.Progress < 0 || *ev.Progress > 100) {
		log.Printf("relay: rejected event: progress %d out of range (serial=%s stage=%s)", *ev.Progress, serial, stage)
		return nil, &ValidationError{Message: "progress must be between 0 and 100"}
	}

	ts := time.Now()
	if ev.Timestamp != nil {
		ts = *ev.Timestamp
	}

	data := map[string]any{
		"serial":    serial,
		"stage":     stage,
		"status":    status,
		"progress":  ev.Progress,
		"detail":    ev.Detail,
		"timestamp": ts.Format(time.RFC3339Nano),
	}

	r.hub.Broadcast(ws.Envelope{Type: ws.TypePcbaEvent, Data: data, Timestamp: time.Now()})
	log.Printf("relay: broadcasted pcba event serial=%s stage=%s status=%s", serial, stage, status)

	return &Ack{Status: "accepted", Serial: serial, Stage: stage, State: status}, nil
}

// Broadcast publishes an already-normalized pcba_event payload. Used by the
// stage sequence for synthesized testing/fail events.
func (r *Relay) broadcastStageEvent(serial, stage, status string, detail map[string]any) {
	data := map[string]any{
		"serial": serial,
		"stage":  stage,
		"status": status,
	}
	if detail != nil {
		data["detail"] = detail
	}
	r.hub.Broadcast(ws.Envelope{Type: ws.TypePcbaEvent, Data: data, Timestamp: time.Now()})
}
