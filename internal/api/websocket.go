package api

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"risk-core/internal/admission"
	"risk-core/internal/alert"
	"risk-core/internal/events"
	"risk-core/internal/risk"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamTopics maps the topics clients may subscribe to. Order flow is
// intentionally absent: fills and admissions go through the REST surface.
var streamTopics = map[string]events.Event{
	"risk.alert":          events.EventRiskAlert,
	"risk.emergency_stop": events.EventEmergencyStop,
	"mode.changed":        events.EventModeChanged,
	"target.achieved":     events.EventTargetAchieved,
	"account.halted":      events.EventAccountHalted,
}

// streamFrame is the envelope written to websocket clients.
type streamFrame struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

// websocket streams risk events to connected clients. Clients pick topics
// with ?topic=risk.alert,mode.changed (default risk.alert) and may narrow to
// one account with ?account=<id>.
func (s *Server) websocket(c *gin.Context) {
	topics, err := parseTopics(c.Query("topic"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_TOPIC", "detail": err.Error()})
		return
	}
	account := c.Query("account")

	conn, upErr := upgrader.Upgrade(c.Writer, c.Request, nil)
	if upErr != nil {
		log.Printf("ws upgrade error: %v", upErr)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	merged := make(chan streamFrame, 100)
	done := make(chan struct{})
	defer close(done)
	for name, ev := range topics {
		stream, unsub := s.Bus.Subscribe(ev, 100)
		defer unsub()
		go func(name string, stream <-chan any) {
			for msg := range stream {
				select {
				case merged <- streamFrame{Topic: name, Payload: msg}:
				case <-done:
					return
				}
			}
		}(name, stream)
	}

	for frame := range merged {
		if account != "" && !payloadForAccount(frame.Payload, account) {
			continue
		}
		if err := conn.WriteJSON(frame); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
	}
}

func parseTopics(raw string) (map[string]events.Event, error) {
	if raw == "" {
		raw = "risk.alert"
	}
	out := make(map[string]events.Event)
	for _, name := range strings.Split(raw, ",") {
		name = strings.TrimSpace(name)
		ev, ok := streamTopics[name]
		if !ok {
			return nil, fmt.Errorf("unknown topic %q", name)
		}
		out[name] = ev
	}
	return out, nil
}

// payloadForAccount reports whether a bus payload belongs to the account the
// client asked for. Unknown payload shapes pass through unfiltered.
func payloadForAccount(payload any, account string) bool {
	switch p := payload.(type) {
	case alert.Alert:
		return p.AccountID == account
	case risk.EmergencyEvent:
		return p.AccountID == account
	case risk.Target:
		return p.AccountID == account
	case admission.Result:
		return p.AdjustedOrder != nil && p.AdjustedOrder.AccountID == account
	case string:
		return p == account
	case map[string]string:
		return p["account_id"] == account
	default:
		return true
	}
}
