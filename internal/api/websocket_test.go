package api

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"risk-core/internal/alert"
	"risk-core/internal/events"
	"risk-core/internal/risk"
)

func TestParseTopics(t *testing.T) {
	topics, err := parseTopics("")
	require.NoError(t, err)
	require.Equal(t, map[string]events.Event{"risk.alert": events.EventRiskAlert}, topics)

	topics, err = parseTopics("risk.alert, mode.changed")
	require.NoError(t, err)
	require.Len(t, topics, 2)
	require.Equal(t, events.EventModeChanged, topics["mode.changed"])

	_, err = parseTopics("order.filled")
	require.Error(t, err, "order flow is not streamable")

	_, err = parseTopics("bogus")
	require.Error(t, err)
}

func TestPayloadForAccount(t *testing.T) {
	cases := []struct {
		name    string
		payload any
		want    bool
	}{
		{"alert match", alert.Alert{AccountID: "a1"}, true},
		{"alert other account", alert.Alert{AccountID: "a2"}, false},
		{"emergency event", risk.EmergencyEvent{AccountID: "a1"}, true},
		{"target other account", risk.Target{AccountID: "a2"}, false},
		{"halted account id", "a1", true},
		{"mode change map", map[string]string{"account_id": "a1", "from": "PAPER", "to": "MICRO"}, true},
		{"mode change other", map[string]string{"account_id": "a2"}, false},
		{"unknown shape passes", struct{ X int }{1}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, payloadForAccount(tc.payload, "a1"))
		})
	}
}

func TestWebsocketStreamsFilteredAlerts(t *testing.T) {
	s, _ := testServer(t)
	srv := httptest.NewServer(s.Router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?topic=risk.alert&account=a1"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Give the handler a beat to subscribe before publishing.
	time.Sleep(50 * time.Millisecond)
	s.Bus.Publish(events.EventRiskAlert, alert.Alert{AccountID: "a2", Message: "other account"})
	s.Bus.Publish(events.EventRiskAlert, alert.Alert{AccountID: "a1", Message: "drawdown warning"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame streamFrame
	require.NoError(t, conn.ReadJSON(&frame))
	require.Equal(t, "risk.alert", frame.Topic)
	payload, ok := frame.Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "a1", payload["account_id"])
}

func TestWebsocketRejectsUnknownTopic(t *testing.T) {
	s, _ := testServer(t)
	srv := httptest.NewServer(s.Router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?topic=bogus"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, resp)
	defer resp.Body.Close()
	require.Equal(t, 400, resp.StatusCode)
}
