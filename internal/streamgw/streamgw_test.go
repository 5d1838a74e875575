package streamgw

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pulsecore/internal/domain"
	"pulsecore/internal/eventbus"
)

func TestGatewayForwardsMetricToClient(t *testing.T) {
	bus := eventbus.New()
	gw := New(bus, nil)

	server := httptest.NewServer(gw)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the handler goroutine a moment to subscribe before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for gw.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	bus.PublishMetric(domain.Metric{Service: "checkout", Kind: domain.MetricErrorCount, Value: 5})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame.Type != "metric" || frame.Metric == nil || frame.Metric.Service != "checkout" {
		t.Errorf("frame = %+v, want metric frame for checkout", frame)
	}
}

func TestGatewayForwardsAlertToClient(t *testing.T) {
	bus := eventbus.New()
	gw := New(bus, nil)

	server := httptest.NewServer(gw)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for gw.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	bus.PublishAlert(domain.PersistedAlert{ID: "abc", Candidate: domain.CandidateAlert{Service: "checkout"}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if frame.Type != "alert" || frame.Alert == nil || frame.Alert.ID != "abc" {
		t.Errorf("frame = %+v, want alert frame with id abc", frame)
	}
}

func TestClientCountDropsAfterDisconnect(t *testing.T) {
	bus := eventbus.New()
	gw := New(bus, nil)

	server := httptest.NewServer(gw)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for gw.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if gw.ClientCount() != 1 {
		t.Fatalf("ClientCount = %d, want 1", gw.ClientCount())
	}

	conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for gw.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if gw.ClientCount() != 0 {
		t.Errorf("ClientCount = %d, want 0 after disconnect", gw.ClientCount())
	}
}
